// Package discovery locates devices by UDP broadcast and assigns their
// network configuration before any TCP channel exists. A scan request goes
// to the segment's directed broadcast address; every device answers with its
// identity and addressing, keyed by MAC. Scan collects replies for the whole
// timeout window, so one call sees every device that answers in time.
package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/banshee-data/visionary/cola"
	"github.com/banshee-data/visionary/internal/monitoring"
)

var (
	// ErrNoAck reports that a device did not acknowledge an assignment
	// within the timeout. The device may or may not have applied it.
	ErrNoAck = errors.New("discovery: no acknowledgement from device")

	// ErrAssignRefused reports that the device acknowledged an assignment
	// with a non-zero status.
	ErrAssignRefused = errors.New("discovery: device refused the assignment")
)

// Config parameterizes NewScanner.
type Config struct {
	// CIDR is the local address and network in CIDR form, for example
	// "192.168.0.17/24". Scans broadcast to the network's directed
	// broadcast address and bind the local address.
	CIDR string

	// Port is the device discovery port; DefaultPort when zero.
	Port int

	// Target, when set, overrides the destination entirely with a
	// host:port, for segments where directed broadcast is filtered and
	// for tests against an emulated device.
	Target string
}

// DeviceInfo is one device's scan reply.
type DeviceInfo struct {
	Name        string
	MAC         net.HardwareAddr
	IP          net.IP
	Netmask     net.IP
	Gateway     net.IP
	DHCP        bool
	ControlPort uint16
}

// AssignConfig is the addressing an Assign pushes to one device.
type AssignConfig struct {
	IP        net.IP
	PrefixLen uint8
	Gateway   net.IP
	DHCP      bool
	// Variant selects the control protocol the device serves after the
	// change; VariantB when zero.
	Variant cola.Variant
}

// Scanner issues discovery scans and assignments on one network segment.
type Scanner struct {
	dst   *net.UDPAddr
	local string
	seq   uint32
}

// NewScanner resolves the scan destination from cfg.
func NewScanner(cfg Config) (*Scanner, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	s := &Scanner{
		// Telegram ids only need to differ between nearby scans; stale
		// replies to an earlier id are dropped.
		seq: uint32(time.Now().UnixNano()),
	}
	if cfg.Target != "" {
		dst, err := net.ResolveUDPAddr("udp4", cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("discovery: resolve target: %w", err)
		}
		s.dst = dst
		return s, nil
	}
	ip, _, err := net.ParseCIDR(cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("discovery: local network: %w", err)
	}
	bcast, err := broadcastAddr(cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("discovery: local network: %w", err)
	}
	s.dst = &net.UDPAddr{IP: bcast, Port: port}
	s.local = net.JoinHostPort(ip.String(), "0")
	return s, nil
}

// Scan broadcasts one request and collects replies until the window closes.
// A device's first reply counts and later duplicates are dropped; results
// come back sorted by MAC. An empty segment yields an empty slice after the
// full window, not an error.
func (s *Scanner) Scan(window time.Duration) ([]DeviceInfo, error) {
	pc, id, err := s.send(opScan, broadcastMAC, nil)
	if err != nil {
		return nil, err
	}
	defer pc.Close()

	byMAC := make(map[string]DeviceInfo)
	deadline := time.Now().Add(window)
	buf := make([]byte, 2048)
	for time.Now().Before(deadline) {
		pc.SetReadDeadline(deadline)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return nil, fmt.Errorf("discovery: scan: %w", err)
		}
		dg, err := parseDatagram(buf[:n])
		if err != nil {
			monitoring.Logf("discovery: ignoring stray datagram: %v", err)
			continue
		}
		if dg.op != opScanReply || dg.telegramID != id {
			continue
		}
		if _, seen := byMAC[dg.mac.String()]; seen {
			continue
		}
		info, err := parseScanReply(dg)
		if err != nil {
			monitoring.Logf("discovery: ignoring reply from %s: %v", dg.mac, err)
			continue
		}
		byMAC[dg.mac.String()] = info
	}

	devices := make([]DeviceInfo, 0, len(byMAC))
	for _, d := range byMAC {
		devices = append(devices, d)
	}
	slices.SortFunc(devices, func(a, b DeviceInfo) int {
		return bytes.Compare(a.MAC, b.MAC)
	})
	return devices, nil
}

// Assign pushes addressing to the device with the given MAC and waits for
// its acknowledgement. No acknowledgement within the timeout is ErrNoAck;
// whether to rescan is the caller's call.
func (s *Scanner) Assign(mac net.HardwareAddr, cfg AssignConfig, timeout time.Duration) error {
	if len(mac) != 6 {
		return fmt.Errorf("discovery: bad MAC %q", mac.String())
	}
	ip := cfg.IP.To4()
	if ip == nil {
		return fmt.Errorf("discovery: %s is not an IPv4 address", cfg.IP)
	}
	gw := cfg.Gateway.To4()
	if gw == nil {
		gw = net.IPv4zero.To4()
	}
	variant := cfg.Variant
	if variant == 0 {
		variant = cola.VariantB
	}

	payload := make([]byte, 0, 11)
	payload = append(payload, byte(variant))
	payload = append(payload, ip...)
	payload = append(payload, cfg.PrefixLen)
	payload = append(payload, gw...)
	payload = append(payload, boolByte(cfg.DHCP))

	pc, id, err := s.send(opAssign, mac, payload)
	if err != nil {
		return err
	}
	defer pc.Close()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 2048)
	for time.Now().Before(deadline) {
		pc.SetReadDeadline(deadline)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return fmt.Errorf("discovery: assign: %w", err)
		}
		dg, err := parseDatagram(buf[:n])
		if err != nil || dg.op != opAssignAck || dg.telegramID != id || !bytes.Equal(dg.mac, mac) {
			continue
		}
		if len(dg.payload) < 1 || dg.payload[0] != 0 {
			return fmt.Errorf("%w: status %d", ErrAssignRefused, ackStatus(dg.payload))
		}
		return nil
	}
	return ErrNoAck
}

// send opens a fresh socket and fires one request from it. Replies arrive on
// the returned socket addressed to us, so no listener setup is needed.
func (s *Scanner) send(op byte, mac net.HardwareAddr, payload []byte) (net.PacketConn, uint32, error) {
	laddr := s.local
	if laddr == "" {
		laddr = ":0"
	}
	pc, err := net.ListenPacket("udp4", laddr)
	if err != nil {
		return nil, 0, fmt.Errorf("discovery: open socket: %w", err)
	}
	s.seq++
	id := s.seq
	if _, err := pc.WriteTo(appendDatagram(nil, op, mac, id, payload), s.dst); err != nil {
		pc.Close()
		return nil, 0, fmt.Errorf("discovery: send to %s: %w", s.dst, err)
	}
	return pc, id, nil
}

// parseScanReply decodes a device's addressing from its scan reply.
func parseScanReply(dg datagram) (DeviceInfo, error) {
	r := cola.NewReader(dg.payload)
	info := DeviceInfo{
		Name:        r.ReadFlexString(),
		MAC:         slices.Clone(dg.mac),
		IP:          ipFromU32(r.ReadUDInt()),
		Netmask:     ipFromU32(r.ReadUDInt()),
		Gateway:     ipFromU32(r.ReadUDInt()),
		DHCP:        r.ReadBool(),
		ControlPort: r.ReadUInt(),
	}
	if err := r.Err(); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

func ackStatus(payload []byte) byte {
	if len(payload) == 0 {
		return 0xff
	}
	return payload[0]
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
