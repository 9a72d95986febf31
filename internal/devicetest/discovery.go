package devicetest

import (
	"bytes"
	"encoding/binary"
	"net"
	"slices"
	"sync"
	"testing"
)

// Datagram opcodes, mirrored here so the responder stays an independent
// implementation of the wire format.
const (
	opScan      = 0x10
	opScanReply = 0x90
	opAssign    = 0x11
	opAssignAck = 0x91

	datagramHeaderSize = 14
)

// ResponderDevice describes one emulated device on the discovery segment.
type ResponderDevice struct {
	Name        string
	MAC         net.HardwareAddr
	IP          string
	Netmask     string
	Gateway     string
	DHCP        bool
	ControlPort uint16
	// Replies is how many identical scan replies the device sends; 1 when
	// zero. Duplicates exercise scanner dedupe.
	Replies int
}

// AssignRequest records one IP assignment the responder received.
type AssignRequest struct {
	MAC       net.HardwareAddr
	Variant   uint8
	IP        string
	PrefixLen uint8
	Gateway   string
	DHCP      bool
}

// ResponderConfig shapes the emulated discovery segment.
type ResponderConfig struct {
	Devices []ResponderDevice
	// DropAssign swallows assignment requests without acking.
	DropAssign bool
	// AssignStatus is the ack status byte; 0 reports success.
	AssignStatus uint8
	// ForgeTelegramID answers with a telegram ID other than the request's,
	// which scanners must ignore.
	ForgeTelegramID bool
}

// Responder emulates one or more devices answering discovery datagrams on a
// loopback UDP socket.
type Responder struct {
	t   *testing.T
	pc  net.PacketConn
	cfg ResponderConfig

	mu      sync.Mutex
	assigns []AssignRequest
}

// StartResponder binds a loopback UDP socket and answers scan and assign
// datagrams until the test ends.
func StartResponder(t *testing.T, cfg ResponderConfig) *Responder {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("devicetest: listen udp: %v", err)
	}
	r := &Responder{t: t, pc: pc, cfg: cfg}
	go r.serve()
	t.Cleanup(func() { pc.Close() })
	return r
}

// Addr returns the host:port scanners should target instead of the
// broadcast address.
func (r *Responder) Addr() string {
	return r.pc.LocalAddr().String()
}

// AssignRequests returns the assignment requests received so far.
func (r *Responder) AssignRequests() []AssignRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.assigns)
}

func (r *Responder) serve() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := r.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		r.handle(buf[:n], addr)
	}
}

func (r *Responder) handle(p []byte, addr net.Addr) {
	if len(p) < datagramHeaderSize {
		return
	}
	op := p[0]
	payloadLen := int(binary.BigEndian.Uint16(p[2:4]))
	mac := net.HardwareAddr(p[4:10])
	telegramID := binary.BigEndian.Uint32(p[10:14])
	payload := p[datagramHeaderSize:]
	if payloadLen != len(payload) {
		return
	}
	if r.cfg.ForgeTelegramID {
		telegramID++
	}
	switch op {
	case opScan:
		r.replyScan(addr, telegramID)
	case opAssign:
		r.ackAssign(addr, mac, telegramID, payload)
	}
}

func (r *Responder) replyScan(addr net.Addr, telegramID uint32) {
	for _, d := range r.cfg.Devices {
		var payload []byte
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(d.Name)))
		payload = append(payload, d.Name...)
		payload = append(payload, ip4Bytes(d.IP)...)
		payload = append(payload, ip4Bytes(d.Netmask)...)
		payload = append(payload, ip4Bytes(d.Gateway)...)
		payload = append(payload, boolByte(d.DHCP))
		payload = binary.BigEndian.AppendUint16(payload, d.ControlPort)
		dg := datagram(opScanReply, d.MAC, telegramID, payload)
		replies := max(d.Replies, 1)
		for i := 0; i < replies; i++ {
			r.pc.WriteTo(dg, addr)
		}
	}
}

func (r *Responder) ackAssign(addr net.Addr, mac net.HardwareAddr, telegramID uint32, payload []byte) {
	// u8 variant + u32 ip + u8 prefix + u32 gateway + u8 dhcp
	if len(payload) != 11 {
		return
	}
	known := false
	for _, d := range r.cfg.Devices {
		if bytes.Equal(d.MAC, mac) {
			known = true
			break
		}
	}
	if !known {
		return
	}
	req := AssignRequest{
		MAC:       slices.Clone(mac),
		Variant:   payload[0],
		IP:        net.IP(payload[1:5]).String(),
		PrefixLen: payload[5],
		Gateway:   net.IP(payload[6:10]).String(),
		DHCP:      payload[10] != 0,
	}
	r.mu.Lock()
	r.assigns = append(r.assigns, req)
	r.mu.Unlock()
	if r.cfg.DropAssign {
		return
	}
	r.pc.WriteTo(datagram(opAssignAck, mac, telegramID, []byte{r.cfg.AssignStatus}), addr)
}

func datagram(op byte, mac net.HardwareAddr, telegramID uint32, payload []byte) []byte {
	dg := make([]byte, 0, datagramHeaderSize+len(payload))
	dg = append(dg, op, 0)
	dg = binary.BigEndian.AppendUint16(dg, uint16(len(payload)))
	dg = append(dg, mac...)
	dg = binary.BigEndian.AppendUint32(dg, telegramID)
	return append(dg, payload...)
}

func ip4Bytes(s string) []byte {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return []byte{0, 0, 0, 0}
	}
	return ip
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
