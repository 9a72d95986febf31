package discovery

import (
	"encoding/binary"
	"fmt"
	"net"
	"slices"
)

// DefaultPort is the UDP port devices listen on for discovery datagrams.
const DefaultPort = 30718

// Datagram opcodes. Requests go out broadcast; every reply carries the
// responding device's MAC and echoes the request's telegram id.
const (
	opScan      = 0x10
	opScanReply = 0x90
	opAssign    = 0x11
	opAssignAck = 0x91

	headerSize = 14 // opcode + reserved + length + MAC + telegram id
)

// broadcastMAC addresses a scan to every device on the segment.
var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// datagram is one parsed discovery message.
type datagram struct {
	op         byte
	mac        net.HardwareAddr
	telegramID uint32
	payload    []byte
}

func appendDatagram(dst []byte, op byte, mac net.HardwareAddr, telegramID uint32, payload []byte) []byte {
	dst = append(dst, op, 0)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, mac...)
	dst = binary.BigEndian.AppendUint32(dst, telegramID)
	return append(dst, payload...)
}

// parseDatagram validates the header and splits one datagram. The returned
// MAC and payload alias p.
func parseDatagram(p []byte) (datagram, error) {
	if len(p) < headerSize {
		return datagram{}, fmt.Errorf("datagram truncated at %d bytes", len(p))
	}
	n := int(binary.BigEndian.Uint16(p[2:4]))
	if len(p) != headerSize+n {
		return datagram{}, fmt.Errorf("datagram length %d disagrees with declared payload %d", len(p), n)
	}
	return datagram{
		op:         p[0],
		mac:        net.HardwareAddr(p[4:10]),
		telegramID: binary.BigEndian.Uint32(p[10:14]),
		payload:    p[headerSize:],
	}, nil
}

// broadcastAddr computes the directed broadcast address of the network cidr
// names, e.g. 192.168.1.255 for 192.168.1.17/24.
func broadcastAddr(cidr string) (net.IP, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	ip := ipnet.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("%s is not an IPv4 network", cidr)
	}
	bcast := slices.Clone(ip)
	for i := range bcast {
		bcast[i] |= ^ipnet.Mask[i]
	}
	return bcast, nil
}

func ipFromU32(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).To4()
}
