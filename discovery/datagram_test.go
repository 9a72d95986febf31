package discovery

import (
	"net"
	"testing"
)

func TestDatagramRoundTrip(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x06, 0x77, 0x01, 0x02, 0x03}
	p := appendDatagram(nil, opAssign, mac, 0xCAFE1234, []byte{1, 2, 3})

	dg, err := parseDatagram(p)
	if err != nil {
		t.Fatalf("parseDatagram: %v", err)
	}
	if dg.op != opAssign {
		t.Errorf("op = %#x, want %#x", dg.op, opAssign)
	}
	if dg.mac.String() != mac.String() {
		t.Errorf("mac = %s, want %s", dg.mac, mac)
	}
	if dg.telegramID != 0xCAFE1234 {
		t.Errorf("telegram id = %#x, want 0xcafe1234", dg.telegramID)
	}
	if string(dg.payload) != "\x01\x02\x03" {
		t.Errorf("payload = % x", dg.payload)
	}
}

func TestParseDatagramRejects(t *testing.T) {
	mac := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	good := appendDatagram(nil, opScanReply, mac, 7, []byte{9})

	if _, err := parseDatagram(good[:headerSize-1]); err == nil {
		t.Error("accepted a truncated header")
	}
	if _, err := parseDatagram(good[:len(good)-1]); err == nil {
		t.Error("accepted a payload shorter than declared")
	}
	long := append(append([]byte{}, good...), 0xAA)
	if _, err := parseDatagram(long); err == nil {
		t.Error("accepted trailing bytes past the declared payload")
	}
}

func TestBroadcastAddr(t *testing.T) {
	cases := []struct {
		cidr string
		want string
	}{
		{"192.168.1.17/24", "192.168.1.255"},
		{"10.11.12.13/8", "10.255.255.255"},
		{"172.16.5.9/30", "172.16.5.11"},
	}
	for _, tc := range cases {
		got, err := broadcastAddr(tc.cidr)
		if err != nil {
			t.Fatalf("broadcastAddr(%q): %v", tc.cidr, err)
		}
		if got.String() != tc.want {
			t.Errorf("broadcastAddr(%q) = %s, want %s", tc.cidr, got, tc.want)
		}
	}
	for _, bad := range []string{"not-a-network", "fe80::1/64"} {
		if _, err := broadcastAddr(bad); err == nil {
			t.Errorf("broadcastAddr(%q) succeeded, want error", bad)
		}
	}
}
