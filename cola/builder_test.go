package cola

import (
	"bytes"
	"testing"
)

func TestBuilderEncodings(t *testing.T) {
	cases := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"bool true", Write("x").Bool(true).Command().Params, []byte{0x01}},
		{"bool false", Write("x").Bool(false).Command().Params, []byte{0x00}},
		{"sint", Write("x").SInt(-1).Command().Params, []byte{0xFF}},
		{"uint", Write("x").UInt(0x1234).Command().Params, []byte{0x12, 0x34}},
		{"int negative", Write("x").Int(-2).Command().Params, []byte{0xFF, 0xFE}},
		{"udint", Write("x").UDInt(0x01020304).Command().Params, []byte{0x01, 0x02, 0x03, 0x04}},
		{"real", Write("x").Real(-2).Command().Params, []byte{0xC0, 0x00, 0x00, 0x00}},
		{"lreal", Write("x").LReal(1).Command().Params, []byte{0x3F, 0xF0, 0, 0, 0, 0, 0, 0}},
		{"flexstring", Write("x").FlexString("ab").Command().Params, []byte{0x00, 0x02, 'a', 'b'}},
		{"raw passthrough", Write("x").Raw([]byte{0xDE, 0xAD}).Command().Params, []byte{0xDE, 0xAD}},
		{"chained order", Write("x").USInt(1).UInt(2).Command().Params, []byte{0x01, 0x00, 0x02}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !bytes.Equal(tc.got, tc.want) {
				t.Errorf("params = % x, want % x", tc.got, tc.want)
			}
		})
	}
}

// TestEncodeBGolden pins the full variant B wire image of a method
// invocation: magic, big-endian length, tagged payload, XOR checksum.
func TestEncodeBGolden(t *testing.T) {
	got := EncodeB(Invoke("Run").Command())
	want := []byte{
		0x02, 0x02, 0x02, 0x02, // magic
		0x00, 0x00, 0x00, 0x07, // payload length
		's', 'M', 'N', ' ', 'R', 'u', 'n',
		0x19, // checksum
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeB(sMN Run):\n got  % x\n want % x", got, want)
	}
}
