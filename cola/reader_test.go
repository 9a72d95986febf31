package cola

import (
	"errors"
	"math"
	"testing"
)

func TestReaderSequence(t *testing.T) {
	cmd := Write("calib").
		Bool(true).
		SInt(-5).
		USInt(7).
		Int(-2).
		UInt(65535).
		DInt(-100000).
		UDInt(3000000000).
		Real(1.5).
		LReal(math.Pi).
		FlexString("hello").
		Command()

	r := NewReader(cmd.Params)
	if got := r.ReadBool(); got != true {
		t.Errorf("ReadBool() = %v, want true", got)
	}
	if got := r.ReadSInt(); got != -5 {
		t.Errorf("ReadSInt() = %d, want -5", got)
	}
	if got := r.ReadUSInt(); got != 7 {
		t.Errorf("ReadUSInt() = %d, want 7", got)
	}
	if got := r.ReadInt(); got != -2 {
		t.Errorf("ReadInt() = %d, want -2", got)
	}
	if got := r.ReadUInt(); got != 65535 {
		t.Errorf("ReadUInt() = %d, want 65535", got)
	}
	if got := r.ReadDInt(); got != -100000 {
		t.Errorf("ReadDInt() = %d, want -100000", got)
	}
	if got := r.ReadUDInt(); got != 3000000000 {
		t.Errorf("ReadUDInt() = %d, want 3000000000", got)
	}
	if got := r.ReadReal(); got != 1.5 {
		t.Errorf("ReadReal() = %f, want 1.5", got)
	}
	if got := r.ReadLReal(); got != math.Pi {
		t.Errorf("ReadLReal() = %v, want pi", got)
	}
	if got := r.ReadFlexString(); got != "hello" {
		t.Errorf("ReadFlexString() = %q, want %q", got, "hello")
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v after a well-formed sequence", err)
	}
	if got := r.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestReaderPastEnd(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})

	if got := r.ReadUDInt(); got != 0 {
		t.Errorf("ReadUDInt() past end = %d, want 0", got)
	}
	if err := r.Err(); !errors.Is(err, ErrShortData) {
		t.Fatalf("Err() = %v, want ErrShortData", err)
	}

	// The error is sticky: later reads keep failing, even ones that would
	// fit the untouched data.
	if got := r.ReadUSInt(); got != 0 {
		t.Errorf("ReadUSInt() after sticky error = %d, want 0", got)
	}
	if got := r.ReadFlexString(); got != "" {
		t.Errorf("ReadFlexString() after sticky error = %q, want empty", got)
	}
	if err := r.Err(); !errors.Is(err, ErrShortData) {
		t.Errorf("Err() = %v, want sticky ErrShortData", err)
	}
	if got := r.Remaining(); got != 0 {
		t.Errorf("Remaining() after error = %d, want 0", got)
	}
}

func TestReaderRewind(t *testing.T) {
	cmd := Write("roi").UDInt(42).FlexString("left").Command()
	r := NewReader(cmd.Params)

	first := r.ReadUDInt()
	firstStr := r.ReadFlexString()
	if err := r.Err(); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	// Overrun to set the sticky error, then rewind.
	r.ReadLReal()
	if r.Err() == nil {
		t.Fatal("expected overrun to set the sticky error")
	}
	r.Rewind()
	if err := r.Err(); err != nil {
		t.Fatalf("Err() after Rewind = %v, want nil", err)
	}

	if got := r.ReadUDInt(); got != first {
		t.Errorf("second pass ReadUDInt() = %d, want %d", got, first)
	}
	if got := r.ReadFlexString(); got != firstStr {
		t.Errorf("second pass ReadFlexString() = %q, want %q", got, firstStr)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() after second pass = %v", err)
	}
}

func TestReaderWrongOrder(t *testing.T) {
	// Reading with the wrong types yields bounded garbage, not a failure:
	// the cursor has no type information.
	cmd := Write("x").UDInt(0xDEADBEEF).Command()
	r := NewReader(cmd.Params)

	if got := r.ReadUInt(); got != 0xDEAD {
		t.Errorf("ReadUInt() = %#x, want 0xdead", got)
	}
	if got := r.ReadUInt(); got != 0xBEEF {
		t.Errorf("ReadUInt() = %#x, want 0xbeef", got)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v, want nil for in-bounds misreads", err)
	}
}

func TestReaderTruncatedFlexString(t *testing.T) {
	// Declared length exceeds the remaining bytes.
	r := NewReader([]byte{0x00, 0x10, 'a', 'b'})
	if got := r.ReadFlexString(); got != "" {
		t.Errorf("ReadFlexString() = %q, want empty on truncation", got)
	}
	if err := r.Err(); !errors.Is(err, ErrShortData) {
		t.Errorf("Err() = %v, want ErrShortData", err)
	}
}

// TestReaderStructArray walks a counted array of structs with a string
// tail, the layout used by module-info style variables.
func TestReaderStructArray(t *testing.T) {
	b := NewBuilder(TypeReadResponse, "MSinfo").UInt(3)
	for i := 0; i < 3; i++ {
		b.UDInt(uint32(1000 + i)).UInt(uint16(i)).FlexString("module")
	}
	data := b.Command().Params

	r := NewReader(data)
	n := int(r.ReadUInt())
	if n != 3 {
		t.Fatalf("element count = %d, want 3", n)
	}
	for i := 0; i < n; i++ {
		if got := r.ReadUDInt(); got != uint32(1000+i) {
			t.Errorf("element %d id = %d, want %d", i, got, 1000+i)
		}
		if got := r.ReadUInt(); got != uint16(i) {
			t.Errorf("element %d index = %d, want %d", i, got, i)
		}
		if got := r.ReadFlexString(); got != "module" {
			t.Errorf("element %d name = %q, want %q", i, got, "module")
		}
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v after struct array walk", err)
	}
	if got := r.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestReaderSkip(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	r.Skip(3)
	if got := r.ReadUInt(); got != 0x0405 {
		t.Errorf("ReadUInt() after Skip(3) = %#x, want 0x0405", got)
	}
	r.Skip(1)
	if err := r.Err(); !errors.Is(err, ErrShortData) {
		t.Errorf("Err() after skipping past end = %v, want ErrShortData", err)
	}
}
