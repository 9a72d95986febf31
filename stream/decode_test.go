package stream

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var identityPose = [16]float64{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

func tofFrame(number uint32, w, h int) *Frame {
	f := &Frame{
		Kind:        KindToF,
		Number:      number,
		TimestampMS: 1700000000000 + uint64(number)*33,
		Width:       w,
		Height:      h,
		Intrinsics: Intrinsics{
			FX: 370.5, FY: 370.5,
			CX: float64(w)/2 - 0.5, CY: float64(h)/2 - 0.5,
			K1: -0.1, K2: 0.01,
			F2RC:       2.7,
			RangeScale: 0.25,
		},
		CamToWorld: identityPose,
	}
	n := w * h
	f.Distance = make([]uint16, n)
	f.Intensity = make([]uint16, n)
	f.State = make([]uint16, n)
	for i := 0; i < n; i++ {
		f.Distance[i] = uint16(1000 + i)
		f.Intensity[i] = uint16(3 * i)
	}
	f.State[0] = 1 // flag one pixel
	return f
}

func stereoFrame(number uint32, w, h int) *Frame {
	f := &Frame{
		Kind:        KindStereo,
		Number:      number,
		TimestampMS: 1700000000000 + uint64(number)*33,
		Width:       w,
		Height:      h,
		Intrinsics: Intrinsics{
			FX: 520, FY: 520,
			CX: float64(w) / 2, CY: float64(h) / 2,
			RangeScale: 1,
		},
		CamToWorld: identityPose,
	}
	n := w * h
	f.Z = make([]uint16, n)
	f.RGBA = make([]uint32, n)
	f.Confidence = make([]uint16, n)
	for i := 0; i < n; i++ {
		f.Z[i] = uint16(2000 + i)
		f.RGBA[i] = 0xFF000000 | uint32(i)
		f.Confidence[i] = uint16(65535 - i)
	}
	return f
}

func TestDecoderRoundTrip(t *testing.T) {
	frames := []*Frame{
		tofFrame(1, 8, 4),
		stereoFrame(2, 6, 3),
	}

	for _, want := range frames {
		t.Run(want.Kind.String(), func(t *testing.T) {
			d := NewDecoder()
			d.Write(EncodeFrame(want))
			got, ok := d.Next()
			if !ok {
				t.Fatal("Next() found no frame in a complete encoding")
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
			if d.Buffered() != 0 {
				t.Errorf("Buffered() = %d after consuming the only frame", d.Buffered())
			}
			if _, ok := d.Next(); ok {
				t.Error("Next() produced a second frame from one encoding")
			}
		})
	}
}

func TestDecoderChunkedDelivery(t *testing.T) {
	want := tofFrame(7, 16, 8)
	wire := EncodeFrame(want)

	d := NewDecoder()
	for off := 0; off < len(wire); off += 7 {
		end := off + 7
		if end > len(wire) {
			end = len(wire)
		}
		d.Write(wire[off:end])
		if f, ok := d.Next(); ok {
			if end != len(wire) {
				t.Fatalf("frame completed after %d of %d bytes", end, len(wire))
			}
			if diff := cmp.Diff(want, f); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
			return
		}
	}
	t.Fatal("no frame after feeding all bytes")
}

func TestDecoderSkipsMalformed(t *testing.T) {
	good := tofFrame(3, 4, 4)

	// A frame whose content kind is unknown: framing is consistent, so the
	// decoder consumes it whole and moves on.
	badKind := EncodeFrame(tofFrame(2, 4, 4))
	badKind[frameHeaderSize+3] = 0x00
	badKind[frameHeaderSize+4] = 0x09

	var in bytes.Buffer
	in.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}) // leading noise
	in.Write(badKind)
	in.Write(EncodeFrame(good))

	d := NewDecoder()
	d.Write(in.Bytes())

	got, ok := d.Next()
	if !ok {
		t.Fatal("Next() found no frame after the malformed one")
	}
	if diff := cmp.Diff(good, got); diff != "" {
		t.Errorf("surviving frame mismatch (-want +got):\n%s", diff)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDecoderResyncOnGarbageLength(t *testing.T) {
	good := stereoFrame(9, 4, 2)

	var in bytes.Buffer
	in.Write(frameMagic[:])
	in.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // absurd blob length
	in.Write([]byte{0x13, 0x37})
	in.Write(EncodeFrame(good))

	d := NewDecoder()
	d.Write(in.Bytes())

	got, ok := d.Next()
	if !ok {
		t.Fatal("decoder never resynchronized")
	}
	if diff := cmp.Diff(good, got); diff != "" {
		t.Errorf("frame after resync mismatch (-want +got):\n%s", diff)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDecoderPartialMagicAcrossWrites(t *testing.T) {
	want := tofFrame(4, 4, 2)
	wire := EncodeFrame(want)

	d := NewDecoder()
	// Noise that ends with the first two magic bytes, then the rest of the
	// frame in a later write. The decoder must not discard the partial
	// magic with the noise.
	d.Write(append([]byte{0x55, 0xAA}, wire[:2]...))
	if _, ok := d.Next(); ok {
		t.Fatal("frame appeared before its bytes arrived")
	}
	d.Write(wire[2:])

	got, ok := d.Next()
	if !ok {
		t.Fatal("frame split across writes never decoded")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

// TestDecoderReusesBuffers pins the ownership contract: a frame returned by
// Next aliases decoder storage, so it changes under the next Next, while a
// Clone taken in between stays intact.
func TestDecoderReusesBuffers(t *testing.T) {
	first := tofFrame(1, 4, 4)
	second := tofFrame(2, 4, 4)

	d := NewDecoder()
	d.Write(EncodeFrame(first))
	d.Write(EncodeFrame(second))

	f1, ok := d.Next()
	if !ok {
		t.Fatal("first frame missing")
	}
	kept := f1.Clone()

	f2, ok := d.Next()
	if !ok {
		t.Fatal("second frame missing")
	}
	if f1 != f2 {
		t.Error("decoder allocated a new frame instead of reusing")
	}
	if diff := cmp.Diff(second, f2); diff != "" {
		t.Errorf("second frame mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, kept); diff != "" {
		t.Errorf("clone changed under reuse (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameOneShot(t *testing.T) {
	want := stereoFrame(11, 3, 3)
	got, err := DecodeFrame(EncodeFrame(want))
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeFrame(EncodeFrame(want)[:40]); err == nil {
		t.Error("DecodeFrame(truncated) succeeded, want error")
	}
}
