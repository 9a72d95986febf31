package stream

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFrame renders a frame in its wire form: magic, blob length and
// blob. Captures store these bytes, simulators serve them, and DecodeFrame
// reverses them. The frame's maps must match its Kind and dimensions.
func EncodeFrame(f *Frame) []byte {
	pixels := f.Pixels()
	blobLen := blobFixedSize + pixels*tofPixelSize
	if f.Kind == KindStereo {
		blobLen = blobFixedSize + pixels*stereoPixelSize
	}

	buf := make([]byte, 0, frameHeaderSize+blobLen)
	buf = append(buf, frameMagic[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(blobLen))

	buf = binary.BigEndian.AppendUint16(buf, blobVersion)
	buf = append(buf, blobPacketType)
	buf = binary.BigEndian.AppendUint16(buf, uint16(f.Kind))
	buf = binary.BigEndian.AppendUint32(buf, f.Number)
	buf = binary.BigEndian.AppendUint64(buf, f.TimestampMS)
	buf = binary.BigEndian.AppendUint16(buf, uint16(f.Width))
	buf = binary.BigEndian.AppendUint16(buf, uint16(f.Height))

	for _, v := range []float64{
		f.Intrinsics.FX, f.Intrinsics.FY, f.Intrinsics.CX, f.Intrinsics.CY,
		f.Intrinsics.K1, f.Intrinsics.K2, f.Intrinsics.F2RC, f.Intrinsics.RangeScale,
	} {
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	}
	for _, v := range f.CamToWorld {
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	}

	switch f.Kind {
	case KindStereo:
		buf = appendU16(buf, f.Z)
		buf = appendU32(buf, f.RGBA)
		buf = appendU16(buf, f.Confidence)
	default:
		buf = appendU16(buf, f.Distance)
		buf = appendU16(buf, f.Intensity)
		buf = appendU16(buf, f.State)
	}
	return buf
}

// DecodeFrame parses one complete wire frame, such as a capture record.
// Unlike Decoder it owns no reusable buffers; the returned frame may be
// kept.
func DecodeFrame(p []byte) (*Frame, error) {
	d := NewDecoder()
	d.Write(p)
	f, ok := d.Next()
	if !ok {
		return nil, fmt.Errorf("stream: %d bytes do not form a complete valid frame", len(p))
	}
	return f, nil
}

func appendU16(dst []byte, vs []uint16) []byte {
	for _, v := range vs {
		dst = binary.LittleEndian.AppendUint16(dst, v)
	}
	return dst
}

func appendU32(dst []byte, vs []uint32) []byte {
	for _, v := range vs {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}
