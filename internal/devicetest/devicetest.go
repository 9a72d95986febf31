// Package devicetest emulates a device on the loopback interface for
// tests: a control server speaking either telegram variant, a data server
// that replays scripted frames, and a discovery responder answering
// broadcast scans. The emulators implement the device side of the
// protocols independently of the client packages so the two sides check
// each other.
package devicetest

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/banshee-data/visionary/stream"
)

// passwordHash folds an MD5 digest to the 32-bit value the SetAccessMode
// method carries, the same derivation devices apply to their stored
// passwords.
func passwordHash(password string) uint32 {
	sum := md5.Sum([]byte(password))
	var folded [4]byte
	for i := range folded {
		folded[i] = sum[i] ^ sum[i+4] ^ sum[i+8] ^ sum[i+12]
	}
	return binary.BigEndian.Uint32(folded[:])
}

var identityPose = [16]float64{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// ToFFrame returns a deterministic time-of-flight frame. The same number
// and dimensions always produce the same frame, so expectations can be
// rebuilt on the asserting side.
func ToFFrame(number uint32, w, h int) *stream.Frame {
	f := &stream.Frame{
		Kind:        stream.KindToF,
		Number:      number,
		TimestampMS: 1700000000000 + uint64(number)*33,
		Width:       w,
		Height:      h,
		Intrinsics: stream.Intrinsics{
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
		f.Distance[i] = uint16(1000 + number + uint32(i))
		f.Intensity[i] = uint16(3 * i)
	}
	return f
}

// StereoFrame returns a deterministic stereo frame.
func StereoFrame(number uint32, w, h int) *stream.Frame {
	f := &stream.Frame{
		Kind:        stream.KindStereo,
		Number:      number,
		TimestampMS: 1700000000000 + uint64(number)*33,
		Width:       w,
		Height:      h,
		Intrinsics: stream.Intrinsics{
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
		f.Z[i] = uint16(2000 + number + uint32(i))
		f.RGBA[i] = 0xFF000000 | uint32(i)
		f.Confidence[i] = uint16(65535 - i)
	}
	return f
}
