// Package stream receives the device's data channel: a TCP byte stream of
// length-prefixed frames, each carrying the pixel maps of one acquisition.
// Time-of-flight devices produce distance, intensity and state maps; stereo
// devices produce z, RGBA and confidence maps. A content tag in the frame
// header selects the schema.
//
// The Decoder turns raw stream bytes into frames and survives malformed
// input by resynchronizing on the next frame magic. Client owns the socket
// and the blocking pull semantics on top of it.
package stream

import "slices"

// Kind is the content tag carried in a frame header.
type Kind uint16

const (
	// KindToF frames carry distance, intensity and state maps.
	KindToF Kind = 1
	// KindStereo frames carry z, RGBA and confidence maps.
	KindStereo Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindToF:
		return "ToF"
	case KindStereo:
		return "stereo"
	default:
		return "unknown"
	}
}

// Intrinsics is the camera model a frame was acquired with. Distances are
// scaled by RangeScale to millimetres; F2RC is the focal-to-ray-crossing
// offset in millimetres that time-of-flight projection subtracts on the z
// axis.
type Intrinsics struct {
	FX, FY float64 // focal lengths in pixels
	CX, CY float64 // principal point in pixels
	K1, K2 float64 // radial distortion coefficients
	F2RC   float64
	// RangeScale converts raw map values to millimetres.
	RangeScale float64
}

// Frame is one decoded acquisition. Maps are row-major Width by Height;
// which set is populated depends on Kind. Pixel index y*Width+x addresses
// column x of row y.
//
// Frames handed out by a Decoder or Client reuse the decoder's buffers and
// are only valid until the next frame is pulled; Clone what you keep.
type Frame struct {
	Kind        Kind
	Number      uint32 // acquisition counter, monotonic per device boot
	TimestampMS uint64 // device timestamp in milliseconds
	Width       int
	Height      int
	Intrinsics  Intrinsics
	CamToWorld  [16]float64 // row-major mounting pose

	// Time-of-flight maps (Kind == KindToF). A distance of zero marks a
	// pixel without a valid measurement; State carries the device's
	// per-pixel flags, zero meaning good.
	Distance  []uint16
	Intensity []uint16
	State     []uint16

	// Stereo maps (Kind == KindStereo). A z of zero marks an invalid
	// pixel; Confidence grows with match quality.
	Z          []uint16
	RGBA       []uint32
	Confidence []uint16
}

// Pixels returns the number of map entries, Width*Height.
func (f *Frame) Pixels() int {
	return f.Width * f.Height
}

// Clone returns a deep copy whose maps do not alias the decoder's reusable
// buffers.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Distance = slices.Clone(f.Distance)
	c.Intensity = slices.Clone(f.Intensity)
	c.State = slices.Clone(f.State)
	c.Z = slices.Clone(f.Z)
	c.RGBA = slices.Clone(f.RGBA)
	c.Confidence = slices.Clone(f.Confidence)
	return &c
}
