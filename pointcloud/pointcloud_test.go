package pointcloud_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/visionary/pointcloud"
	"github.com/banshee-data/visionary/stream"
)

func tofFrame(w, h int, intr stream.Intrinsics) *stream.Frame {
	return &stream.Frame{
		Kind:       stream.KindToF,
		Width:      w,
		Height:     h,
		Intrinsics: intr,
		Distance:   make([]uint16, w*h),
		Intensity:  make([]uint16, w*h),
		State:      make([]uint16, w*h),
	}
}

func stereoFrame(w, h int, intr stream.Intrinsics) *stream.Frame {
	return &stream.Frame{
		Kind:       stream.KindStereo,
		Width:      w,
		Height:     h,
		Intrinsics: intr,
		Z:          make([]uint16, w*h),
		RGBA:       make([]uint32, w*h),
		Confidence: make([]uint16, w*h),
	}
}

func TestGenerateToFCenterPixel(t *testing.T) {
	f := tofFrame(3, 3, stream.Intrinsics{
		FX: 100, FY: 100, CX: 1, CY: 1,
		RangeScale: 1, F2RC: 1000,
	})
	f.Distance[4] = 3000 // center pixel, 3 m radial

	pts, err := pointcloud.NewProjector().Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// The principal ray points straight ahead; f2rc shifts z back by 1 m.
	want := pointcloud.Point{X: 0, Y: 0, Z: 2}
	if diff := cmp.Diff(want, pts[4], cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("center pixel mismatch (-want +got):\n%s", diff)
	}
	for i, p := range pts {
		if i != 4 && !p.IsZero() {
			t.Errorf("pixel %d: got %+v for a zero measurement, want the zero point", i, p)
		}
	}
}

func TestGenerateToFRadialInvariant(t *testing.T) {
	// Whatever the distortion does to the ray direction, the projected
	// point must sit at the measured radial distance from the ray origin.
	intr := stream.Intrinsics{
		FX: 90, FY: 110, CX: 1.2, CY: 0.8,
		K1: 0.12, K2: -0.04,
		RangeScale: 0.25, F2RC: 2.7,
	}
	f := tofFrame(4, 3, intr)
	for i := range f.Distance {
		f.Distance[i] = uint16(2000 + 17*i)
	}

	pts, err := pointcloud.NewProjector().Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	zoff := intr.F2RC / 1000
	for i, p := range pts {
		d := float64(f.Distance[i]) * intr.RangeScale / 1000
		r := math.Sqrt(p.X*p.X + p.Y*p.Y + (p.Z+zoff)*(p.Z+zoff))
		if math.Abs(r-d) > 1e-9 {
			t.Fatalf("pixel %d: radial distance %g, want %g", i, r, d)
		}
	}

	// Columns right of the principal point project to negative x, rows
	// below it to negative y.
	right := pts[0*4+3]
	if right.X >= 0 {
		t.Errorf("pixel right of center: x = %g, want negative", right.X)
	}
	below := pts[2*4+1]
	if below.Y >= 0 {
		t.Errorf("pixel below center: y = %g, want negative", below.Y)
	}
}

func TestGenerateToFDistortionBendsRays(t *testing.T) {
	flat := stream.Intrinsics{FX: 100, FY: 100, CX: 0, CY: 0, RangeScale: 1}
	bent := flat
	bent.K1 = 0.2

	f := tofFrame(2, 2, flat)
	f.Distance[3] = 1000 // corner pixel

	straight, err := pointcloud.NewProjector().Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	f.Intrinsics = bent
	curved, err := pointcloud.NewProjector().Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if straight[3] == curved[3] {
		t.Errorf("distortion left the corner ray untouched: %+v", curved[3])
	}
}

func TestGenerateStereo(t *testing.T) {
	f := stereoFrame(3, 2, stream.Intrinsics{
		FX: 100, FY: 50, CX: 1, CY: 0,
		RangeScale: 0.25,
	})
	// Row 0: left, center, right of the principal point at 1 m depth.
	f.Z[0], f.Z[1], f.Z[2] = 4000, 4000, 4000
	// Row 1, center column, 2 m depth.
	f.Z[4] = 8000

	pts, err := pointcloud.NewProjector().Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []pointcloud.Point{
		{X: -0.01, Y: 0, Z: 1},
		{X: 0, Y: 0, Z: 1},
		{X: 0.01, Y: 0, Z: 1},
		{},
		{X: 0, Y: 0.04, Z: 2},
		{},
	}
	if diff := cmp.Diff(want, pts, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("stereo cloud mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateRejectsBadFrames(t *testing.T) {
	short := tofFrame(4, 4, stream.Intrinsics{FX: 1, FY: 1, RangeScale: 1})
	short.Distance = short.Distance[:3]
	if _, err := pointcloud.NewProjector().Generate(short); err == nil {
		t.Error("Generate accepted a truncated distance map")
	}

	unknown := &stream.Frame{Kind: 9, Width: 1, Height: 1}
	if _, err := pointcloud.NewProjector().Generate(unknown); err == nil {
		t.Error("Generate accepted an unknown frame kind")
	}
}

func TestProjectorCacheFollowsGeometry(t *testing.T) {
	p := pointcloud.NewProjector()

	f := tofFrame(2, 1, stream.Intrinsics{FX: 100, FY: 100, CX: 0, CY: 0, RangeScale: 1})
	f.Distance[1] = 1000
	first, err := p.Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Same projector, narrower lens: the off-center ray must move.
	f.Intrinsics.FX = 50
	second, err := p.Generate(f)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first[1] == second[1] {
		t.Errorf("changing fx did not rebuild the ray table: %+v", second[1])
	}

	// And a kind switch reuses the projector too.
	s := stereoFrame(2, 1, stream.Intrinsics{FX: 50, FY: 50, CX: 0, CY: 0, RangeScale: 1})
	s.Z[1] = 1000
	stereo, err := p.Generate(s)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if stereo[1].Z != 1 {
		t.Errorf("stereo z = %g, want 1", stereo[1].Z)
	}
}

func TestTransform(t *testing.T) {
	identity := [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	pts := []pointcloud.Point{{X: 1, Y: 2, Z: 3}, {}}
	pointcloud.Transform(pts, identity)
	if pts[0] != (pointcloud.Point{X: 1, Y: 2, Z: 3}) {
		t.Errorf("identity moved a point: %+v", pts[0])
	}

	// Translate: valid points shift, the sentinel stays put.
	translate := identity
	translate[3], translate[7], translate[11] = 10, 20, 30
	pointcloud.Transform(pts, translate)
	if pts[0] != (pointcloud.Point{X: 11, Y: 22, Z: 33}) {
		t.Errorf("translation: got %+v", pts[0])
	}
	if !pts[1].IsZero() {
		t.Errorf("translation moved the zero sentinel: %+v", pts[1])
	}

	// Quarter turn about z maps +x onto +y.
	rot := [16]float64{
		0, -1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	axis := []pointcloud.Point{{X: 1}}
	pointcloud.Transform(axis, rot)
	want := pointcloud.Point{Y: 1}
	if diff := cmp.Diff(want, axis[0], cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("rotation mismatch (-want +got):\n%s", diff)
	}
}
