// Package pointcloud projects decoded frames into 3D space using the
// camera model each frame carries. Time-of-flight distances are radial, so
// pixels are cast along distortion-corrected unit rays; stereo z maps are
// planar depth over a rectified image, so projection is a per-pixel scale.
// Points come out in metres in the camera frame; Transform moves them into
// world coordinates with the mounting pose.
package pointcloud

import (
	"fmt"
	"math"

	"github.com/banshee-data/visionary/stream"
)

// Point is one projected sample in metres. The zero Point marks a pixel
// without a valid measurement.
type Point struct {
	X, Y, Z float64
}

// IsZero reports whether p is the no-measurement sentinel.
func (p Point) IsZero() bool {
	return p == Point{}
}

// Projector turns frames into point clouds. It caches the per-pixel ray
// table, so reusing one projector across a stream of same-geometry frames
// pays the lens model once. Not safe for concurrent use.
type Projector struct {
	kind          stream.Kind
	width, height int
	intr          stream.Intrinsics

	// Time-of-flight: distortion-corrected unit-ray components per pixel.
	rayX, rayY, rayZ []float64

	// Stereo: per-column and per-row view-plane tangents.
	colTan, rowTan []float64
}

// NewProjector returns an empty projector; the first Generate builds its
// tables.
func NewProjector() *Projector {
	return &Projector{}
}

// Generate projects one frame and returns a point per pixel, row-major like
// the frame's maps. Pixels whose raw measurement is zero come out as the
// zero Point.
func (p *Projector) Generate(f *stream.Frame) ([]Point, error) {
	n := f.Pixels()
	switch f.Kind {
	case stream.KindToF:
		if len(f.Distance) != n {
			return nil, fmt.Errorf("pointcloud: distance map holds %d entries for a %dx%d frame",
				len(f.Distance), f.Width, f.Height)
		}
	case stream.KindStereo:
		if len(f.Z) != n {
			return nil, fmt.Errorf("pointcloud: z map holds %d entries for a %dx%d frame",
				len(f.Z), f.Width, f.Height)
		}
	default:
		return nil, fmt.Errorf("pointcloud: cannot project a %s frame", f.Kind)
	}
	p.prepare(f)

	pts := make([]Point, n)
	// Raw map values scale to millimetres; points are metres.
	scale := f.Intrinsics.RangeScale / 1000
	switch f.Kind {
	case stream.KindToF:
		zoff := f.Intrinsics.F2RC / 1000
		for i, raw := range f.Distance {
			if raw == 0 {
				continue
			}
			d := float64(raw) * scale
			pts[i] = Point{
				X: p.rayX[i] * d,
				Y: p.rayY[i] * d,
				Z: p.rayZ[i]*d - zoff,
			}
		}
	case stream.KindStereo:
		i := 0
		for row := 0; row < f.Height; row++ {
			for col := 0; col < f.Width; col, i = col+1, i+1 {
				raw := f.Z[i]
				if raw == 0 {
					continue
				}
				z := float64(raw) * scale
				pts[i] = Point{
					X: p.colTan[col] * z,
					Y: p.rowTan[row] * z,
					Z: z,
				}
			}
		}
	}
	return pts, nil
}

// prepare rebuilds the cached tables when the frame geometry differs from
// the cached one.
func (p *Projector) prepare(f *stream.Frame) {
	if p.kind == f.Kind && p.width == f.Width && p.height == f.Height && p.intr == f.Intrinsics {
		return
	}
	p.kind, p.width, p.height, p.intr = f.Kind, f.Width, f.Height, f.Intrinsics
	switch f.Kind {
	case stream.KindToF:
		p.buildRays()
		p.colTan, p.rowTan = nil, nil
	case stream.KindStereo:
		p.buildTangents()
		p.rayX, p.rayY, p.rayZ = nil, nil, nil
	}
}

// buildRays casts a distortion-corrected unit ray through every pixel. The
// device's image axes run against column and row order, hence cx-col and
// cy-row.
func (p *Projector) buildRays() {
	n := p.width * p.height
	p.rayX = resize(p.rayX, n)
	p.rayY = resize(p.rayY, n)
	p.rayZ = resize(p.rayZ, n)
	for row := 0; row < p.height; row++ {
		yp := (p.intr.CY - float64(row)) / p.intr.FY
		yp2 := yp * yp
		for col := 0; col < p.width; col++ {
			xp := (p.intr.CX - float64(col)) / p.intr.FX
			r2 := xp*xp + yp2
			k := 1 + p.intr.K1*r2 + p.intr.K2*r2*r2
			xd, yd := xp*k, yp*k
			s := math.Sqrt(xd*xd + yd*yd + 1)
			i := row*p.width + col
			p.rayX[i] = xd / s
			p.rayY[i] = yd / s
			p.rayZ[i] = 1 / s
		}
	}
}

// buildTangents fills the planar model's per-axis tables. Stereo maps are
// rectified, so there is no distortion term and the axes follow column and
// row order.
func (p *Projector) buildTangents() {
	p.colTan = resize(p.colTan, p.width)
	for col := range p.colTan {
		p.colTan[col] = (float64(col) - p.intr.CX) / p.intr.FX
	}
	p.rowTan = resize(p.rowTan, p.height)
	for row := range p.rowTan {
		p.rowTan[row] = (float64(row) - p.intr.CY) / p.intr.FY
	}
}

// Transform applies a row-major 4x4 rigid pose, such as a frame's
// CamToWorld, to every point in place. Zero points stay zero so the
// no-measurement sentinel survives into world coordinates.
func Transform(pts []Point, pose [16]float64) {
	for i, pt := range pts {
		if pt.IsZero() {
			continue
		}
		pts[i] = Point{
			X: pose[0]*pt.X + pose[1]*pt.Y + pose[2]*pt.Z + pose[3],
			Y: pose[4]*pt.X + pose[5]*pt.Y + pose[6]*pt.Z + pose[7],
			Z: pose[8]*pt.X + pose[9]*pt.Y + pose[10]*pt.Z + pose[11],
		}
	}
}

func resize(s []float64, n int) []float64 {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]float64, n)
}
