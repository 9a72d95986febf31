package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/visionary/internal/monitoring"
)

// Data channel frame structure. A frame is the shared magic, a big-endian
// blob length and the blob itself. Blob header fields are big-endian like
// the control channel; the pixel maps that follow keep the device's native
// little-endian layout.
//
//	0:4   magic 0x02 0x02 0x02 0x02
//	4:8   blob length
//	----- blob -----
//	0:2   protocol version (2)
//	2     packet type (0x62)
//	3:5   content kind (1 ToF, 2 stereo)
//	5:9   frame number
//	9:17  timestamp in milliseconds
//	17:19 width
//	19:21 height
//	21:85 intrinsics, eight float64: fx fy cx cy k1 k2 f2rc rangeScale
//	85:213 camera-to-world pose, sixteen float64, row-major
//	213:  pixel maps (ToF: distance, intensity, state as uint16;
//	      stereo: z uint16, rgba uint32, confidence uint16)
const (
	frameHeaderSize = 8
	blobVersion     = 2
	blobPacketType  = 0x62

	blobHeaderSize = 21
	intrinsicsSize = 8 * 8
	poseSize       = 16 * 8
	blobFixedSize  = blobHeaderSize + intrinsicsSize + poseSize

	tofPixelSize    = 6 // distance + intensity + state
	stereoPixelSize = 8 // z + rgba + confidence

	// maxBlobSize guards resynchronization: a declared length beyond any
	// plausible frame means the length field is garbage, not a frame.
	maxBlobSize = 16 << 20
)

var frameMagic = [4]byte{0x02, 0x02, 0x02, 0x02}

// Decoder extracts frames from a raw data-channel byte stream. Feed bytes
// with Write in whatever chunks the transport delivers and pull complete
// frames with Next. Malformed frames are counted, reported through the
// monitoring logger and skipped; decoding continues at the next frame
// magic.
//
// The decoder reuses one Frame and its map buffers across Next calls.
type Decoder struct {
	buf     []byte
	off     int
	frame   Frame
	dropped uint64
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write buffers stream bytes for decoding. It never fails; the signature
// satisfies io.Writer so sources can be copied into the decoder.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered reports how many fed bytes await decoding.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Dropped reports how many malformed frames the decoder has skipped.
func (d *Decoder) Dropped() uint64 {
	return d.dropped
}

// Next extracts the next complete frame from the buffered bytes. It returns
// false when the buffer holds no complete frame, in which case the caller
// feeds more bytes and retries. The returned frame is valid until the next
// Next call.
func (d *Decoder) Next() (*Frame, bool) {
	for {
		b := d.buf[d.off:]

		// Align on the frame magic, discarding leading noise but keeping
		// any partial magic at the tail for the next Write to complete.
		i := bytes.Index(b, frameMagic[:])
		if i < 0 {
			if keep := len(frameMagic) - 1; len(b) > keep {
				d.skip(len(b) - keep)
			}
			return nil, false
		}
		if i > 0 {
			monitoring.Logf("stream: resync, discarded %d bytes", i)
			d.skip(i)
			b = b[i:]
		}

		if len(b) < frameHeaderSize {
			return nil, false
		}
		n := int(binary.BigEndian.Uint32(b[4:8]))
		if n < blobFixedSize || n > maxBlobSize {
			// The length field cannot belong to a real frame. Skip this
			// magic and rescan: the true frame start may be inside.
			monitoring.Logf("stream: dropping frame with implausible length %d", n)
			d.dropped++
			d.skip(len(frameMagic))
			continue
		}
		if len(b) < frameHeaderSize+n {
			return nil, false
		}

		err := d.parseBlob(b[frameHeaderSize : frameHeaderSize+n])
		d.skip(frameHeaderSize + n)
		if err != nil {
			monitoring.Logf("stream: dropping frame: %v", err)
			d.dropped++
			continue
		}
		return &d.frame, true
	}
}

func (d *Decoder) skip(n int) {
	d.off += n
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
}

// parseBlob validates one blob and decodes it into the reused frame.
func (d *Decoder) parseBlob(blob []byte) error {
	if v := binary.BigEndian.Uint16(blob[0:2]); v != blobVersion {
		return fmt.Errorf("unsupported blob version %d", v)
	}
	if t := blob[2]; t != blobPacketType {
		return fmt.Errorf("unsupported packet type 0x%02x", t)
	}
	kind := Kind(binary.BigEndian.Uint16(blob[3:5]))
	width := int(binary.BigEndian.Uint16(blob[17:19]))
	height := int(binary.BigEndian.Uint16(blob[19:21]))
	if width == 0 || height == 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	pixels := width * height

	var want int
	switch kind {
	case KindToF:
		want = blobFixedSize + pixels*tofPixelSize
	case KindStereo:
		want = blobFixedSize + pixels*stereoPixelSize
	default:
		return fmt.Errorf("unknown content kind %d", uint16(kind))
	}
	if len(blob) != want {
		return fmt.Errorf("blob length %d disagrees with %s %dx%d frame, want %d",
			len(blob), kind, width, height, want)
	}

	f := &d.frame
	f.Kind = kind
	f.Number = binary.BigEndian.Uint32(blob[5:9])
	f.TimestampMS = binary.BigEndian.Uint64(blob[9:17])
	f.Width, f.Height = width, height

	in := blob[blobHeaderSize:]
	f.Intrinsics = Intrinsics{
		FX:         readF64(in, 0),
		FY:         readF64(in, 8),
		CX:         readF64(in, 16),
		CY:         readF64(in, 24),
		K1:         readF64(in, 32),
		K2:         readF64(in, 40),
		F2RC:       readF64(in, 48),
		RangeScale: readF64(in, 56),
	}
	pose := blob[blobHeaderSize+intrinsicsSize:]
	for i := range f.CamToWorld {
		f.CamToWorld[i] = readF64(pose, i*8)
	}

	maps := blob[blobFixedSize:]
	switch kind {
	case KindToF:
		f.Distance = decodeU16(f.Distance, maps[:pixels*2])
		f.Intensity = decodeU16(f.Intensity, maps[pixels*2:pixels*4])
		f.State = decodeU16(f.State, maps[pixels*4:])
		f.Z, f.RGBA, f.Confidence = nil, nil, nil
	case KindStereo:
		f.Z = decodeU16(f.Z, maps[:pixels*2])
		f.RGBA = decodeU32(f.RGBA, maps[pixels*2:pixels*6])
		f.Confidence = decodeU16(f.Confidence, maps[pixels*6:])
		f.Distance, f.Intensity, f.State = nil, nil, nil
	}
	return nil
}

func readF64(b []byte, off int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
}

func decodeU16(dst []uint16, src []byte) []uint16 {
	n := len(src) / 2
	if cap(dst) < n {
		dst = make([]uint16, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		dst[i] = binary.LittleEndian.Uint16(src[2*i:])
	}
	return dst
}

func decodeU32(dst []uint32, src []byte) []uint32 {
	n := len(src) / 4
	if cap(dst) < n {
		dst = make([]uint32, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		dst[i] = binary.LittleEndian.Uint32(src[4*i:])
	}
	return dst
}
