package cola

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader decodes a response's data bytes in declaration order. Each typed
// read consumes the value's encoding and advances a cursor. A read past the
// remaining data sets a sticky error and returns the zero value; further
// reads keep returning zero values until Rewind. Callers issue their reads
// and then check Err once, in the manner of bufio.Scanner:
//
//	r := resp.Reader()
//	width := r.ReadUDInt()
//	height := r.ReadUDInt()
//	if err := r.Err(); err != nil {
//		return err
//	}
//
// Reads do not validate that the consumed bytes were encoded as the
// requested type; a read sequence that does not match the variable's actual
// layout yields well-bounded garbage, never a panic.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader returns a cursor over data positioned at the first byte.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// take consumes n bytes, or sets the sticky error if fewer remain.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, %d remain", ErrShortData, n, r.off, len(r.data)-r.off)
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) ReadBool() bool {
	return r.ReadUSInt() != 0
}

func (r *Reader) ReadSInt() int8 {
	return int8(r.ReadUSInt())
}

func (r *Reader) ReadUSInt() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) ReadInt() int16 {
	return int16(r.ReadUInt())
}

func (r *Reader) ReadUInt() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

func (r *Reader) ReadDInt() int32 {
	return int32(r.ReadUDInt())
}

func (r *Reader) ReadUDInt() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (r *Reader) ReadReal() float32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(p))
}

func (r *Reader) ReadLReal() float64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p))
}

// ReadFlexString reads a length-prefixed string.
func (r *Reader) ReadFlexString() string {
	n := int(r.ReadUInt())
	p := r.take(n)
	if p == nil {
		return ""
	}
	return string(p)
}

// Skip advances the cursor over n bytes without decoding them.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Rewind moves the cursor back to the first byte and clears the sticky
// error, so the same data can be decoded again.
func (r *Reader) Rewind() {
	r.off = 0
	r.err = nil
}

// Err returns the first decode failure, or nil if all reads fit.
func (r *Reader) Err() error {
	return r.err
}

// Remaining reports how many bytes the cursor has not consumed.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.data) - r.off
}
