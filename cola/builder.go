package cola

import (
	"encoding/binary"
	"math"
)

// Builder assembles a command's parameter bytes in wire order. Each method
// appends the big-endian encoding of one value and returns the builder, so
// parameters chain in declaration order:
//
//	cmd := cola.Write("enDepthMask").Bool(false).Command()
//
// The method names follow the device's type system: USInt and UDInt are
// unsigned 8- and 32-bit integers, Int and UInt are 16-bit, LReal is a
// 64-bit float and FlexString is a length-prefixed string.
type Builder struct {
	cmd Command
}

// NewBuilder starts a command of the given type and name.
func NewBuilder(t Type, name string) *Builder {
	return &Builder{cmd: Command{Type: t, Name: name}}
}

// Read returns a parameterless read of the named variable.
func Read(name string) Command {
	return Command{Type: TypeReadVariable, Name: name}
}

// Write starts a write of the named variable.
func Write(name string) *Builder {
	return NewBuilder(TypeWriteVariable, name)
}

// Invoke starts an invocation of the named method.
func Invoke(name string) *Builder {
	return NewBuilder(TypeMethod, name)
}

func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.USInt(1)
	}
	return b.USInt(0)
}

func (b *Builder) SInt(v int8) *Builder {
	return b.USInt(uint8(v))
}

func (b *Builder) USInt(v uint8) *Builder {
	b.cmd.Params = append(b.cmd.Params, v)
	return b
}

func (b *Builder) Int(v int16) *Builder {
	return b.UInt(uint16(v))
}

func (b *Builder) UInt(v uint16) *Builder {
	b.cmd.Params = binary.BigEndian.AppendUint16(b.cmd.Params, v)
	return b
}

func (b *Builder) DInt(v int32) *Builder {
	return b.UDInt(uint32(v))
}

func (b *Builder) UDInt(v uint32) *Builder {
	b.cmd.Params = binary.BigEndian.AppendUint32(b.cmd.Params, v)
	return b
}

func (b *Builder) Real(v float32) *Builder {
	b.cmd.Params = binary.BigEndian.AppendUint32(b.cmd.Params, math.Float32bits(v))
	return b
}

func (b *Builder) LReal(v float64) *Builder {
	b.cmd.Params = binary.BigEndian.AppendUint64(b.cmd.Params, math.Float64bits(v))
	return b
}

// FlexString appends a length-prefixed string.
func (b *Builder) FlexString(s string) *Builder {
	b.cmd.Params = binary.BigEndian.AppendUint16(b.cmd.Params, uint16(len(s)))
	b.cmd.Params = append(b.cmd.Params, s...)
	return b
}

// Raw appends pre-encoded parameter bytes as-is.
func (b *Builder) Raw(p []byte) *Builder {
	b.cmd.Params = append(b.cmd.Params, p...)
	return b
}

// Command returns the assembled command.
func (b *Builder) Command() Command {
	return b.cmd
}
