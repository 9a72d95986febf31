// Package cola implements the command/response codec spoken on the device
// control channel: ASCII-tagged telegrams carrying binary big-endian
// parameters, wrapped in one of two transport framings. Variant B frames
// carry an XOR checksum; variant 2 frames carry a session id and an
// echo-checked request id instead.
//
// The package is a pure codec. Socket handling, sessions and login state
// live in the control package.
package cola

// Type identifies the role of a telegram.
type Type int

const (
	TypeUnknown Type = iota
	TypeReadVariable
	TypeWriteVariable
	TypeMethod
	TypeReadResponse
	TypeWriteResponse
	TypeMethodResponse
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeReadVariable:
		return "read variable"
	case TypeWriteVariable:
		return "write variable"
	case TypeMethod:
		return "method invocation"
	case TypeReadResponse:
		return "read response"
	case TypeWriteResponse:
		return "write response"
	case TypeMethodResponse:
		return "method response"
	case TypeError:
		return "device error"
	default:
		return "unknown"
	}
}

// ResponseType returns the response type the device answers a request of
// type t with, TypeUnknown when t is not a request type.
func (t Type) ResponseType() Type {
	return responseFor(t)
}

// responseFor maps a request type to the response type the device answers
// it with.
func responseFor(t Type) Type {
	switch t {
	case TypeReadVariable:
		return TypeReadResponse
	case TypeWriteVariable:
		return TypeWriteResponse
	case TypeMethod:
		return TypeMethodResponse
	default:
		return TypeUnknown
	}
}

// Variant selects the control-channel transport framing.
type Variant int

const (
	// VariantB is the checksummed framing, conventionally on port 2112.
	VariantB Variant = iota + 1
	// Variant2 is the sessioned framing, conventionally on port 2122.
	Variant2
)

func (v Variant) String() string {
	switch v {
	case VariantB:
		return "CoLa B"
	case Variant2:
		return "CoLa 2"
	default:
		return "unknown variant"
	}
}

// DefaultControlPort returns the TCP port a device conventionally serves
// the variant on.
func (v Variant) DefaultControlPort() int {
	if v == Variant2 {
		return 2122
	}
	return 2112
}

// Command is a single control-channel request: a variable read or write, or
// a method invocation. Params carries the parameter bytes in wire order;
// use Builder to assemble them.
type Command struct {
	Type   Type
	Name   string
	Params []byte
}

// Response is the device's reply to a Command. Data carries the result
// bytes in wire order; use Reader to consume them. When Type is TypeError,
// Code holds the device-reported failure and Name and Data are empty.
type Response struct {
	Type Type
	Name string
	Data []byte
	Code ErrorCode
}

// Reader returns a cursor over the response data.
func (r Response) Reader() *Reader {
	return NewReader(r.Data)
}

// Err returns the device-reported failure, or nil for a success response.
func (r Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	return &DeviceError{Code: r.Code}
}
