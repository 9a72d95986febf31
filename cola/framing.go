package cola

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Both variants open a frame with the same magic and a big-endian payload
// length. Variant B appends an XOR checksum after the payload; variant 2
// prefixes the payload with a session id and a request id instead.
var FrameMagic = [4]byte{0x02, 0x02, 0x02, 0x02}

const (
	frameHeaderSize = 8 // magic + payload length
	// Telegram2Overhead is the size of the session and request id fields a
	// variant 2 payload carries before its body.
	Telegram2Overhead = 6
)

// Session body markers used by the variant 2 transport. A session is opened
// with an "Ox" body answered by "OA", and closed with "Cx" answered by "CA".
const (
	SessionOpen       = "Ox"
	SessionOpenReply  = "OA"
	SessionClose      = "Cx"
	SessionCloseReply = "CA"
)

// Request tags. Variant B prefixes every tag with 's'; variant 2 drops it.
var tagsB = map[string]Type{
	"sRN": TypeReadVariable,
	"sWN": TypeWriteVariable,
	"sMN": TypeMethod,
	"sRA": TypeReadResponse,
	"sWA": TypeWriteResponse,
	"sAN": TypeMethodResponse,
	"sFA": TypeError,
}

var tags2 = map[string]Type{
	"RN": TypeReadVariable,
	"WN": TypeWriteVariable,
	"MN": TypeMethod,
	"RA": TypeReadResponse,
	"WA": TypeWriteResponse,
	"AN": TypeMethodResponse,
	"FA": TypeError,
}

func tagFor(t Type, v Variant) string {
	var tag string
	switch t {
	case TypeReadVariable:
		tag = "RN"
	case TypeWriteVariable:
		tag = "WN"
	case TypeMethod:
		tag = "MN"
	case TypeReadResponse:
		tag = "RA"
	case TypeWriteResponse:
		tag = "WA"
	case TypeMethodResponse:
		tag = "AN"
	case TypeError:
		tag = "FA"
	default:
		tag = "??"
	}
	if v == VariantB {
		return "s" + tag
	}
	return tag
}

// Checksum returns the variant B frame checksum: XOR over the payload bytes.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// appendPayload writes the tag, the space-separated name or error code and
// the value bytes. Names never contain spaces, so the first space after the
// tagged name unambiguously starts the binary data.
func appendPayload(dst []byte, t Type, name string, data []byte, code ErrorCode, v Variant) []byte {
	dst = append(dst, tagFor(t, v)...)
	dst = append(dst, ' ')
	if t == TypeError {
		return binary.BigEndian.AppendUint16(dst, uint16(code))
	}
	dst = append(dst, name...)
	if len(data) > 0 {
		dst = append(dst, ' ')
		dst = append(dst, data...)
	}
	return dst
}

// parsePayload is the inverse of appendPayload.
func parsePayload(payload []byte, v Variant) (t Type, name string, data []byte, code ErrorCode, err error) {
	tags := tagsB
	if v == Variant2 {
		tags = tags2
	}
	sp := bytes.IndexByte(payload, ' ')
	if sp < 0 {
		return 0, "", nil, 0, fmt.Errorf("%w: no tag separator", ErrMalformed)
	}
	t, ok := tags[string(payload[:sp])]
	if !ok {
		return 0, "", nil, 0, fmt.Errorf("%w: unknown tag %q", ErrMalformed, payload[:sp])
	}
	rest := payload[sp+1:]
	if t == TypeError {
		if len(rest) != 2 {
			return 0, "", nil, 0, fmt.Errorf("%w: error telegram carries %d bytes, want 2", ErrMalformed, len(rest))
		}
		return t, "", nil, ErrorCode(binary.BigEndian.Uint16(rest)), nil
	}
	if sp = bytes.IndexByte(rest, ' '); sp < 0 {
		return t, string(rest), nil, 0, nil
	}
	return t, string(rest[:sp]), rest[sp+1:], 0, nil
}

// frame wraps a payload in the shared magic and length header.
func frame(payload []byte, checksummed bool) []byte {
	n := frameHeaderSize + len(payload)
	if checksummed {
		n++
	}
	buf := make([]byte, 0, n)
	buf = append(buf, FrameMagic[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	if checksummed {
		buf = append(buf, Checksum(payload))
	}
	return buf
}

// splitFrame validates the magic and length header and returns the payload.
// For variant B it also verifies the trailing checksum.
func splitFrame(p []byte, checksummed bool) ([]byte, error) {
	trailer := 0
	if checksummed {
		trailer = 1
	}
	if len(p) < frameHeaderSize+trailer {
		return nil, fmt.Errorf("%w: frame truncated at %d bytes", ErrMalformed, len(p))
	}
	if !bytes.Equal(p[:4], FrameMagic[:]) {
		return nil, fmt.Errorf("%w: bad frame magic % x", ErrMalformed, p[:4])
	}
	n := int(binary.BigEndian.Uint32(p[4:8]))
	if len(p) != frameHeaderSize+n+trailer {
		return nil, fmt.Errorf("%w: frame length %d disagrees with declared payload %d", ErrMalformed, len(p), n)
	}
	payload := p[frameHeaderSize : frameHeaderSize+n]
	if checksummed && Checksum(payload) != p[len(p)-1] {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}
	return payload, nil
}

// EncodeB frames a command for the variant B transport.
func EncodeB(c Command) []byte {
	return frame(appendPayload(nil, c.Type, c.Name, c.Params, 0, VariantB), true)
}

// EncodeResponseB frames a response the way a device would. Device
// simulators and tests use it; clients only decode responses.
func EncodeResponseB(r Response) []byte {
	return frame(appendPayload(nil, r.Type, r.Name, r.Data, r.Code, VariantB), true)
}

// DecodeCommandB parses a complete variant B frame as a command.
func DecodeCommandB(p []byte) (Command, error) {
	payload, err := splitFrame(p, true)
	if err != nil {
		return Command{}, err
	}
	t, name, data, _, err := parsePayload(payload, VariantB)
	if err != nil {
		return Command{}, err
	}
	if responseFor(t) == TypeUnknown {
		return Command{}, fmt.Errorf("%w: %s telegram is not a command", ErrMalformed, t)
	}
	return Command{Type: t, Name: name, Params: data}, nil
}

// DecodeResponseB parses a complete variant B frame as a response.
func DecodeResponseB(p []byte) (Response, error) {
	payload, err := splitFrame(p, true)
	if err != nil {
		return Response{}, err
	}
	return parseResponsePayload(payload, VariantB)
}

func parseResponsePayload(payload []byte, v Variant) (Response, error) {
	t, name, data, code, err := parsePayload(payload, v)
	if err != nil {
		return Response{}, err
	}
	if t != TypeError && responseFor(t) != TypeUnknown {
		return Response{}, fmt.Errorf("%w: %s telegram is not a response", ErrMalformed, t)
	}
	return Response{Type: t, Name: name, Data: data, Code: code}, nil
}

// Telegram2 is the variant 2 transport envelope. Every payload carries the
// session id granted when the session was opened and a request id the
// device echoes back, which lets the client pair responses to requests.
type Telegram2 struct {
	Session uint32
	Request uint16
	Body    []byte
}

// EncodeTelegram2 frames a telegram for the variant 2 transport.
func EncodeTelegram2(t Telegram2) []byte {
	payload := make([]byte, 0, Telegram2Overhead+len(t.Body))
	payload = binary.BigEndian.AppendUint32(payload, t.Session)
	payload = binary.BigEndian.AppendUint16(payload, t.Request)
	payload = append(payload, t.Body...)
	return frame(payload, false)
}

// DecodeTelegram2 parses a complete variant 2 frame. The returned body
// aliases p.
func DecodeTelegram2(p []byte) (Telegram2, error) {
	payload, err := splitFrame(p, false)
	if err != nil {
		return Telegram2{}, err
	}
	if len(payload) < Telegram2Overhead {
		return Telegram2{}, fmt.Errorf("%w: payload too short for a telegram header", ErrMalformed)
	}
	return Telegram2{
		Session: binary.BigEndian.Uint32(payload),
		Request: binary.BigEndian.Uint16(payload[4:]),
		Body:    payload[Telegram2Overhead:],
	}, nil
}

// AppendCommand2 appends a command body in variant 2 form to dst.
func AppendCommand2(dst []byte, c Command) []byte {
	return appendPayload(dst, c.Type, c.Name, c.Params, 0, Variant2)
}

// AppendResponse2 appends a response body in variant 2 form to dst.
func AppendResponse2(dst []byte, r Response) []byte {
	return appendPayload(dst, r.Type, r.Name, r.Data, r.Code, Variant2)
}

// ParseCommand2 parses a variant 2 telegram body as a command.
func ParseCommand2(body []byte) (Command, error) {
	t, name, data, _, err := parsePayload(body, Variant2)
	if err != nil {
		return Command{}, err
	}
	if responseFor(t) == TypeUnknown {
		return Command{}, fmt.Errorf("%w: %s telegram is not a command", ErrMalformed, t)
	}
	return Command{Type: t, Name: name, Params: data}, nil
}

// ParseResponse2 parses a variant 2 telegram body as a response.
func ParseResponse2(body []byte) (Response, error) {
	return parseResponsePayload(body, Variant2)
}
