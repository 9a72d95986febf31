package cola

import (
	"errors"
	"fmt"
)

// ErrMalformed reports a frame or payload that does not decode: bad magic,
// a length that disagrees with the data, a checksum mismatch or an unknown
// tag. Decode errors wrap it so callers can match with errors.Is.
var ErrMalformed = errors.New("malformed telegram")

// ErrShortData reports a typed read past the end of a response's data.
var ErrShortData = errors.New("read past end of data")

// ErrAccessDenied reports that the device refused an operation because the
// session lacks the required access level. Device errors carrying an
// access-denied code match it with errors.Is.
var ErrAccessDenied = errors.New("access denied")

// ErrorCode is a failure code reported by the device in an error telegram.
type ErrorCode uint16

const (
	CodeOK ErrorCode = iota
	CodeMethodAccessDenied
	CodeMethodUnknownIndex
	CodeVariableUnknownIndex
	CodeLocalConditionFailed
	CodeInvalidData
	CodeUnknownError
	CodeBufferOverflow
	CodeBufferUnderflow
	CodeUnknownType
	CodeVariableWriteAccessDenied
	CodeUnknownCommand
	CodeUnknownColaCommand
	CodeServerBusy
	CodeFlexOutOfBounds
	CodeEventUnknownIndex
	CodeValueOverflow
	CodeInvalidCharacter
)

var errorCodeNames = map[ErrorCode]string{
	CodeOK:                        "ok",
	CodeMethodAccessDenied:        "method access denied",
	CodeMethodUnknownIndex:        "unknown method",
	CodeVariableUnknownIndex:      "unknown variable",
	CodeLocalConditionFailed:      "local condition failed",
	CodeInvalidData:               "invalid data",
	CodeUnknownError:              "unknown error",
	CodeBufferOverflow:            "buffer overflow",
	CodeBufferUnderflow:           "buffer underflow",
	CodeUnknownType:               "unknown type",
	CodeVariableWriteAccessDenied: "variable write access denied",
	CodeUnknownCommand:            "unknown command",
	CodeUnknownColaCommand:        "unknown CoLa command",
	CodeServerBusy:                "server busy",
	CodeFlexOutOfBounds:           "flex array out of bounds",
	CodeEventUnknownIndex:         "unknown event",
	CodeValueOverflow:             "value overflow",
	CodeInvalidCharacter:          "invalid character",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", uint16(c))
}

// DeviceError is a failure the device itself reported in an error telegram,
// as opposed to a transport or decoding failure on the client side.
type DeviceError struct {
	Code ErrorCode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s", e.Code)
}

// Is matches ErrAccessDenied when the code denies a method invocation or a
// variable write for lack of access rights.
func (e *DeviceError) Is(target error) bool {
	if target == ErrAccessDenied {
		return e.Code == CodeMethodAccessDenied || e.Code == CodeVariableWriteAccessDenied
	}
	return false
}
