package wire

import "errors"

// ErrInsufficientData is returned by [Decoder] methods when the
// buffer does not yet contain enough bytes to complete the read. It
// signals the caller to accumulate more bytes from the transport and
// retry decoding from the start, rather than a malformed message.
var ErrInsufficientData = errors.New("insufficient data to decode value")

// ErrIncorrectType is returned when a field's wire representation
// cannot be a value of the requested type (e.g. an out-of-range
// enum-like byte, or a signature with the wrong shape).
var ErrIncorrectType = errors.New("value on wire has incorrect type")

// ErrPaddingNotZero is returned by a [Decoder] with Strict set when
// padding bytes that the D-Bus spec requires to be zero are not.
var ErrPaddingNotZero = errors.New("padding bytes are not zero")
