// Package wire provides the low-level, alignment-aware encoding and
// decoding primitives the D-Bus wire format is built from.
//
// Unlike a typical binary.Read/Write pairing, every multi-byte field
// in a D-Bus message is aligned relative to the start of the message,
// not to the current read or write position, so the primitives here
// track a running offset and insert or consume padding automatically.
//
// [Decoder] operates over a byte slice rather than an io.Reader: the
// D-Bus connection layer receives bytes in arbitrary chunks off a
// socket and must be able to tell the difference between "not a valid
// message" and "not enough bytes yet" ([ErrInsufficientData]).
package wire
