package wire

// Encoder accumulates a D-Bus wire encoding into a byte slice.
//
// Methods insert zero padding as needed to satisfy D-Bus alignment
// rules, except for [Encoder.Write] which appends bytes verbatim.
// Alignment is always relative to the start of Out, per the D-Bus
// spec, so a single Encoder must be used for an entire message (or
// primed with the correct starting length) to produce correct
// padding.
type Encoder struct {
	// Order is the byte order used to encode multi-byte values.
	Order ByteOrder
	// Out is the encoded output so far.
	Out []byte
}

// Pad appends zero bytes until len(e.Out) is a multiple of align. If
// already aligned, Pad does nothing.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var zero [8]byte
	e.Out = append(e.Out, zero[:align-extra]...)
}

// Write appends bs to the output with no padding or framing.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Byte appends a single byte.
func (e *Encoder) Byte(b byte) {
	e.Out = append(e.Out, b)
}

// Uint16 appends a uint16, 2-byte aligned.
func (e *Encoder) Uint16(v uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, v)
}

// Uint32 appends a uint32, 4-byte aligned.
func (e *Encoder) Uint32(v uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, v)
}

// Uint64 appends a uint64, 8-byte aligned.
func (e *Encoder) Uint64(v uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, v)
}

// PutUint32At overwrites the 4 bytes at offset off with v, in e.Order.
// Used to fix up length prefixes (array length, header fields length)
// after the fact, once the true length is known.
func (e *Encoder) PutUint32At(v uint32, off int) {
	e.Order.PutUint32(e.Out[off:off+4], v)
}

// String appends a D-Bus STRING: a 4-byte length prefix (not counting
// the trailing NUL), the UTF-8 bytes, and a trailing NUL.
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Signature appends a D-Bus SIGNATURE: a 1-byte length prefix, the
// ASCII signature bytes, and a trailing NUL.
func (e *Encoder) Signature(sig string) {
	e.Byte(byte(len(sig)))
	e.Out = append(e.Out, sig...)
	e.Out = append(e.Out, 0)
}

// Bytes appends a D-Bus array of bytes: a 4-byte length prefix
// followed by the raw bytes, with no trailing NUL.
func (e *Encoder) Bytes(bs []byte) {
	e.Uint32(uint32(len(bs)))
	e.Out = append(e.Out, bs...)
}

// Struct aligns to an 8-byte boundary, then calls fields to encode the
// struct's members.
func (e *Encoder) Struct(fields func()) {
	e.Pad(8)
	fields()
}

// Array writes a D-Bus array: a 4-byte length placeholder, alignment
// padding for the element type if it is a struct, then the elements
// emitted by elements. The length prefix holds the elements' total
// byte length and is back-patched once they have been written.
func (e *Encoder) Array(elemIsStruct bool, elements func()) {
	e.Pad(4)
	lenOffset := len(e.Out)
	e.Uint32(0)
	if elemIsStruct {
		e.Pad(8)
	}
	start := len(e.Out)
	elements()
	e.PutUint32At(uint32(len(e.Out)-start), lenOffset)
}

// ByteOrderFlag appends the wire byte identifying e.Order ('l' or
// 'B').
func (e *Encoder) ByteOrderFlag() {
	e.Byte(e.Order.Flag())
}
