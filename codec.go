package dbus

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/cornelk/dbuspeer/wire"
)

// Codec turns typed Go values into D-Bus message bodies and back. It
// is the narrow interface through which the connection layer consumes
// an external variant serialization library; the core does not
// prescribe how a Codec represents arbitrary D-Bus types, only the
// shape of the call it makes into one.
type Codec interface {
	// EncodeBody serializes v into a wire body using order, returning
	// the body bytes, any file descriptors v carries (to be sent as
	// ancillary data alongside the message), and v's D-Bus type
	// signature.
	EncodeBody(order wire.ByteOrder, v any) (body []byte, fds []*os.File, signature string, err error)
	// DecodeBody parses body (with accompanying fds, received in
	// wire order) according to signature into out, which is a
	// pointer to the destination value.
	DecodeBody(order wire.ByteOrder, signature string, body []byte, fds []*os.File, out any) error
}

// BasicCodec is a minimal [Codec] covering the primitive types the
// connection coordinator itself needs to speak: the bus's Hello
// reply, simple test and CLI payloads, and nothing container-shaped.
// A real deployment supplies its own, richer Codec; BasicCodec exists
// so this module is usable standalone without one.
//
// Supported Go types: nil (empty body), string, []byte, uint32, bool.
type BasicCodec struct{}

func (BasicCodec) EncodeBody(order wire.ByteOrder, v any) ([]byte, []*os.File, string, error) {
	if v == nil {
		return nil, nil, "", nil
	}
	e := &wire.Encoder{Order: order}
	switch val := v.(type) {
	case string:
		if !utf8.ValidString(val) {
			return nil, nil, "", &VariantError{Err: fmt.Errorf("string is not valid UTF-8")}
		}
		e.String(val)
		return e.Out, nil, "s", nil
	case []byte:
		e.Bytes(val)
		return e.Out, nil, "ay", nil
	case uint32:
		e.Uint32(val)
		return e.Out, nil, "u", nil
	case bool:
		if val {
			e.Uint32(1)
		} else {
			e.Uint32(0)
		}
		return e.Out, nil, "b", nil
	default:
		return nil, nil, "", &VariantError{Err: fmt.Errorf("BasicCodec cannot encode %T", v)}
	}
}

func (BasicCodec) DecodeBody(order wire.ByteOrder, signature string, body []byte, fds []*os.File, out any) error {
	if signature == "" {
		return nil
	}
	d := &wire.Decoder{Order: order, In: body}
	switch signature {
	case "s":
		v, err := d.String()
		if err != nil {
			return &VariantError{Err: err}
		}
		switch p := out.(type) {
		case *string:
			*p = v
		case *any:
			*p = v
		default:
			return &VariantError{Err: fmt.Errorf("cannot decode signature %q into %T", signature, out)}
		}
	case "ay":
		v, err := d.Bytes()
		if err != nil {
			return &VariantError{Err: err}
		}
		switch p := out.(type) {
		case *[]byte:
			*p = append([]byte(nil), v...)
		case *any:
			*p = append([]byte(nil), v...)
		default:
			return &VariantError{Err: fmt.Errorf("cannot decode signature %q into %T", signature, out)}
		}
	case "u":
		v, err := d.Uint32()
		if err != nil {
			return &VariantError{Err: err}
		}
		switch p := out.(type) {
		case *uint32:
			*p = v
		case *any:
			*p = v
		default:
			return &VariantError{Err: fmt.Errorf("cannot decode signature %q into %T", signature, out)}
		}
	case "b":
		v, err := d.Uint32()
		if err != nil {
			return &VariantError{Err: err}
		}
		switch p := out.(type) {
		case *bool:
			*p = v != 0
		case *any:
			*p = v != 0
		default:
			return &VariantError{Err: fmt.Errorf("cannot decode signature %q into %T", signature, out)}
		}
	default:
		return &VariantError{Err: fmt.Errorf("BasicCodec cannot decode signature %q", signature)}
	}
	return nil
}
