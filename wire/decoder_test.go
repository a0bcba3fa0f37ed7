package wire_test

import (
	"errors"
	"testing"

	"github.com/cornelk/dbuspeer/wire"
)

func TestDecoderRoundTrip(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.ByteOrderFlag()
	e.Byte(7)
	e.Uint32(42)
	e.String("hello")
	e.Signature("s")
	e.Array(false, func() {
		e.Uint32(1)
		e.Uint32(2)
	})

	d := &wire.Decoder{In: e.Out}
	if err := d.ByteOrderFlag(); err != nil {
		t.Fatalf("ByteOrderFlag: %v", err)
	}
	if d.Order != wire.LittleEndian {
		t.Fatalf("Order = %v, want LittleEndian", d.Order)
	}
	b, err := d.Byte()
	if err != nil || b != 7 {
		t.Fatalf("Byte() = %v, %v, want 7, nil", b, err)
	}
	u, err := d.Uint32()
	if err != nil || u != 42 {
		t.Fatalf("Uint32() = %v, %v, want 42, nil", u, err)
	}
	s, err := d.String()
	if err != nil || s != "hello" {
		t.Fatalf("String() = %q, %v, want \"hello\", nil", s, err)
	}
	sig, err := d.Signature()
	if err != nil || sig != "s" {
		t.Fatalf("Signature() = %q, %v, want \"s\", nil", sig, err)
	}
	var got []uint32
	n, err := d.Array(false, func(i int) error {
		v, err := d.Uint32()
		if err != nil {
			return err
		}
		got = append(got, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Array: %v", err)
	}
	if n != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Array contents = %v (n=%d), want [1 2] (n=2)", got, n)
	}
	if d.Pos() != len(e.Out) {
		t.Errorf("Pos() = %d, want %d (fully consumed)", d.Pos(), len(e.Out))
	}
}

func TestDecoderInsufficientData(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.String("hello world")
	// Truncate to simulate a partial read off the socket.
	truncated := e.Out[:4]

	d := &wire.Decoder{Order: wire.LittleEndian, In: truncated}
	_, err := d.String()
	if !errors.Is(err, wire.ErrInsufficientData) {
		t.Fatalf("String() on truncated buffer = %v, want ErrInsufficientData", err)
	}
}

func TestDecoderStrictPadding(t *testing.T) {
	buf := []byte{1, 1, 1, 1, 0, 0, 0, 0} // byte then uint32, nonzero padding
	d := &wire.Decoder{Order: wire.LittleEndian, In: buf, Strict: true}
	if _, err := d.Byte(); err != nil {
		t.Fatalf("Byte: %v", err)
	}
	if _, err := d.Uint32(); !errors.Is(err, wire.ErrPaddingNotZero) {
		t.Fatalf("Uint32() over nonzero padding = %v, want ErrPaddingNotZero", err)
	}
}
