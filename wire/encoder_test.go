package wire_test

import (
	"testing"

	"github.com/cornelk/dbuspeer/wire"
	"github.com/google/go-cmp/cmp"
)

func TestEncoderAlignment(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.Byte(1)
	e.Uint32(0x11223344)
	e.Byte(2)
	e.Uint64(0x1122334455667788)

	want := []byte{
		1, 0, 0, 0, // pad to 4, then uint32
		0x44, 0x33, 0x22, 0x11,
		2, 0, 0, 0, 0, 0, 0, 0, // pad to 8
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}
	if diff := cmp.Diff(want, e.Out); diff != "" {
		t.Errorf("Out mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoderString(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.String("hi")
	want := []byte{2, 0, 0, 0, 'h', 'i', 0}
	if diff := cmp.Diff(want, e.Out); diff != "" {
		t.Errorf("Out mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoderSignature(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.Signature("ay")
	want := []byte{2, 'a', 'y', 0}
	if diff := cmp.Diff(want, e.Out); diff != "" {
		t.Errorf("Out mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoderArray(t *testing.T) {
	e := &wire.Encoder{Order: wire.LittleEndian}
	e.Array(false, func() {
		e.Uint32(1)
		e.Uint32(2)
		e.Uint32(3)
	})
	want := []byte{
		12, 0, 0, 0, // array byte length
		1, 0, 0, 0,
		2, 0, 0, 0,
		3, 0, 0, 0,
	}
	if diff := cmp.Diff(want, e.Out); diff != "" {
		t.Errorf("Out mismatch (-want +got):\n%s", diff)
	}
}

func TestByteOrderFlag(t *testing.T) {
	for _, tc := range []struct {
		order wire.ByteOrder
		flag  byte
	}{
		{wire.LittleEndian, 'l'},
		{wire.BigEndian, 'B'},
	} {
		e := &wire.Encoder{Order: tc.order}
		e.ByteOrderFlag()
		if got := e.Out[0]; got != tc.flag {
			t.Errorf("ByteOrderFlag() = %q, want %q", got, tc.flag)
		}
	}
}
