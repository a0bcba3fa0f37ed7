package dbus_test

import (
	"testing"

	dbus "github.com/cornelk/dbuspeer"
	"github.com/cornelk/dbuspeer/wire"
	"github.com/google/go-cmp/cmp"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  *dbus.Message
	}{
		{
			name: "method call",
			msg: &dbus.Message{
				Type:        dbus.TypeMethodCall,
				Serial:      1,
				Path:        "/org/zbus/p2p",
				Interface:   "org.zbus.p2p",
				Member:      "Test",
				Destination: "org.zbus.Dest",
				Signature:   "s",
				Body:        []byte{3, 0, 0, 0, 'y', 'a', 'y', 0},
			},
		},
		{
			name: "method return no body",
			msg: &dbus.Message{
				Type:        dbus.TypeMethodReturn,
				Serial:      7,
				ReplySerial: 1,
			},
		},
		{
			name: "error",
			msg: &dbus.Message{
				Type:        dbus.TypeError,
				Serial:      9,
				ReplySerial: 3,
				ErrorName:   "org.zbus.Error.Failed",
				Signature:   "s",
				Body:        []byte{4, 0, 0, 0, 'o', 'o', 'p', 's', 0},
			},
		},
		{
			name: "signal",
			msg: &dbus.Message{
				Type:      dbus.TypeSignal,
				Serial:    2,
				Path:      "/",
				Interface: "org.zbus.p2p",
				Member:    "Changed",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := dbus.EncodeMessage(wire.LittleEndian, tc.msg)
			if err != nil {
				t.Fatalf("EncodeMessage: %v", err)
			}

			got, consumed, consumedFiles, err := dbus.DecodeMessage(encoded, nil)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if consumed != len(encoded) {
				t.Errorf("consumed = %d, want %d (full message)", consumed, len(encoded))
			}
			if consumedFiles != 0 {
				t.Errorf("consumedFiles = %d, want 0", consumedFiles)
			}
			if diff := cmp.Diff(tc.msg, got); diff != "" {
				t.Errorf("decode(encode(msg)) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeMessageInsufficientData(t *testing.T) {
	msg := &dbus.Message{
		Type:      dbus.TypeSignal,
		Serial:    1,
		Path:      "/",
		Interface: "org.zbus.p2p",
		Member:    "X",
	}
	encoded, err := dbus.EncodeMessage(wire.LittleEndian, msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	for n := 0; n < len(encoded); n++ {
		if _, _, _, err := dbus.DecodeMessage(encoded[:n], nil); err != wire.ErrInsufficientData {
			t.Fatalf("DecodeMessage(truncated to %d bytes) = %v, want ErrInsufficientData", n, err)
		}
	}
}

func TestEncodeMessageZeroSerial(t *testing.T) {
	msg := &dbus.Message{
		Type:   dbus.TypeSignal,
		Serial: 0,
		Path:   "/",
		Member: "X",
	}
	if _, err := dbus.EncodeMessage(wire.LittleEndian, msg); err == nil {
		t.Fatal("EncodeMessage with zero Serial succeeded, want error")
	}
}
