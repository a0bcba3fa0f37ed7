package wire

import "encoding/binary"

// ByteOrder is a D-Bus wire byte order. D-Bus messages carry their
// own endianness flag, so unlike most binary protocols either order
// is always legal to receive.
type ByteOrder interface {
	byteOrder
	// Flag returns the wire byte that identifies this order in a
	// message's primary header ('l' or 'B').
	Flag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type order struct {
	byteOrder
	flag byte
}

func (o order) Flag() byte { return o.flag }

var (
	// LittleEndian is the D-Bus 'l' byte order.
	LittleEndian ByteOrder = order{binary.LittleEndian, 'l'}
	// BigEndian is the D-Bus 'B' byte order.
	BigEndian ByteOrder = order{binary.BigEndian, 'B'}
	// NativeEndian is the host's native byte order. Encoders SHOULD
	// prefer [LittleEndian] for interoperability; NativeEndian exists
	// for callers that want to avoid a byte swap on big-endian hosts.
	NativeEndian ByteOrder = order{binary.NativeEndian, nativeFlag()}
)

func nativeFlag() byte {
	if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
		return 'B'
	}
	return 'l'
}

// OrderForFlag returns the [ByteOrder] matching a wire flag byte, or
// false if the flag is not one D-Bus defines.
func OrderForFlag(flag byte) (ByteOrder, bool) {
	switch flag {
	case 'l':
		return LittleEndian, true
	case 'B':
		return BigEndian, true
	default:
		return nil, false
	}
}
