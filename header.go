package dbus

import (
	"fmt"
	"os"

	"github.com/cornelk/dbuspeer/wire"
)

// MessageType identifies the kind of a D-Bus [Message].
type MessageType byte

const (
	// TypeInvalid is never a valid message on the wire.
	TypeInvalid MessageType = iota
	// TypeMethodCall is a request that may prompt a reply.
	TypeMethodCall
	// TypeMethodReturn is a successful reply to a method call.
	TypeMethodReturn
	// TypeError is a failed reply to a method call.
	TypeError
	// TypeSignal is an unsolicited broadcast.
	TypeSignal
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "METHOD_CALL"
	case TypeMethodReturn:
		return "METHOD_RETURN"
	case TypeError:
		return "ERROR"
	case TypeSignal:
		return "SIGNAL"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Flags is a bitmask of message flag bits.
type Flags byte

const (
	// FlagNoReplyExpected marks a method call that does not want a
	// reply.
	FlagNoReplyExpected Flags = 1 << 0
	// FlagNoAutoStart tells the bus not to launch a service to handle
	// this message if it is not currently running.
	FlagNoAutoStart Flags = 1 << 1
	// FlagAllowInteractiveAuthorization tells the receiver that the
	// sender is prepared to wait for an interactive authorization
	// prompt.
	FlagAllowInteractiveAuthorization Flags = 1 << 2
)

// Header field codes, as assigned by the D-Bus specification.
const (
	fieldPath        = 1
	fieldInterface   = 2
	fieldMember      = 3
	fieldErrorName   = 4
	fieldReplySerial = 5
	fieldDestination = 6
	fieldSender      = 7
	fieldSignature   = 8
	fieldUnixFDs     = 9
)

const protocolVersion = 1

// Message is a decoded D-Bus message: the fixed primary header, the
// typed header fields, and an opaque body.
//
// Body is the already-serialized wire body, produced and consumed by
// a [Codec]; Message itself does not interpret body contents beyond
// its byte length and accompanying file descriptor count.
type Message struct {
	Type  MessageType
	Flags Flags
	// Serial is the sender-chosen identifier for this message. It
	// must be nonzero; [EncodeMessage] rejects a zero Serial.
	Serial uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Destination string
	Sender      string
	Signature   string

	Body  []byte
	Files []*os.File
}

// Valid checks that m has the header fields required for its message
// Type, and a nonzero Serial.
func (m *Message) Valid() error {
	if m.Serial == 0 {
		return invalidMessageErr("zero Serial")
	}
	switch m.Type {
	case TypeInvalid:
		return invalidMessageErr("message Type is TypeInvalid")
	case TypeMethodCall:
		if m.Path == "" {
			return invalidMessageErr("METHOD_CALL missing required PATH field")
		}
		if m.Member == "" {
			return invalidMessageErr("METHOD_CALL missing required MEMBER field")
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return invalidMessageErr("METHOD_RETURN missing required REPLY_SERIAL field")
		}
	case TypeError:
		if m.ReplySerial == 0 {
			return invalidMessageErr("ERROR missing required REPLY_SERIAL field")
		}
		if m.ErrorName == "" {
			return invalidMessageErr("ERROR missing required ERROR_NAME field")
		}
	case TypeSignal:
		if m.Path == "" {
			return invalidMessageErr("SIGNAL missing required PATH field")
		}
		if m.Interface == "" {
			return invalidMessageErr("SIGNAL missing required INTERFACE field")
		}
		if m.Member == "" {
			return invalidMessageErr("SIGNAL missing required MEMBER field")
		}
	}
	return nil
}

// WantReply reports whether m is a method call that expects a
// response.
func (m *Message) WantReply() bool {
	return m.Type == TypeMethodCall && m.Flags&FlagNoReplyExpected == 0
}

// EncodeMessage serializes m's header and body into a single wire
// buffer using order. m.Serial must be nonzero, and m must satisfy
// [Message.Valid]; the UNIX_FDS header field, if any, is derived from
// len(m.Files) rather than taken from the caller.
func EncodeMessage(order wire.ByteOrder, m *Message) ([]byte, error) {
	if err := m.Valid(); err != nil {
		return nil, err
	}

	e := &wire.Encoder{Order: order}
	e.ByteOrderFlag()
	e.Byte(byte(m.Type))
	e.Byte(byte(m.Flags))
	e.Byte(protocolVersion)
	e.Uint32(uint32(len(m.Body)))
	e.Uint32(m.Serial)

	e.Array(true, func() {
		if m.Path != "" {
			encodeHeaderField(e, fieldPath, func() { e.String(string(m.Path)) })
		}
		if m.Interface != "" {
			encodeHeaderField(e, fieldInterface, func() { e.String(m.Interface) })
		}
		if m.Member != "" {
			encodeHeaderField(e, fieldMember, func() { e.String(m.Member) })
		}
		if m.ErrorName != "" {
			encodeHeaderField(e, fieldErrorName, func() { e.String(m.ErrorName) })
		}
		if m.ReplySerial != 0 {
			encodeHeaderField(e, fieldReplySerial, func() { e.Uint32(m.ReplySerial) })
		}
		if m.Destination != "" {
			encodeHeaderField(e, fieldDestination, func() { e.String(m.Destination) })
		}
		if m.Sender != "" {
			encodeHeaderField(e, fieldSender, func() { e.String(m.Sender) })
		}
		if len(m.Body) > 0 || m.Signature != "" {
			encodeHeaderField(e, fieldSignature, func() { e.Signature(m.Signature) })
		}
		if len(m.Files) > 0 {
			encodeHeaderField(e, fieldUnixFDs, func() { e.Uint32(uint32(len(m.Files))) })
		}
	})
	e.Pad(8)
	e.Write(m.Body)

	return e.Out, nil
}

// encodeHeaderField writes one (code, variant) header array entry.
// value must write exactly the signature-tagged payload; the variant
// signature string is derived from code.
func encodeHeaderField(e *wire.Encoder, code byte, value func()) {
	e.Struct(func() {
		e.Byte(code)
		switch code {
		case fieldReplySerial, fieldUnixFDs:
			e.Signature("u")
		case fieldSignature:
			e.Signature("g")
		case fieldPath:
			e.Signature("o")
		default:
			e.Signature("s")
		}
		value()
	})
}

// DecodeMessage parses the first complete message from buf, using
// files as the pool of file descriptors already received as ancillary
// data on the transport (in arrival order). It returns the decoded
// message, the number of bytes of buf consumed, and the number of
// entries of files consumed.
//
// If buf does not yet hold a complete message, DecodeMessage returns
// [wire.ErrInsufficientData] and the caller should accumulate more
// bytes and retry. Malformed fields return an error wrapping
// [wire.ErrIncorrectType]; a zero serial, a missing required header
// field, or too few available file descriptors return an
// [InvalidMessageError].
func DecodeMessage(buf []byte, files []*os.File) (m *Message, consumedBytes int, consumedFiles int, err error) {
	d := &wire.Decoder{In: buf}
	if err := d.ByteOrderFlag(); err != nil {
		return nil, 0, 0, err
	}

	ret := &Message{}
	typ, err := d.Byte()
	if err != nil {
		return nil, 0, 0, err
	}
	ret.Type = MessageType(typ)

	flags, err := d.Byte()
	if err != nil {
		return nil, 0, 0, err
	}
	ret.Flags = Flags(flags)

	if _, err := d.Byte(); err != nil { // protocol version, unchecked
		return nil, 0, 0, err
	}

	bodyLen, err := d.Uint32()
	if err != nil {
		return nil, 0, 0, err
	}

	ret.Serial, err = d.Uint32()
	if err != nil {
		return nil, 0, 0, err
	}
	if ret.Serial == 0 {
		return nil, 0, 0, invalidMessageErr("received message with zero Serial")
	}

	var numFDs uint32
	if _, err := d.Array(true, func(int) error {
		return decodeHeaderField(d, ret, &numFDs)
	}); err != nil {
		return nil, 0, 0, err
	}
	if err := d.Pad(8); err != nil {
		return nil, 0, 0, err
	}

	body, err := d.Read(int(bodyLen))
	if err != nil {
		return nil, 0, 0, err
	}
	ret.Body = append([]byte(nil), body...)

	if int(numFDs) > len(files) {
		return nil, 0, 0, invalidMessageErr("message declares %d file descriptors but only %d are available", numFDs, len(files))
	}
	if numFDs > 0 {
		ret.Files = append([]*os.File(nil), files[:numFDs]...)
	}

	if err := ret.Valid(); err != nil {
		return nil, 0, 0, err
	}

	return ret, d.Pos(), int(numFDs), nil
}

func decodeHeaderField(d *wire.Decoder, m *Message, numFDs *uint32) error {
	return d.Struct(func() error {
		code, err := d.Byte()
		if err != nil {
			return err
		}
		sig, err := d.Signature()
		if err != nil {
			return err
		}
		if len(sig) != 1 {
			return fmt.Errorf("%w: container-typed header fields are not supported", wire.ErrIncorrectType)
		}
		switch sig[0] {
		case 'u':
			v, err := d.Uint32()
			if err != nil {
				return err
			}
			switch code {
			case fieldReplySerial:
				m.ReplySerial = v
			case fieldUnixFDs:
				*numFDs = v
			}
		case 's':
			v, err := d.String()
			if err != nil {
				return err
			}
			switch code {
			case fieldInterface:
				m.Interface = v
			case fieldMember:
				m.Member = v
			case fieldErrorName:
				m.ErrorName = v
			case fieldDestination:
				m.Destination = v
			case fieldSender:
				m.Sender = v
			}
		case 'o':
			v, err := d.String()
			if err != nil {
				return err
			}
			if code == fieldPath {
				m.Path = ObjectPath(v)
			}
		case 'g':
			v, err := d.Signature()
			if err != nil {
				return err
			}
			if code == fieldSignature {
				m.Signature = v
			}
		default:
			return fmt.Errorf("%w: unsupported header field signature %q", wire.ErrIncorrectType, sig)
		}
		return nil
	})
}
