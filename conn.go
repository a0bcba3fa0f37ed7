package dbus

import (
	"fmt"
	"os"

	"github.com/creachadair/mds/queue"

	"github.com/cornelk/dbuspeer/handshake"
	"github.com/cornelk/dbuspeer/transport"
	"github.com/cornelk/dbuspeer/wire"
)

// DefaultMaxQueued is the default upper bound on the number of
// messages a Conn retains across the incoming queue and the
// call_method staging buffer combined.
const DefaultMaxQueued = 32

// Conn is a connection coordinator: one authenticated D-Bus peer
// session, multiplexing method calls, replies, and signals over a
// single [transport.Transport].
//
// A Conn is not safe for concurrent use from multiple goroutines:
// exactly one operation may be in flight at a time, and nested use
// (for example calling SendMessage from inside the interception hook)
// panics rather than deadlocking or silently corrupting state, per the
// single-threaded cooperative model this package implements.
type Conn struct {
	t     *transport.Transport
	order wire.ByteOrder
	codec Codec

	guid    handshake.GUID
	unixFDs bool

	uniqueName  string
	helloCalled bool

	maxQueued  int
	lastSerial uint32

	incoming queue.Queue[*Message]
	staging  queue.Queue[*Message]

	hook func(*Message) *Message

	busy bool
}

// Option configures a [Conn] at construction time.
type Option func(*Conn)

// WithMaxQueued overrides [DefaultMaxQueued].
func WithMaxQueued(n int) Option {
	return func(c *Conn) { c.maxQueued = n }
}

// WithCodec overrides the default [BasicCodec].
func WithCodec(codec Codec) Option {
	return func(c *Conn) { c.codec = codec }
}

// NewConn wraps an already-handshaken transport in a connection
// coordinator. Most callers should use [NewClient] or [NewServer]
// instead, which additionally perform the handshake.
func NewConn(t *transport.Transport, order wire.ByteOrder, auth handshake.Authenticated, opts ...Option) *Conn {
	c := &Conn{
		t:         t,
		order:     order,
		codec:     BasicCodec{},
		guid:      auth.GUID,
		unixFDs:   auth.UnixFDs,
		maxQueued: DefaultMaxQueued,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient dials the Unix domain socket at path, authenticates as
// uid, and returns a ready-to-use client Conn. If busConnection is
// true, NewClient additionally sends the bus Hello and stores the
// resulting unique name before returning, exactly as scenario 5
// describes the first Hello as implicit during connect; pass false for
// a direct peer-to-peer connection, which has no bus to say hello to.
func NewClient(path string, uid int, busConnection bool, opts ...Option) (*Conn, error) {
	t, err := transport.DialUnix(path)
	if err != nil {
		return nil, ioErr(err)
	}
	auth, leftover, err := handshake.Client(blockingStream{t}, uid)
	if err != nil {
		t.Close()
		return nil, handshakeErr("%s", err)
	}
	c, err := finishConnect(t, auth, leftover, opts)
	if err != nil {
		return nil, err
	}
	if busConnection {
		if _, err := c.Hello(); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewServer runs the server side of the handshake over an
// already-connected transport (typically the accepted end of a
// listening socket, or one half of [transport.Pair]) and returns a
// ready-to-use server Conn. peerUID is normally obtained from
// SO_PEERCRED on the socket before calling NewServer.
func NewServer(t *transport.Transport, peerUID int, guid handshake.GUID, opts ...Option) (*Conn, error) {
	auth, leftover, err := handshake.Server(blockingStream{t}, peerUID, guid)
	if err != nil {
		return nil, handshakeErr("%s", err)
	}
	return finishConnect(t, auth, leftover, opts)
}

func finishConnect(t *transport.Transport, auth handshake.Authenticated, leftover []byte, opts []Option) (*Conn, error) {
	if err := t.SetNonblock(true); err != nil {
		t.Close()
		return nil, ioErr(err)
	}
	t.Unread(leftover)
	return NewConn(t, wire.NativeEndian, auth, opts...), nil
}

// blockingStream adapts a [transport.Transport] to io.Reader/io.Writer
// for the duration of the handshake, which runs before the transport
// is switched to non-blocking mode.
type blockingStream struct{ t *transport.Transport }

func (s blockingStream) Write(p []byte) (int, error) {
	s.t.Enqueue(p, nil)
	for {
		done, err := s.t.Flush()
		if err != nil {
			return 0, err
		}
		if done {
			return len(p), nil
		}
	}
}

func (s blockingStream) Read(p []byte) (int, error) {
	for len(s.t.Buffered()) == 0 {
		if err := s.t.Recv(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.t.Buffered())
	s.t.Consume(n, 0)
	return n, nil
}

// Close releases the underlying transport.
func (c *Conn) Close() error {
	return c.t.Close()
}

// GUID returns the server GUID learned during the handshake.
func (c *Conn) GUID() handshake.GUID { return c.guid }

// ByteOrder returns the byte order this connection encodes outgoing
// messages with, for callers that need to pre-encode a body with the
// same [Codec] the connection uses.
func (c *Conn) ByteOrder() wire.ByteOrder { return c.order }

// UnixFDs reports whether this connection negotiated file descriptor
// passing during the handshake.
func (c *Conn) UnixFDs() bool { return c.unixFDs }

// UniqueName returns the bus-assigned unique name, or "" if [Conn.Hello]
// has not yet been called.
func (c *Conn) UniqueName() string { return c.uniqueName }

// Hook installs fn as the connection's single interception hook,
// called with every message freshly delivered by the transport, before
// it is queued for [Conn.ReceiveMessage] or matched against a pending
// [Conn.CallMethod]. Returning the message passes it through to the
// caller; returning nil consumes it, and the transport is read again.
// Passing nil clears the hook. Installing a new hook replaces any
// previous one.
func (c *Conn) Hook(fn func(*Message) *Message) {
	c.hook = fn
}

func (c *Conn) enter() {
	if c.busy {
		panic("dbus: reentrant use of Conn")
	}
	c.busy = true
}

func (c *Conn) leave() {
	c.busy = false
}

func (c *Conn) allocSerial() uint32 {
	c.lastSerial++
	if c.lastSerial == 0 {
		c.lastSerial = 1
	}
	return c.lastSerial
}

// SendMessage assigns m a fresh serial, encodes it, and hands it to
// the transport. It returns the assigned serial. If m carries file
// descriptors but the connection did not negotiate fd passing,
// SendMessage fails with [UnsupportedError] without touching transport
// state.
func (c *Conn) SendMessage(m *Message) (uint32, error) {
	c.enter()
	defer c.leave()
	return c.sendLocked(m)
}

func (c *Conn) sendLocked(m *Message) (uint32, error) {
	if len(m.Files) > 0 && !c.unixFDs {
		return 0, unsupportedErr("sending file descriptors requires a connection that negotiated NEGOTIATE_UNIX_FD")
	}
	m.Serial = c.allocSerial()
	encoded, err := EncodeMessage(c.order, m)
	if err != nil {
		return 0, err
	}
	c.t.Enqueue(encoded, m.Files)
	if _, err := c.t.Flush(); err != nil && err != transport.ErrWouldBlock {
		return 0, ioErr(err)
	}
	return m.Serial, nil
}

// tryDecodeOne decodes the next message buffered by the transport,
// performing non-blocking receives whenever no full message is
// buffered, and skipping messages the hook consumes. It returns
// (nil, nil) when the socket has no more data right now and the
// caller should wait for readability and try again.
func (c *Conn) tryDecodeOne() (*Message, error) {
	for {
		buf := c.t.Buffered()
		if len(buf) > 0 {
			files := c.t.BufferedFiles()
			m, n, nf, err := DecodeMessage(buf, files)
			if err == nil {
				c.t.Consume(n, nf)
				if c.hook != nil {
					if m = c.hook(m); m == nil {
						continue
					}
				}
				return m, nil
			}
			if err != wire.ErrInsufficientData {
				return nil, err
			}
		}
		if err := c.t.Recv(); err != nil {
			if err == transport.ErrWouldBlock {
				return nil, nil
			}
			return nil, ioErr(err)
		}
	}
}

// readOneBlocking decodes and returns the next message the transport
// delivers and the hook (if any) passes through, blocking on
// [transport.Wait] between non-blocking attempts.
func (c *Conn) readOneBlocking() (*Message, error) {
	for {
		m, err := c.tryDecodeOne()
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
		if _, err := transport.Wait(c.t.Fd(), transport.In, -1); err != nil {
			return nil, ioErr(err)
		}
	}
}

// ReceiveMessage returns the next available message: one already
// queued from a previous [Conn.CallMethod]'s staging discipline, or
// else the next one the transport delivers.
func (c *Conn) ReceiveMessage() (*Message, error) {
	c.enter()
	defer c.leave()

	if m, ok := c.incoming.Pop(); ok {
		return m, nil
	}
	return c.readOneBlocking()
}

// CallMethod sends m (which must be or is set to a METHOD_CALL) and
// blocks until the matching METHOD_RETURN or ERROR arrives. Any other
// message observed while waiting is held in a bounded staging buffer,
// restored into the main incoming queue once the call completes, and
// dropped silently if the combined queue and staging buffer are
// already at capacity.
func (c *Conn) CallMethod(m *Message) (*Message, error) {
	c.enter()
	defer c.leave()

	m.Type = TypeMethodCall
	serial, err := c.sendLocked(m)
	if err != nil {
		return nil, err
	}
	for {
		done, err := c.t.Flush()
		if done {
			break
		}
		if err != nil && err != transport.ErrWouldBlock {
			return nil, ioErr(err)
		}
		if _, err := transport.Wait(c.t.Fd(), transport.Out, -1); err != nil {
			return nil, ioErr(err)
		}
	}
	if !m.WantReply() {
		return nil, nil
	}

	for {
		got, err := c.readOneBlocking()
		if err != nil {
			return nil, err
		}

		if got.ReplySerial == serial && (got.Type == TypeMethodReturn || got.Type == TypeError) {
			c.drainStagingLocked()
			if got.Type == TypeError {
				return nil, &MethodError{
					Name:        got.ErrorName,
					Description: firstStringArg(c.codec, c.order, got),
					Raw:         got.Body,
				}
			}
			return got, nil
		}

		if c.incoming.Len()+c.staging.Len() < c.maxQueued {
			c.staging.Add(got)
		}
	}
}

func (c *Conn) drainStagingLocked() {
	for {
		m, ok := c.staging.Pop()
		if !ok {
			return
		}
		c.incoming.Add(m)
	}
}

// firstStringArg extracts a leading string argument from a message
// body, for use as a MethodError's human-readable Description. It only
// recognizes the single-string-argument shape BasicCodec itself can
// produce; richer codecs' error bodies are available via
// MethodError.Raw regardless.
func firstStringArg(codec Codec, order wire.ByteOrder, m *Message) string {
	if m.Signature != "s" {
		return ""
	}
	var s string
	if err := codec.DecodeBody(order, "s", m.Body, m.Files, &s); err != nil {
		return ""
	}
	return s
}

// Hello calls the bus's org.freedesktop.DBus.Hello method, which
// assigns this connection's unique name exactly once. A second call
// returns a [MethodError] without contacting the bus again.
func (c *Conn) Hello() (string, error) {
	if c.helloCalled {
		return "", &MethodError{
			Name:        "org.freedesktop.DBus.Error.Failed",
			Description: "Hello has already been called on this connection",
		}
	}
	c.helloCalled = true

	reply, err := c.CallMethod(&Message{
		Path:        "/org/freedesktop/DBus",
		Interface:   "org.freedesktop.DBus",
		Member:      "Hello",
		Destination: "org.freedesktop.DBus",
	})
	if err != nil {
		return "", err
	}

	var name string
	if err := c.codec.DecodeBody(c.order, reply.Signature, reply.Body, reply.Files, &name); err != nil {
		return "", err
	}
	c.uniqueName = name
	return name, nil
}

// EmitSignal sends m as a SIGNAL, setting its type, SENDER (to this
// connection's unique name, if any), and NO_REPLY_EXPECTED flag.
func (c *Conn) EmitSignal(m *Message) error {
	m.Type = TypeSignal
	m.Flags |= FlagNoReplyExpected
	m.Sender = c.uniqueName
	_, err := c.SendMessage(m)
	return err
}

// Reply sends a METHOD_RETURN in answer to a previously received
// method call, with SENDER set to this connection's unique name, if
// any.
func (c *Conn) Reply(to *Message, signature string, body []byte, fds []*os.File) error {
	_, err := c.SendMessage(&Message{
		Type:        TypeMethodReturn,
		ReplySerial: to.Serial,
		Destination: to.Sender,
		Sender:      c.uniqueName,
		Signature:   signature,
		Body:        body,
		Files:       fds,
	})
	return err
}

// ReplyError sends an ERROR in answer to a previously received method
// call, with SENDER set to this connection's unique name (if any) and
// description encoded as the error body's leading string argument.
func (c *Conn) ReplyError(to *Message, name, description string) error {
	body, fds, sig, err := c.codec.EncodeBody(c.order, description)
	if err != nil {
		return fmt.Errorf("encoding error description: %w", err)
	}
	_, err = c.SendMessage(&Message{
		Type:        TypeError,
		ReplySerial: to.Serial,
		Destination: to.Sender,
		Sender:      c.uniqueName,
		ErrorName:   name,
		Signature:   sig,
		Body:        body,
		Files:       fds,
	})
	return err
}
