package handshake

import "io"

// readWriter is the minimal surface a blocking handshake driver needs
// from the underlying stream.
type readWriter interface {
	io.Reader
	io.Writer
}

// Client runs the client side of the handshake to completion over rw,
// blocking on each read and write. It is the equivalent of running
// [ClientMachine] in a simple loop, for callers that can afford to
// block the calling goroutine for the duration of the handshake (the
// teacher's unixTransport.auth ran this way).
func Client(rw readWriter, uid int) (Authenticated, []byte, error) {
	m := NewClientMachine(uid)
	return drive(rw, m.Advance, m.Result, m.Leftover)
}

// Server runs the server side of the handshake to completion over rw.
func Server(rw readWriter, peerUID int, guid GUID) (Authenticated, []byte, error) {
	m := NewServerMachine(peerUID, guid)
	return drive(rw, m.Advance, m.Result, m.Leftover)
}

func drive(
	rw readWriter,
	advance func([]byte) ([]byte, Status, error),
	result func() (Authenticated, error),
	leftover func() []byte,
) (Authenticated, []byte, error) {
	var pending []byte
	for {
		out, status, err := advance(pending)
		pending = nil
		if err != nil {
			return Authenticated{}, nil, err
		}
		switch status {
		case StatusNeedsWrite:
			if _, err := rw.Write(out); err != nil {
				return Authenticated{}, nil, err
			}
		case StatusNeedsRead:
			buf := make([]byte, 4096)
			n, err := rw.Read(buf)
			if err != nil {
				return Authenticated{}, nil, err
			}
			pending = buf[:n]
		case StatusDone:
			a, err := result()
			if err != nil {
				return Authenticated{}, nil, err
			}
			return a, leftover(), nil
		}
	}
}
