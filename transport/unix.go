package transport

import (
	"errors"
	"fmt"
	"os"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by [Transport.Recv] and [Transport.Flush]
// when the socket is non-blocking and the kernel has no data, or no
// buffer space, ready right now. Callers should wait on [Wait] and
// retry.
var ErrWouldBlock = errors.New("transport: operation would block")

const maxOOB = 512 // enough for a handful of SCM_RIGHTS fds

// Transport is a raw, buffered Unix domain stream socket with support
// for passing file descriptors as ancillary SCM_RIGHTS data.
//
// A Transport is not safe for concurrent use; it is owned by exactly
// one connection coordinator, matching the single-threaded model of
// the package that embeds it.
type Transport struct {
	fd     int
	closed bool

	// outbound write queue. Each chunk's Files are attached as
	// ancillary data on the first syscall that sends any of its
	// bytes, then dropped locally (the kernel has duplicated them
	// into the peer by the time the write completes).
	out []*outChunk

	// inbound read buffers.
	in      []byte
	inFiles *queue.Queue[*os.File]
}

type outChunk struct {
	data      []byte
	files     []*os.File
	filesSent bool
}

// DialUnix connects to the Unix domain socket at path and returns a
// Transport in blocking mode, suitable for running a handshake to
// completion before switching to non-blocking mode for steady-state
// traffic.
func DialUnix(path string) (*Transport, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating unix socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	return newTransport(fd), nil
}

// Pair returns two Transports connected to each other via
// socketpair(2), for tests and for serving peer-to-peer D-Bus without
// a bus daemon.
func Pair() (a, b *Transport, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating socket pair: %w", err)
	}
	return newTransport(fds[0]), newTransport(fds[1]), nil
}

func newTransport(fd int) *Transport {
	return &Transport{
		fd:      fd,
		inFiles: queue.New[*os.File](),
	}
}

// Fd returns the underlying file descriptor, for use with [Wait] or an
// external event loop's own poller.
func (t *Transport) Fd() int { return t.fd }

// SetNonblock puts the socket into (or out of) non-blocking mode. The
// handshake engine typically runs with the socket blocking; the
// connection coordinator switches to non-blocking before serving
// traffic so it can honor WouldBlock semantics.
func (t *Transport) SetNonblock(nonblocking bool) error {
	return unix.SetNonblock(t.fd, nonblocking)
}

// Close releases the socket and any file descriptors still queued for
// send or buffered from a partial receive.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	for _, c := range t.out {
		for _, f := range c.files {
			f.Close()
		}
	}
	t.out = nil
	t.inFiles.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	t.inFiles.Clear()
	return unix.Close(t.fd)
}

// Enqueue appends data and its accompanying files (may be nil) to the
// outbound write queue. The caller is responsible for framing: the
// bytes are transmitted to the peer verbatim and in order.
func (t *Transport) Enqueue(data []byte, files []*os.File) {
	if len(data) == 0 && len(files) == 0 {
		return
	}
	t.out = append(t.out, &outChunk{data: data, files: files})
}

// Flush writes as much of the outbound queue as the kernel will
// currently accept. It returns true if the queue is now fully
// flushed, false with [ErrWouldBlock] if the socket is non-blocking
// and not currently writable, or false with a nil error after a
// partial write. Any other error is fatal to the Transport.
func (t *Transport) Flush() (bool, error) {
	for len(t.out) > 0 {
		c := t.out[0]
		n, err := t.writeChunk(c)
		if n > 0 {
			c.data = c.data[n:]
		}
		if err != nil {
			return false, err
		}
		if len(c.data) == 0 {
			t.out = t.out[1:]
		} else {
			return false, nil
		}
	}
	return true, nil
}

func (t *Transport) writeChunk(c *outChunk) (int, error) {
	var oob []byte
	if !c.filesSent && len(c.files) > 0 {
		fds := make([]int, len(c.files))
		for i, f := range c.files {
			fds[i] = int(f.Fd())
		}
		oob = unix.UnixRights(fds...)
	}

	n, err := unix.SendmsgN(t.fd, c.data, oob, nil, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return n, ErrWouldBlock
		}
		return n, fmt.Errorf("writing to socket: %w", err)
	}
	if oob != nil {
		// The kernel has duplicated the descriptors into the peer;
		// our copies are no longer needed.
		for _, f := range c.files {
			f.Close()
		}
		c.filesSent = true
		c.files = nil
	}
	return n, nil
}

// Recv performs at most one recvmsg(2) call, appending any bytes and
// file descriptors received to the Transport's internal buffers. It
// returns [ErrWouldBlock] if the socket is non-blocking and no data is
// currently available.
func (t *Transport) Recv() error {
	buf := make([]byte, 4096)
	var oob [maxOOB]byte
	n, oobn, flags, _, err := unix.Recvmsg(t.fd, buf, oob[:], 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return ErrWouldBlock
		}
		return fmt.Errorf("reading from socket: %w", err)
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return errors.New("reading from socket: ancillary data truncated")
	}
	if n == 0 && oobn == 0 {
		return fmt.Errorf("reading from socket: %w", os.ErrClosed)
	}
	if oobn > 0 {
		if err := t.parseFiles(oob[:oobn]); err != nil {
			return err
		}
	}
	t.in = append(t.in, buf[:n]...)
	return nil
}

func (t *Transport) parseFiles(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parsing ancillary data: %w", err)
	}
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on socket", fd))
				continue
			}
			t.inFiles.Add(f)
		}
	}
	return errors.Join(errs...)
}

// Buffered returns the bytes received so far that have not yet been
// consumed by [Transport.Consume].
func (t *Transport) Buffered() []byte { return t.in }

// Unread pushes data back onto the front of the buffered input, as if
// it had just been received but not yet consumed. It is used to hand
// back bytes a handshake read speculatively but did not belong to the
// handshake itself.
func (t *Transport) Unread(data []byte) {
	if len(data) == 0 {
		return
	}
	t.in = append(append([]byte(nil), data...), t.in...)
}

// BufferedFiles returns the file descriptors received so far, in
// arrival order, that have not yet been consumed.
func (t *Transport) BufferedFiles() []*os.File {
	files := make([]*os.File, 0, t.inFiles.Len())
	t.inFiles.Each(func(f *os.File) bool {
		files = append(files, f)
		return true
	})
	return files
}

// Consume drops nBytes from the front of the buffered input and
// nFiles from the front of the buffered file descriptors, once a
// caller has successfully decoded a message from them.
func (t *Transport) Consume(nBytes, nFiles int) {
	t.in = t.in[nBytes:]
	for range nFiles {
		t.inFiles.Pop()
	}
}
