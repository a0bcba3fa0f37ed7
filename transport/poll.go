package transport

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Event is a bitmask of poll(2) readiness events, re-exported from
// golang.org/x/sys/unix so callers do not need to import it directly
// just to call [Wait].
type Event int16

const (
	In  Event = unix.POLLIN
	Out Event = unix.POLLOUT
)

// Wait blocks until fd becomes ready for one of the events in want, an
// error condition is reported on fd, or timeout elapses. A negative
// timeout blocks indefinitely, matching poll(2)'s own convention.
//
// Wait is the single blocking primitive the rest of this module is
// built on: the connection coordinator's blocking operations (receiving
// and method calls) call it whenever a transport operation returns
// [ErrWouldBlock], rather than relying on Go's
// runtime netpoller, so that a caller embedding this library in its
// own event loop can substitute an equivalent wait of its own.
func Wait(fd int, want Event, timeout time.Duration) (Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: int16(want)}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("polling fd %d: %w", fd, err)
		}
		if n == 0 {
			return 0, nil
		}
		return Event(fds[0].Revents), nil
	}
}
