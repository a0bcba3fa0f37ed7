// Package transport owns the raw Unix domain socket underneath a
// D-Bus connection: partial-read/partial-write buffering, ancillary
// SCM_RIGHTS file descriptor passing, and the non-blocking try_flush
// / try_receive operations the connection coordinator is built on.
//
// The package talks to the kernel through golang.org/x/sys/unix
// directly, rather than net.UnixConn, so that callers can put the
// socket in non-blocking mode and drive it from an external poll loop
// (see [Wait]) instead of Go's runtime netpoller.
package transport
