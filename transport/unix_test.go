package transport_test

import (
	"os"
	"testing"
	"time"

	"github.com/cornelk/dbuspeer/transport"
)

func TestTransportRoundTrip(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	a.Enqueue([]byte("hello"), nil)
	if done, err := a.Flush(); err != nil || !done {
		t.Fatalf("Flush() = %v, %v, want true, nil", done, err)
	}

	if err := b.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got := string(b.Buffered()); got != "hello" {
		t.Fatalf("Buffered() = %q, want %q", got, "hello")
	}
	b.Consume(len(b.Buffered()), 0)
	if len(b.Buffered()) != 0 {
		t.Fatalf("Buffered() after Consume = %q, want empty", b.Buffered())
	}
}

func TestTransportPassesFiles(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "dbuspeer-fd-test")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer tmp.Close()
	if _, err := tmp.WriteString("payload"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	a.Enqueue([]byte("fd-follows"), []*os.File{tmp})
	if done, err := a.Flush(); err != nil || !done {
		t.Fatalf("Flush() = %v, %v, want true, nil", done, err)
	}

	if err := b.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got := string(b.Buffered()); got != "fd-follows" {
		t.Fatalf("Buffered() = %q, want %q", got, "fd-follows")
	}
	files := b.BufferedFiles()
	if len(files) != 1 {
		t.Fatalf("BufferedFiles() returned %d files, want 1", len(files))
	}
	defer files[0].Close()

	if _, err := files[0].Stat(); err != nil {
		t.Fatalf("received file Stat: %v", err)
	}
	buf := make([]byte, len("payload"))
	if _, err := files[0].ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt on received file: %v", err)
	}
	if string(buf) != "payload" {
		t.Fatalf("received file contents = %q, want %q", buf, "payload")
	}

	b.Consume(len(b.Buffered()), 1)
}

func TestTransportFlushWouldBlock(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	if err := a.SetNonblock(true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	big := make([]byte, 1<<20)
	a.Enqueue(big, nil)
	// The socket buffer is far smaller than 1MB, so a single Flush
	// should not be able to drain the whole chunk in one pass.
	done, err := a.Flush()
	if err != nil && err != transport.ErrWouldBlock {
		t.Fatalf("Flush: unexpected error %v", err)
	}
	if done {
		t.Fatalf("Flush() reported done on first pass for a 1MB chunk")
	}

	drained := false
	for range 1000 {
		if err := b.Recv(); err != nil {
			if err == transport.ErrWouldBlock {
				break
			}
			t.Fatalf("Recv: %v", err)
		}
		if d, err := a.Flush(); err == nil && d {
			drained = true
			break
		} else if err != nil && err != transport.ErrWouldBlock {
			t.Fatalf("Flush: %v", err)
		}
	}
	if !drained {
		t.Fatalf("never managed to drain the 1MB chunk")
	}
}

func TestWaitTimeout(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	ev, err := transport.Wait(b.Fd(), transport.In, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ev != 0 {
		t.Fatalf("Wait() = %v, want 0 (timeout, nothing ready)", ev)
	}

	a.Enqueue([]byte("x"), nil)
	if _, err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	ev, err = transport.Wait(b.Fd(), transport.In, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ev&transport.In == 0 {
		t.Fatalf("Wait() = %v, want POLLIN set", ev)
	}
}
