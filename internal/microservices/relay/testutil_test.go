package relay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errFakeClosed = errors.New("fake socket closed")

// fakeConn records what the dispatcher sends it, text and binary apart
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []string
	binary []string
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	f.frames = append(f.frames, string(msg))
	return nil
}

func (f *fakeConn) SendBinary(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	f.binary = append(f.binary, string(msg))
	return nil
}

func (f *fakeConn) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeConn) receivedBinary() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.binary...)
}

// textOnlyConn has no binary path, everything lands in the inner text log
type textOnlyConn struct{ inner *fakeConn }

func (c textOnlyConn) ID() string { return c.inner.id }
func (c textOnlyConn) Send(msg []byte) error { return c.inner.Send(msg) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
