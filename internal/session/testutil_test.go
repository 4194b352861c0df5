package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var (
	errRefused    = errors.New("connection refused")
	errFakeClosed = errors.New("fake connection closed")
)

// fakeClientConn: inbound is what the "server" sends, sent is what we wrote
type fakeClientConn struct {
	inbound   chan string
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	sent       []string
	pings      int
	pingBlocks bool
}

func newFakeClientConn() *fakeClientConn {
	return &fakeClientConn{
		inbound: make(chan string, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeClientConn) Send(ctx context.Context, msg string) error {
	select {
	case <-f.done:
		return errFakeClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeClientConn) Receive(ctx context.Context) (string, error) {
	select {
	case msg, ok := <-f.inbound:
		if !ok {
			return "", io.EOF
		}
		return msg, nil
	case <-f.done:
		return "", errFakeClosed
	}
}

func (f *fakeClientConn) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pings++
	blocks := f.pingBlocks
	f.mu.Unlock()

	if !blocks {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return errFakeClosed
	}
}

func (f *fakeClientConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeClientConn) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeClientConn) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeClientConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// fakeDialer refuses the first `failures` dials, then hands out prepared
// connections in order (fresh ones once those run out)
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	prepared []*fakeClientConn
	dialed   []*fakeClientConn
	attempts int
}

func (d *fakeDialer) Dial(ctx context.Context) (ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	if d.attempts <= d.failures {
		return nil, errRefused
	}
	var conn *fakeClientConn
	if len(d.prepared) > 0 {
		conn, d.prepared = d.prepared[0], d.prepared[1:]
	} else {
		conn = newFakeClientConn()
	}
	d.dialed = append(d.dialed, conn)
	return conn, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// blockingDialer never completes a handshake; it reports when a dial starts
type blockingDialer struct {
	started chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context) (ClientConn, error) {
	d.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingRenderer struct {
	mu        sync.Mutex
	chats     []string
	screens   [][]byte
	others    []string
	screenErr error
}

func (r *recordingRenderer) Chat(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, text)
}

func (r *recordingRenderer) Screen(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens = append(r.screens, frame)
	return r.screenErr
}

func (r *recordingRenderer) Other(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.others = append(r.others, raw)
}

func (r *recordingRenderer) chatLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chats...)
}

func (r *recordingRenderer) screenFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.screens...)
}

func (r *recordingRenderer) otherLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.others...)
}

// stateRecorder keeps every transition and lets a test block on one
type stateRecorder struct {
	mu      sync.Mutex
	history []State
	events  chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{events: make(chan State, 256)}
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.history = append(r.history, s)
	r.mu.Unlock()
	r.events <- s
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.history...)
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.events:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("state %s never reached, history %v", want, r.all())
		}
	}
}

func runSession(ctx context.Context, s *Session) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
