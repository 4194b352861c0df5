// Package session runs the client side of the relay: connect, run the
// keepalive, receive and outbound activities against one connection, and
// reconnect after a fixed back-off when anything fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"screenrelay/internal/clock"
	"screenrelay/internal/shared"
)

// State of the session state machine
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrUserExit         = errors.New("user requested exit")
	ErrKeepaliveTimeout = errors.New("keepalive probe got no response")
)

// defaults match the reference deployment
const (
	DefaultBackoff           = 5 * time.Second
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultPongWait          = 10 * time.Second
	DefaultFrameInterval     = 100 * time.Millisecond
)

// ClientConn is one established connection to the relay
type ClientConn interface {
	Send(ctx context.Context, msg string) error
	// Receive blocks for the next frame. It is unblocked by Close.
	Receive(ctx context.Context) (string, error)
	// Ping sends a probe and blocks until the peer answers or ctx ends.
	Ping(ctx context.Context) error
	// Close must be idempotent.
	Close() error
}

// Dialer opens connections to the relay
type Dialer interface {
	Dial(ctx context.Context) (ClientConn, error)
}

// Renderer consumes decoded inbound traffic (console, screen window).
// Screen may return ErrUserExit when the viewer asks to quit.
type Renderer interface {
	Chat(text string)
	Screen(frame []byte) error
	Other(raw string)
}

// FrameSource produces compressed image bytes on demand
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// Session is the client state machine. Input outlives every connection: it
// is read by whichever connection is active, and never recreated on reconnect.
type Session struct {
	Dialer   Dialer
	Input    <-chan string // lines from the input collector
	Renderer Renderer
	Frames   FrameSource // optional screen producer

	Clock             clock.Clock
	Backoff           time.Duration
	KeepaliveInterval time.Duration
	PongWait          time.Duration
	FrameInterval     time.Duration

	// EndOnInputClose ends the session once Input is closed and every line
	// read from it has been sent (piped input). Otherwise the session keeps
	// receiving after input ends.
	EndOnInputClose bool

	OnState func(State) // observer, called synchronously on each transition
	Logger  *slog.Logger

	// lines read while no connection was active, sent first by the next one
	pending     []string
	inputClosed bool
}

// Run drives the session until the user exits (nil) or ctx is cancelled
// (ctx.Err()). Connection failures never end Run; they lead to Reconnecting.
// Input is watched in every state, so "exit" works while the server is down.
func (s *Session) Run(ctx context.Context) error {
	s.defaults()

	for {
		s.setState(StateConnecting)
		conn, err := s.connect(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrUserExit):
				s.Logger.Info("session_exit")
				s.setState(StateTerminated)
				return nil
			case ctx.Err() != nil:
				s.setState(StateTerminated)
				return ctx.Err()
			}
			s.Logger.Warn("connect_failed", "error", err.Error(), "retry_in", s.Backoff.String())
			if err := s.waitBackoff(ctx); err != nil {
				return s.finish(err)
			}
			continue
		}

		s.setState(StateActive)
		s.Logger.Info("connected")
		err = s.runActive(ctx, conn)

		s.setState(StateClosing)
		conn.Close()

		switch {
		case errors.Is(err, ErrUserExit):
			s.Logger.Info("session_exit")
			s.setState(StateTerminated)
			return nil
		case ctx.Err() != nil:
			s.setState(StateTerminated)
			return ctx.Err()
		}

		s.Logger.Warn("connection_lost", "error", err.Error(), "retry_in", s.Backoff.String())
		if err := s.waitBackoff(ctx); err != nil {
			return s.finish(err)
		}
	}
}

// finish maps a back-off exit to Run's result; the state is already Terminated
func (s *Session) finish(err error) error {
	if errors.Is(err, ErrUserExit) {
		s.Logger.Info("session_exit")
		return nil
	}
	return err
}

func (s *Session) defaults() {
	if s.Clock == nil {
		s.Clock = clock.Real()
	}
	if s.Backoff <= 0 {
		s.Backoff = DefaultBackoff
	}
	if s.KeepaliveInterval <= 0 {
		s.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if s.PongWait <= 0 {
		s.PongWait = DefaultPongWait
	}
	if s.FrameInterval <= 0 {
		s.FrameInterval = DefaultFrameInterval
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
}

func (s *Session) setState(state State) {
	s.Logger.Debug("session_state", "state", state.String())
	if s.OnState != nil {
		s.OnState(state)
	}
}

func (s *Session) waitBackoff(ctx context.Context) error {
	s.setState(StateReconnecting)
	retry := s.Clock.After(s.Backoff)
	for {
		select {
		case <-ctx.Done():
			s.setState(StateTerminated)
			return ctx.Err()
		case <-retry:
			return nil
		case line, ok := <-s.input():
			if s.absorbInput(line, ok) {
				s.setState(StateTerminated)
				return ErrUserExit
			}
		}
	}
}

// connect dials while still watching Input. An exit during the handshake
// abandons it.
func (s *Session) connect(ctx context.Context) (ClientConn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type dialResult struct {
		conn ClientConn
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := s.Dialer.Dial(dialCtx)
		dialed <- dialResult{conn, err}
	}()

	for {
		select {
		case result := <-dialed:
			return result.conn, result.err
		case line, ok := <-s.input():
			if !s.absorbInput(line, ok) {
				continue
			}
			cancel()
			if result := <-dialed; result.conn != nil {
				result.conn.Close()
			}
			return nil, ErrUserExit
		}
	}
}

// input is nil once the collector has closed it, so selects skip it
func (s *Session) input() <-chan string {
	if s.inputClosed {
		return nil
	}
	return s.Input
}

// absorbInput handles one read from Input while no connection is active.
// It reports whether the session should end; other lines wait in pending.
func (s *Session) absorbInput(line string, ok bool) bool {
	if !ok {
		s.inputClosed = true
		return s.EndOnInputClose && len(s.pending) == 0
	}
	if isExit(line) {
		return true
	}
	s.pending = append(s.pending, line)
	return false
}

func isExit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), "exit")
}

// runActive runs the connection-bound activities. The first one to fail
// cancels the group; closing the connection unblocks a pending Receive.
func (s *Session) runActive(ctx context.Context, conn ClientConn) error {
	group, groupCtx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(groupCtx, func() { conn.Close() })
	defer stop()

	group.Go(func() error { return s.keepalive(groupCtx, conn) })
	group.Go(func() error { return s.receive(groupCtx, conn) })
	group.Go(func() error { return s.outbound(groupCtx, conn) })
	if s.Frames != nil {
		group.Go(func() error { return s.streamFrames(groupCtx, conn) })
	}
	return group.Wait()
}

// keepalive probes every KeepaliveInterval and fails the session if the
// probe is not answered within PongWait
func (s *Session) keepalive(ctx context.Context, conn ClientConn) error {
	ticker := s.Clock.NewTicker(s.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithCancel(ctx)
		answered := make(chan error, 1)
		go func() { answered <- conn.Ping(probeCtx) }()

		select {
		case err := <-answered:
			cancel()
			if err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
		case <-s.Clock.After(s.PongWait):
			cancel()
			return ErrKeepaliveTimeout
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}
	}
}

func (s *Session) receive(ctx context.Context, conn ClientConn) error {
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}

		env := shared.ParseEnvelope(raw)
		switch env.Kind {
		case shared.KindChat:
			s.Renderer.Chat(env.Payload)
		case shared.KindScreen:
			frame, err := env.Frame()
			if err != nil {
				s.Logger.Warn("screen_frame_invalid", "error", err.Error())
				continue
			}
			if err := s.Renderer.Screen(frame); err != nil {
				return err
			}
		default:
			s.Renderer.Other(raw)
		}
	}
}

func (s *Session) outbound(ctx context.Context, conn ClientConn) error {
	for len(s.pending) > 0 {
		if err := conn.Send(ctx, shared.Chat(s.pending[0]).Raw()); err != nil {
			return fmt.Errorf("send chat: %w", err)
		}
		s.pending = s.pending[1:]
	}

	for {
		if s.inputClosed && s.EndOnInputClose {
			return ErrUserExit
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-s.input():
			if !ok {
				// collector is gone (stdin closed)
				s.inputClosed = true
				continue
			}
			if isExit(line) {
				return ErrUserExit
			}
			if err := conn.Send(ctx, shared.Chat(line).Raw()); err != nil {
				return fmt.Errorf("send chat: %w", err)
			}
		}
	}
}

// streamFrames sends one captured frame per FrameInterval
func (s *Session) streamFrames(ctx context.Context, conn ClientConn) error {
	limiter := rate.NewLimiter(rate.Every(s.FrameInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// next slot lies past the ctx deadline
			<-ctx.Done()
			return ctx.Err()
		}
		image, err := s.Frames.Frame(ctx)
		if err != nil {
			s.Logger.Warn("frame_capture_failed", "error", err.Error())
			continue
		}
		if err := conn.Send(ctx, shared.EncodeFrame(image).Raw()); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
	}
}
