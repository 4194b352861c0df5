package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const ( // ping pong(2-way heartbeat) to keep connection alive
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 10 * time.Second
	DefaultWriteWait    = 10 * time.Second
)

var (
	ErrPeerClosed     = errors.New("peer connection closed")
	ErrSendBufferFull = errors.New("peer send buffer full")
)

// PeerOptions = per connection transport settings
type PeerOptions struct {
	PingInterval   time.Duration // send ping to peer this often
	PongWait       time.Duration // extra time allowed for the pong after a ping
	WriteWait      time.Duration // max time to write a message to the peer
	MaxMessageSize int64         // read limit, 0 = unlimited
	SendBuffer     int           // outbound queue length
	Logger         *slog.Logger
}

// frame is one queued outbound message and its websocket opcode
type frame struct {
	data   []byte
	binary bool
}

// Peer is one accepted websocket connection.
// Send only enqueues; a single writer goroutine drains the queue so frames to
// one peer keep their order and a slow peer never stalls the fan-out.
type Peer struct {
	id        string
	conn      *websocket.Conn
	send      chan frame    // outbound queue, never closed
	done      chan struct{} // closed exactly once by Close
	closeOnce sync.Once
	closeErr  error
	opts      PeerOptions
	logger    *slog.Logger
}

// constructor new peer
func NewPeer(conn *websocket.Conn, opts PeerOptions) *Peer {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 1
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Peer{
		id:     id,
		conn:   conn,
		send:   make(chan frame, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		logger: logger.With("client_id", id),
	}
}

func (p *Peer) ID() string { return p.id }

// RemoteAddr returns the peer's network address
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Send queues msg as a text frame without blocking
func (p *Peer) Send(msg []byte) error {
	return p.enqueue(frame{data: msg})
}

// SendBinary queues msg as a binary frame without blocking
func (p *Peer) SendBinary(msg []byte) error {
	return p.enqueue(frame{data: msg, binary: true})
}

func (p *Peer) enqueue(f frame) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- f:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the peer is closed
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close sends a close frame and releases the socket. Safe to call from any
// goroutine, any number of times; only the first call does anything.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		// WriteControl may run concurrently with the writer goroutine
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(p.opts.WriteWait))
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// ReadPump reads frames until the connection fails and hands each one to
// handle, flagging binary frames. Liveness: every pong or frame pushes the
// read deadline out by PingInterval+PongWait, so a silent peer times out one
// PongWait after a missed ping.
func (p *Peer) ReadPump(handle func(msg []byte, binary bool)) error {
	if p.opts.MaxMessageSize > 0 {
		p.conn.SetReadLimit(p.opts.MaxMessageSize)
	}
	window := p.opts.PingInterval + p.opts.PongWait
	p.conn.SetReadDeadline(time.Now().Add(window))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(window))
	})

	for {
		kind, msg, err := p.conn.ReadMessage()
		if err != nil {
			return err
		}
		p.conn.SetReadDeadline(time.Now().Add(window))
		handle(msg, kind == websocket.BinaryMessage)
	}
}

// WritePump drains the outbound queue and pings on PingInterval.
// It returns when the peer is closed or a write fails (and then closes it).
func (p *Peer) WritePump() {
	ticker := time.NewTicker(p.opts.PingInterval)
	defer func() {
		ticker.Stop()
		p.Close()
	}()

	for {
		select {
		case f := <-p.send:
			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
			if err := p.conn.WriteMessage(kind, f.data); err != nil {
				p.logClosed("client_write_failed", err)
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.opts.WriteWait)); err != nil {
				p.logClosed("client_ping_failed", err)
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) logClosed(event string, err error) {
	if IsExpectedClose(err) {
		p.logger.Debug(event, "error", err.Error())
		return
	}
	p.logger.Warn(event, "error", err.Error())
}

// IsExpectedClose reports whether err is a normal end of a connection:
// close handshake, peer vanished, or our own Close.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}

// isTimeout reports a read deadline expiry (missed pong)
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
