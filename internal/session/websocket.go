package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait = 10 * time.Second
	// same ceiling the relay applies to inbound frames
	defaultReadLimit = 100 * 1024 * 1024
)

// WebsocketDialer connects to the relay over gorilla/websocket
type WebsocketDialer struct {
	URL       string
	WriteWait time.Duration
	ReadLimit int64             // largest accepted frame in bytes, 0 = defaultReadLimit
	Dialer    *websocket.Dialer // nil = websocket.DefaultDialer
}

func (d *WebsocketDialer) Dial(ctx context.Context) (ClientConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", d.URL, err)
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	c := &wsClientConn{
		conn:      conn,
		writeWait: writeWait,
		pongs:     make(chan struct{}, 1),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case c.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	return c, nil
}

// wsClientConn: gorilla allows one concurrent writer, so data frames go
// through writeMu. Control frames (ping, close) are safe to write anytime.
type wsClientConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	writeMu   sync.Mutex
	pongs     chan struct{}
	closeOnce sync.Once
}

func (c *wsClientConn) Send(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Receive ignores ctx: a pending read is released by Close
func (c *wsClientConn) Receive(ctx context.Context) (string, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

// Ping relies on Receive running concurrently, pongs are only seen by a reader
func (c *wsClientConn) Ping(ctx context.Context) error {
	// drop a stale pong from an earlier probe
	select {
	case <-c.pongs:
	default:
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	select {
	case <-c.pongs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
