package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every text frame with itself; gorilla's default ping
// handler answers probes while the loop reads
func echoServer(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketDialer_SendReceivePing(t *testing.T) {
	dialer := &WebsocketDialer{URL: echoServer(t), WriteWait: time.Second}
	ctx := context.Background()

	conn, err := dialer.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan string, 4)
	go func() {
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				close(received)
				return
			}
			received <- msg
		}
	}()

	require.NoError(t, conn.Send(ctx, "CHAT:echo"))
	select {
	case msg := <-received:
		assert.Equal(t, "CHAT:echo", msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no echo")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, conn.Ping(pingCtx))

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	// Close releases the pending Receive
	select {
	case _, ok := <-received:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("receive still blocked after close")
	}
}

func TestWebsocketDialer_Refused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := (&WebsocketDialer{URL: url}).Dial(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection to "+url+" failed")
}

func TestWebsocketDialer_PingWithoutReaderTimesOut(t *testing.T) {
	conn, err := (&WebsocketDialer{URL: echoServer(t)}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	// nobody reads, so the pong is never processed
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, conn.Ping(ctx), context.DeadlineExceeded)
}

func TestWebsocketDialer_SendAfterCancel(t *testing.T) {
	conn, err := (&WebsocketDialer{URL: echoServer(t)}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, conn.Send(ctx, "CHAT:late"), context.Canceled)
}

func TestWebsocketDialer_ReadLimit(t *testing.T) {
	conn, err := (&WebsocketDialer{URL: echoServer(t), ReadLimit: 16}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), "CHAT:"+strings.Repeat("x", 64)))

	received := make(chan error, 1)
	go func() {
		_, err := conn.Receive(context.Background())
		received <- err
	}()
	select {
	case err := <-received:
		assert.ErrorIs(t, err, websocket.ErrReadLimit)
	case <-time.After(3 * time.Second):
		t.Fatal("oversized frame was not rejected")
	}
}
