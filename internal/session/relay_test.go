package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenrelay/internal/config"
	"screenrelay/internal/microservices/relay"
)

// two real sessions talking through a real relay server
func TestSession_ThroughRelayServer(t *testing.T) {
	cfg := &config.Config{
		GoEnv:          "test",
		RelayHost:      "127.0.0.1",
		RelayPath:      "/",
		PingInterval:   30 * time.Second,
		PongWait:       10 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 10 * 1024 * 1024,
		SendBuffer:     64,
	}
	registry := relay.NewRegistry(discardLogger())
	dispatcher := relay.NewDispatcher(registry, discardLogger())
	server := relay.NewServer(cfg, registry, dispatcher, discardLogger())
	httpServer := httptest.NewServer(server.Router())
	defer httpServer.Close()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := func(input <-chan string, renderer *recordingRenderer, frames FrameSource) (<-chan error, *stateRecorder) {
		states := newStateRecorder()
		s := &Session{
			Dialer:        &WebsocketDialer{URL: url},
			Input:         input,
			Renderer:      renderer,
			Frames:        frames,
			FrameInterval: 20 * time.Millisecond,
			OnState:       states.record,
			Logger:        discardLogger(),
		}
		return runSession(ctx, s), states
	}

	aliceInput := make(chan string, 1)
	alice := &recordingRenderer{}
	aliceDone, aliceStates := start(aliceInput, alice, nil)
	aliceStates.waitFor(t, StateActive)

	bob := &recordingRenderer{}
	image := []byte{0xff, 0xd8, 0xff, 0xd9}
	bobDone, bobStates := start(make(chan string), bob, staticFrames{image: image})
	bobStates.waitFor(t, StateActive)

	require.Eventually(t, func() bool { return registry.Count() == 2 }, 3*time.Second, 10*time.Millisecond)
	welcome := "SERVER: " + relay.WelcomeText
	require.Eventually(t, func() bool { return len(bob.chatLines()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, welcome, bob.chatLines()[0])

	aliceInput <- "hello bob"
	require.Eventually(t, func() bool { return len(bob.chatLines()) == 2 }, 3*time.Second, 10*time.Millisecond)
	line := bob.chatLines()[1]
	assert.True(t, strings.HasPrefix(line, "Client "), line)
	assert.True(t, strings.HasSuffix(line, ": hello bob"), line)

	// bob streams screen frames; alice sees them decoded, bob never sees his own
	require.Eventually(t, func() bool { return len(alice.screenFrames()) > 0 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, image, alice.screenFrames()[0])
	assert.Empty(t, bob.screenFrames())
	assert.Equal(t, []string{welcome}, alice.chatLines())

	aliceInput <- "exit"
	require.NoError(t, waitResult(t, aliceDone))
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	delivery := dispatcher.Broadcast("bye")
	assert.Equal(t, relay.Delivery{Attempted: 1}, delivery)
	require.Eventually(t, func() bool {
		lines := bob.chatLines()
		return lines[len(lines)-1] == "SERVER: bye"
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitResult(t, bobDone), context.Canceled)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, server.Shutdown(shutdownCtx))
}
