package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"screenrelay/internal/config"
	"screenrelay/internal/shared"
)

// WelcomeText is sent to every peer right after it is registered
const WelcomeText = "Welcome to the chat server!"

// Server accepts websocket peers and feeds their frames to the dispatcher
type Server struct {
	registry   *Registry
	dispatcher *Dispatcher
	path       string
	listenAddr string
	peerOpts   PeerOptions
	upgrader   websocket.Upgrader
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger

	// mu orders handlers.Add against Shutdown: no handler is tracked once
	// closing is set, so handlers.Wait never races a late Add
	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup // one per live peer handler
}

// constructor for Server
func NewServer(cfg *config.Config, registry *Registry, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		registry:   registry,
		dispatcher: dispatcher,
		path:       cfg.RelayPath,
		listenAddr: cfg.ListenAddr(),
		peerOpts: PeerOptions{
			PingInterval:   cfg.PingInterval,
			PongWait:       cfg.PongWait,
			WriteWait:      cfg.WriteWait,
			MaxMessageSize: cfg.MaxMessageSize,
			SendBuffer:     cfg.SendBuffer,
			Logger:         logger,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// no authentication, any origin may connect
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.GET(s.path, s.handleUpgrade)
	s.router.GET("/healthz", s.handleHealth)

	s.httpServer = &http.Server{Handler: s.router}
	return s
}

// Router exposes the gin engine (tests mount it on httptest)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Listen binds the listener; a bound port is a startup failure
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to start relay server on %s: %w", s.listenAddr, err)
	}
	s.listener = listener
	s.logger.Info("relay_server_listening", "addr", listener.Addr().String(), "path", s.path)
	return nil
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks until Shutdown. Listen must have succeeded.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("relay server: Serve called before Listen")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server stopped: %w", err)
	}
	return nil
}

// Start = Listen + Serve
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting, closes every live peer and waits for their
// handlers to finish unregistering them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	err := s.httpServer.Shutdown(ctx)

	// upgraded connections are hijacked, http.Server no longer tracks them
	for _, c := range s.registry.Snapshot() {
		if peer, ok := c.(*Peer); ok {
			peer.Close()
		}
	}

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("relay_server_stopped")
	case <-ctx.Done():
		return fmt.Errorf("relay server shutdown: %w", ctx.Err())
	}
	return err
}

// trackHandler registers a peer handler with Shutdown, false once closing
func (s *Server) trackHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.registry.Count(),
	})
}

// handleUpgrade: upgrade request from HTTP connection to WebSocket, then
// serve the peer on this goroutine until it disconnects
func (s *Server) handleUpgrade(c *gin.Context) {
	if !s.trackHandler() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay server is shutting down"})
		return
	}
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader already replied with an HTTP error
		s.logger.Warn("websocket_upgrade_failed", "remote_addr", c.Request.RemoteAddr, "error", err.Error())
		return
	}
	s.servePeer(NewPeer(conn, s.peerOpts))
}

// ServePeer runs one peer's lifecycle: register, welcome, read loop, and a
// cleanup that always unregisters and closes, whichever way the loop ended.
// After Shutdown the peer is closed without being registered.
func (s *Server) ServePeer(peer *Peer) {
	if !s.trackHandler() {
		peer.Close()
		return
	}
	defer s.handlers.Done()
	s.servePeer(peer)
}

func (s *Server) servePeer(peer *Peer) {
	logger := s.logger.With("client_id", peer.ID())
	defer func() {
		s.registry.Unregister(peer)
		peer.Close()
		logger.Info("client_connection_closed", "clients", s.registry.Count())
	}()

	s.registry.Register(peer)
	logger.Info("client_connected", "remote_addr", peer.RemoteAddr().String())
	if s.isClosing() {
		// raced with Shutdown's sweep
		return
	}
	go peer.WritePump()

	if err := peer.Send([]byte(shared.Chat(AdminLabel + ": " + WelcomeText).Raw())); err != nil {
		logger.Warn("welcome_send_failed", "error", err.Error())
	}

	err := peer.ReadPump(func(msg []byte, binary bool) {
		env := shared.ParseEnvelope(string(msg))
		env.Binary = binary
		s.dispatcher.Relay(peer, env)
	})
	switch {
	case IsExpectedClose(err):
		logger.Info("client_disconnected", "reason", err.Error())
	case isTimeout(err):
		logger.Warn("client_read_timeout")
	default:
		logger.Warn("client_read_error", "error", err.Error())
	}
}
