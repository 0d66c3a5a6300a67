// Package server exposes the voice stream over HTTP: a WebSocket upgrade
// endpoint per client and a health probe. The composition root owns the
// broker, providers and recorder; the server stamps a Session per accepted
// connection and ties every session's lifetime to its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxwire/voxwire/pkg/gen"
	"github.com/voxwire/voxwire/pkg/registry"
	"github.com/voxwire/voxwire/pkg/session"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default ":8080".
	Addr string

	// Registry tracks live connections and answers broker probes.
	Registry *registry.Registry

	// Session is the per-connection template. ClientID, Conn and History are
	// stamped per connection; everything else is used as-is.
	Session session.Config

	// HistoryLimit bounds each session's conversation window.
	// <= 0 uses gen.DefaultMaxExchanges.
	HistoryLimit int

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration

	// Logger receives server logs. Default slog.Default().
	Logger *slog.Logger
}

// Server hosts the stream and health endpoints.
type Server struct {
	addr            string
	reg             *registry.Registry
	template        session.Config
	historyLimit    int
	shutdownTimeout time.Duration
	log             *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server

	// sessCtx outlives individual requests; cancelling it ends every session.
	sessCtx    context.Context
	sessCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Server. The template's provider fields must be set; session
// construction validates them per connection.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if opts.Session.Queue == nil {
		return nil, errors.New("server: session queue is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		addr:            opts.Addr,
		reg:             opts.Registry,
		template:        opts.Session,
		historyLimit:    opts.HistoryLimit,
		shutdownTimeout: opts.ShutdownTimeout,
		log:             opts.Logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	s.sessCtx, s.sessCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream/{clientID}", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: mux,
	}
	return s, nil
}

// Handler returns the route table, for serving through an outer server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on Addr and serves until ctx is cancelled, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.log.Info("server: listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.Shutdown(sctx)
}

// Shutdown stops accepting connections, ends every live session and waits
// for them, then shuts the HTTP server down. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Info("server: shutting down", "sessions", s.reg.Len())
	s.sessCancel()
	s.wg.Wait()
	err := s.httpServer.Shutdown(ctx)
	s.reg.Close()
	return err
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	if clientID == "" {
		httpError(w, http.StatusBadRequest, "client id is required")
		return
	}
	if _, live := s.reg.Get(clientID); live {
		httpError(w, http.StatusConflict, "client is already streaming")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		httpError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.Warn("server: upgrade failed", "client", clientID, "error", err)
		return
	}

	// The pre-upgrade check produced the 409; this closes the race where two
	// upgrades for one id both passed it. The loser drops its conn and must
	// not unregister the winner's.
	if !s.reg.TryRegister(clientID, conn) {
		s.log.Warn("server: duplicate client", "client", clientID)
		_ = conn.Close()
		return
	}
	defer s.reg.Unregister(clientID)

	cfg := s.template
	cfg.ClientID = clientID
	cfg.Conn = conn
	cfg.History = gen.NewHistory(s.historyLimit)
	cfg.Logger = s.log.With("client", clientID)

	sess, err := session.New(cfg)
	if err != nil {
		s.log.Error("server: session setup failed", "client", clientID, "error", err)
		return
	}
	if err := sess.Run(s.sessCtx); err != nil {
		s.log.Error("server: session ended", "client", clientID, "error", err)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Broker   bool   `json:"broker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	broker := s.reg.Healthy(r.Context())
	resp := healthResponse{
		Status:   "ok",
		Sessions: s.reg.Len(),
		Broker:   broker,
	}
	code := http.StatusOK
	if !broker {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
