// Package registry tracks live client connections. It owns the clientID to
// connection map, keeps each connection alive with WebSocket pings and
// answers broker health probes for the health endpoint.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxwire/voxwire/pkg/queue"
)

const (
	// DefaultHeartbeatInterval is the ping cadence per connection.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultWriteWait bounds one ping write.
	DefaultWriteWait = 10 * time.Second
)

// Conn is the control surface the registry needs from a connection.
// *websocket.Conn satisfies it; WriteControl is safe to call concurrently
// with the session's writes.
type Conn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Options tunes a Registry. Zero values fall back to defaults.
type Options struct {
	// HeartbeatInterval is the ping cadence. Default 30s.
	HeartbeatInterval time.Duration

	// WriteWait bounds one ping write. Default 10s.
	WriteWait time.Duration

	// Logger receives registry logs. Default slog.Default().
	Logger *slog.Logger
}

type entry struct {
	conn Conn
	done chan struct{}
}

// Registry is the process-wide connection table. All methods are safe for
// concurrent use.
type Registry struct {
	queue     queue.Queue
	interval  time.Duration
	writeWait time.Duration
	log       *slog.Logger

	mu    sync.RWMutex
	conns map[string]*entry
}

// New creates a Registry. The queue is only used for health probes; backends
// without a broker always report healthy.
func New(q queue.Queue, opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		queue:     q,
		interval:  opts.HeartbeatInterval,
		writeWait: opts.WriteWait,
		log:       opts.Logger,
		conns:     make(map[string]*entry),
	}
}

// Register adds a connection under clientID and starts its heartbeat. A live
// connection under the same id is replaced and closed.
func (r *Registry) Register(clientID string, conn Conn) {
	e := &entry{conn: conn, done: make(chan struct{})}
	r.mu.Lock()
	old := r.conns[clientID]
	r.conns[clientID] = e
	r.mu.Unlock()
	if old != nil {
		close(old.done)
		_ = old.conn.Close()
		r.log.Warn("registry: replaced live connection", "client", clientID)
	}
	go r.heartbeat(clientID, e)
	r.log.Info("registry: registered", "client", clientID, "clients", r.Len())
}

// TryRegister adds a connection under clientID only if the id has no live
// connection, and reports whether it registered. Losing callers must not
// Unregister, so a lost race can never evict the winner.
func (r *Registry) TryRegister(clientID string, conn Conn) bool {
	e := &entry{conn: conn, done: make(chan struct{})}
	r.mu.Lock()
	if _, live := r.conns[clientID]; live {
		r.mu.Unlock()
		return false
	}
	r.conns[clientID] = e
	r.mu.Unlock()
	go r.heartbeat(clientID, e)
	r.log.Info("registry: registered", "client", clientID, "clients", r.Len())
	return true
}

// Unregister removes clientID's connection and closes it. Unregistering an
// unknown id is a no-op.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	e, ok := r.conns[clientID]
	if ok {
		delete(r.conns, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	close(e.done)
	_ = e.conn.Close()
	r.log.Info("registry: unregistered", "client", clientID, "clients", r.Len())
}

// drop removes the entry only if it is still the registered one, so a
// heartbeat failing against a replaced connection cannot evict its successor.
func (r *Registry) drop(clientID string, e *entry) {
	r.mu.Lock()
	cur, ok := r.conns[clientID]
	if ok && cur == e {
		delete(r.conns, clientID)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	close(e.done)
	_ = e.conn.Close()
}

// Get returns clientID's connection.
func (r *Registry) Get(clientID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[clientID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Healthy probes the broker behind the queue. Backends that don't implement
// queue.Pinger have nothing to probe and report healthy.
func (r *Registry) Healthy(ctx context.Context) bool {
	p, ok := r.queue.(queue.Pinger)
	if !ok {
		return true
	}
	if err := p.Ping(ctx); err != nil {
		r.log.Warn("registry: broker unhealthy", "error", err)
		return false
	}
	return true
}

// Close unregisters and closes every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range conns {
		close(e.done)
		_ = e.conn.Close()
	}
}

func (r *Registry) heartbeat(clientID string, e *entry) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(r.writeWait)
			if err := e.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				r.log.Warn("registry: heartbeat failed", "client", clientID, "error", err)
				r.drop(clientID, e)
				return
			}
		}
	}
}
