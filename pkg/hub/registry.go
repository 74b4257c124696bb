package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Registry tracks one live connection per admitted client, independent of
// any project. It owns connection lifecycle: admission, heartbeats, idle
// reaping, and teardown.
type Registry struct {
	cfg RegistryConfig

	mu    sync.RWMutex
	conns map[string]*Connection

	// releaseSubs is invoked on close so the subscription table can drop
	// the connection's subscriptions. Set once during wiring.
	releaseSubs func(*Connection)

	metrics *Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// RegistryConfig bounds connection behavior. Zero values are replaced with
// the recommended defaults (30s ping / 60s idle timeout).
type RegistryConfig struct {
	PingInterval  time.Duration
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	SendQueueSize int
}

func (c *RegistryConfig) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
}

// NewRegistry creates a connection registry. metrics may be nil.
func NewRegistry(cfg RegistryConfig, metrics *Metrics) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:     cfg,
		conns:   make(map[string]*Connection),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

// SetReleaseFunc wires the subscription cleanup hook. Called once during
// startup, before any connection is admitted.
func (r *Registry) SetReleaseFunc(f func(*Connection)) {
	r.releaseSubs = f
}

// Admit registers a new connection for an authenticated user. The connection
// starts in Connecting; the caller transitions it to Open once the transport
// handshake (connection_established) has completed.
func (r *Registry) Admit(ctx context.Context, conn *websocket.Conn, userID string) (*Connection, error) {
	if userID == "" {
		return nil, ErrAuthenticationRequired
	}

	c := newConnection(ctx, uuid.New().String(), userID, conn, r.cfg.SendQueueSize, r.cfg.WriteTimeout)

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	r.metrics.connectionOpened()
	slog.Info("Connection admitted", "connection_id", c.ID, "user_id", userID)
	return c, nil
}

// Open completes admission: the handshake is done and the writer starts.
func (r *Registry) Open(c *Connection) {
	c.open()
}

// Get returns a connection by id.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connectionID]
	return c, ok
}

// Send enqueues an envelope for one connection without blocking. ErrDropped
// means backpressure evicted an older event and the subscriber must recover
// through the replay buffer.
func (r *Registry) Send(connectionID string, env Envelope) error {
	r.mu.RLock()
	c, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.sendRaw(c, data, isCritical(env.Type))
}

// sendRaw enqueues pre-marshaled bytes. Used by the broadcaster so one
// marshal serves every subscriber.
func (r *Registry) sendRaw(c *Connection, data []byte, critical bool) error {
	err := c.enqueue(data, critical)
	if err == ErrDropped {
		r.metrics.envelopeDropped()
	}
	return err
}

// Heartbeat records liveness for a connection (ping frame or any
// application traffic).
func (r *Registry) Heartbeat(connectionID string) {
	r.mu.RLock()
	c, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if ok {
		c.touch()
	}
}

// Close tears down a connection: Draining → Closed, subscriptions released,
// transport closed. Idempotent.
func (r *Registry) Close(connectionID, reason string) {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if !c.beginDrain() {
		return
	}
	if r.releaseSubs != nil {
		r.releaseSubs(c)
	}
	c.finishClose(websocket.StatusNormalClosure, reason)

	r.metrics.connectionClosed()
	slog.Info("Connection closed", "connection_id", connectionID, "reason", reason)
}

// ActiveConnections returns the number of registered connections.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Start launches the heartbeat reaper. The reaper pings idle connections on
// the ping interval and closes any that stay silent past the idle timeout.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runReaper(ctx)
	}()
}

// Stop terminates the reaper and closes every remaining connection.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Close(id, "server shutdown")
	}
}

// runReaper periodically pings connections and evicts idle ones. It runs on
// its own scheduler, independent of message traffic.
func (r *Registry) runReaper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep closes connections idle beyond the timeout and pings the rest.
func (r *Registry) sweep(ctx context.Context) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, c := range conns {
		if now.Sub(c.idleSince()) > r.cfg.IdleTimeout {
			slog.Info("Reaping idle connection",
				"connection_id", c.ID,
				"idle", now.Sub(c.idleSince()).Round(time.Second))
			r.Close(c.ID, "idle timeout")
			continue
		}
		go r.ping(ctx, c)
	}
}

// ping sends a transport-level ping; a pong counts as liveness. Errors are
// ignored — a dead connection is caught by the idle sweep.
func (r *Registry) ping(ctx context.Context, c *Connection) {
	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()
	if err := c.conn.Ping(pingCtx); err == nil {
		c.touch()
	}
}

// isCritical reports whether an envelope type must survive backpressure.
// Control traffic is critical; broadcast events are recoverable via replay.
func isCritical(envType string) bool {
	switch envType {
	case EnvelopeConnectionEstablished, EnvelopeSubscriptionConfirmed,
		EnvelopePong, EnvelopeResyncRequired, EnvelopeError:
		return true
	}
	return false
}
