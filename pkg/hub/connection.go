package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

// Connection lifecycle: Connecting → Open → Draining → Closed.
const (
	StateConnecting ConnState = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// outMsg is one queued outbound payload. Critical messages (errors, replay
// control, confirmations) are never the drop victim under backpressure.
type outMsg struct {
	data     []byte
	critical bool
}

// Connection is one live WebSocket client. The registry owns its lifecycle;
// the read loop (gateway) and the reaper are the only other writers.
//
// All mutable fields are guarded by mu. The outbound queue is drained by a
// single writer goroutine so wire writes never interleave.
type Connection struct {
	ID     string
	UserID string

	conn *websocket.Conn

	mu            sync.Mutex
	state         ConnState
	queue         []outMsg
	queueLimit    int
	lastSeen      time.Time
	subscriptions map[string]bool

	wake   chan struct{} // capacity 1, signals the writer loop
	ctx    context.Context
	cancel context.CancelFunc

	writeTimeout time.Duration
	wg           sync.WaitGroup
}

func newConnection(parent context.Context, id, userID string, conn *websocket.Conn, queueLimit int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		ID:            id,
		UserID:        userID,
		conn:          conn,
		state:         StateConnecting,
		queueLimit:    queueLimit,
		lastSeen:      time.Now(),
		subscriptions: make(map[string]bool),
		wake:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		writeTimeout:  writeTimeout,
	}
}

// open marks the transport handshake complete and starts the writer loop.
func (c *Connection) open() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.mu.Unlock()

	c.wg.Add(1)
	go c.writeLoop()
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// touch records application traffic or a heartbeat.
func (c *Connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// idleSince returns the time of the last observed traffic.
func (c *Connection) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// enqueue appends an outbound payload. When the queue is full the oldest
// non-critical message is evicted and ErrDropped is returned so the caller
// knows the subscriber must recover via replay. A non-critical payload that
// cannot claim a slot (queue full of critical messages) is itself dropped.
func (c *Connection) enqueue(data []byte, critical bool) error {
	c.mu.Lock()
	if c.state != StateOpen && c.state != StateConnecting {
		c.mu.Unlock()
		return ErrConnectionClosed
	}

	var dropped bool
	if len(c.queue) >= c.queueLimit {
		victim := -1
		for i, m := range c.queue {
			if !m.critical {
				victim = i
				break
			}
		}
		switch {
		case victim >= 0:
			c.queue = append(c.queue[:victim], c.queue[victim+1:]...)
			dropped = true
		case !critical:
			// Nothing evictable and the new message is expendable.
			c.mu.Unlock()
			return ErrDropped
		}
	}
	c.queue = append(c.queue, outMsg{data: data, critical: critical})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	if dropped {
		return ErrDropped
	}
	return nil
}

// writeLoop drains the outbound queue onto the wire. It is the sole writer
// of the WebSocket data stream for this connection.
func (c *Connection) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg.data)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					slog.Warn("WebSocket write failed",
						"connection_id", c.ID, "error", err)
				}
				c.cancel()
				return
			}
		}
	}
}

// beginDrain moves the connection to Draining. Returns false if it was
// already draining or closed.
func (c *Connection) beginDrain() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDraining || c.state == StateClosed {
		return false
	}
	c.state = StateDraining
	return true
}

// finishClose cancels the writer, closes the transport, and marks the
// connection Closed. Idempotent via beginDrain.
func (c *Connection) finishClose(code websocket.StatusCode, reason string) {
	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close(code, reason)
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateClosed
	c.queue = nil
	c.mu.Unlock()
}

// addSubscription records a topic on the connection's own subscription set.
func (c *Connection) addSubscription(topic string) {
	c.mu.Lock()
	c.subscriptions[topic] = true
	c.mu.Unlock()
}

// removeSubscription forgets a topic.
func (c *Connection) removeSubscription(topic string) {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()
}

// takeSubscriptions returns and clears the connection's subscription set.
// Used by ReleaseAll so cleanup is O(subscriptions of this connection).
func (c *Connection) takeSubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		topics = append(topics, t)
	}
	c.subscriptions = make(map[string]bool)
	return topics
}

// queueLen is used by tests to observe backpressure behavior.
func (c *Connection) queueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
