package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
)

// TaskCanceller is the tracker-side contract for wire-initiated task
// cancellation. Implemented by tracker.Tracker.
type TaskCanceller interface {
	Cancel(ctx context.Context, sessionID, reason string) error
}

// Hub ties the registry, subscription table, broadcaster, and replay buffer
// together behind the per-connection read loop.
type Hub struct {
	registry    *Registry
	subs        *SubscriptionTable
	broadcaster *Broadcaster
	buffer      *ReplayBuffer
	metrics     *Metrics

	// canceller handles cancel_task frames. May be nil (frames rejected).
	canceller TaskCanceller
}

// NewHub assembles the hub and wires the registry's close hook to the
// subscription table. metrics and canceller may be nil.
func NewHub(registry *Registry, subs *SubscriptionTable, buffer *ReplayBuffer, metrics *Metrics, canceller TaskCanceller) *Hub {
	h := &Hub{
		registry:    registry,
		subs:        subs,
		broadcaster: NewBroadcaster(registry, subs, buffer, metrics),
		buffer:      buffer,
		metrics:     metrics,
		canceller:   canceller,
	}
	registry.SetReleaseFunc(subs.ReleaseAll)
	return h
}

// SetTaskCanceller wires the cancel_task frame handler. Called once during
// startup, after the tracker (which publishes through this hub) exists.
func (h *Hub) SetTaskCanceller(c TaskCanceller) {
	h.canceller = c
}

// Registry exposes the connection registry for wiring and introspection.
func (h *Hub) Registry() *Registry { return h.registry }

// Broadcaster exposes the publish entrypoint used by the tracker and the
// project-mutation service.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// HandleConnection admits the socket and runs its read loop. Blocks until
// the connection closes. Called by the WebSocket HTTP handler after upgrade;
// userID must already be authenticated by the caller.
func (h *Hub) HandleConnection(ctx context.Context, conn *websocket.Conn, userID string) error {
	c, err := h.registry.Admit(ctx, conn, userID)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return err
	}
	defer h.registry.Close(c.ID, "connection handler exit")

	h.registry.Open(c)
	h.sendControl(c, controlEnvelope(EnvelopeConnectionEstablished, "", "",
		mustRaw(map[string]string{"connection_id": c.ID})))

	// Read loop: one goroutine owns inbound dispatch for this connection.
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return nil // closed or errored — teardown via the deferred Close
		}
		h.registry.Heartbeat(c.ID)

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid WebSocket frame",
				"connection_id", c.ID, "error", err)
			h.sendControl(c, controlEnvelope(EnvelopeError, "", CodeInvalidJSON, nil))
			continue
		}

		h.dispatch(c.ctx, c, &frame)
	}
}

// dispatch routes one inbound frame. Protocol errors answer with an error
// envelope and leave the connection open.
func (h *Hub) dispatch(ctx context.Context, c *Connection, frame *ClientFrame) {
	switch frame.Type {
	case FrameSubscribe:
		if frame.Topic == "" {
			h.sendControl(c, controlEnvelope(EnvelopeError, "", CodeInvalidFrame, nil))
			return
		}
		h.handleSubscribe(ctx, c, frame)

	case FrameUnsubscribe:
		if frame.Topic == "" {
			h.sendControl(c, controlEnvelope(EnvelopeError, "", CodeInvalidFrame, nil))
			return
		}
		h.subs.Unsubscribe(c, frame.Topic)

	case FramePing:
		h.sendControl(c, controlEnvelope(EnvelopePong, "", "", nil))

	case FrameCancelTask:
		h.handleCancelTask(ctx, c, frame)

	default:
		h.sendControl(c, controlEnvelope(EnvelopeError, "", CodeInvalidFrame, nil))
	}
}

// handleSubscribe records interest and, when the client supplied a resume
// point, replays the missed suffix in order after the confirmation. The
// registration and the replay happen under the topic's shard lock so a
// publish racing the subscribe is either replayed or delivered live after
// the replayed suffix, never both and never ahead of it.
func (h *Hub) handleSubscribe(ctx context.Context, c *Connection, frame *ClientFrame) {
	if err := h.subs.authorize(ctx, c.UserID, frame.Topic); err != nil {
		code := CodeSubscribeFailed
		if errors.Is(err, ErrForbidden) {
			code = CodeForbidden
		}
		h.sendControl(c, controlEnvelope(EnvelopeError, frame.Topic, code, nil))
		return
	}
	if frame.LastSeq == nil {
		h.subs.add(c, frame.Topic)
		h.sendControl(c, controlEnvelope(EnvelopeSubscriptionConfirmed, frame.Topic, "", nil))
		return
	}

	// The confirmation is enqueued first so it precedes the replayed suffix;
	// live events cannot slip in between because the connection is not yet
	// registered.
	h.sendControl(c, controlEnvelope(EnvelopeSubscriptionConfirmed, frame.Topic, "", nil))
	err := h.buffer.Resume(frame.Topic, *frame.LastSeq,
		func() { h.subs.add(c, frame.Topic) },
		func(evt Event) bool { return h.deliverReplay(c, evt) })
	if err != nil {
		if errors.Is(err, ErrResyncRequired) {
			h.metrics.resyncRequired()
			h.sendControl(c, controlEnvelope(EnvelopeResyncRequired, frame.Topic, "", nil))
			return
		}
		slog.Error("Replay failed",
			"connection_id", c.ID, "topic", frame.Topic, "error", err)
	}
}

// deliverReplay enqueues one replayed event. Replayed events ride the normal
// queue as non-critical traffic: a client too slow for its own replay
// recovers again on reconnect.
func (h *Hub) deliverReplay(c *Connection, evt Event) bool {
	wire, err := json.Marshal(evt.Envelope())
	if err != nil {
		return true
	}
	if err := h.registry.sendRaw(c, wire, false); err != nil {
		slog.Warn("Failed to send replay event",
			"connection_id", c.ID, "topic", evt.Topic, "seq", evt.Seq, "error", err)
		return false
	}
	return true
}

// handleCancelTask records a cancellation intent. Cancellation is advisory:
// the tracker flips state, the external executor observes and stops.
func (h *Hub) handleCancelTask(ctx context.Context, c *Connection, frame *ClientFrame) {
	if frame.SessionID == "" || h.canceller == nil {
		h.sendControl(c, controlEnvelope(EnvelopeError, "", CodeInvalidFrame, nil))
		return
	}

	err := h.canceller.Cancel(ctx, frame.SessionID, "cancelled by "+c.UserID)
	if err == nil {
		return // task_cancelled arrives through the topic subscription
	}

	code := CodeNotFound
	if errors.Is(err, ErrAlreadyTerminal) {
		code = CodeAlreadyTerminal
	}
	h.sendControl(c, controlEnvelope(EnvelopeError, "", code,
		mustRaw(map[string]string{"session_id": frame.SessionID})))
}

// sendControl enqueues a control envelope, logging delivery failures.
func (h *Hub) sendControl(c *Connection, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Warn("Failed to marshal control envelope",
			"connection_id", c.ID, "type", env.Type, "error", err)
		return
	}
	if err := h.registry.sendRaw(c, data, true); err != nil && !errors.Is(err, ErrConnectionClosed) {
		slog.Warn("Failed to send control envelope",
			"connection_id", c.ID, "type", env.Type, "error", err)
	}
}

// mustRaw marshals a value known to be marshalable.
func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
