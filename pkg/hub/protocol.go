// Package hub implements the real-time synchronization layer: a registry of
// live WebSocket connections, a topic subscription table, a broadcaster with
// per-topic sequencing, and a bounded replay buffer for reconnecting clients.
//
// Topics are logical broadcast channels. A project dashboard subscribes to
// "project:{id}" and receives every mutation and task-lifecycle event for
// that project; a client watching one task subscribes to "task:{sessionID}".
//
// Delivery guarantees: per-connection delivery order for a single topic
// matches publish order (single-writer sequence counter per topic plus FIFO
// outbound queues). Order across connections is undefined. A slow subscriber
// never blocks a publisher — its oldest queued event is dropped and recovered
// later through the replay buffer.
package hub

import (
	"encoding/json"
	"time"
)

// Client → server frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FrameCancelTask  = "cancel_task"
)

// Server → client envelope types.
const (
	EnvelopeConnectionEstablished = "connection_established"
	EnvelopeSubscriptionConfirmed = "subscription_confirmed"
	EnvelopePong                  = "pong"
	EnvelopeResyncRequired        = "resync_required"
	EnvelopeError                 = "error"

	// Broadcast event types published by the tracker and the project layer.
	EnvelopeProjectUpdated = "project_updated"
	EnvelopeTaskStarted    = "task_started"
	EnvelopeTaskProgress   = "task_progress"
	EnvelopeTaskCompleted  = "task_completed"
	EnvelopeTaskFailed     = "task_failed"
	EnvelopeTaskCancelled  = "task_cancelled"
)

// Error codes carried in error envelopes. Protocol errors are fatal to the
// offending frame, never to the connection.
const (
	CodeInvalidJSON     = "invalid_json"
	CodeInvalidFrame    = "invalid_frame"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeAlreadyTerminal = "already_terminal"
	CodeSubscribeFailed = "subscribe_failed"
)

// ClientFrame is the JSON structure for client → server messages.
type ClientFrame struct {
	Type      string  `json:"type"`
	Topic     string  `json:"topic,omitempty"`
	LastSeq   *uint64 `json:"last_seq,omitempty"`   // resume point for subscribe
	SessionID string  `json:"session_id,omitempty"` // for cancel_task
}

// Envelope is the JSON structure for server → client messages. Seq is only
// set on broadcast events; control envelopes (pong, errors, confirmations)
// carry none.
type Envelope struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Code      string          `json:"code,omitempty"` // error envelopes only
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"` // RFC3339Nano
}

// Event is one immutable broadcast record. Sequence numbers are assigned per
// topic, strictly increasing and contiguous, starting at 1.
type Event struct {
	Topic     string
	Type      string
	Seq       uint64
	Data      json.RawMessage
	Timestamp time.Time
}

// Envelope converts the event into its wire form.
func (e Event) Envelope() Envelope {
	return Envelope{
		Type:      e.Type,
		Topic:     e.Topic,
		Seq:       e.Seq,
		Data:      e.Data,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	}
}

// ProjectTopic returns the broadcast topic for a project.
// Format: "project:{projectID}"
func ProjectTopic(projectID string) string {
	return "project:" + projectID
}

// TaskTopic returns the broadcast topic for a task session.
// Format: "task:{sessionID}"
func TaskTopic(sessionID string) string {
	return "task:" + sessionID
}

// controlEnvelope builds a non-event envelope stamped with the current time.
func controlEnvelope(envType, topic, code string, data json.RawMessage) Envelope {
	return Envelope{
		Type:      envType,
		Topic:     topic,
		Code:      code,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}
