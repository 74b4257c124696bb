package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Broadcaster fans events out to every subscriber of a topic. Publishing is
// fire-and-forget: sequence assignment, the replay append, and the
// subscriber enqueues all happen under the topic's shard lock, and the
// enqueues are non-blocking, so a slow subscriber never stalls a publisher.
type Broadcaster struct {
	registry *Registry
	subs     *SubscriptionTable
	buffer   *ReplayBuffer
	metrics  *Metrics
}

// NewBroadcaster wires the broadcaster to the registry, subscription table,
// and replay buffer. metrics may be nil.
func NewBroadcaster(registry *Registry, subs *SubscriptionTable, buffer *ReplayBuffer, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		subs:     subs,
		buffer:   buffer,
		metrics:  metrics,
	}
}

// Publish assigns the next sequence number for the topic, appends the event
// to the topic's replay window, and delivers it to all current subscribers.
// The enqueues happen under the same topic shard lock as the sequence
// assignment, so per-connection queue order matches sequence order even for
// concurrent publishers. A full subscriber queue drops that subscriber's
// oldest event (recovered later via replay) and never stalls this call.
func (b *Broadcaster) Publish(topic, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	evt := b.buffer.publish(topic, eventType, data, func(evt Event) {
		wire, err := json.Marshal(evt.Envelope())
		if err != nil {
			slog.Error("Failed to marshal event envelope",
				"topic", topic, "type", eventType, "error", err)
			return
		}
		for _, connID := range b.subs.SubscribersOf(topic) {
			c, ok := b.registry.Get(connID)
			if !ok {
				continue
			}
			if err := b.registry.sendRaw(c, wire, false); err != nil {
				if errors.Is(err, ErrDropped) {
					slog.Debug("Subscriber queue full, event dropped for replay recovery",
						"connection_id", connID, "topic", topic, "seq", evt.Seq)
					continue
				}
				slog.Warn("Failed to deliver event",
					"connection_id", connID, "topic", topic, "error", err)
			}
		}
	})
	b.metrics.eventPublished(eventType)
	return evt, nil
}

// RetireTopic tears down a topic whose scope was deleted: subscribers are
// released and the replay history (including the sequence counter) is
// discarded.
func (b *Broadcaster) RetireTopic(topic string) {
	b.subs.DropTopic(topic)
	b.buffer.DropTopic(topic)
	slog.Info("Topic retired", "topic", topic)
}
