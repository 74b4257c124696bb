package hub

import (
	"encoding/json"
	"sync"
	"time"
)

// ReplayConfig bounds per-topic event retention. Both limits apply: an event
// is evicted when the topic exceeds MaxEvents or the event outlives MaxAge,
// whichever comes first.
type ReplayConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

func (c *ReplayConfig) applyDefaults() {
	if c.MaxEvents <= 0 {
		c.MaxEvents = 200
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
}

// ReplayBuffer retains a bounded window of recent events per topic so a
// client that reconnects within the window can resume without gaps. It also
// owns the per-topic sequence counters: sequence assignment and retention
// share one lock, which is what makes sequences contiguous as observed by
// any single subscriber.
type ReplayBuffer struct {
	cfg    ReplayConfig
	clock  func() time.Time
	shards [subShardCount]replayShard
}

type replayShard struct {
	mu     sync.Mutex
	topics map[string]*topicHistory
}

// topicHistory keeps the retained suffix of a topic's event stream.
// events[0] is the oldest retained event; nextSeq is the sequence number the
// next published event will receive.
type topicHistory struct {
	nextSeq uint64
	events  []Event
}

// NewReplayBuffer creates a replay buffer with the given retention bounds.
func NewReplayBuffer(cfg ReplayConfig) *ReplayBuffer {
	cfg.applyDefaults()
	b := &ReplayBuffer{cfg: cfg, clock: time.Now}
	for i := range b.shards {
		b.shards[i].topics = make(map[string]*topicHistory)
	}
	return b
}

// AppendNext assigns the topic's next sequence number to a new event,
// appends it to the retention window, and returns it. This is the single
// writer for the topic's sequence counter.
func (b *ReplayBuffer) AppendNext(topic, eventType string, data json.RawMessage) Event {
	return b.publish(topic, eventType, data, nil)
}

// publish appends the next event and, while still holding the topic's shard
// lock, hands it to deliver. Sequence assignment and subscriber enqueues
// serialize on this one lock; releasing it between the two would let a
// concurrent publish enqueue seq N+1 ahead of seq N on the same connection.
func (b *ReplayBuffer) publish(topic, eventType string, data json.RawMessage, deliver func(Event)) Event {
	now := b.clock()
	s := &b.shards[topicShard(topic)]

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.topics[topic]
	if !ok {
		h = &topicHistory{nextSeq: 1}
		s.topics[topic] = h
	}

	evt := Event{
		Topic:     topic,
		Type:      eventType,
		Seq:       h.nextSeq,
		Data:      data,
		Timestamp: now,
	}
	h.nextSeq++
	h.events = append(h.events, evt)
	b.evictLocked(h, now)
	if deliver != nil {
		deliver(evt)
	}
	return evt
}

// Replay returns, in order, every retained event with sequence greater than
// sinceSeq. ErrResyncRequired means sinceSeq precedes the retention window
// and the client must refetch full state through the REST layer.
func (b *ReplayBuffer) Replay(topic string, sinceSeq uint64) ([]Event, error) {
	now := b.clock()
	s := &b.shards[topicShard(topic)]

	s.mu.Lock()
	defer s.mu.Unlock()
	return b.replayLocked(s, topic, sinceSeq, now)
}

// Resume registers a subscriber and replays its missed suffix as one atomic
// step with respect to publishes on the topic: every event lands either in
// the replayed suffix or, published later, in the live queue behind it.
// Never both, never reordered. register runs even when the window was
// exceeded, so the client stays subscribed while it refetches over REST.
func (b *ReplayBuffer) Resume(topic string, sinceSeq uint64, register func(), deliver func(Event) bool) error {
	now := b.clock()
	s := &b.shards[topicShard(topic)]

	s.mu.Lock()
	defer s.mu.Unlock()
	defer register()

	events, err := b.replayLocked(s, topic, sinceSeq, now)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if !deliver(evt) {
			break
		}
	}
	return nil
}

// replayLocked computes the missed suffix. Caller holds the shard lock.
func (b *ReplayBuffer) replayLocked(s *replayShard, topic string, sinceSeq uint64, now time.Time) ([]Event, error) {
	h, ok := s.topics[topic]
	if !ok {
		// No history: a client that has seen nothing is up to date; one
		// claiming prior events cannot be resumed.
		if sinceSeq == 0 {
			return nil, nil
		}
		return nil, ErrResyncRequired
	}

	b.evictLocked(h, now)

	// Client is at or beyond the stream head.
	if sinceSeq >= h.nextSeq-1 {
		return nil, nil
	}

	// The first event the client needs is sinceSeq+1. If it has been
	// evicted the gap is unrecoverable.
	if len(h.events) == 0 || h.events[0].Seq > sinceSeq+1 {
		return nil, ErrResyncRequired
	}

	start := int(sinceSeq + 1 - h.events[0].Seq)
	out := make([]Event, len(h.events)-start)
	copy(out, h.events[start:])
	return out, nil
}

// DropTopic discards a topic's history and sequence counter. Used when the
// topic's scope is deleted; a recreated topic starts again at sequence 1.
func (b *ReplayBuffer) DropTopic(topic string) {
	s := &b.shards[topicShard(topic)]
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// evictLocked trims the history to the configured size and age bounds.
// Caller holds the shard lock.
func (b *ReplayBuffer) evictLocked(h *topicHistory, now time.Time) {
	if n := len(h.events) - b.cfg.MaxEvents; n > 0 {
		h.events = append(h.events[:0:0], h.events[n:]...)
	}
	cutoff := now.Add(-b.cfg.MaxAge)
	i := 0
	for i < len(h.events) && h.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.events = append(h.events[:0:0], h.events[i:]...)
	}
}

// retained is used by tests to observe the retention window.
func (b *ReplayBuffer) retained(topic string) int {
	s := &b.shards[topicShard(topic)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.topics[topic]; ok {
		return len(h.events)
	}
	return 0
}
