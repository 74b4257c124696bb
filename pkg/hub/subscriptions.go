package hub

import (
	"context"
	"hash/fnv"
	"sync"
)

// subShardCount fixes the size of the topic-sharded lock tables. Publishing
// to topic A never contends with operations on topic B unless they hash to
// the same shard.
const subShardCount = 32

// Authorizer decides whether a user may subscribe to a topic. The project
// access check itself belongs to the surrounding application; this package
// only delegates.
type Authorizer interface {
	Authorize(ctx context.Context, userID, topic string) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, userID, topic string) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, userID, topic string) error {
	return f(ctx, userID, topic)
}

// SubscriptionTable maps topics to the set of subscribed connections.
// A subscription never outlives its connection: the registry invokes
// ReleaseAll on close.
type SubscriptionTable struct {
	auth   Authorizer
	shards [subShardCount]subShard
}

type subShard struct {
	mu     sync.RWMutex
	topics map[string]map[string]bool // topic → set of connection ids
}

// NewSubscriptionTable creates a subscription table with the given
// authorization delegate.
func NewSubscriptionTable(auth Authorizer) *SubscriptionTable {
	t := &SubscriptionTable{auth: auth}
	for i := range t.shards {
		t.shards[i].topics = make(map[string]map[string]bool)
	}
	return t
}

func topicShard(topic string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return h.Sum32() % subShardCount
}

// Subscribe registers the connection's interest in a topic after the
// authorization check. Idempotent for an existing subscription.
func (t *SubscriptionTable) Subscribe(ctx context.Context, c *Connection, topic string) error {
	if err := t.authorize(ctx, c.UserID, topic); err != nil {
		return err
	}
	t.add(c, topic)
	return nil
}

// authorize runs the delegate check without touching the table. Split from
// the registration so a resuming subscribe can authorize outside the topic
// lock and register inside it.
func (t *SubscriptionTable) authorize(ctx context.Context, userID, topic string) error {
	if t.auth != nil {
		return t.auth.Authorize(ctx, userID, topic)
	}
	return nil
}

// add registers an already-authorized subscription.
func (t *SubscriptionTable) add(c *Connection, topic string) {
	s := &t.shards[topicShard(topic)]
	s.mu.Lock()
	subs, ok := s.topics[topic]
	if !ok {
		subs = make(map[string]bool)
		s.topics[topic] = subs
	}
	subs[c.ID] = true
	s.mu.Unlock()

	c.addSubscription(topic)
}

// Unsubscribe removes the connection's interest in a topic. A topic with no
// remaining subscribers is forgotten entirely — topics have no independent
// lifecycle.
func (t *SubscriptionTable) Unsubscribe(c *Connection, topic string) {
	t.remove(c.ID, topic)
	c.removeSubscription(topic)
}

// SubscribersOf returns a snapshot of the connection ids subscribed to a
// topic.
func (t *SubscriptionTable) SubscribersOf(topic string) []string {
	s := &t.shards[topicShard(topic)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.topics[topic]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// ReleaseAll drops every subscription held by a connection. Idempotent and
// proportional to the connection's own subscription count, not the total
// number of topics.
func (t *SubscriptionTable) ReleaseAll(c *Connection) {
	for _, topic := range c.takeSubscriptions() {
		t.remove(c.ID, topic)
	}
}

// DropTopic removes every subscription for a topic, used when the topic's
// scope is deleted (e.g. the project itself is removed).
func (t *SubscriptionTable) DropTopic(topic string) {
	s := &t.shards[topicShard(topic)]
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

func (t *SubscriptionTable) remove(connectionID, topic string) {
	s := &t.shards[topicShard(topic)]
	s.mu.Lock()
	if subs, ok := s.topics[topic]; ok {
		delete(subs, connectionID)
		if len(subs) == 0 {
			delete(s.topics, topic)
		}
	}
	s.mu.Unlock()
}
