package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subTestConnection(t *testing.T, id string) *Connection {
	t.Helper()
	c := newConnection(context.Background(), id, "user-1", nil, 8, time.Second)
	t.Cleanup(c.cancel)
	return c
}

func TestSubscriptionTable_SubscribeIsIdempotent(t *testing.T) {
	table := NewSubscriptionTable(nil)
	c := subTestConnection(t, "c1")

	require.NoError(t, table.Subscribe(context.Background(), c, "project:p1"))
	require.NoError(t, table.Subscribe(context.Background(), c, "project:p1"))

	assert.Equal(t, []string{"c1"}, table.SubscribersOf("project:p1"))
}

func TestSubscriptionTable_AuthorizerRejection(t *testing.T) {
	table := NewSubscriptionTable(AuthorizerFunc(func(_ context.Context, _, topic string) error {
		if topic == "project:private" {
			return ErrForbidden
		}
		return nil
	}))
	c := subTestConnection(t, "c1")

	err := table.Subscribe(context.Background(), c, "project:private")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, table.SubscribersOf("project:private"))

	require.NoError(t, table.Subscribe(context.Background(), c, "project:public"))
}

func TestSubscriptionTable_UnsubscribeForgetsEmptyTopic(t *testing.T) {
	table := NewSubscriptionTable(nil)
	c1 := subTestConnection(t, "c1")
	c2 := subTestConnection(t, "c2")

	require.NoError(t, table.Subscribe(context.Background(), c1, "task:s1"))
	require.NoError(t, table.Subscribe(context.Background(), c2, "task:s1"))

	table.Unsubscribe(c1, "task:s1")
	assert.Equal(t, []string{"c2"}, table.SubscribersOf("task:s1"))

	table.Unsubscribe(c2, "task:s1")
	assert.Empty(t, table.SubscribersOf("task:s1"))

	// Unsubscribing from a topic never subscribed to is a no-op.
	table.Unsubscribe(c1, "task:never")
}

func TestSubscriptionTable_ReleaseAll(t *testing.T) {
	table := NewSubscriptionTable(nil)
	c1 := subTestConnection(t, "c1")
	c2 := subTestConnection(t, "c2")

	for _, topic := range []string{"project:p1", "task:s1", "task:s2"} {
		require.NoError(t, table.Subscribe(context.Background(), c1, topic))
	}
	require.NoError(t, table.Subscribe(context.Background(), c2, "project:p1"))

	table.ReleaseAll(c1)

	assert.Equal(t, []string{"c2"}, table.SubscribersOf("project:p1"))
	assert.Empty(t, table.SubscribersOf("task:s1"))
	assert.Empty(t, table.SubscribersOf("task:s2"))

	// Release is idempotent.
	table.ReleaseAll(c1)
}

func TestSubscriptionTable_DropTopic(t *testing.T) {
	table := NewSubscriptionTable(nil)
	c := subTestConnection(t, "c1")

	require.NoError(t, table.Subscribe(context.Background(), c, "project:p1"))
	require.NoError(t, table.Subscribe(context.Background(), c, "project:p2"))

	table.DropTopic("project:p1")

	assert.Empty(t, table.SubscribersOf("project:p1"))
	assert.Equal(t, []string{"c1"}, table.SubscribersOf("project:p2"))
}
