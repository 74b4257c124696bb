package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AdmitRequiresUser(t *testing.T) {
	registry := NewRegistry(RegistryConfig{}, nil)

	_, err := registry.Admit(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
	assert.Equal(t, 0, registry.ActiveConnections())
}

func TestRegistry_SendToUnknownConnection(t *testing.T) {
	registry := NewRegistry(RegistryConfig{}, nil)

	err := registry.Send("nope", Envelope{Type: EnvelopePong})
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistry_CloseReleasesSubscriptions(t *testing.T) {
	registry := NewRegistry(RegistryConfig{}, nil)
	table := NewSubscriptionTable(nil)
	registry.SetReleaseFunc(table.ReleaseAll)

	c, err := registry.Admit(context.Background(), nil, "user-1")
	require.NoError(t, err)
	require.NoError(t, table.Subscribe(context.Background(), c, "project:p1"))

	registry.Close(c.ID, "test")

	assert.Equal(t, 0, registry.ActiveConnections())
	assert.Empty(t, table.SubscribersOf("project:p1"))
	assert.Equal(t, StateClosed, c.State())

	// Second close is a no-op.
	registry.Close(c.ID, "test again")
}

func TestRegistry_ReapsIdleConnections(t *testing.T) {
	f := setupReapingHub(t, RegistryConfig{
		PingInterval: 20 * time.Millisecond,
		IdleTimeout:  80 * time.Millisecond,
		WriteTimeout: 20 * time.Millisecond,
	})
	conn := connectWS(t, f, "user-1")
	readJSON(t, conn)

	require.Equal(t, 1, f.hub.Registry().ActiveConnections())

	// Client goes silent and stops reading, so transport pings get no pong.
	require.Eventually(t, func() bool {
		return f.hub.Registry().ActiveConnections() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistry_HeartbeatKeepsConnectionAlive(t *testing.T) {
	f := setupReapingHub(t, RegistryConfig{
		PingInterval: 20 * time.Millisecond,
		IdleTimeout:  120 * time.Millisecond,
		WriteTimeout: 20 * time.Millisecond,
	})
	conn := connectWS(t, f, "user-1")
	readJSON(t, conn)

	// Ping well past the idle timeout; each frame counts as liveness.
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		writeFrame(t, conn, ClientFrame{Type: FramePing})
		readJSON(t, conn)
		time.Sleep(40 * time.Millisecond)
	}

	assert.Equal(t, 1, f.hub.Registry().ActiveConnections())
}

func TestRegistry_StopClosesEverything(t *testing.T) {
	registry := NewRegistry(RegistryConfig{PingInterval: time.Hour}, nil)
	registry.Start(context.Background())

	h := NewHub(registry, NewSubscriptionTable(nil), NewReplayBuffer(ReplayConfig{}), nil, nil)
	f := serveHub(t, h)

	conn := connectWS(t, f, "user-1")
	readJSON(t, conn)
	require.Equal(t, 1, registry.ActiveConnections())

	registry.Stop()
	assert.Equal(t, 0, registry.ActiveConnections())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "client should observe the server-side close")
}

// setupReapingHub builds a hub with a running reaper on fast timers.
func setupReapingHub(t *testing.T, cfg RegistryConfig) *hubFixture {
	t.Helper()
	registry := NewRegistry(cfg, nil)
	registry.Start(context.Background())
	t.Cleanup(registry.Stop)

	h := NewHub(registry, NewSubscriptionTable(nil), NewReplayBuffer(ReplayConfig{}), nil, nil)
	return serveHub(t, h)
}
