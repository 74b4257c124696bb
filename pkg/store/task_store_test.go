package store

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/medatlas/synchub/pkg/tracker"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// setupTestStore connects to a shared PostgreSQL testcontainer (or the CI
// database) and returns a migrated client.
func setupTestStore(t *testing.T) *TaskStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	client, err := open(context.Background(), getOrCreateSharedDatabase(t), Config{
		Database:     "test",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewTaskStore(client)
}

func getOrCreateSharedDatabase(t *testing.T) string {
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return ciDatabaseURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		sharedConnStr, containerErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
	})

	require.NoError(t, containerErr, "Failed to setup shared test container")
	return sharedConnStr
}

func terminalSnapshot(sessionID string) tracker.Snapshot {
	created := time.Now().UTC().Truncate(time.Millisecond)
	completed := created.Add(2 * time.Second)
	confidence := 0.85
	return tracker.Snapshot{
		SessionID:   sessionID,
		Type:        tracker.TypeClassification,
		Status:      tracker.StatusCompleted,
		OwnerUserID: "user-1",
		ProjectID:   "42",
		Params:      json.RawMessage(`{"device":"pacemaker"}`),
		Progress:    "done",
		Result:      json.RawMessage(`{"deviceClass":"II"}`),
		Confidence:  &confidence,
		CreatedAt:   created,
		CompletedAt: &completed,
		DurationMS:  2000,
	}
}

func TestTaskStore_ArchiveAndLoad(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	snap := terminalSnapshot("01JTESTARCHIVELOAD00000001")
	require.NoError(t, s.Archive(ctx, snap))

	got, err := s.Load(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, got.SessionID)
	assert.Equal(t, tracker.StatusCompleted, got.Status)
	assert.JSONEq(t, string(snap.Result), string(got.Result))
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.85, *got.Confidence, 1e-9)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(2000), got.DurationMS)
}

func TestTaskStore_ArchiveIsUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	snap := terminalSnapshot("01JTESTUPSERT0000000000001")
	snap.Status = tracker.StatusProcessing
	snap.Result = nil
	require.NoError(t, s.Archive(ctx, snap))

	snap.Status = tracker.StatusError
	snap.Error = "timeout: no progress for 5m0s"
	require.NoError(t, s.Archive(ctx, snap))

	got, err := s.Load(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusError, got.Status)
	assert.Equal(t, "timeout: no progress for 5m0s", got.Error)
	assert.Nil(t, got.Result)
}

func TestTaskStore_LoadUnknownSession(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Load(context.Background(), "01JNOSUCHSESSION0000000001")
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestTaskStore_ListByProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"01JTESTLIST000000000000001", "01JTESTLIST000000000000002"} {
		snap := terminalSnapshot(id)
		snap.ProjectID = "list-project"
		snap.CreatedAt = snap.CreatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Archive(ctx, snap))
	}
	other := terminalSnapshot("01JTESTLIST000000000000003")
	other.ProjectID = "other-project"
	require.NoError(t, s.Archive(ctx, other))

	snaps, err := s.ListByProject(ctx, "list-project", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "01JTESTLIST000000000000002", snaps[0].SessionID, "newest first")
}

func TestTaskStore_PurgeOlderThan(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	old := terminalSnapshot("01JTESTPURGE00000000000001")
	oldCompleted := time.Now().Add(-48 * time.Hour)
	old.CompletedAt = &oldCompleted
	require.NoError(t, s.Archive(ctx, old))

	fresh := terminalSnapshot("01JTESTPURGE00000000000002")
	require.NoError(t, s.Archive(ctx, fresh))

	n, err := s.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = s.Load(ctx, old.SessionID)
	assert.ErrorIs(t, err, tracker.ErrNotFound)
	_, err = s.Load(ctx, fresh.SessionID)
	assert.NoError(t, err)
}
