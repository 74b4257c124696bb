// Package tracker is the bookkeeping and notification layer around the
// external task executor. It owns the per-task state machine, publishes a
// broadcast event on every transition (to the task's own topic and to the
// owning project's topic), and auto-fails tasks that stop reporting
// progress. The long-running work itself happens elsewhere: cancellation
// here is advisory, recorded immediately and observed by the executor.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/medatlas/synchub/pkg/hub"
)

// Publisher is the broadcast surface the tracker emits transitions through.
// Satisfied by hub.Broadcaster.
type Publisher interface {
	Publish(topic, eventType string, payload any) (hub.Event, error)
	RetireTopic(topic string)
}

// Archiver persists terminal task snapshots beyond the tracker's in-memory
// retention, and loads them back for clients that return after garbage
// collection. Satisfied by store.TaskStore.
type Archiver interface {
	Archive(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
}

// Config bounds tracker housekeeping. Zero values get the defaults.
type Config struct {
	// StallTimeout auto-fails a non-terminal task that has not reported
	// progress within the window.
	StallTimeout time.Duration
	// RetainTerminal keeps finished tasks queryable in memory before they
	// are garbage-collected (the archive keeps them after that).
	RetainTerminal time.Duration
	// SweepInterval is the housekeeping cadence.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.StallTimeout <= 0 {
		c.StallTimeout = 5 * time.Minute
	}
	if c.RetainTerminal <= 0 {
		c.RetainTerminal = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
}

// Tracker tracks every in-flight background task by session id.
type Tracker struct {
	cfg       Config
	publisher Publisher
	archiver  Archiver // may be nil
	clock     func() time.Time

	mu    sync.RWMutex
	tasks map[string]*task

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker creates a tracker publishing through the given broadcaster.
// archiver may be nil, in which case terminal tasks vanish after the
// in-memory retention window.
func NewTracker(cfg Config, publisher Publisher, archiver Archiver) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:       cfg,
		publisher: publisher,
		archiver:  archiver,
		clock:     time.Now,
		tasks:     make(map[string]*task),
		stopCh:    make(chan struct{}),
	}
}

// Start registers a new task in Pending and announces it. The returned
// snapshot carries the generated session id.
func (tr *Tracker) Start(taskType TaskType, projectID, userID string, params any) (Snapshot, error) {
	if !taskType.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Snapshot{}, fmt.Errorf("marshal task params: %w", err)
		}
		rawParams = data
	}

	now := tr.clock()
	t := &task{
		snap: Snapshot{
			SessionID:   ulid.Make().String(),
			Type:        taskType,
			Status:      StatusPending,
			OwnerUserID: userID,
			ProjectID:   projectID,
			Params:      rawParams,
			CreatedAt:   now,
		},
		lastActivity: now,
		cancelCh:     make(chan struct{}),
	}

	tr.mu.Lock()
	tr.tasks[t.snap.SessionID] = t
	tr.mu.Unlock()

	slog.Info("Task started",
		"session_id", t.snap.SessionID,
		"task_type", taskType,
		"project_id", projectID,
		"user_id", userID)
	tr.announce(t.snap, hub.EnvelopeTaskStarted, "")
	return t.snap, nil
}

// ReportProgress records executor liveness and emits an informational event.
// The first progress report moves a Pending task to Processing; the status
// is otherwise unchanged.
func (tr *Tracker) ReportProgress(sessionID, message string) error {
	t, ok := tr.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	t.mu.Lock()
	if t.snap.Status.Terminal() {
		t.mu.Unlock()
		return ErrAlreadyTerminal
	}
	if t.snap.Status == StatusPending {
		t.snap.Status = StatusProcessing
	}
	t.snap.Progress = message
	t.lastActivity = tr.clock()
	snap := t.snap
	t.mu.Unlock()

	tr.announce(snap, hub.EnvelopeTaskProgress, message)
	return nil
}

// Complete records the task's result and confidence and makes it terminal.
func (tr *Tracker) Complete(sessionID string, result any, confidence float64) error {
	var rawResult json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal task result: %w", err)
		}
		rawResult = data
	}

	return tr.finish(sessionID, hub.EnvelopeTaskCompleted, func(snap *Snapshot) {
		snap.Status = StatusCompleted
		snap.Result = rawResult
		snap.Confidence = &confidence
	})
}

// Fail makes the task terminal with an error. Failures are reported once and
// never retried here; retry is the executor's decision before it calls Fail.
func (tr *Tracker) Fail(sessionID string, taskErr error) error {
	msg := "task failed"
	if taskErr != nil {
		msg = taskErr.Error()
	}
	return tr.finish(sessionID, hub.EnvelopeTaskFailed, func(snap *Snapshot) {
		snap.Status = StatusError
		snap.Error = msg
	})
}

// Cancel records the cancellation intent and makes the task terminal.
// The executor observes the Cancelled channel and stops on its own; a task
// that finished first returns ErrAlreadyTerminal and is left untouched.
// Implements hub.TaskCanceller.
func (tr *Tracker) Cancel(_ context.Context, sessionID, reason string) error {
	err := tr.finish(sessionID, hub.EnvelopeTaskCancelled, func(snap *Snapshot) {
		snap.Status = StatusCancelled
		snap.Error = reason
	})
	if err != nil {
		return err
	}

	if t, ok := tr.get(sessionID); ok {
		close(t.cancelCh)
	}
	slog.Info("Task cancelled", "session_id", sessionID, "reason", reason)
	return nil
}

// StatusOf returns the task's current snapshot, falling back to the durable
// archive for tasks already garbage-collected from memory.
func (tr *Tracker) StatusOf(ctx context.Context, sessionID string) (Snapshot, error) {
	if t, ok := tr.get(sessionID); ok {
		return t.clone(), nil
	}
	if tr.archiver == nil {
		return Snapshot{}, ErrNotFound
	}
	return tr.archiver.Load(ctx, sessionID)
}

// OwnerOf reports the user that started a task. Used by the subscription
// authorizer for task topics.
func (tr *Tracker) OwnerOf(sessionID string) (string, bool) {
	t, ok := tr.get(sessionID)
	if !ok {
		return "", false
	}
	snap := t.clone()
	return snap.OwnerUserID, true
}

// Cancelled returns a channel closed when the task is cancelled. Executors
// select on it alongside their own work.
func (tr *Tracker) Cancelled(sessionID string) (<-chan struct{}, bool) {
	t, ok := tr.get(sessionID)
	if !ok {
		return nil, false
	}
	return t.cancelCh, true
}

// ActiveTasks returns the number of tracked, non-terminal tasks.
func (tr *Tracker) ActiveTasks() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	n := 0
	for _, t := range tr.tasks {
		if !t.clone().Status.Terminal() {
			n++
		}
	}
	return n
}

// StartSweeper launches the housekeeping loop that times out stalled tasks
// and garbage-collects aged terminal ones.
func (tr *Tracker) StartSweeper(ctx context.Context) {
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		ticker := time.NewTicker(tr.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tr.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				tr.sweep()
			}
		}
	}()
}

// Stop terminates the sweeper.
func (tr *Tracker) Stop() {
	tr.stopOnce.Do(func() { close(tr.stopCh) })
	tr.wg.Wait()
}

// finish applies one terminal transition under the task lock, then announces
// and archives the result. mutate must set the terminal status.
func (tr *Tracker) finish(sessionID, eventType string, mutate func(*Snapshot)) error {
	t, ok := tr.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	now := tr.clock()
	t.mu.Lock()
	if t.snap.Status.Terminal() {
		t.mu.Unlock()
		return ErrAlreadyTerminal
	}
	mutate(&t.snap)
	t.snap.CompletedAt = &now
	t.snap.DurationMS = now.Sub(t.snap.CreatedAt).Milliseconds()
	t.lastActivity = now
	snap := t.snap
	t.mu.Unlock()

	tr.announce(snap, eventType, snap.Error)
	tr.archive(snap)
	return nil
}

// announce publishes one transition to the task topic and the project topic
// so dashboard subscribers see task lifecycle without per-task subscriptions.
func (tr *Tracker) announce(snap Snapshot, eventType, message string) {
	payload := eventPayload{
		SessionID:  snap.SessionID,
		TaskType:   snap.Type,
		Status:     snap.Status,
		ProjectID:  snap.ProjectID,
		Message:    message,
		Result:     snap.Result,
		Error:      snap.Error,
		Confidence: snap.Confidence,
		DurationMS: snap.DurationMS,
	}

	for _, topic := range []string{hub.TaskTopic(snap.SessionID), hub.ProjectTopic(snap.ProjectID)} {
		if _, err := tr.publisher.Publish(topic, eventType, payload); err != nil {
			slog.Error("Failed to publish task event",
				"session_id", snap.SessionID, "topic", topic, "type", eventType, "error", err)
		}
	}
}

// archive writes a terminal snapshot to the durable store off the caller's
// path. Archive failures lose only post-GC queryability, never live state.
func (tr *Tracker) archive(snap Snapshot) {
	if tr.archiver == nil {
		return
	}
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tr.archiver.Archive(ctx, snap); err != nil {
			slog.Error("Failed to archive task",
				"session_id", snap.SessionID, "error", err)
		}
	}()
}

// sweep auto-fails stalled tasks and garbage-collects aged terminal ones.
func (tr *Tracker) sweep() {
	now := tr.clock()

	tr.mu.RLock()
	tasks := make(map[string]*task, len(tr.tasks))
	for id, t := range tr.tasks {
		tasks[id] = t
	}
	tr.mu.RUnlock()

	var stalled, expired []string
	for id, t := range tasks {
		t.mu.Lock()
		switch {
		case !t.snap.Status.Terminal() && now.Sub(t.lastActivity) > tr.cfg.StallTimeout:
			stalled = append(stalled, id)
		case t.snap.Status.Terminal() && t.snap.CompletedAt != nil &&
			now.Sub(*t.snap.CompletedAt) > tr.cfg.RetainTerminal:
			expired = append(expired, id)
		}
		t.mu.Unlock()
	}

	for _, id := range stalled {
		err := fmt.Errorf("timeout: no progress for %s", tr.cfg.StallTimeout)
		if ferr := tr.Fail(id, err); ferr != nil && !errors.Is(ferr, ErrAlreadyTerminal) {
			slog.Error("Failed to time out stalled task", "session_id", id, "error", ferr)
			continue
		}
		slog.Warn("Task timed out", "session_id", id, "stall_timeout", tr.cfg.StallTimeout)
	}

	for _, id := range expired {
		tr.mu.Lock()
		delete(tr.tasks, id)
		tr.mu.Unlock()
		// The task topic dies with the task; late resubscribers get
		// resync_required and fall back to the REST layer.
		tr.publisher.RetireTopic(hub.TaskTopic(id))
		slog.Debug("Task garbage-collected", "session_id", id)
	}
}

func (tr *Tracker) get(sessionID string) (*task, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.tasks[sessionID]
	return t, ok
}
