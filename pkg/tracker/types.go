package tracker

import (
	"encoding/json"
	"sync"
	"time"
)

// TaskType identifies the kind of background work a task performs. The
// executor that actually runs the work lives outside this subsystem.
type TaskType string

const (
	TypeSearch         TaskType = "search"
	TypeClassification TaskType = "classification"
	TypeComparison     TaskType = "comparison"
)

// Valid reports whether the task type is one this tracker accepts.
func (t TaskType) Valid() bool {
	switch t {
	case TypeSearch, TypeClassification, TypeComparison:
		return true
	}
	return false
}

// Status is the lifecycle state of a task.
//
// Transitions: Pending → Processing → {Completed | Error}, and
// Pending|Processing → Cancelled. Nothing leaves a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Snapshot is a point-in-time copy of a task, safe to hand to callers and
// to serialize for the REST layer and the durable store.
type Snapshot struct {
	SessionID   string          `json:"session_id"`
	Type        TaskType        `json:"task_type"`
	Status      Status          `json:"status"`
	OwnerUserID string          `json:"owner_user_id"`
	ProjectID   string          `json:"project_id"`
	Params      json.RawMessage `json:"params,omitempty"`
	Progress    string          `json:"progress,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMS  int64           `json:"duration_ms,omitempty"`
}

// task is the tracker's mutable record for one session.
type task struct {
	mu           sync.Mutex
	snap         Snapshot
	lastActivity time.Time
	cancelCh     chan struct{} // closed exactly once, on cancellation
}

// clone returns a copy of the snapshot under the task lock.
func (t *task) clone() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// eventPayload is the broadcast body attached to every task transition.
type eventPayload struct {
	SessionID  string          `json:"session_id"`
	TaskType   TaskType        `json:"task_type"`
	Status     Status          `json:"status"`
	ProjectID  string          `json:"project_id"`
	Message    string          `json:"message,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
}
