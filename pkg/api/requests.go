package api

import (
	"encoding/json"

	"github.com/medatlas/synchub/pkg/tracker"
)

// CreateTaskRequest is the body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	TaskType  tracker.TaskType `json:"task_type"`
	ProjectID string           `json:"project_id"`
	Params    json.RawMessage  `json:"params,omitempty"`
}

// ProgressRequest is the body for POST /api/v1/tasks/:id/progress.
type ProgressRequest struct {
	Message string `json:"message"`
}

// CompleteRequest is the body for POST /api/v1/tasks/:id/complete.
type CompleteRequest struct {
	Result     json.RawMessage `json:"result,omitempty"`
	Confidence float64         `json:"confidence"`
}

// FailRequest is the body for POST /api/v1/tasks/:id/fail.
type FailRequest struct {
	Error string `json:"error"`
}

// CancelRequest is the body for POST /api/v1/tasks/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ProjectEventRequest is the body for POST /api/v1/projects/:id/events.
type ProjectEventRequest struct {
	Data json.RawMessage `json:"data,omitempty"`
}
