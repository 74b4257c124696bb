package tracker

import (
	"errors"

	"github.com/medatlas/synchub/pkg/hub"
)

var (
	// ErrUnknownTaskType is returned by Start for a task type the tracker
	// does not recognize.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrNotFound means no task with the given session id is tracked and
	// none could be loaded from the durable store.
	ErrNotFound = hub.ErrTaskNotFound

	// ErrAlreadyTerminal means the task has finished and the requested
	// transition is a no-op.
	ErrAlreadyTerminal = hub.ErrAlreadyTerminal
)
