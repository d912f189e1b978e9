package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = eris.New("store: session not found")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Step   model.Step `json:"step,omitempty"`
	Email  string     `json:"email,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Store defines the persistence interface for enrollment sessions.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, zip, email string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	PatchSession(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)

	// Transition audit log
	RecordTransition(ctx context.Context, rec model.TransitionRecord) error
	ListTransitions(ctx context.Context, sessionID string) ([]model.TransitionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// InvalidPatchError reports a patch the stored session cannot accept, such
// as one that replaces a set-once id.
type InvalidPatchError struct {
	Err error
}

func (e *InvalidPatchError) Error() string {
	return "store: invalid patch: " + e.Err.Error()
}

func (e *InvalidPatchError) Unwrap() error {
	return e.Err
}

// applyPatch applies patch to a copy of current and validates the result.
func applyPatch(current *model.Session, patch model.SessionPatch) (*model.Session, error) {
	next := current.Clone()
	if err := patch.Apply(next); err != nil {
		return nil, &InvalidPatchError{Err: err}
	}
	if err := next.Validate(); err != nil {
		return nil, &InvalidPatchError{Err: err}
	}
	return next, nil
}
