// Package checkpoint persists immutable snapshots of a session's
// memory at phase boundaries. One checkpoint per (session, phase),
// written exactly once; rollback restores a session to one of them.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/session"
)

// FormatVersion is stamped into every persisted checkpoint so future
// readers can reject shapes they do not understand.
const FormatVersion = 1

// Service errors.
var (
	ErrClosed         = errors.New("checkpoint service is closed")
	ErrNotFound       = errors.New("checkpoint not found")
	ErrEmptySessionID = errors.New("session id is required")
	ErrNilSnapshot    = errors.New("snapshot is required")
)

// AlreadyExistsError reports a second save for the same phase
// boundary. Checkpoints are write-once.
type AlreadyExistsError struct {
	SessionID string
	Phase     session.Phase
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("checkpoint for session %s at %s already exists", e.SessionID, e.Phase)
}

// Checkpoint is one immutable snapshot of session memory.
type Checkpoint struct {
	ID            string        `json:"id"`
	FormatVersion int           `json:"format_version"`
	SessionID     string        `json:"session_id"`
	Phase         session.Phase `json:"phase"`

	// EventVersion is the memory log length at snapshot time; rollback
	// truncates the log back to it.
	EventVersion int `json:"event_version"`

	// Snapshot is the full projection at the boundary.
	Snapshot *concept.Document `json:"snapshot"`

	CreatedAt time.Time `json:"created_at"`
}

// SaveRequest describes one checkpoint save.
type SaveRequest struct {
	SessionID    string
	Phase        session.Phase
	EventVersion int
	Snapshot     *concept.Document
}

func (r *SaveRequest) validate() error {
	if r.SessionID == "" {
		return ErrEmptySessionID
	}
	if !r.Phase.Valid() {
		return fmt.Errorf("%w: %q", session.ErrUnknownPhase, r.Phase)
	}
	if r.Snapshot == nil {
		return ErrNilSnapshot
	}
	if r.EventVersion < 0 {
		return fmt.Errorf("event version must be non-negative, got %d", r.EventVersion)
	}
	return nil
}
