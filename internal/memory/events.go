// Package memory implements the structured memory store: a versioned,
// append-only event log per session with a derived current-state
// projection. Events are idempotent by caller-supplied key, writes are
// serialized per session in arrival order, and rollback to a checkpoint
// truncates the log explicitly.
package memory

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// Store errors.
var (
	ErrEmptyKey       = errors.New("idempotency key cannot be empty")
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrMissingPayload = errors.New("event payload does not match its kind")
)

// EventKind identifies a memory mutation.
type EventKind string

const (
	EventAddStakeholder EventKind = "add_stakeholder"
	EventAddStory       EventKind = "add_story"
	EventConfirmStory   EventKind = "confirm_story"
	EventAddChallenge   EventKind = "add_challenge"
	EventAddEnhancement EventKind = "add_enhancement"
	EventSetConcept     EventKind = "set_concept"
)

// ConceptInfo carries concept identity and complexity indicators for a
// set_concept event.
type ConceptInfo struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	OrgComplexity  float64         `json:"org_complexity"`
	TechComplexity float64         `json:"tech_complexity"`
	Urgency        concept.Urgency `json:"urgency"`
}

// Event is one entry in a session's append-only log. Exactly one
// payload field matching Kind must be set.
type Event struct {
	// ID is assigned by the log at append time.
	ID string `json:"id"`

	// Kind identifies the mutation.
	Kind EventKind `json:"kind"`

	// Key is the caller-supplied idempotency key. Replaying the same
	// key never creates duplicate entities.
	Key string `json:"key"`

	Stakeholder *concept.Stakeholder `json:"stakeholder,omitempty"`
	Story       *concept.Story       `json:"story,omitempty"`
	StoryID     string               `json:"story_id,omitempty"`
	Challenge   *concept.Challenge   `json:"challenge,omitempty"`
	Enhancement *concept.Enhancement `json:"enhancement,omitempty"`
	Concept     *ConceptInfo         `json:"concept,omitempty"`

	// AppliedAt is when the log accepted the event.
	AppliedAt time.Time `json:"applied_at"`
}

// validate checks the kind/payload pairing before any state changes.
func (e *Event) validate() error {
	if e.Key == "" {
		return ErrEmptyKey
	}
	switch e.Kind {
	case EventAddStakeholder:
		if e.Stakeholder == nil {
			return ErrMissingPayload
		}
		return e.Stakeholder.Validate()
	case EventAddStory:
		if e.Story == nil {
			return ErrMissingPayload
		}
		return e.Story.Validate()
	case EventConfirmStory:
		if e.StoryID == "" {
			return ErrMissingPayload
		}
		return nil
	case EventAddChallenge:
		if e.Challenge == nil {
			return ErrMissingPayload
		}
		return e.Challenge.Validate()
	case EventAddEnhancement:
		if e.Enhancement == nil {
			return ErrMissingPayload
		}
		return e.Enhancement.Validate()
	case EventSetConcept:
		if e.Concept == nil {
			return ErrMissingPayload
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// ConflictError reports a structural invariant violation: a duplicate
// entity insert or a reference to a missing entity. The offending
// operation is rejected and state is left unchanged.
type ConflictError struct {
	SessionID string
	Kind      EventKind
	Key       string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("memory conflict in session %s (%s, key %q): %s",
		e.SessionID, e.Kind, e.Key, e.Reason)
}

// Delta summarizes what one event changed, returned to the caller so
// the UI layer can render incremental updates.
type Delta struct {
	// EventID is the accepted event's ID.
	EventID string `json:"event_id"`

	// Kind is the applied event kind.
	Kind EventKind `json:"kind"`

	// EntityID is the ID of the entity created or touched.
	EntityID string `json:"entity_id,omitempty"`

	// Replayed is true when the idempotency key was seen before and
	// the event was deduplicated instead of applied.
	Replayed bool `json:"replayed"`

	// Version is the log length after the event.
	Version int `json:"version"`
}
