// Package engine is the orchestration facade: it owns the session
// registry and drives memory, phase transitions, mode evaluation,
// checkpointing, validation, and the event bus from a single API
// surface.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/memory"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
	"github.com/fyrsmithlabs/conceptd/internal/session"
)

// Engine errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidModeHint = errors.New("invalid mode hint")
	ErrNoEntities      = errors.New("turn carries no entities")
)

// PhaseError reports an entity submitted outside its phase.
type PhaseError struct {
	Phase session.Phase
	Kind  memory.EventKind
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("entity kind %s is not accepted in phase %s", e.Kind, e.Phase)
}

// Generator is the generative collaborator. The engine supplies the
// phase and a read-only snapshot and treats the output as opaque text.
type Generator interface {
	Generate(ctx context.Context, phase session.Phase, snapshot *concept.Document, promptContext string) (string, error)
}

// TurnEntity is one structured extraction from a caller turn. Exactly
// one payload field must be set; Key is its idempotency key.
type TurnEntity struct {
	Key string `json:"key"`

	Stakeholder    *concept.Stakeholder `json:"stakeholder,omitempty"`
	Story          *concept.Story       `json:"story,omitempty"`
	ConfirmStoryID string               `json:"confirm_story_id,omitempty"`
	Challenge      *concept.Challenge   `json:"challenge,omitempty"`
	Enhancement    *concept.Enhancement `json:"enhancement,omitempty"`
	Concept        *memory.ConceptInfo  `json:"concept,omitempty"`
}

// event converts the entity to its memory event.
func (e *TurnEntity) event() (memory.Event, error) {
	ev := memory.Event{Key: e.Key}
	switch {
	case e.Stakeholder != nil:
		ev.Kind = memory.EventAddStakeholder
		ev.Stakeholder = e.Stakeholder
	case e.Story != nil:
		ev.Kind = memory.EventAddStory
		ev.Story = e.Story
	case e.ConfirmStoryID != "":
		ev.Kind = memory.EventConfirmStory
		ev.StoryID = e.ConfirmStoryID
	case e.Challenge != nil:
		ev.Kind = memory.EventAddChallenge
		ev.Challenge = e.Challenge
	case e.Enhancement != nil:
		ev.Kind = memory.EventAddEnhancement
		ev.Enhancement = e.Enhancement
	case e.Concept != nil:
		ev.Kind = memory.EventSetConcept
		ev.Concept = e.Concept
	default:
		return ev, memory.ErrMissingPayload
	}
	return ev, nil
}

// TurnInput is one caller turn: the raw text plus the collaborator's
// structured extraction.
type TurnInput struct {
	Text     string       `json:"text"`
	Entities []TurnEntity `json:"entities"`
}

// TurnResult is what a turn produced.
type TurnResult struct {
	// Deltas are the per-entity memory deltas, in submission order.
	Deltas []memory.Delta `json:"deltas"`

	// Readiness suggests whether the caller sounds ready to advance.
	Readiness float64 `json:"readiness"`

	// Mode is the mode decision after this turn.
	Mode mode.Decision `json:"mode"`

	// Response is the collaborator's reply, when one is wired.
	Response string `json:"response,omitempty"`
}

// SignalConfig tunes one validation request.
type SignalConfig struct {
	// Threshold overrides the configured gate threshold when > 0.
	Threshold float64 `json:"threshold,omitempty"`
}

// SessionInfo is the read model for one session.
type SessionInfo struct {
	ID          string               `json:"id"`
	Phase       session.Phase        `json:"phase"`
	Mode        mode.Mode            `json:"mode"`
	Version     int                  `json:"version"`
	Document    *concept.Document    `json:"document"`
	Transitions []session.Transition `json:"transitions"`
}
