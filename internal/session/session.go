// Package session implements the per-session phase state machine.
// Phases only move forward through the advance checklist; backward
// movement requires an explicit force transition or a rollback at the
// engine level.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// Session errors.
var (
	ErrTerminal      = errors.New("session is in a terminal state")
	ErrUnknownPhase  = errors.New("unknown phase")
	ErrEmptyReason   = errors.New("reason cannot be empty")
	ErrInvalidTarget = errors.New("invalid transition target")
)

// Phase is a session lifecycle stage.
type Phase string

const (
	PhaseFoundation  Phase = "LEVEL_1_FOUNDATION"
	PhaseStressTest  Phase = "LEVEL_2_STRESS_TEST"
	PhaseEnhancement Phase = "LEVEL_3_ENHANCEMENT"
	PhaseComplete    Phase = "COMPLETE"
	PhaseAbandoned   Phase = "ABANDONED"
)

// phaseOrder positions the forward progression. Terminal ABANDONED is
// outside the order and reachable from anywhere.
var phaseOrder = map[Phase]int{
	PhaseFoundation:  0,
	PhaseStressTest:  1,
	PhaseEnhancement: 2,
	PhaseComplete:    3,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	if p == PhaseAbandoned {
		return true
	}
	_, ok := phaseOrder[p]
	return ok
}

// Terminal reports whether p accepts no further mutation.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseAbandoned
}

// next returns the phase after p in the forward progression.
func (p Phase) next() (Phase, bool) {
	switch p {
	case PhaseFoundation:
		return PhaseStressTest, true
	case PhaseStressTest:
		return PhaseEnhancement, true
	case PhaseEnhancement:
		return PhaseComplete, true
	}
	return p, false
}

// StateTransitionError reports an advance rejected by the checklist.
// Missing lists the unmet requirements in stable order.
type StateTransitionError struct {
	From    Phase
	To      Phase
	Missing []string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot advance %s -> %s: missing %s",
		e.From, e.To, strings.Join(e.Missing, "; "))
}

// Transition records one phase change for the session audit trail.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Forced bool      `json:"forced"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Session is one concept development session. Methods are safe for
// concurrent use; the engine additionally serializes writes per
// session at the memory layer.
type Session struct {
	mu          sync.RWMutex
	id          string
	phase       Phase
	modeHint    string
	createdAt   time.Time
	updatedAt   time.Time
	transitions []Transition
}

// New creates a session in LEVEL_1_FOUNDATION.
func New(modeHint string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        uuid.NewString(),
		phase:     PhaseFoundation,
		modeHint:  modeHint,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ModeHint returns the mode declared at session start, if any.
func (s *Session) ModeHint() string { return s.modeHint }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// CreatedAt returns the session start time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Transitions returns a copy of the phase-change audit trail.
func (s *Session) Transitions() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// checklist returns the unmet requirements for leaving phase p given
// the current projection. Empty means the gate is satisfied.
func checklist(p Phase, doc *concept.Document) []string {
	var missing []string
	switch p {
	case PhaseFoundation:
		if len(doc.Stakeholders) == 0 {
			missing = append(missing, "at least one stakeholder")
		}
		if len(doc.ConfirmedStories()) == 0 {
			missing = append(missing, "at least one confirmed story")
		}
	case PhaseStressTest:
		if len(doc.ResolvedChallenges()) == 0 {
			missing = append(missing, "at least one challenge with a resolution")
		}
	case PhaseEnhancement:
		if len(doc.Enhancements) == 0 {
			missing = append(missing, "at least one enhancement")
		}
	}
	return missing
}

// Advance moves the session one phase forward when the current phase's
// checklist is satisfied by doc. An unmet checklist returns a
// *StateTransitionError and mutates nothing. Advancing a COMPLETE
// session is a no-op success; an ABANDONED session rejects the call.
func (s *Session) Advance(doc *concept.Document) (Transition, error) {
	return s.AdvanceWith(doc, nil)
}

// AdvanceWith is Advance with a commit hook. commit runs after the
// checklist passes but before the phase changes, with the pending
// transition; a commit error leaves the session exactly as it was.
// The hook lets the caller bind a side effect, such as cutting the
// boundary checkpoint, to the transition atomically.
func (s *Session) AdvanceWith(doc *concept.Document, commit func(Transition) error) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAbandoned {
		return Transition{}, ErrTerminal
	}
	if s.phase == PhaseComplete {
		return Transition{From: PhaseComplete, To: PhaseComplete, At: s.updatedAt}, nil
	}

	target, _ := s.phase.next()
	if missing := checklist(s.phase, doc); len(missing) > 0 {
		return Transition{}, &StateTransitionError{From: s.phase, To: target, Missing: missing}
	}
	tr := Transition{From: s.phase, To: target, At: time.Now().UTC()}
	if commit != nil {
		if err := commit(tr); err != nil {
			return Transition{}, err
		}
	}
	s.phase = tr.To
	s.updatedAt = tr.At
	s.transitions = append(s.transitions, tr)
	return tr, nil
}

// Force moves the session to target regardless of the checklist.
// Backward jumps are allowed only here. The reason is mandatory and
// recorded on the transition.
func (s *Session) Force(target Phase, reason string) (Transition, error) {
	if !target.Valid() || target == PhaseAbandoned {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	if reason == "" {
		return Transition{}, ErrEmptyReason
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return Transition{}, ErrTerminal
	}
	return s.transition(target, true, reason), nil
}

// Abandon moves the session to the terminal ABANDONED state.
func (s *Session) Abandon(reason string) (Transition, error) {
	if reason == "" {
		return Transition{}, ErrEmptyReason
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return Transition{}, ErrTerminal
	}
	return s.transition(PhaseAbandoned, true, reason), nil
}

// Writable reports whether the session still accepts turns.
func (s *Session) Writable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.phase.Terminal()
}

// transition applies a phase change. Callers hold the write lock.
func (s *Session) transition(to Phase, forced bool, reason string) Transition {
	tr := Transition{
		From:   s.phase,
		To:     to,
		Forced: forced,
		Reason: reason,
		At:     time.Now().UTC(),
	}
	s.phase = to
	s.updatedAt = tr.At
	s.transitions = append(s.transitions, tr)
	return tr
}
