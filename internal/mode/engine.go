package mode

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// Decision is the outcome of one mode evaluation.
type Decision struct {
	// Mode is the effective mode after policy: the declared mode if
	// any, otherwise the current tracked mode.
	Mode Mode `json:"mode"`

	// Recommended is the mode the score maps to, before policy.
	Recommended Mode `json:"recommended"`

	// Score is the complexity score in [0,1].
	Score float64 `json:"score"`

	// Escalated is true when this evaluation moved the mode upward.
	Escalated bool `json:"escalated"`

	// PendingDowngrade is set when the score recommends a lower mode
	// that awaits explicit confirmation.
	PendingDowngrade Mode `json:"pending_downgrade,omitempty"`
}

// sessionState tracks escalation history for one session.
type sessionState struct {
	current Mode
	pending Mode
}

// Engine applies the escalation policy over per-session mode state.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewEngine creates a mode engine. A nil logger falls back to a nop.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*sessionState),
	}, nil
}

// Evaluate recomputes the recommendation for a session. declared, when
// valid, pins the effective mode; the recommendation is still computed
// and reported. Upward moves apply immediately; a downward
// recommendation is parked as PendingDowngrade until confirmed.
func (e *Engine) Evaluate(sessionID string, doc *concept.Document, declared Mode) Decision {
	score := e.cfg.Score(doc)
	recommended := e.cfg.Classify(score)

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{current: recommended}
		e.sessions[sessionID] = st
		d := Decision{Mode: st.current, Recommended: recommended, Score: score}
		if declared.Valid() {
			d.Mode = declared
			st.current = declared
		}
		return d
	}

	d := Decision{Recommended: recommended, Score: score}
	switch {
	case declared.Valid():
		st.current = declared
		st.pending = ""
	case rank[recommended] > rank[st.current]:
		e.logger.Info("mode escalated",
			zap.String("session_id", sessionID),
			zap.String("from", string(st.current)),
			zap.String("to", string(recommended)),
			zap.Float64("score", score))
		st.current = recommended
		st.pending = ""
		d.Escalated = true
	case rank[recommended] < rank[st.current]:
		st.pending = recommended
	default:
		st.pending = ""
	}
	d.Mode = st.current
	d.PendingDowngrade = st.pending
	return d
}

// ConfirmDowngrade applies a previously recommended downgrade.
func (e *Engine) ConfirmDowngrade(sessionID string) (Mode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.sessions[sessionID]
	if !ok || st.pending == "" {
		return "", ErrNoPendingDowngrade
	}
	e.logger.Info("mode downgrade confirmed",
		zap.String("session_id", sessionID),
		zap.String("from", string(st.current)),
		zap.String("to", string(st.pending)))
	st.current = st.pending
	st.pending = ""
	return st.current, nil
}

// Current returns the tracked mode for a session, if any.
func (e *Engine) Current(sessionID string) (Mode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		return "", false
	}
	return st.current, true
}

// Forget drops a session's tracked state.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}
