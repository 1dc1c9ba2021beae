package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/checkpoint"
	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/consensus"
	"github.com/fyrsmithlabs/conceptd/internal/memory"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
	"github.com/fyrsmithlabs/conceptd/internal/patternstore"
	"github.com/fyrsmithlabs/conceptd/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/conceptd/internal/engine"

// minPhaseRank gates which entity kinds each phase accepts. Earlier
// kinds stay writable in later phases; later kinds wait their turn.
var minPhaseRank = map[memory.EventKind]int{
	memory.EventAddStakeholder: 0,
	memory.EventAddStory:       0,
	memory.EventConfirmStory:   0,
	memory.EventSetConcept:     0,
	memory.EventAddChallenge:   1,
	memory.EventAddEnhancement: 2,
}

// maxPhaseRank closes kinds whose entities become read-only at a phase
// boundary: stories are frozen once the foundation checkpoint is cut.
var maxPhaseRank = map[memory.EventKind]int{
	memory.EventAddStory:     0,
	memory.EventConfirmStory: 0,
}

var phaseRank = map[session.Phase]int{
	session.PhaseFoundation:  0,
	session.PhaseStressTest:  1,
	session.PhaseEnhancement: 2,
	session.PhaseComplete:    3,
}

// Config configures the engine.
type Config struct {
	// SharePatterns consents this deployment's outcomes to
	// cross-scope pattern lookups.
	SharePatterns bool `koanf:"share_patterns"`
}

// Engine orchestrates concept development sessions.
type Engine struct {
	cfg         Config
	memory      *memory.Store
	modes       *mode.Engine
	validator   *consensus.Engine
	checkpoints checkpoint.Service
	logger      *zap.Logger
	tracer      trace.Tracer
	generator   Generator // optional
	eventBus    *bus.Bus  // optional
	turnCounter metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New wires an engine. Generator and event bus are optional; every
// other dependency is required.
func New(cfg Config, mem *memory.Store, modes *mode.Engine, validator *consensus.Engine,
	checkpoints checkpoint.Service, gen Generator, eventBus *bus.Bus, logger *zap.Logger) (*Engine, error) {
	if mem == nil || modes == nil || validator == nil || checkpoints == nil {
		return nil, fmt.Errorf("memory store, mode engine, validator, and checkpoint service are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	turns, err := otel.Meter(instrumentationName).Int64Counter(
		"conceptd.engine.turns_total",
		metric.WithDescription("Total turns applied"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		logger.Warn("failed to create turn counter", zap.Error(err))
	}

	return &Engine{
		cfg:         cfg,
		memory:      mem,
		modes:       modes,
		validator:   validator,
		checkpoints: checkpoints,
		generator:   gen,
		eventBus:    eventBus,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		turnCounter: turns,
		sessions:    make(map[string]*session.Session),
	}, nil
}

// StartSession creates a session. modeHint, when non-empty, declares
// the mode and wins over every recommendation.
func (e *Engine) StartSession(ctx context.Context, modeHint string) (string, error) {
	_, span := e.tracer.Start(ctx, "engine.StartSession")
	defer span.End()

	if modeHint != "" && !mode.Mode(modeHint).Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidModeHint, modeHint)
	}

	s := session.New(modeHint)
	e.mu.Lock()
	e.sessions[s.ID()] = s
	e.mu.Unlock()
	e.memory.Open(s.ID())
	e.modes.Evaluate(s.ID(), &concept.Document{}, mode.Mode(modeHint))

	span.SetAttributes(attribute.String("session.id", s.ID()))
	e.logger.Info("session started",
		zap.String("session_id", s.ID()),
		zap.String("mode_hint", modeHint))
	return s.ID(), nil
}

func (e *Engine) session(sessionID string) (*session.Session, *memory.Log, error) {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	log, ok := e.memory.Get(sessionID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, log, nil
}

// SubmitTurn applies one turn: every extracted entity in order, then a
// mode re-evaluation and a readiness suggestion. The turn is the write
// unit: its events go to the log as a single batch under the session's
// FIFO lock, so concurrent turns never interleave. A malformed or
// phase-gated entity rejects the turn before anything is applied; a
// conflict mid-batch stops it, and the deltas of entities already
// applied are returned with the error.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID string, in TurnInput) (*TurnResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitTurn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	s, log, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Writable() {
		return nil, session.ErrTerminal
	}
	if len(in.Entities) == 0 && in.Text == "" {
		return nil, ErrNoEntities
	}

	res := &TurnResult{Readiness: session.Readiness(in.Text)}
	phase := s.Phase()
	events := make([]memory.Event, 0, len(in.Entities))
	for _, entity := range in.Entities {
		ev, err := entity.event()
		if err != nil {
			return res, err
		}
		if minPhaseRank[ev.Kind] > phaseRank[phase] {
			return res, &PhaseError{Phase: phase, Kind: ev.Kind}
		}
		if ceiling, closed := maxPhaseRank[ev.Kind]; closed && phaseRank[phase] > ceiling {
			return res, &PhaseError{Phase: phase, Kind: ev.Kind}
		}
		events = append(events, ev)
	}

	deltas, err := log.AppendBatch(ctx, events)
	res.Deltas = deltas
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	doc := log.Projection()
	res.Mode = e.modes.Evaluate(sessionID, doc, mode.Mode(s.ModeHint()))
	if res.Mode.Escalated {
		e.publish(sessionID, bus.EventModeChanged, res.Mode)
	}

	if e.generator != nil {
		reply, err := e.generator.Generate(ctx, phase, doc, in.Text)
		if err != nil {
			e.logger.Warn("generator failed, continuing without a reply",
				zap.String("session_id", sessionID), zap.Error(err))
		} else {
			res.Response = reply
		}
	}

	if e.turnCounter != nil {
		e.turnCounter.Add(ctx, 1)
	}
	e.publish(sessionID, bus.EventTurnApplied, map[string]any{
		"version":   log.Version(),
		"deltas":    res.Deltas,
		"readiness": res.Readiness,
	})
	return res, nil
}

// AdvancePhase runs the checklist and, on success, snapshots the
// completed phase exactly once.
func (e *Engine) AdvancePhase(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, error) {
	ctx, span := e.tracer.Start(ctx, "engine.AdvancePhase",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	s, log, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}

	doc := log.Projection()
	// The boundary checkpoint is cut inside the commit hook: a save
	// failure leaves the phase unchanged, so the boundary can be
	// retried and is snapshotted exactly once.
	var cp *checkpoint.Checkpoint
	tr, err := s.AdvanceWith(doc, func(tr session.Transition) error {
		saved, err := e.checkpoints.Save(ctx, &checkpoint.SaveRequest{
			SessionID:    sessionID,
			Phase:        tr.From,
			EventVersion: log.Version(),
			Snapshot:     doc,
		})
		if err != nil {
			return fmt.Errorf("saving phase checkpoint: %w", err)
		}
		cp = saved
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tr.From == tr.To {
		// Idempotent re-advance of a completed session.
		return nil, nil
	}

	e.publish(sessionID, bus.EventPhaseAdvanced, tr)
	e.publish(sessionID, bus.EventCheckpointSaved, map[string]any{
		"checkpoint_id": cp.ID,
		"phase":         cp.Phase,
	})
	if tr.To == session.PhaseComplete {
		e.observeOutcome(sessionID, doc, 1.0)
	}
	e.logger.Info("phase advanced",
		zap.String("session_id", sessionID),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("checkpoint_id", cp.ID))
	return cp, nil
}

// ForcePhase overrides the checklist. The reason is mandatory and
// lands in the transition audit trail.
func (e *Engine) ForcePhase(ctx context.Context, sessionID string, target session.Phase, reason string) (*session.Transition, error) {
	_, span := e.tracer.Start(ctx, "engine.ForcePhase",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	s, _, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	tr, err := s.Force(target, reason)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.publish(sessionID, bus.EventPhaseForced, tr)
	e.logger.Warn("phase forced",
		zap.String("session_id", sessionID),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("reason", reason))
	return &tr, nil
}

// RequestValidation runs the consensus engine against the current
// projection under the session's effective mode.
func (e *Engine) RequestValidation(ctx context.Context, sessionID string, cfg SignalConfig) (*consensus.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RequestValidation",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	s, log, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}

	doc := log.Projection()
	decision := e.modes.Evaluate(sessionID, doc, mode.Mode(s.ModeHint()))
	res, err := e.validator.Evaluate(ctx, &consensus.Request{
		SessionID: sessionID,
		Doc:       doc,
		Mode:      decision.Mode,
		Threshold: cfg.Threshold,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.publish(sessionID, bus.EventValidationCompleted, res)
	if !res.Unavailable {
		e.observeOutcome(sessionID, doc, res.Aggregate)
	}
	return res, nil
}

// GetRecommendedMode re-evaluates the mode for the current projection.
func (e *Engine) GetRecommendedMode(ctx context.Context, sessionID string) (mode.Decision, error) {
	s, log, err := e.session(sessionID)
	if err != nil {
		return mode.Decision{}, err
	}
	return e.modes.Evaluate(sessionID, log.Projection(), mode.Mode(s.ModeHint())), nil
}

// ConfirmModeDowngrade applies a pending mode downgrade.
func (e *Engine) ConfirmModeDowngrade(ctx context.Context, sessionID string) (mode.Mode, error) {
	if _, _, err := e.session(sessionID); err != nil {
		return "", err
	}
	m, err := e.modes.ConfirmDowngrade(sessionID)
	if err != nil {
		return "", err
	}
	e.publish(sessionID, bus.EventModeChanged, map[string]any{"mode": m, "downgrade": true})
	return m, nil
}

// Abandon terminates the session. Reads keep working; every mutation
// afterwards is rejected.
func (e *Engine) Abandon(ctx context.Context, sessionID, reason string) error {
	_, span := e.tracer.Start(ctx, "engine.Abandon",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	s, log, err := e.session(sessionID)
	if err != nil {
		return err
	}
	tr, err := s.Abandon(reason)
	if err != nil {
		span.RecordError(err)
		return err
	}
	e.observeOutcome(sessionID, log.Projection(), 0.0)
	e.publish(sessionID, bus.EventAbandoned, tr)
	e.logger.Info("session abandoned",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	return nil
}

// Rollback restores the session's memory and phase to a checkpoint.
func (e *Engine) Rollback(ctx context.Context, sessionID, checkpointID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Rollback",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("checkpoint.id", checkpointID),
		))
	defer span.End()

	s, log, err := e.session(sessionID)
	if err != nil {
		return err
	}
	// Terminal sessions reject every mutation; check before the log is
	// touched so a rejected rollback changes nothing.
	if !s.Writable() {
		return session.ErrTerminal
	}
	cp, err := e.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return err
	}
	if cp.SessionID != sessionID {
		return fmt.Errorf("%w: checkpoint %s belongs to another session", checkpoint.ErrNotFound, checkpointID)
	}

	if err := log.Rollback(ctx, cp.EventVersion, cp.Snapshot); err != nil {
		span.RecordError(err)
		return err
	}
	if s.Phase() != cp.Phase {
		if _, err := s.Force(cp.Phase, fmt.Sprintf("rollback to checkpoint %s", checkpointID)); err != nil {
			return err
		}
	}

	e.publish(sessionID, bus.EventRolledBack, map[string]any{
		"checkpoint_id": checkpointID,
		"phase":         cp.Phase,
		"version":       cp.EventVersion,
	})
	e.logger.Info("session rolled back",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", checkpointID))
	return nil
}

// Checkpoints lists the session's checkpoints in phase order.
func (e *Engine) Checkpoints(ctx context.Context, sessionID string) ([]*checkpoint.Checkpoint, error) {
	if _, _, err := e.session(sessionID); err != nil {
		return nil, err
	}
	return e.checkpoints.List(ctx, sessionID)
}

// Info returns the session read model.
func (e *Engine) Info(ctx context.Context, sessionID string) (*SessionInfo, error) {
	s, log, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	doc := log.Projection()
	decision := e.modes.Evaluate(sessionID, doc, mode.Mode(s.ModeHint()))
	return &SessionInfo{
		ID:          s.ID(),
		Phase:       s.Phase(),
		Mode:        decision.Mode,
		Version:     log.Version(),
		Document:    doc,
		Transitions: s.Transitions(),
	}, nil
}

// observeOutcome reports a session outcome to the pattern store over
// the bus. Unnamed concepts have no fingerprint and are skipped.
func (e *Engine) observeOutcome(sessionID string, doc *concept.Document, outcome float64) {
	fp := patternstore.Normalize(doc.Name)
	if fp == "" {
		return
	}
	e.publishRaw(bus.SubjectPatternObserve, patternstore.Observation{
		Fingerprint: fp,
		Outcome:     outcome,
		Scope:       sessionID,
		Consent:     e.cfg.SharePatterns,
	})
}

// publish emits a session event on the bus, when one is wired.
func (e *Engine) publish(sessionID, event string, payload any) {
	e.publishRaw(bus.SessionSubject(sessionID, event), payload)
}

func (e *Engine) publishRaw(subject string, payload any) {
	if e.eventBus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("event payload marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := e.eventBus.Publish(subject, data); err != nil {
		e.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
