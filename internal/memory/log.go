package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// Log is the append-only memory log for one session. Writes are
// serialized in arrival order; the current-state projection is folded
// incrementally as events are accepted.
type Log struct {
	sessionID string
	logger    *zap.Logger

	write fifoLock

	mu     sync.RWMutex
	events []Event
	byKey  map[string]Delta
	doc    *concept.Document
}

func newLog(sessionID string, logger *zap.Logger) *Log {
	return &Log{
		sessionID: sessionID,
		logger:    logger,
		byKey:     make(map[string]Delta),
		doc:       &concept.Document{},
	}
}

// Append validates and applies one event. The same idempotency key
// submitted twice returns the original delta with Replayed set and
// changes nothing. A ConflictError leaves the log untouched.
func (l *Log) Append(ctx context.Context, ev Event) (*Delta, error) {
	deltas, err := l.AppendBatch(ctx, []Event{ev})
	if err != nil {
		return nil, err
	}
	return &deltas[0], nil
}

// AppendBatch applies a group of events as one write: the session's
// FIFO lock is held for the whole batch, so two concurrent batches
// never interleave in the log. Events apply in order; the first
// rejected event stops the batch, and the deltas of events already
// applied are returned with the error.
func (l *Log) AppendBatch(ctx context.Context, events []Event) ([]Delta, error) {
	for i := range events {
		if err := events[i].validate(); err != nil {
			return nil, err
		}
	}
	if err := l.write.Lock(ctx); err != nil {
		return nil, err
	}
	defer l.write.Unlock()

	deltas := make([]Delta, 0, len(events))
	for i := range events {
		d, err := l.appendOne(events[i])
		if err != nil {
			return deltas, err
		}
		deltas = append(deltas, *d)
	}
	return deltas, nil
}

// appendOne applies a single event. Callers hold the FIFO lock.
func (l *Log) appendOne(ev Event) (*Delta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prior, ok := l.byKey[ev.Key]; ok {
		replay := prior
		replay.Replayed = true
		replay.Version = len(l.events)
		l.logger.Debug("memory event replayed",
			zap.String("session_id", l.sessionID),
			zap.String("kind", string(ev.Kind)),
			zap.String("key", ev.Key))
		return &replay, nil
	}

	entityID, err := l.apply(&ev)
	if err != nil {
		return nil, err
	}

	ev.ID = uuid.NewString()
	ev.AppliedAt = time.Now().UTC()
	l.events = append(l.events, ev)

	delta := Delta{
		EventID:  ev.ID,
		Kind:     ev.Kind,
		EntityID: entityID,
		Version:  len(l.events),
	}
	l.byKey[ev.Key] = delta

	l.logger.Debug("memory event applied",
		zap.String("session_id", l.sessionID),
		zap.String("kind", string(ev.Kind)),
		zap.String("entity_id", entityID),
		zap.Int("version", delta.Version))
	return &delta, nil
}

// apply mutates the projection. Callers hold both locks.
func (l *Log) apply(ev *Event) (string, error) {
	switch ev.Kind {
	case EventAddStakeholder:
		s := *ev.Stakeholder
		if l.doc.StakeholderByID(s.ID) != nil {
			return "", l.conflict(ev, fmt.Sprintf("stakeholder %s already exists", s.ID))
		}
		l.doc.Stakeholders = append(l.doc.Stakeholders, s)
		return s.ID, nil

	case EventAddStory:
		st := *ev.Story
		for i := range l.doc.Stories {
			if l.doc.Stories[i].ID == st.ID {
				return "", l.conflict(ev, fmt.Sprintf("story %s already exists", st.ID))
			}
		}
		if l.doc.StakeholderByID(st.StakeholderID) == nil {
			return "", l.conflict(ev, fmt.Sprintf("story %s references unknown stakeholder %s", st.ID, st.StakeholderID))
		}
		l.doc.Stories = append(l.doc.Stories, st)
		return st.ID, nil

	case EventConfirmStory:
		for i := range l.doc.Stories {
			if l.doc.Stories[i].ID == ev.StoryID {
				l.doc.Stories[i].Confirmed = true
				return ev.StoryID, nil
			}
		}
		return "", l.conflict(ev, fmt.Sprintf("story %s not found", ev.StoryID))

	case EventAddChallenge:
		c := *ev.Challenge
		for i := range l.doc.Challenges {
			if l.doc.Challenges[i].ID == c.ID {
				return "", l.conflict(ev, fmt.Sprintf("challenge %s already exists", c.ID))
			}
		}
		for _, ref := range c.AffectedStakeholders {
			if l.doc.StakeholderByID(ref) == nil {
				return "", l.conflict(ev, fmt.Sprintf("challenge %s references unknown stakeholder %s", c.ID, ref))
			}
		}
		l.doc.Challenges = append(l.doc.Challenges, c)
		return c.ID, nil

	case EventAddEnhancement:
		e := *ev.Enhancement
		for i := range l.doc.Enhancements {
			if l.doc.Enhancements[i].ID == e.ID {
				return "", l.conflict(ev, fmt.Sprintf("enhancement %s already exists", e.ID))
			}
		}
		l.doc.Enhancements = append(l.doc.Enhancements, e)
		return e.ID, nil

	case EventSetConcept:
		l.doc.Name = ev.Concept.Name
		l.doc.Description = ev.Concept.Description
		l.doc.OrgComplexity = ev.Concept.OrgComplexity
		l.doc.TechComplexity = ev.Concept.TechComplexity
		l.doc.Urgency = ev.Concept.Urgency
		return "", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
}

// eventEntityID recovers the touched entity ID from an event payload.
func eventEntityID(ev *Event) string {
	switch ev.Kind {
	case EventAddStakeholder:
		return ev.Stakeholder.ID
	case EventAddStory:
		return ev.Story.ID
	case EventConfirmStory:
		return ev.StoryID
	case EventAddChallenge:
		return ev.Challenge.ID
	case EventAddEnhancement:
		return ev.Enhancement.ID
	}
	return ""
}

func (l *Log) conflict(ev *Event, reason string) error {
	return &ConflictError{
		SessionID: l.sessionID,
		Kind:      ev.Kind,
		Key:       ev.Key,
		Reason:    reason,
	}
}

// Projection returns a deep copy of the current folded state.
func (l *Log) Projection() *concept.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cloned := l.doc.Clone()
	cloned.UpdatedAt = l.lastApplied()
	return cloned
}

func (l *Log) lastApplied() time.Time {
	if len(l.events) == 0 {
		return time.Time{}
	}
	return l.events[len(l.events)-1].AppliedAt
}

// Version is the number of accepted events.
func (l *Log) Version() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Events returns a copy of the log suffix starting at from.
func (l *Log) Events(from int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 0 || from >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-from)
	copy(out, l.events[from:])
	return out
}

// Rollback truncates the log to version events and replaces the
// projection with the checkpoint snapshot. Events past the truncation
// point are discarded and their idempotency keys forgotten, so they
// may be resubmitted.
func (l *Log) Rollback(ctx context.Context, version int, snapshot *concept.Document) error {
	if err := l.write.Lock(ctx); err != nil {
		return err
	}
	defer l.write.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if version < 0 || version > len(l.events) {
		return fmt.Errorf("rollback version %d out of range [0, %d]", version, len(l.events))
	}
	dropped := len(l.events) - version
	l.events = l.events[:version]
	l.byKey = make(map[string]Delta, version)
	for i := range l.events {
		l.byKey[l.events[i].Key] = Delta{
			EventID:  l.events[i].ID,
			Kind:     l.events[i].Kind,
			EntityID: eventEntityID(&l.events[i]),
			Version:  i + 1,
		}
	}
	l.doc = snapshot.Clone()

	l.logger.Info("memory log rolled back",
		zap.String("session_id", l.sessionID),
		zap.Int("version", version),
		zap.Int("dropped_events", dropped))
	return nil
}

// Store owns the per-session logs.
type Store struct {
	mu     sync.Mutex
	logs   map[string]*Log
	logger *zap.Logger
}

// NewStore creates an empty store. A nil logger falls back to a nop.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logs:   make(map[string]*Log),
		logger: logger,
	}
}

// Open returns the session's log, creating it if absent.
func (s *Store) Open(sessionID string) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[sessionID]; ok {
		return l
	}
	l := newLog(sessionID, s.logger)
	s.logs[sessionID] = l
	return l
}

// Get returns the session's log if it exists.
func (s *Store) Get(sessionID string) (*Log, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[sessionID]
	return l, ok
}

// Drop removes a session's log.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
}
