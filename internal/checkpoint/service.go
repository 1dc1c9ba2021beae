package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/session"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/conceptd/internal/checkpoint"

	collectionName = "checkpoints"
	embeddingDim   = 16
)

// Service provides checkpoint persistence.
type Service interface {
	// Save persists a write-once checkpoint for a phase boundary.
	Save(ctx context.Context, req *SaveRequest) (*Checkpoint, error)

	// Get retrieves a checkpoint by ID.
	Get(ctx context.Context, id string) (*Checkpoint, error)

	// List returns a session's checkpoints ordered by phase.
	List(ctx context.Context, sessionID string) ([]*Checkpoint, error)

	// Close closes the service.
	Close() error
}

// Config configures the checkpoint service.
type Config struct {
	// Path is the persistence directory; empty keeps checkpoints in
	// memory only.
	Path string `koanf:"path"`

	// Compress enables gzip on persisted checkpoints.
	Compress bool `koanf:"compress"`
}

// service implements the Service interface over a chromem collection.
type service struct {
	config *Config
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter

	mu     sync.RWMutex
	db     *chromem.DB
	col    *chromem.Collection
	closed bool

	// byBoundary enforces write-once per (session, phase).
	byBoundary map[string]string
}

// NewService creates a checkpoint service.
func NewService(cfg *Config, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		byBoundary: make(map[string]string),
	}

	var err error
	if cfg.Path == "" {
		s.db = chromem.NewDB()
	} else {
		s.db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening checkpoint db: %w", err)
		}
	}
	s.col, err = s.db.GetOrCreateCollection(collectionName, nil, embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", collectionName, err)
	}

	if err := s.indexExisting(); err != nil {
		return nil, err
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error
	s.saveCounter, err = s.meter.Int64Counter(
		"conceptd.checkpoint.saves_total",
		metric.WithDescription("Total number of checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
}

// indexExisting rebuilds the write-once index from persisted state.
func (s *service) indexExisting() error {
	count := s.col.Count()
	if count == 0 {
		return nil
	}
	results, err := s.col.QueryEmbedding(context.Background(), synthetic(""), count, nil, nil)
	if err != nil {
		return fmt.Errorf("indexing checkpoints: %w", err)
	}
	for _, res := range results {
		s.byBoundary[res.Metadata["session_id"]+"/"+res.Metadata["phase"]] = res.ID
	}
	return nil
}

// Save persists a checkpoint. The full snapshot is marshaled before
// anything is stored, so a failure partway never leaves a partial
// checkpoint behind.
func (s *service) Save(ctx context.Context, req *SaveRequest) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	if err := req.validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("phase", string(req.Phase)),
	)

	cp := &Checkpoint{
		ID:            uuid.New().String(),
		FormatVersion: FormatVersion,
		SessionID:     req.SessionID,
		Phase:         req.Phase,
		EventVersion:  req.EventVersion,
		Snapshot:      req.Snapshot.Clone(),
		CreatedAt:     time.Now().UTC(),
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boundary := req.SessionID + "/" + string(req.Phase)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, exists := s.byBoundary[boundary]; exists {
		return nil, &AlreadyExistsError{SessionID: req.SessionID, Phase: req.Phase}
	}

	err = s.col.AddDocuments(ctx, []chromem.Document{{
		ID:      cp.ID,
		Content: string(payload),
		Metadata: map[string]string{
			"format_version": fmt.Sprintf("%d", FormatVersion),
			"session_id":     cp.SessionID,
			"phase":          string(cp.Phase),
		},
		Embedding: synthetic(cp.ID),
	}}, 1)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storing checkpoint: %w", err)
	}
	s.byBoundary[boundary] = cp.ID
	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}

	s.logger.Info("checkpoint saved",
		zap.String("checkpoint_id", cp.ID),
		zap.String("session_id", cp.SessionID),
		zap.String("phase", string(cp.Phase)),
		zap.Int("event_version", cp.EventVersion))
	return cp, nil
}

// Get retrieves a checkpoint by ID.
func (s *service) Get(ctx context.Context, id string) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.get")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return unmarshalCheckpoint(doc.Content)
}

// List returns a session's checkpoints ordered by phase. There is no
// ordering across sessions.
func (s *service) List(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.list")
	defer span.End()

	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	results, err := s.col.QueryEmbedding(ctx, synthetic(""), count,
		map[string]string{"session_id": sessionID}, nil)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	out := make([]*Checkpoint, 0, len(results))
	for _, res := range results {
		cp, err := unmarshalCheckpoint(res.Content)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint",
				zap.String("checkpoint_id", res.ID), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return phaseRank(out[i].Phase) < phaseRank(out[j].Phase)
	})
	return out, nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func unmarshalCheckpoint(content string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal([]byte(content), &cp); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	if cp.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported checkpoint format version %d", cp.FormatVersion)
	}
	return &cp, nil
}

func phaseRank(p session.Phase) int {
	switch p {
	case session.PhaseFoundation:
		return 0
	case session.PhaseStressTest:
		return 1
	case session.PhaseEnhancement:
		return 2
	case session.PhaseComplete:
		return 3
	}
	return 4
}

// synthetic derives a deterministic vector for a checkpoint ID. The
// access paths here are by ID and metadata filter, never similarity.
func synthetic(text string) []float32 {
	var seed uint64 = 1469598103934665603
	for i := 0; i < len(text); i++ {
		seed ^= uint64(text[i])
		seed *= 1099511628211
	}
	vec := make([]float32, embeddingDim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%1000)/999.0 + 0.001
	}
	return vec
}

func embeddingFunc() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		return synthetic(text), nil
	}
}
