package patternstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/conceptd/internal/patternstore"

	collectionName = "patterns"
	formatVersion  = "1"

	// embeddingDim sizes the synthetic vectors. The store keys by
	// exact fingerprint; vectors only satisfy the collection format.
	embeddingDim = 16
)

// Store is the pattern store. Reads serve from memory; every accepted
// observation is written through to the chromem collection.
type Store struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	mu       sync.RWMutex
	db       *chromem.DB
	col      *chromem.Collection
	records  map[string]*Record
	degraded bool
	warning  *CorruptionError
	closed   bool
}

// Open loads the store from cfg.Path. An empty path keeps everything
// in memory. Corruption never fails Open: the store comes up degraded
// over whatever loaded cleanly and surfaces the cause via Warning.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pattern store config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		records: make(map[string]*Record),
	}

	var err error
	if cfg.Path == "" {
		s.db = chromem.NewDB()
	} else {
		s.db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			s.degrade(cfg.Path, fmt.Errorf("opening persistent db: %w", err))
			s.db = chromem.NewDB()
		}
	}

	s.col, err = s.db.GetOrCreateCollection(collectionName, nil, syntheticEmbeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", collectionName, err)
	}

	s.load(ctx)
	return s, nil
}

// load pulls every persisted record into memory, skipping anything
// shape-mismatched.
func (s *Store) load(ctx context.Context) {
	count := s.col.Count()
	if count == 0 {
		return
	}
	results, err := s.col.QueryEmbedding(ctx, syntheticEmbedding(""), count, nil, nil)
	if err != nil {
		s.degrade(s.cfg.Path, fmt.Errorf("listing persisted records: %w", err))
		return
	}
	for _, res := range results {
		rec, err := recordFromMetadata(res.ID, res.Metadata)
		if err != nil {
			s.degrade(s.cfg.Path, fmt.Errorf("record %s: %w", res.ID, err))
			continue
		}
		s.records[rec.Fingerprint] = rec
	}
	s.logger.Info("pattern store loaded",
		zap.Int("records", len(s.records)),
		zap.Bool("degraded", s.degraded))
}

func (s *Store) degrade(path string, cause error) {
	s.degraded = true
	if s.warning == nil {
		s.warning = &CorruptionError{Path: path, Cause: cause}
	}
	s.logger.Warn("pattern store degraded", zap.String("path", path), zap.Error(cause))
}

// Observe folds one outcome into the fingerprint's record. The first
// observation initializes the rate; later ones decay it by alpha.
func (s *Store) Observe(ctx context.Context, obs Observation) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "patternstore.Observe")
	defer span.End()

	fp := Normalize(obs.Fingerprint)
	if fp == "" {
		return nil, ErrEmptyFingerprint
	}
	if obs.Outcome < 0 || obs.Outcome > 1 {
		return nil, ErrOutcomeRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rec, ok := s.records[fp]
	if !ok {
		rec = &Record{Fingerprint: fp, SuccessRate: obs.Outcome, Scope: obs.Scope}
	} else {
		rec.SuccessRate = rec.SuccessRate*(1-s.cfg.Alpha) + obs.Outcome*s.cfg.Alpha
	}
	rec.SampleCount++
	rec.Consent = obs.Consent
	rec.LastUpdated = time.Now().UTC()
	s.records[fp] = rec

	if err := s.persist(ctx, rec); err != nil {
		// The in-memory record stays authoritative for this process.
		s.logger.Warn("pattern record persist failed",
			zap.String("fingerprint", fp), zap.Error(err))
	}
	out := *rec
	return &out, nil
}

// persist writes the record through to the collection. Callers hold
// the write lock.
func (s *Store) persist(ctx context.Context, rec *Record) error {
	// Replace wholesale; the collection keys documents by fingerprint.
	_ = s.col.Delete(ctx, nil, nil, rec.Fingerprint)
	return s.col.AddDocuments(ctx, []chromem.Document{{
		ID:        rec.Fingerprint,
		Content:   rec.Fingerprint,
		Metadata:  metadataFromRecord(rec),
		Embedding: syntheticEmbedding(rec.Fingerprint),
	}}, 1)
}

// Lookup returns the rate and sample count for a fingerprint as seen
// from scope. Records owned by another scope are invisible unless
// consented. An empty scope is a cross-scope lookup and always
// requires consent.
func (s *Store) Lookup(_ context.Context, fingerprint, scope string) (float64, int, bool, error) {
	fp := Normalize(fingerprint)
	if fp == "" {
		return 0, 0, false, ErrEmptyFingerprint
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, 0, false, ErrClosed
	}
	rec, ok := s.records[fp]
	if !ok {
		return 0, 0, false, nil
	}
	if rec.Scope != scope && !rec.Consent {
		return 0, 0, false, nil
	}
	return rec.SuccessRate, rec.SampleCount, true, nil
}

// Get returns the full record for a fingerprint without consent
// filtering, for owner-side inspection.
func (s *Store) Get(_ context.Context, fingerprint string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[Normalize(fingerprint)]
	if !ok {
		return nil, false
	}
	out := *rec
	return &out, true
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Degraded reports whether any persisted state failed to load.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Warning returns the first corruption encountered, if any.
func (s *Store) Warning() *CorruptionError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warning
}

// Close stops accepting writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func metadataFromRecord(rec *Record) map[string]string {
	return map[string]string{
		"format_version": formatVersion,
		"success_rate":   strconv.FormatFloat(rec.SuccessRate, 'f', -1, 64),
		"sample_count":   strconv.Itoa(rec.SampleCount),
		"scope":          rec.Scope,
		"consent":        strconv.FormatBool(rec.Consent),
		"last_updated":   rec.LastUpdated.Format(time.RFC3339Nano),
	}
}

func recordFromMetadata(id string, md map[string]string) (*Record, error) {
	if md["format_version"] != formatVersion {
		return nil, fmt.Errorf("unsupported format version %q", md["format_version"])
	}
	rate, err := strconv.ParseFloat(md["success_rate"], 64)
	if err != nil || rate < 0 || rate > 1 {
		return nil, fmt.Errorf("bad success rate %q", md["success_rate"])
	}
	samples, err := strconv.Atoi(md["sample_count"])
	if err != nil || samples < 1 {
		return nil, fmt.Errorf("bad sample count %q", md["sample_count"])
	}
	consent, err := strconv.ParseBool(md["consent"])
	if err != nil {
		return nil, fmt.Errorf("bad consent flag %q", md["consent"])
	}
	updated, err := time.Parse(time.RFC3339Nano, md["last_updated"])
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q", md["last_updated"])
	}
	return &Record{
		Fingerprint: id,
		SuccessRate: rate,
		SampleCount: samples,
		Scope:       md["scope"],
		Consent:     consent,
		LastUpdated: updated,
	}, nil
}

// syntheticEmbedding derives a deterministic unit-free vector from the
// fingerprint. Similarity search is not the access path here.
func syntheticEmbedding(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, embeddingDim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%1000)/999.0 + 0.001
	}
	return vec
}

func syntheticEmbeddingFunc() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		return syntheticEmbedding(text), nil
	}
}
