package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
)

// fixedProducer returns a constant signal or error.
type fixedProducer struct {
	name  string
	score float64
	err   error
	delay time.Duration
}

func (p *fixedProducer) Name() string { return p.name }

func (p *fixedProducer) Evaluate(ctx context.Context, _ *Request) (*Signal, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &Signal{Source: p.name, Score: p.score, Rationale: "fixed"}, nil
}

func fixed(name string, score float64) Producer {
	return &fixedProducer{name: name, score: score}
}

func testRequest(m mode.Mode) *Request {
	return &Request{
		SessionID: "sess-1",
		Doc:       &concept.Document{Name: "FieldKit"},
		Mode:      m,
	}
}

func newTestEngine(t *testing.T, cfg Config, producers ...Producer) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, producers, nil)
	require.NoError(t, err)
	return e
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrNoProducers)

	bad := DefaultConfig()
	bad.Threshold = 1.5
	_, err = NewEngine(bad, []Producer{fixed("a", 1)}, nil)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	bad = DefaultConfig()
	bad.ProducerTimeout = bad.OverallTimeout
	_, err = NewEngine(bad, []Producer{fixed("a", 1)}, nil)
	assert.ErrorIs(t, err, ErrTimeoutOrder)
}

func TestEvaluateGate(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(),
		fixed("a", 0.95), fixed("b", 0.93), fixed("c", 0.94))

	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeAdaptive))
	require.NoError(t, err)
	assert.InDelta(t, 0.94, res.Aggregate, 1e-9)
	assert.True(t, res.GatePassed)
	assert.Equal(t, res.GatePassed, res.Aggregate >= res.Threshold)
	assert.Len(t, res.Signals, 3)

	// Below-threshold is a result, not an error.
	e = newTestEngine(t, DefaultConfig(), fixed("a", 0.80), fixed("b", 0.85))
	res, err = e.Evaluate(context.Background(), testRequest(mode.ModeAdaptive))
	require.NoError(t, err)
	assert.False(t, res.GatePassed)
}

func TestEvaluateThresholdOverride(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), fixed("a", 0.85))
	req := testRequest(mode.ModeAdaptive)
	req.Threshold = 0.8
	res, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.8, res.Threshold)
	assert.True(t, res.GatePassed)
}

// A single low signal caps the aggregate regardless of how strong the
// rest are.
func TestFloorInvariant(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(),
		fixed("a", 0.98), fixed("b", 0.97), fixed("c", 0.40), fixed("d", 0.96))

	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeAdaptive))
	require.NoError(t, err)
	assert.InDelta(t, 0.40, res.Aggregate, 1e-9)
	assert.Equal(t, "c", res.FlooredBy)
	assert.False(t, res.GatePassed)
}

// Enterprise mode fails closed when any signal is missing.
func TestEnterpriseFailClosed(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(),
		fixed("a", 0.99), fixed("b", 0.99),
		&fixedProducer{name: "c", err: errors.New("backend down")})

	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeEnterprise))
	require.NoError(t, err)
	assert.True(t, res.Unavailable)
	assert.False(t, res.GatePassed)

	var report SignalReport
	for _, r := range res.Signals {
		if r.Source == "c" {
			report = r
		}
	}
	assert.True(t, report.Unavailable)
	assert.Contains(t, report.Error, "backend down")
}

// Creative mode renormalizes over responded signals with a penalty per
// missing one.
func TestCreativeFailOpen(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(),
		fixed("a", 0.96), fixed("b", 0.96),
		&fixedProducer{name: "c", err: errors.New("backend down")})

	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeCreative))
	require.NoError(t, err)
	assert.False(t, res.Unavailable)
	assert.InDelta(t, 0.05, res.Penalty, 1e-9)
	assert.InDelta(t, 0.91, res.Aggregate, 1e-9)
	assert.False(t, res.GatePassed)
}

func TestProducerTimeoutIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProducerTimeout = 20 * time.Millisecond
	cfg.OverallTimeout = 200 * time.Millisecond
	e := newTestEngine(t, cfg,
		fixed("a", 0.95),
		&fixedProducer{name: "slow", score: 0.9, delay: time.Second})

	start := time.Now()
	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeStartup))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	for _, r := range res.Signals {
		if r.Source == "slow" {
			assert.True(t, r.Unavailable)
		}
	}
}

func TestModeWeightProfiles(t *testing.T) {
	// Enterprise up-weights structural and type safety.
	e := newTestEngine(t, DefaultConfig(),
		fixed(SourceStructural, 1.0),
		fixed(SourceTypeSafety, 1.0),
		fixed(SourceDocumentation, 0.6),
		fixed(SourcePattern, 0.6),
		fixed(SourceHistory, 0.6))

	enterprise, err := e.Evaluate(context.Background(), testRequest(mode.ModeEnterprise))
	require.NoError(t, err)
	creative, err := e.Evaluate(context.Background(), testRequest(mode.ModeCreative))
	require.NoError(t, err)
	assert.Greater(t, enterprise.Aggregate, creative.Aggregate)
}

func TestOutOfRangeScoreIsUnavailable(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), fixed("a", 1.7), fixed("b", 0.9))
	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeStartup))
	require.NoError(t, err)
	for _, r := range res.Signals {
		if r.Source == "a" {
			assert.True(t, r.Unavailable)
			assert.Contains(t, r.Error, "out of range")
		}
	}
}

func TestAggregateStaysInRange(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(),
		fixed("a", 0.01),
		&fixedProducer{name: "b", err: errors.New("down")},
		&fixedProducer{name: "c", err: errors.New("down")})

	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeStartup))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Aggregate, 0.0)
	assert.LessOrEqual(t, res.Aggregate, 1.0)
}

func TestSetConfigHotReload(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), fixed("a", 0.9))

	res, err := e.Evaluate(context.Background(), testRequest(mode.ModeAdaptive))
	require.NoError(t, err)
	assert.False(t, res.GatePassed)

	cfg := DefaultConfig()
	cfg.Threshold = 0.85
	require.NoError(t, e.SetConfig(cfg))

	res, err = e.Evaluate(context.Background(), testRequest(mode.ModeAdaptive))
	require.NoError(t, err)
	assert.True(t, res.GatePassed)

	bad := DefaultConfig()
	bad.Threshold = 1.5
	assert.Error(t, e.SetConfig(bad))
}
