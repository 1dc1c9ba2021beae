package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/mode"
)

const instrumentationName = "github.com/fyrsmithlabs/conceptd/internal/consensus"

// Producer evaluates one validation concern.
type Producer interface {
	// Name identifies the producer in weight profiles and reports.
	Name() string

	// Evaluate returns the producer's signal for the request. It must
	// honor ctx cancellation.
	Evaluate(ctx context.Context, req *Request) (*Signal, error)
}

// Engine fans a request out to all producers and aggregates.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	producers []Producer
	logger    *zap.Logger
	tracer    trace.Tracer
	evals     metric.Int64Counter
	gatePass  metric.Int64Counter
}

// NewEngine creates a consensus engine over the given producers.
func NewEngine(cfg Config, producers []Producer, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consensus config: %w", err)
	}
	if len(producers) == 0 {
		return nil, ErrNoProducers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	evals, err := meter.Int64Counter("consensus.evaluations",
		metric.WithDescription("Total consensus evaluations"))
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}
	gatePass, err := meter.Int64Counter("consensus.gate_passed",
		metric.WithDescription("Evaluations that passed the gate"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gate counter: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		producers: producers,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		evals:     evals,
		gatePass:  gatePass,
	}, nil
}

// SetConfig swaps the aggregation settings, for hot reload. Invalid
// settings are rejected and the engine keeps its current config.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid consensus config: %w", err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("consensus config updated",
		zap.Float64("threshold", cfg.Threshold),
		zap.Float64("floor", cfg.Floor))
	return nil
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// outcome pairs one producer's result with its slot.
type outcome struct {
	idx    int
	signal *Signal
	err    error
}

// Evaluate runs every producer concurrently and aggregates the
// responded signals. A below-threshold aggregate is a normal Result;
// the returned error covers only request-level failures.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Doc == nil {
		return nil, fmt.Errorf("request and document are required")
	}

	ctx, span := e.tracer.Start(ctx, "consensus.Evaluate",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("mode", string(req.Mode)),
		))
	defer span.End()

	cfg := e.config()
	ctx, cancel := context.WithTimeout(ctx, cfg.OverallTimeout)
	defer cancel()

	results := make(chan outcome, len(e.producers))
	for i, p := range e.producers {
		go func(i int, p Producer) {
			pctx, pcancel := context.WithTimeout(ctx, cfg.ProducerTimeout)
			defer pcancel()
			sig, err := p.Evaluate(pctx, req)
			if err == nil && sig != nil && (sig.Score < 0 || sig.Score > 1) {
				err = fmt.Errorf("score %v out of range", sig.Score)
			}
			results <- outcome{idx: i, signal: sig, err: err}
		}(i, p)
	}

	reports := make([]SignalReport, len(e.producers))
	for range e.producers {
		out := <-results
		name := e.producers[out.idx].Name()
		rep := SignalReport{
			Source: name,
			Weight: cfg.weight(req.Mode, name),
		}
		if out.err != nil {
			unavail := &SignalUnavailableError{Source: name, Cause: out.err}
			rep.Unavailable = true
			rep.Error = unavail.Error()
			e.logger.Warn("validation signal unavailable",
				zap.String("session_id", req.SessionID),
				zap.String("source", name),
				zap.Error(out.err))
		} else {
			rep.Score = out.signal.Score
			rep.Rationale = out.signal.Rationale
		}
		reports[out.idx] = rep
	}

	res := e.aggregate(cfg, req, reports)
	e.evals.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(req.Mode))))
	if res.GatePassed {
		e.gatePass.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(req.Mode))))
	}
	e.logger.Info("consensus evaluated",
		zap.String("session_id", req.SessionID),
		zap.String("mode", string(req.Mode)),
		zap.Float64("aggregate", res.Aggregate),
		zap.Bool("gate_passed", res.GatePassed),
		zap.Bool("unavailable", res.Unavailable))
	return res, nil
}

// aggregate folds the signal reports into a Result under the mode's
// missing-signal policy.
func (e *Engine) aggregate(cfg Config, req *Request, reports []SignalReport) *Result {
	threshold := cfg.Threshold
	if req.Threshold > 0 {
		threshold = req.Threshold
	}
	res := &Result{
		Threshold:   threshold,
		Mode:        req.Mode,
		Signals:     reports,
		EvaluatedAt: time.Now().UTC(),
	}

	var missing int
	var weightSum, weighted float64
	floored := ""
	floorScore := 1.0
	for _, r := range reports {
		if r.Unavailable {
			missing++
			continue
		}
		weightSum += r.Weight
		weighted += r.Weight * r.Score
		if r.Score < cfg.Floor && r.Score < floorScore {
			floorScore = r.Score
			floored = r.Source
		}
	}

	if missing > 0 && req.Mode == mode.ModeEnterprise {
		// Fail closed: without every signal the aggregate is not
		// trustworthy at enterprise rigor.
		res.Unavailable = true
		return res
	}
	if weightSum == 0 {
		res.Unavailable = true
		return res
	}

	agg := weighted / weightSum
	if floored != "" && floorScore < agg {
		agg = floorScore
		res.FlooredBy = floored
	}
	if missing > 0 {
		res.Penalty = float64(missing) * cfg.MissingPenalty
		agg -= res.Penalty
	}
	if agg < 0 {
		agg = 0
	}
	if agg > 1 {
		agg = 1
	}
	res.Aggregate = agg
	res.GatePassed = agg >= threshold
	return res
}
