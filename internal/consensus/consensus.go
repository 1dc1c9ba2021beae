// Package consensus aggregates independent validation signals into a
// single gated confidence decision. Producers run concurrently with
// per-producer timeouts; aggregation weights signals by the session's
// mode, enforces a floor on individual signals, and applies the
// missing-signal policy for the mode before gating on the threshold.
package consensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
)

// Engine errors.
var (
	ErrNoProducers      = errors.New("at least one producer is required")
	ErrInvalidFloor     = errors.New("floor must be in [0, 1)")
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")
	ErrTimeoutOrder     = errors.New("producer timeout must be below the overall timeout")
)

// SignalUnavailableError reports a producer that failed or timed out.
type SignalUnavailableError struct {
	Source string
	Cause  error
}

func (e *SignalUnavailableError) Error() string {
	return fmt.Sprintf("validation signal %q unavailable: %v", e.Source, e.Cause)
}

func (e *SignalUnavailableError) Unwrap() error { return e.Cause }

// Request is one validation request.
type Request struct {
	// SessionID scopes pattern lookups and logging.
	SessionID string

	// Doc is the projection under validation.
	Doc *concept.Document

	// Mode selects the weight profile and missing-signal policy.
	Mode mode.Mode

	// Threshold overrides the configured gate threshold when > 0.
	Threshold float64
}

// Signal is one producer's judgement.
type Signal struct {
	// Source is the producer name.
	Source string `json:"source"`

	// Score is the producer's confidence in [0,1].
	Score float64 `json:"score"`

	// Rationale explains the score in one or two sentences.
	Rationale string `json:"rationale"`
}

// SignalReport is a signal plus its aggregation context, one per
// configured producer, responded or not.
type SignalReport struct {
	Source      string  `json:"source"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Rationale   string  `json:"rationale,omitempty"`
	Unavailable bool    `json:"unavailable"`
	Error       string  `json:"error,omitempty"`
}

// Result is the full consensus outcome. A below-threshold aggregate is
// a normal result, not an error.
type Result struct {
	// Aggregate is the weighted confidence in [0,1]. Meaningless when
	// Unavailable is set.
	Aggregate float64 `json:"aggregate"`

	// Threshold is the gate threshold that applied.
	Threshold float64 `json:"threshold"`

	// GatePassed is Aggregate >= Threshold, and always false when
	// Unavailable is set.
	GatePassed bool `json:"gate_passed"`

	// Unavailable is set under the enterprise fail-closed policy when
	// any signal is missing.
	Unavailable bool `json:"unavailable"`

	// Mode is the weight profile that applied.
	Mode mode.Mode `json:"mode"`

	// Signals is the per-producer breakdown, in producer order.
	Signals []SignalReport `json:"signals"`

	// FlooredBy names the signal that capped the aggregate, if any.
	FlooredBy string `json:"floored_by,omitempty"`

	// Penalty is the total fail-open deduction applied for missing
	// signals.
	Penalty float64 `json:"penalty,omitempty"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Config holds the aggregation parameters.
type Config struct {
	// Threshold is the default gate threshold.
	Threshold float64 `koanf:"threshold"`

	// Floor caps the aggregate at any responded signal scoring below
	// it.
	Floor float64 `koanf:"floor"`

	// MinSamples is the pattern-store sample count below which the
	// alignment signal is pulled toward neutral.
	MinSamples int `koanf:"min_samples"`

	// MissingPenalty is deducted per missing signal under fail-open.
	MissingPenalty float64 `koanf:"missing_penalty"`

	// OverallTimeout bounds the whole evaluation.
	OverallTimeout time.Duration `koanf:"overall_timeout"`

	// ProducerTimeout bounds each producer and must be below
	// OverallTimeout.
	ProducerTimeout time.Duration `koanf:"producer_timeout"`

	// Profiles maps mode to per-producer weight multipliers. A
	// producer absent from the profile weighs 1.
	Profiles map[mode.Mode]map[string]float64 `koanf:"profiles"`
}

// DefaultConfig returns the standard aggregation parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.92,
		Floor:           0.5,
		MinSamples:      3,
		MissingPenalty:  0.05,
		OverallTimeout:  5 * time.Second,
		ProducerTimeout: 2 * time.Second,
		Profiles: map[mode.Mode]map[string]float64{
			mode.ModeEnterprise: {
				SourceStructural:    1.5,
				SourceTypeSafety:    1.5,
				SourceHistory:       1.0,
				SourceDocumentation: 0.75,
				SourcePattern:       0.75,
			},
			mode.ModeCreative: {
				SourcePattern:       1.5,
				SourceDocumentation: 1.5,
				SourceHistory:       1.0,
				SourceStructural:    0.75,
				SourceTypeSafety:    0.75,
			},
		},
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return ErrInvalidThreshold
	}
	if c.Floor < 0 || c.Floor >= 1 {
		return ErrInvalidFloor
	}
	if c.ProducerTimeout <= 0 || c.OverallTimeout <= 0 ||
		c.ProducerTimeout >= c.OverallTimeout {
		return ErrTimeoutOrder
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("min samples must be at least 1, got %d", c.MinSamples)
	}
	return nil
}

// weight resolves a producer's weight under the request mode.
func (c *Config) weight(m mode.Mode, source string) float64 {
	if profile, ok := c.Profiles[m]; ok {
		if w, ok := profile[source]; ok {
			return w
		}
	}
	return 1.0
}
