// Package mode determines the recommended development mode from
// observed concept complexity. The recommendation is re-evaluated on
// every memory change; upward escalation applies automatically while a
// downgrade waits for explicit confirmation. A mode declared by the
// caller always wins over the recommendation.
package mode

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// Engine errors.
var (
	ErrUnknownMode        = errors.New("unknown mode")
	ErrNoPendingDowngrade = errors.New("no downgrade pending confirmation")
	ErrInvalidWeights     = errors.New("factor weights must be positive and sum to 1")
	ErrInvalidBand        = errors.New("boundary band must be in [0, 0.1]")
)

// Mode is a development mode.
type Mode string

const (
	ModeStartup    Mode = "startup"
	ModeCreative   Mode = "creative"
	ModeAdaptive   Mode = "adaptive"
	ModeEnterprise Mode = "enterprise"
)

// rank orders modes for escalation comparisons.
var rank = map[Mode]int{
	ModeStartup:    0,
	ModeCreative:   1,
	ModeAdaptive:   2,
	ModeEnterprise: 3,
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := rank[m]
	return ok
}

// Weights are the factor weights of the complexity score.
type Weights struct {
	StakeholderCount float64 `koanf:"stakeholder_count"`
	OrgComplexity    float64 `koanf:"org_complexity"`
	TechComplexity   float64 `koanf:"tech_complexity"`
	Urgency          float64 `koanf:"urgency"`
}

// Config holds the scoring parameters.
type Config struct {
	Weights Weights `koanf:"weights"`

	// StakeholderSaturation is the count at which the stakeholder
	// factor reaches 1.0.
	StakeholderSaturation int `koanf:"stakeholder_saturation"`

	// Band widens every bucket boundary; a score within Band of a
	// boundary resolves to adaptive.
	Band float64 `koanf:"band"`
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			StakeholderCount: 0.35,
			OrgComplexity:    0.25,
			TechComplexity:   0.25,
			Urgency:          0.15,
		},
		StakeholderSaturation: 8,
		Band:                  0.03,
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	sum := c.Weights.StakeholderCount + c.Weights.OrgComplexity +
		c.Weights.TechComplexity + c.Weights.Urgency
	if c.Weights.StakeholderCount <= 0 || c.Weights.OrgComplexity <= 0 ||
		c.Weights.TechComplexity <= 0 || c.Weights.Urgency <= 0 ||
		sum < 0.999 || sum > 1.001 {
		return ErrInvalidWeights
	}
	if c.Band < 0 || c.Band > 0.1 {
		return ErrInvalidBand
	}
	if c.StakeholderSaturation < 1 {
		return fmt.Errorf("stakeholder saturation must be at least 1, got %d", c.StakeholderSaturation)
	}
	return nil
}

// Bucket boundaries on the complexity score.
const (
	startupCeiling  = 0.30
	creativeCeiling = 0.45
	adaptiveCeiling = 0.70
)

// Score computes the weighted complexity score in [0,1] from the
// current projection.
func (c *Config) Score(doc *concept.Document) float64 {
	stakeholders := float64(len(doc.Stakeholders)) / float64(c.StakeholderSaturation)
	if stakeholders > 1 {
		stakeholders = 1
	}
	score := c.Weights.StakeholderCount*stakeholders +
		c.Weights.OrgComplexity*clamp01(doc.OrgComplexity) +
		c.Weights.TechComplexity*clamp01(doc.TechComplexity) +
		c.Weights.Urgency*doc.Urgency.Weight()
	return clamp01(score)
}

// Classify maps a score to a mode. Scores within Band of any bucket
// boundary resolve to adaptive so a noisy score near an edge does not
// flap between neighbors.
func (c *Config) Classify(score float64) Mode {
	for _, boundary := range []float64{startupCeiling, creativeCeiling, adaptiveCeiling} {
		if score >= boundary-c.Band && score <= boundary+c.Band {
			return ModeAdaptive
		}
	}
	switch {
	case score < startupCeiling:
		return ModeStartup
	case score <= creativeCeiling:
		return ModeCreative
	case score <= adaptiveCeiling:
		return ModeAdaptive
	default:
		return ModeEnterprise
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
