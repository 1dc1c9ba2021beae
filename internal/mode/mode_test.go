package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Weights.Urgency = 0.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWeights)

	bad = DefaultConfig()
	bad.Band = 0.2
	assert.ErrorIs(t, bad.Validate(), ErrInvalidBand)

	bad = DefaultConfig()
	bad.StakeholderSaturation = 0
	assert.Error(t, bad.Validate())
}

func TestScore(t *testing.T) {
	cfg := DefaultConfig()

	assert.Zero(t, cfg.Score(&concept.Document{Urgency: concept.UrgencyLow}))

	doc := &concept.Document{
		Stakeholders:   make([]concept.Stakeholder, 8),
		OrgComplexity:  1,
		TechComplexity: 1,
		Urgency:        concept.UrgencyCritical,
	}
	assert.InDelta(t, 1.0, cfg.Score(doc), 1e-9)

	// 4 of 8 stakeholders, mid complexity, moderate urgency:
	// 0.35*0.5 + 0.25*0.5 + 0.25*0.5 + 0.15*0.4 = 0.485.
	doc = &concept.Document{
		Stakeholders:   make([]concept.Stakeholder, 4),
		OrgComplexity:  0.5,
		TechComplexity: 0.5,
		Urgency:        concept.UrgencyModerate,
	}
	assert.InDelta(t, 0.485, cfg.Score(doc), 1e-9)
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score float64
		want  Mode
	}{
		{0.05, ModeStartup},
		{0.26, ModeStartup},
		{0.28, ModeAdaptive}, // within band of 0.30
		{0.32, ModeAdaptive}, // within band of 0.30
		{0.38, ModeCreative},
		{0.44, ModeAdaptive}, // within band of 0.45
		{0.47, ModeAdaptive}, // boundary band resolves to adaptive
		{0.55, ModeAdaptive},
		{0.69, ModeAdaptive}, // within band of 0.70
		{0.74, ModeEnterprise},
		{0.95, ModeEnterprise},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Classify(tt.score), "score %.2f", tt.score)
	}
}

func TestEvaluateEscalatesUpAutomatically(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), nil)
	require.NoError(t, err)

	small := &concept.Document{
		Stakeholders: make([]concept.Stakeholder, 1),
		Urgency:      concept.UrgencyLow,
	}
	d := e.Evaluate("s1", small, "")
	assert.Equal(t, ModeStartup, d.Mode)
	assert.False(t, d.Escalated)

	big := &concept.Document{
		Stakeholders:   make([]concept.Stakeholder, 8),
		OrgComplexity:  0.9,
		TechComplexity: 0.9,
		Urgency:        concept.UrgencyCritical,
	}
	d = e.Evaluate("s1", big, "")
	assert.Equal(t, ModeEnterprise, d.Mode)
	assert.True(t, d.Escalated)
}

func TestEvaluateDowngradeNeedsConfirmation(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), nil)
	require.NoError(t, err)

	big := &concept.Document{
		Stakeholders:   make([]concept.Stakeholder, 8),
		OrgComplexity:  0.9,
		TechComplexity: 0.9,
		Urgency:        concept.UrgencyCritical,
	}
	d := e.Evaluate("s1", big, "")
	require.Equal(t, ModeEnterprise, d.Mode)

	small := &concept.Document{
		Stakeholders: make([]concept.Stakeholder, 1),
		Urgency:      concept.UrgencyLow,
	}
	d = e.Evaluate("s1", small, "")
	assert.Equal(t, ModeEnterprise, d.Mode)
	assert.Equal(t, ModeStartup, d.Recommended)
	assert.Equal(t, ModeStartup, d.PendingDowngrade)

	got, err := e.ConfirmDowngrade("s1")
	require.NoError(t, err)
	assert.Equal(t, ModeStartup, got)

	cur, ok := e.Current("s1")
	require.True(t, ok)
	assert.Equal(t, ModeStartup, cur)

	_, err = e.ConfirmDowngrade("s1")
	assert.ErrorIs(t, err, ErrNoPendingDowngrade)
}

func TestDeclaredModeWins(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), nil)
	require.NoError(t, err)

	big := &concept.Document{
		Stakeholders:   make([]concept.Stakeholder, 8),
		OrgComplexity:  0.9,
		TechComplexity: 0.9,
		Urgency:        concept.UrgencyCritical,
	}
	d := e.Evaluate("s1", big, ModeStartup)
	assert.Equal(t, ModeStartup, d.Mode)
	assert.Equal(t, ModeEnterprise, d.Recommended)
	assert.Empty(t, d.PendingDowngrade)
}

func TestForget(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), nil)
	require.NoError(t, err)
	e.Evaluate("s1", &concept.Document{}, "")
	e.Forget("s1")
	_, ok := e.Current("s1")
	assert.False(t, ok)
}
