package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
)

type fakePatterns struct {
	rate     float64
	samples  int
	found    bool
	degraded bool
	err      error
}

func (f *fakePatterns) Lookup(context.Context, string, string) (float64, int, bool, error) {
	return f.rate, f.samples, f.found, f.err
}

func (f *fakePatterns) Degraded() bool { return f.degraded }

// matureDoc is a fully developed concept.
func matureDoc() *concept.Document {
	return &concept.Document{
		Name: "FieldKit",
		Stakeholders: []concept.Stakeholder{
			{ID: "stk-1", Name: "Field Technician", Tier: concept.TierPrimary, Narrative: "Spends days off-grid."},
		},
		Stories: []concept.Story{
			{
				ID: "story-1", StakeholderID: "stk-1",
				CurrentSituation:   "Paper logs in the field.",
				EnhancedExperience: "Captures readings offline on a tablet.",
				ValueDelivered:     "No transcription loss.",
				SuccessIndicators:  []string{"zero lost readings"},
				Confirmed:          true,
			},
		},
		Challenges: []concept.Challenge{
			{
				ID: "ch-1", Scenario: "Two weeks without connectivity.", Severity: 7,
				Resolution: "Local queue with conflict-free sync.", ConceptDelta: "Added sync subsystem.",
			},
		},
		Enhancements: []concept.Enhancement{
			{ID: "en-1", Description: "Auto-tag readings by site.", Beneficiary: "stk-1", Mechanism: "GPS geofence."},
		},
	}
}

func TestStructuralProducer(t *testing.T) {
	p := &StructuralProducer{}

	sig, err := p.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sig.Score, 1e-9)

	sig, err = p.Evaluate(context.Background(), &Request{Doc: &concept.Document{}})
	require.NoError(t, err)
	assert.Less(t, sig.Score, 0.3)
	assert.Contains(t, sig.Rationale, "no stakeholders")
}

func TestHistoryProducer(t *testing.T) {
	p := &HistoryProducer{Patterns: &fakePatterns{rate: 0.8, samples: 10, found: true}}
	sig, err := p.Evaluate(context.Background(), &Request{Doc: matureDoc(), SessionID: "s1"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, sig.Score, 1e-9)

	p = &HistoryProducer{Patterns: &fakePatterns{}}
	sig, err = p.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.Equal(t, 0.5, sig.Score)

	// A degraded store caps optimistic history.
	p = &HistoryProducer{Patterns: &fakePatterns{rate: 0.9, samples: 10, found: true, degraded: true}}
	sig, err = p.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.Equal(t, 0.5, sig.Score)
}

func TestDocumentationProducer(t *testing.T) {
	p := &DocumentationProducer{}

	sig, err := p.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sig.Score, 1e-9)

	sig, err = p.Evaluate(context.Background(), &Request{Doc: &concept.Document{}})
	require.NoError(t, err)
	assert.Zero(t, sig.Score)
}

// Thin evidence pulls the alignment score toward neutral; a deep
// sample keeps it.
func TestPatternProducerSampleDownWeighting(t *testing.T) {
	thin := &PatternProducer{Patterns: &fakePatterns{rate: 0.9, samples: 1, found: true}, MinSamples: 3}
	sig, err := thin.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	// 0.5 + (0.9-0.5)*(1/3)
	assert.InDelta(t, 0.6333, sig.Score, 1e-3)

	deep := &PatternProducer{Patterns: &fakePatterns{rate: 0.9, samples: 50, found: true}, MinSamples: 3}
	sig, err = deep.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, sig.Score, 1e-9)
}

func TestPatternProducerNoMatch(t *testing.T) {
	p := &PatternProducer{Patterns: &fakePatterns{}, MinSamples: 3}
	sig, err := p.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.Equal(t, 0.5, sig.Score)
}

func TestTypeSafetyProducer(t *testing.T) {
	p := &TypeSafetyProducer{}

	sig, err := p.Evaluate(context.Background(), &Request{Doc: matureDoc()})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sig.Score, 1e-9)

	doc := matureDoc()
	doc.Challenges[0].ConceptDelta = ""
	doc.Stories[0].SuccessIndicators = nil
	sig, err = p.Evaluate(context.Background(), &Request{Doc: doc})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, sig.Score, 1e-9)
}

func TestDefaultProducersEndToEnd(t *testing.T) {
	patterns := &fakePatterns{rate: 0.95, samples: 20, found: true}
	e, err := NewEngine(DefaultConfig(), DefaultProducers(patterns, 3), nil)
	require.NoError(t, err)

	res, err := e.Evaluate(context.Background(), &Request{
		SessionID: "s1",
		Doc:       matureDoc(),
		Mode:      mode.ModeAdaptive,
	})
	require.NoError(t, err)
	assert.Len(t, res.Signals, 5)
	assert.True(t, res.GatePassed)
}
