package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// foundationDoc satisfies the LEVEL_1 checklist.
func foundationDoc() *concept.Document {
	return &concept.Document{
		Stakeholders: []concept.Stakeholder{
			{ID: "stk-1", Name: "Field Technician", Tier: concept.TierPrimary},
		},
		Stories: []concept.Story{
			{ID: "story-1", StakeholderID: "stk-1", CurrentSituation: "Paper logs in the field.", Confirmed: true},
		},
	}
}

// completeDoc satisfies every checklist.
func completeDoc() *concept.Document {
	doc := foundationDoc()
	doc.Challenges = []concept.Challenge{
		{ID: "ch-1", Scenario: "No connectivity for days.", Severity: 7, Resolution: "Local queue with sync."},
	}
	doc.Enhancements = []concept.Enhancement{
		{ID: "en-1", Description: "Auto-tag readings by site.", Beneficiary: "stk-1", Mechanism: "GPS geofence."},
	}
	return doc
}

func TestAdvanceHappyPath(t *testing.T) {
	s := New("")
	doc := completeDoc()

	want := []Phase{PhaseStressTest, PhaseEnhancement, PhaseComplete}
	for _, target := range want {
		tr, err := s.Advance(doc)
		require.NoError(t, err)
		assert.Equal(t, target, tr.To)
		assert.False(t, tr.Forced)
	}
	assert.Equal(t, PhaseComplete, s.Phase())
	assert.Len(t, s.Transitions(), 3)
}

func TestAdvanceChecklist(t *testing.T) {
	tests := []struct {
		name    string
		doc     *concept.Document
		missing string
	}{
		{"no stakeholders", &concept.Document{}, "at least one stakeholder"},
		{
			"unconfirmed story",
			&concept.Document{
				Stakeholders: []concept.Stakeholder{{ID: "stk-1", Name: "n", Tier: concept.TierPrimary}},
				Stories:      []concept.Story{{ID: "story-1", StakeholderID: "stk-1", CurrentSituation: "x"}},
			},
			"at least one confirmed story",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("")
			_, err := s.Advance(tt.doc)
			var ste *StateTransitionError
			require.ErrorAs(t, err, &ste)
			assert.Equal(t, PhaseFoundation, ste.From)
			assert.Equal(t, PhaseStressTest, ste.To)
			assert.Contains(t, ste.Missing, tt.missing)
			assert.Equal(t, PhaseFoundation, s.Phase())
		})
	}
}

func TestAdvanceStressTestRequiresResolvedChallenge(t *testing.T) {
	s := New("")
	doc := foundationDoc()
	_, err := s.Advance(doc)
	require.NoError(t, err)

	doc.Challenges = []concept.Challenge{
		{ID: "ch-1", Scenario: "Outage", Severity: 5},
	}
	_, err = s.Advance(doc)
	var ste *StateTransitionError
	require.ErrorAs(t, err, &ste)
	assert.Contains(t, ste.Missing, "at least one challenge with a resolution")

	doc.Challenges[0].Resolution = "Queue and retry."
	_, err = s.Advance(doc)
	require.NoError(t, err)
	assert.Equal(t, PhaseEnhancement, s.Phase())
}

func TestAdvanceOnCompleteIsNoOp(t *testing.T) {
	s := New("")
	doc := completeDoc()
	for i := 0; i < 3; i++ {
		_, err := s.Advance(doc)
		require.NoError(t, err)
	}
	require.Equal(t, PhaseComplete, s.Phase())

	tr, err := s.Advance(doc)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, tr.From)
	assert.Equal(t, PhaseComplete, tr.To)
	assert.Len(t, s.Transitions(), 3)
}

func TestForceTransition(t *testing.T) {
	s := New("")
	doc := completeDoc()
	_, err := s.Advance(doc)
	require.NoError(t, err)
	_, err = s.Advance(doc)
	require.NoError(t, err)
	require.Equal(t, PhaseEnhancement, s.Phase())

	// Backward jump with a mandatory reason.
	tr, err := s.Force(PhaseFoundation, "stakeholder model was wrong")
	require.NoError(t, err)
	assert.True(t, tr.Forced)
	assert.Equal(t, "stakeholder model was wrong", tr.Reason)
	assert.Equal(t, PhaseFoundation, s.Phase())

	_, err = s.Force(PhaseComplete, "")
	assert.ErrorIs(t, err, ErrEmptyReason)

	_, err = s.Force(PhaseAbandoned, "nope")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = s.Force(Phase("LEVEL_9"), "nope")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestTerminalStatesRejectMutation(t *testing.T) {
	s := New("")
	_, err := s.Abandon("customer walked away")
	require.NoError(t, err)
	require.Equal(t, PhaseAbandoned, s.Phase())
	assert.False(t, s.Writable())

	_, err = s.Advance(completeDoc())
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = s.Force(PhaseFoundation, "retry")
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = s.Abandon("again")
	assert.ErrorIs(t, err, ErrTerminal)

	// Reads still succeed.
	assert.Equal(t, PhaseAbandoned, s.Phase())
	assert.Len(t, s.Transitions(), 1)
}

func TestAbandonRequiresReason(t *testing.T) {
	s := New("")
	_, err := s.Abandon("")
	assert.ErrorIs(t, err, ErrEmptyReason)
	assert.Equal(t, PhaseFoundation, s.Phase())
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  float64
		max  float64
	}{
		{"empty", "", 0, 0},
		{"neutral", "Tell me about the technician's day.", 0, 0},
		{"soft", "Looks good to me.", 0.25, 0.25},
		{"strong", "That captures it, ready to move to the next phase.", 0.5, 1},
		{"hold overrides", "Looks good, but wait, one more thing.", 0, 0},
		{"capped", "Looks good, makes sense, confirmed, proceed, ready to move on.", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Readiness(tt.text)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

// Random mixes of turns and advances must never move the phase
// backward without a force.
func TestPhaseNeverMovesBackwardWithoutForce(t *testing.T) {
	s := New("")
	docs := []*concept.Document{{}, foundationDoc(), completeDoc()}
	last := phaseOrder[s.Phase()]
	for i := 0; i < 200; i++ {
		_, err := s.Advance(docs[i%len(docs)])
		if err != nil {
			var ste *StateTransitionError
			require.ErrorAs(t, err, &ste)
		}
		cur := phaseOrder[s.Phase()]
		require.GreaterOrEqual(t, cur, last)
		last = cur
	}
}
