package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
	"github.com/fyrsmithlabs/conceptd/internal/session"
)

func newTestService(t *testing.T, path string) Service {
	t.Helper()
	svc, err := NewService(&Config{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func snapshotFixture() *concept.Document {
	return &concept.Document{
		Name:        "FieldKit",
		Description: "Offline-first data capture for utility crews.",
		Stakeholders: []concept.Stakeholder{
			{ID: "stk-1", Name: "Field Technician", Tier: concept.TierPrimary,
				PainPoints: []string{"transcription loss"}, Goals: []string{"capture once"}},
		},
		Stories: []concept.Story{
			{ID: "story-1", StakeholderID: "stk-1",
				CurrentSituation:  "Paper logs in the field.",
				SuccessIndicators: []string{"zero lost readings"},
				Confirmed:         true},
		},
		Challenges: []concept.Challenge{
			{ID: "ch-1", Scenario: "No connectivity.", Severity: 7,
				Resolution: "Local queue.", AffectedStakeholders: []string{"stk-1"}},
		},
		Urgency: concept.UrgencyHigh,
	}
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	snap := snapshotFixture()
	cp, err := svc.Save(ctx, &SaveRequest{
		SessionID:    "sess-1",
		Phase:        session.PhaseFoundation,
		EventVersion: 4,
		Snapshot:     snap,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, FormatVersion, cp.FormatVersion)

	got, err := svc.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.SessionID, got.SessionID)
	assert.Equal(t, cp.Phase, got.Phase)
	assert.Equal(t, 4, got.EventVersion)
	assert.Equal(t, snap, got.Snapshot)
}

func TestSaveIsWriteOncePerBoundary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	req := &SaveRequest{
		SessionID: "sess-1",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	}
	_, err := svc.Save(ctx, req)
	require.NoError(t, err)

	_, err = svc.Save(ctx, req)
	var exists *AlreadyExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "sess-1", exists.SessionID)
	assert.Equal(t, session.PhaseFoundation, exists.Phase)

	// A different phase for the same session is a new boundary.
	req.Phase = session.PhaseStressTest
	_, err = svc.Save(ctx, req)
	require.NoError(t, err)
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	_, err := svc.Save(ctx, &SaveRequest{Phase: session.PhaseFoundation, Snapshot: snapshotFixture()})
	assert.ErrorIs(t, err, ErrEmptySessionID)

	_, err = svc.Save(ctx, &SaveRequest{SessionID: "s", Phase: "LEVEL_9", Snapshot: snapshotFixture()})
	assert.ErrorIs(t, err, session.ErrUnknownPhase)

	_, err = svc.Save(ctx, &SaveRequest{SessionID: "s", Phase: session.PhaseFoundation})
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestSaveCancelledContext(t *testing.T) {
	svc := newTestService(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Save(ctx, &SaveRequest{
		SessionID: "sess-1",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	})
	require.ErrorIs(t, err, context.Canceled)

	// Nothing partial was stored; the boundary remains free.
	_, err = svc.Save(context.Background(), &SaveRequest{
		SessionID: "sess-1",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	})
	require.NoError(t, err)
}

func TestListOrdersByPhase(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "")

	phases := []session.Phase{session.PhaseStressTest, session.PhaseFoundation, session.PhaseEnhancement}
	for i, p := range phases {
		_, err := svc.Save(ctx, &SaveRequest{
			SessionID:    "sess-1",
			Phase:        p,
			EventVersion: i,
			Snapshot:     snapshotFixture(),
		})
		require.NoError(t, err)
	}
	_, err := svc.Save(ctx, &SaveRequest{
		SessionID: "sess-2",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	})
	require.NoError(t, err)

	got, err := svc.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, session.PhaseFoundation, got[0].Phase)
	assert.Equal(t, session.PhaseStressTest, got[1].Phase)
	assert.Equal(t, session.PhaseEnhancement, got[2].Phase)
}

func TestGetNotFound(t *testing.T) {
	svc := newTestService(t, "")
	_, err := svc.Save(context.Background(), &SaveRequest{
		SessionID: "sess-1",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteOnceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	svc := newTestService(t, dir)
	cp, err := svc.Save(ctx, &SaveRequest{
		SessionID: "sess-1",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	reopened := newTestService(t, dir)
	got, err := reopened.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.Snapshot, got.Snapshot)

	_, err = reopened.Save(ctx, &SaveRequest{
		SessionID: "sess-1",
		Phase:     session.PhaseFoundation,
		Snapshot:  snapshotFixture(),
	})
	var exists *AlreadyExistsError
	assert.ErrorAs(t, err, &exists)
}

func TestClosedService(t *testing.T) {
	svc := newTestService(t, "")
	require.NoError(t, svc.Close())

	_, err := svc.Save(context.Background(), &SaveRequest{
		SessionID: "s", Phase: session.PhaseFoundation, Snapshot: snapshotFixture(),
	})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.List(context.Background(), "s")
	assert.ErrorIs(t, err, ErrClosed)
}
