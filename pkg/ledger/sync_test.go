package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/usageledger/pkg/ledger"
	"github.com/fluentvoice/usageledger/storage/memory"
)

func TestRehydration_RestoresUsage(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	ctx := context.Background()

	periodStart, periodEnd := ledger.CurrentPeriod(testEpoch)
	require.NoError(t, store.SavePeriod(ctx, &ledger.PeriodRecord{
		UserID:       "u1",
		Plan:         ledger.PlanBasic,
		MinutesLimit: 100,
		MinutesUsed:  37,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		SyncedAt:     testEpoch.Add(-time.Hour),
		Version:      12,
	}))

	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)

	status, err := d.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PlanBasic, status.Plan)
	assert.Equal(t, 37, status.MinutesUsed)
	assert.Equal(t, 63, status.MinutesRemaining)
	assert.Equal(t, periodStart, status.PeriodStart)
}

func TestRehydration_PolicyTableOverridesStoredLimit(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	ctx := context.Background()

	periodStart, periodEnd := ledger.CurrentPeriod(testEpoch)
	require.NoError(t, store.SavePeriod(ctx, &ledger.PeriodRecord{
		UserID:       "u1",
		Plan:         ledger.PlanFree,
		MinutesLimit: 999, // stale limit from before a policy change
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		SyncedAt:     testEpoch,
		Version:      1,
	}))

	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)

	status, err := d.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, status.MinutesLimit)
}

func TestRehydration_LoadFailureStartsCold(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := &failingStore{inner: memory.New(), failLoad: true}
	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)

	// The actor still answers, on default-plan state
	status, err := d.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PlanFree, status.Plan)
	assert.Equal(t, 0, status.MinutesUsed)
}

func TestRehydration_ExpiredStoredPeriodRollsOver(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	ctx := context.Background()

	// A July record left behind by a previous process
	julStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	julEnd := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SavePeriod(ctx, &ledger.PeriodRecord{
		UserID:       "u1",
		Plan:         ledger.PlanBasic,
		MinutesLimit: 100,
		MinutesUsed:  80,
		PeriodStart:  julStart,
		PeriodEnd:    julEnd,
		SyncedAt:     julEnd,
		Version:      9,
	}))

	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)

	chk, err := d.HasCredits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, chk.Remaining, "fresh allowance in the new month")

	old := store.Period("u1", julStart)
	require.NotNil(t, old)
	assert.True(t, old.Archived)
	assert.Equal(t, 80, old.MinutesUsed)
}

func TestWriteBack_PeriodicDuringSession(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	d := newTestDirectory(t, ledger.Config{
		Clock:        clk,
		SyncInterval: 20 * time.Millisecond,
	}, store)
	ctx := context.Background()

	_, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	base := store.SaveCount()

	require.Eventually(t, func() bool {
		return store.SaveCount() >= base+3
	}, 2*time.Second, 5*time.Millisecond, "timer should keep flushing while the session runs")
}

func TestWriteBack_IdleActorDoesNotTick(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	d := newTestDirectory(t, ledger.Config{
		Clock:        clk,
		SyncInterval: 20 * time.Millisecond,
	}, store)
	ctx := context.Background()

	start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	_, err = d.EndSession(ctx, "u1", start.SessionID, "")
	require.NoError(t, err)

	base := store.SaveCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, base, store.SaveCount(), "no writes without an active session")
}

func TestWriteBack_TimerReapsStaleSession(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	d := newTestDirectory(t, ledger.Config{
		Clock:        clk,
		SyncInterval: 20 * time.Millisecond,
	}, store)
	ctx := context.Background()

	start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)

	// No heartbeats arrive; the clock jumps past the reap threshold and the
	// next tick finalizes the session without any caller involved.
	clk.Advance(11 * time.Minute)

	require.Eventually(t, func() bool {
		rec := store.Session(start.SessionID)
		return rec != nil && rec.EndReason == ledger.EndReasonStale
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWriteBack_StoreFailureDoesNotSurface(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := &failingStore{inner: memory.New()}
	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)
	ctx := context.Background()

	store.setFailSave(true)

	start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = d.Heartbeat(ctx, "u1", start.SessionID)
	require.NoError(t, err)
	end, err := d.EndSession(ctx, "u1", start.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, end.MinutesUsed)

	// In-memory state stayed authoritative through the outage
	chk, err := d.HasCredits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 8, chk.Remaining)

	// Once the store recovers, the next flush lands
	store.setFailSave(false)
	start2, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	_, err = d.EndSession(ctx, "u1", start2.SessionID, "")
	require.NoError(t, err)

	periodStart, _ := ledger.CurrentPeriod(testEpoch)
	rec := store.inner.(*memory.Store).Period("u1", periodStart)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.MinutesUsed)
}

func TestWriteBack_StaleWriteSwallowed(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)
	ctx := context.Background()

	start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)

	// Another writer (a newer process generation) bumped the stored version
	// past ours. Our next flush loses the race and is dropped silently.
	periodStart, periodEnd := ledger.CurrentPeriod(testEpoch)
	require.NoError(t, store.SavePeriod(ctx, &ledger.PeriodRecord{
		UserID:       "u1",
		Plan:         ledger.PlanFree,
		MinutesLimit: 10,
		MinutesUsed:  5,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		SyncedAt:     testEpoch,
		Version:      1000,
	}))

	end, err := d.EndSession(ctx, "u1", start.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, end.MinutesUsed)

	// The conflicting row was not overwritten
	rec := store.Period("u1", periodStart)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1000), rec.Version)
	assert.Equal(t, 5, rec.MinutesUsed)
}

func TestWriteBack_VersionAdvancesWithMutations(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	d := newTestDirectory(t, ledger.Config{Clock: clk}, store)
	ctx := context.Background()

	periodStart, _ := ledger.CurrentPeriod(testEpoch)

	start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	_, err = d.EndSession(ctx, "u1", start.SessionID, "")
	require.NoError(t, err)
	first := store.Period("u1", periodStart)
	require.NotNil(t, first)

	start, err = d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	_, err = d.EndSession(ctx, "u1", start.SessionID, "")
	require.NoError(t, err)
	second := store.Period("u1", periodStart)
	require.NotNil(t, second)

	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, 2, second.MinutesUsed)
}

func TestClose_FlushesFinalState(t *testing.T) {
	clk := newFakeClock(testEpoch)
	store := memory.New()
	d, err := ledger.NewDirectory(store, ledger.Config{Clock: clk})
	require.NoError(t, err)
	ctx := context.Background()

	start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
	require.NoError(t, err)
	clk.Advance(3 * time.Minute)
	_, err = d.EndSession(ctx, "u1", start.SessionID, "")
	require.NoError(t, err)

	require.NoError(t, d.Close(ctx))

	periodStart, _ := ledger.CurrentPeriod(testEpoch)
	rec := store.Period("u1", periodStart)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.MinutesUsed)
}
