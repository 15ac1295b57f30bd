package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/usageledger/pkg/ledger"
	"github.com/fluentvoice/usageledger/storage/memory"
)

// testEpoch is a mid-month instant so rollover never triggers by accident.
var testEpoch = time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDirectory(t *testing.T, cfg ledger.Config, store ledger.Store) *ledger.Directory {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	d, err := ledger.NewDirectory(store, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

// failingStore wraps another store with switchable failures.
type failingStore struct {
	inner    ledger.Store
	mu       sync.Mutex
	failSave bool
	failLoad bool
}

type storeError struct{ op string }

func (e *storeError) Error() string { return e.op + " unavailable" }

func (f *failingStore) setFailSave(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSave = v
}

func (f *failingStore) LoadCurrentPeriod(ctx context.Context, userID string) (*ledger.PeriodRecord, error) {
	f.mu.Lock()
	fail := f.failLoad
	f.mu.Unlock()
	if fail {
		return nil, &storeError{op: "load"}
	}
	return f.inner.LoadCurrentPeriod(ctx, userID)
}

func (f *failingStore) SavePeriod(ctx context.Context, rec *ledger.PeriodRecord) error {
	f.mu.Lock()
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return &storeError{op: "save"}
	}
	return f.inner.SavePeriod(ctx, rec)
}

func (f *failingStore) CreateSession(ctx context.Context, rec *ledger.SessionRecord) error {
	return f.inner.CreateSession(ctx, rec)
}

func (f *failingStore) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, minutesUsed int, reason ledger.EndReason) error {
	return f.inner.FinalizeSession(ctx, sessionID, endedAt, minutesUsed, reason)
}
