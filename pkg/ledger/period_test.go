package ledger

import (
	"testing"
	"time"
)

func TestCurrentPeriod(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			now:       time.Date(2026, 8, 15, 13, 45, 0, 0, time.UTC),
			wantStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "first instant of month",
			now:       time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "february non-leap",
			now:       time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "february leap",
			now:       time.Date(2028, 2, 29, 23, 0, 0, 0, time.UTC),
			wantStart: time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "december",
			now:       time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := CurrentPeriod(tt.now)
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestPeriodExpired(t *testing.T) {
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	// The whole last calendar day is inside the period
	if periodExpired(time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC), end) {
		t.Error("last day of period must not be expired")
	}
	if !periodExpired(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), end) {
		t.Error("first instant past period end must be expired")
	}
	if periodExpired(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), end) {
		t.Error("period start must not be expired")
	}
}

func TestCeilMinutes(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{59 * time.Second, 1},
		{60 * time.Second, 1},
		{60*time.Second + time.Millisecond, 2},
		{120 * time.Second, 2},
		{3 * time.Minute, 3},
	}
	for _, tt := range tests {
		if got := ceilMinutes(tt.d); got != tt.want {
			t.Errorf("ceilMinutes(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestBilledMinutes(t *testing.T) {
	// Final billing never goes below one minute
	if got := billedMinutes(0); got != 1 {
		t.Errorf("billedMinutes(0) = %d, want 1", got)
	}
	if got := billedMinutes(time.Millisecond); got != 1 {
		t.Errorf("billedMinutes(1ms) = %d, want 1", got)
	}
	if got := billedMinutes(2 * time.Minute); got != 2 {
		t.Errorf("billedMinutes(2m) = %d, want 2", got)
	}
}
