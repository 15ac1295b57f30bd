package ledger

import "time"

// CurrentPeriod returns the calendar-month billing window containing now.
// Start is UTC midnight of the first day, End is UTC midnight of the last day;
// both bounds are inclusive at date granularity.
func CurrentPeriod(now time.Time) (start, end time.Time) {
	n := now.UTC()
	start = time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC)
	// day 0 of the next month is the last day of this month
	end = time.Date(n.Year(), n.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	return start, end
}

// periodExpired reports whether now has moved past the inclusive period end.
// The end bound covers the whole last calendar day.
func periodExpired(now, end time.Time) bool {
	return !now.UTC().Before(end.AddDate(0, 0, 1))
}

// ceilMinutes converts an elapsed duration to whole minutes, rounding up.
// A zero or negative duration yields 0.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}

// billedMinutes is ceilMinutes with a floor of one minute, the rounding used
// for final session billing.
func billedMinutes(d time.Duration) int {
	m := ceilMinutes(d)
	if m < 1 {
		m = 1
	}
	return m
}
