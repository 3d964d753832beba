package models

import "time"

// TimeWindows bundles the duration thresholds governing meeting visibility,
// joining and cancellation.
type TimeWindows struct {
	DefaultDuration time.Duration
	CancelLock      time.Duration
	JoinOpensBefore time.Duration
	JoinClosesAfter time.Duration
	UpcomingGrace   time.Duration
}

// DefaultTimeWindows returns the standard thresholds: 2h default duration,
// 24h cancellation lock, join window from 15m before to 3h after start, and
// a 3h grace period during which a started meeting still counts as upcoming.
func DefaultTimeWindows() TimeWindows {
	return TimeWindows{
		DefaultDuration: 2 * time.Hour,
		CancelLock:      24 * time.Hour,
		JoinOpensBefore: 15 * time.Minute,
		JoinClosesAfter: 3 * time.Hour,
		UpcomingGrace:   3 * time.Hour,
	}
}

// ResolveStart returns the meeting's start instant, preferring the explicit
// start time and falling back to the calendar date. The second return value
// is false when neither resolves.
func ResolveStart(m *Meeting) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	if m.StartAt != nil && !m.StartAt.IsZero() {
		return *m.StartAt, true
	}
	if !m.Date.IsZero() {
		return m.Date, true
	}
	return time.Time{}, false
}

// ResolveEnd returns the end instant derived from the start and duration,
// assuming the default duration when none is recorded.
func (w TimeWindows) ResolveEnd(m *Meeting) (time.Time, bool) {
	start, ok := ResolveStart(m)
	if !ok {
		return time.Time{}, false
	}
	d := time.Duration(m.DurationMinutes) * time.Minute
	if d <= 0 {
		d = w.DefaultDuration
	}
	return start.Add(d), true
}

// IsUpcoming reports whether the meeting should still appear in upcoming
// lists. Terminal meetings never do; others stay visible while their start
// is unresolved or no further in the past than the grace window.
func (w TimeWindows) IsUpcoming(m *Meeting, now time.Time) bool {
	if m == nil || m.Status.Terminal() {
		return false
	}
	start, ok := ResolveStart(m)
	if !ok {
		return true
	}
	return !start.Before(now.Add(-w.UpcomingGrace))
}

// CanJoinNow reports whether the join window is open: it opens shortly
// before start and stays open for late joins after it.
func (w TimeWindows) CanJoinNow(m *Meeting, now time.Time) bool {
	start, ok := ResolveStart(m)
	if !ok {
		return false
	}
	until := start.Sub(now)
	return until <= w.JoinOpensBefore && until >= -w.JoinClosesAfter
}

// IsCancelLocked reports whether the meeting is inside the cancellation lock
// window. An unresolvable start is treated as not locked.
func (w TimeWindows) IsCancelLocked(m *Meeting, now time.Time) bool {
	start, ok := ResolveStart(m)
	if !ok {
		return false
	}
	return start.Sub(now) < w.CancelLock
}

// Overlaps reports whether two half-open intervals on the same calendar day
// intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !sameDay(aStart, bStart) {
		return false
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
