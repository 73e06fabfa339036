package lab

import (
	"fmt"
	"strings"
	"time"
)

// ViewMode selects the temporal test applied before role scoping.
type ViewMode string

const (
	ViewAll       ViewMode = "ALL"
	ViewActiveNow ViewMode = "ACTIVE_NOW"
	ViewToday     ViewMode = "TODAY"
)

// ParseViewMode accepts "all", "active_now" or "today" in any case.
// An empty string selects ViewAll.
func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return ViewAll, nil
	case ViewAll, ViewActiveNow, ViewToday:
		return m, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// IsActiveAt reports whether instant falls inside the lab's complete schedule
// window or inside any complete session, both ends inclusive.
func IsActiveAt(l *Lab, instant time.Time) bool {
	if w := l.Schedule; w != nil && w.Complete() && within(instant, *w.ExpectedStart, *w.ExpectedEnd) {
		return true
	}
	for _, s := range l.Sessions {
		if s.Complete() && within(instant, *s.ActualStart, *s.ActualEnd) {
			return true
		}
	}
	return false
}

// IsOccurringOn reports whether the schedule start or any session start falls
// on the calendar date of day, evaluated in day's location. End timestamps are
// never consulted.
func IsOccurringOn(l *Lab, day time.Time) bool {
	if w := l.Schedule; w != nil && w.ExpectedStart != nil && sameDate(*w.ExpectedStart, day) {
		return true
	}
	for _, s := range l.Sessions {
		if s.ActualStart != nil && sameDate(*s.ActualStart, day) {
			return true
		}
	}
	return false
}

// Qualifies applies the temporal test for mode. now supplies both the instant
// for ViewActiveNow and the date for ViewToday.
func Qualifies(l *Lab, mode ViewMode, now time.Time) bool {
	switch mode {
	case ViewActiveNow:
		return IsActiveAt(l, now)
	case ViewToday:
		return IsOccurringOn(l, now)
	default:
		return true
	}
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func sameDate(t, day time.Time) bool {
	y1, m1, d1 := t.In(day.Location()).Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
