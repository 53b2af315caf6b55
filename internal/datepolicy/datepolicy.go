// Package datepolicy turns scheduling intervals into calendar instants.
//
// Every review instant is anchored to local noon and computed with calendar-day
// arithmetic, so a one day interval lands on tomorrow's wall-clock date even when
// a DST transition shortens or lengthens the day in between.
package datepolicy

import (
	"math"
	"time"
)

// ReviewHour is the local hour every scheduled review is anchored to.
const ReviewHour = 12

// RoundDays rounds an interval to whole days, halves rounding up.
func RoundDays(interval float64) int {
	if math.IsNaN(interval) || interval <= 0 {
		return 0
	}
	if interval >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(interval + 0.5))
}

// NextReviewInstant returns local noon of now's calendar day in loc, moved forward
// by interval rounded to whole days.
func NextReviewInstant(interval float64, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+RoundDays(interval), ReviewHour, 0, 0, 0, loc)
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// StartOfNextDay returns local midnight of the calendar day after t.
func StartOfNextDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayKey formats t's local calendar day as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}
