// Package srs implements the spaced-repetition scheduling engine: an SM-2
// style rule set with early graduating steps, a soft cap on mature intervals
// and gentler lapses for long success streaks.
//
// The engine is pure. It never mutates the card it is handed and never fails;
// corrupt card state is replaced by a reset state before scheduling.
package srs

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knolsched/internal/datepolicy"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/policy"
)

// Result is the scheduling state computed for one response.
// When LogOnly is set the interval and factor are the card's own values and
// NextReviewDate is the card's existing date (zero if it had none).
type Result struct {
	Interval         float64
	DifficultyFactor float64
	NextReviewDate   time.Time
	LogOnly          bool
}

// Engine schedules cards under a fixed policy.
type Engine struct {
	policy policy.Policy
	loc    *time.Location
}

// NewEngine validates p and returns an engine bound to it.
func NewEngine(p policy.Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	loc, err := policy.LoadLocation(p.Timezone)
	if err != nil {
		return nil, err
	}
	p.EarlyGraduatingIntervals = append([]float64(nil), p.EarlyGraduatingIntervals...)
	return &Engine{policy: p, loc: loc}, nil
}

// Policy returns a copy of the engine's policy.
func (e *Engine) Policy() policy.Policy {
	p := e.policy
	p.EarlyGraduatingIntervals = append([]float64(nil), p.EarlyGraduatingIntervals...)
	return p
}

// Location returns the timezone used for calendar arithmetic.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// IsDue reports whether card should be scheduled rather than only logged:
// it has never been scheduled, or its review date is not after now.
func IsDue(card domain.Card, now time.Time) bool {
	return card.NextReviewDate == nil || !now.Before(*card.NextReviewDate)
}

// Apply computes the scheduling result for a response of quality q.
//
// A response to a card that is not due is log-only whatever the quality:
// interval and factor are returned unchanged. Unknown qualities are treated
// the same way.
func (e *Engine) Apply(card domain.Card, q Quality, isDue bool, now time.Time) Result {
	if !isDue || !q.IsValid() {
		r := Result{
			Interval:         card.Interval,
			DifficultyFactor: card.DifficultyFactor,
			LogOnly:          true,
		}
		if card.NextReviewDate != nil {
			r.NextReviewDate = *card.NextReviewDate
		}
		return r
	}

	c, _ := e.Sanitize(card)
	p := e.policy

	var interval, factor float64
	switch q {
	case Confident:
		if c.ReviewCount < len(p.EarlyGraduatingIntervals) {
			interval = p.EarlyGraduatingIntervals[c.ReviewCount]
		} else {
			interval = c.Interval * c.DifficultyFactor
		}
		interval = e.SoftCap(interval)
		factor = c.DifficultyFactor + p.ConfidentIncrease
	case Hesitant:
		interval = e.SoftCap(c.Interval * p.HesitantMultiplier)
		factor = c.DifficultyFactor + p.HesitantIncrease
	case Incorrect:
		multiplier := p.StandardLapseMultiplier
		if c.CorrectCount >= p.GentleLapseStreak {
			multiplier = p.GentleLapseMultiplier
		}
		interval = clamp(c.Interval*multiplier, p.LapseIntervalMin, p.LapseIntervalMax)
		factor = c.DifficultyFactor - p.IncorrectDecrease
	}

	interval = e.boundInterval(interval)
	factor = clamp(factor, p.MinFactor, p.MaxFactor)

	return Result{
		Interval:         interval,
		DifficultyFactor: factor,
		NextReviewDate:   datepolicy.NextReviewInstant(interval, now, e.loc),
	}
}

// Preview returns the result every quality would produce for card.
func (e *Engine) Preview(card domain.Card, isDue bool, now time.Time) map[Quality]Result {
	out := make(map[Quality]Result, len(Qualities))
	for _, q := range Qualities {
		out[q] = e.Apply(card, q, isDue, now)
	}
	return out
}

// Sanitize returns card with its scheduling fields replaced by a reset state
// (interval 1, default factor) when they are not usable, and reports whether
// that happened. Negative counts are raised to zero and the correct count is
// capped at the review count.
func (e *Engine) Sanitize(card domain.Card) (domain.Card, bool) {
	p := e.policy
	reset := false

	if math.IsNaN(card.Interval) || math.IsInf(card.Interval, 0) || card.Interval < 0 ||
		math.IsNaN(card.DifficultyFactor) ||
		card.DifficultyFactor < p.MinFactor || card.DifficultyFactor > p.MaxFactor ||
		card.ReviewCount < 0 || card.CorrectCount < 0 ||
		card.CorrectCount > card.ReviewCount {
		reset = true
		card.Interval = 1
		card.DifficultyFactor = p.DefaultFactor
	}
	if card.ReviewCount < 0 {
		card.ReviewCount = 0
	}
	if card.CorrectCount < 0 {
		card.CorrectCount = 0
	}
	if card.CorrectCount > card.ReviewCount {
		card.CorrectCount = card.ReviewCount
	}
	return card, reset
}

// SoftCap damps intervals beyond the soft cap threshold. The excess over the
// threshold is divided by a tapering factor that starts at the maximum
// difficulty factor and shrinks by 0.1 per year of excess, never below 1.1.
// Intervals at or below the threshold are returned unchanged. The function
// is continuous and strictly increasing. Multiplying the excess by the same
// factor would amplify it and stop being monotonic past ~15 years of excess.
func (e *Engine) SoftCap(interval float64) float64 {
	threshold := e.policy.SoftCapThresholdDays
	if !(interval > threshold) {
		return interval
	}
	excess := interval - threshold
	taper := math.Max(1.1, e.policy.MaxFactor-(excess/365)*0.1)
	return threshold + excess/taper
}

// boundInterval keeps due intervals inside [MinimumIntervalDays, MaximumIntervalDays].
func (e *Engine) boundInterval(interval float64) float64 {
	if math.IsNaN(interval) {
		return e.policy.MinimumIntervalDays
	}
	return clamp(interval, e.policy.MinimumIntervalDays, e.policy.MaximumIntervalDays)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// Record applies a response to card and returns the updated card. The review
// count and last review date always change. The schedule changes only for
// results that are not log-only; a due success extends the correct streak and
// a due lapse resets it.
func Record(card domain.Card, result Result, q Quality, now time.Time) domain.Card {
	if card.ReviewCount < 0 {
		card.ReviewCount = 0
	}
	card.ReviewCount++
	reviewed := now
	card.LastReviewDate = &reviewed

	if result.LogOnly {
		return card
	}

	card.Interval = result.Interval
	card.DifficultyFactor = result.DifficultyFactor
	next := result.NextReviewDate
	card.NextReviewDate = &next

	if q == Incorrect {
		card.CorrectCount = 0
	} else {
		card.CorrectCount++
	}
	if card.CorrectCount > card.ReviewCount {
		card.CorrectCount = card.ReviewCount
	}
	return card
}

// String is used in log lines.
func (r Result) String() string {
	if r.LogOnly {
		return "log-only"
	}
	return fmt.Sprintf("interval=%.2f factor=%.2f next=%s", r.Interval, r.DifficultyFactor, r.NextReviewDate.Format(time.RFC3339))
}
