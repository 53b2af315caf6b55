// Package deck plans study sessions and summarises a deck's progress.
package deck

import (
	"sort"
	"time"

	"github.com/conorfennell/knolsched/internal/datepolicy"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/policy"
)

// Status is the display classification of a card.
type Status int

const (
	Learning Status = iota // scheduled in the future, not yet mastered
	Overdue
	DueToday
	Mastered
	New
)

var statusNames = [...]string{Learning: "learning", Overdue: "overdue", DueToday: "due-today", Mastered: "mastered", New: "new"}

func (s Status) String() string {
	if s >= Learning && s <= New {
		return statusNames[s]
	}
	return "unknown"
}

// Stats summarises a deck at an instant.
type Stats struct {
	TotalCards        int
	ReadyCount        int
	MasteredCards     int
	MasteryPercentage float64
	TodayReviewCount  int
}

// Planner selects cards and computes statistics under a policy.
type Planner struct {
	masteryDays  float64
	moderateDays float64
	loc          *time.Location
}

// NewPlanner returns a planner using p's mastery threshold and timezone.
func NewPlanner(p policy.Policy) (*Planner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	loc, err := policy.LoadLocation(p.Timezone)
	if err != nil {
		return nil, err
	}
	return &Planner{masteryDays: p.MasteryIntervalDays, moderateDays: p.ModerateIntervalDays, loc: loc}, nil
}

// tier orders candidates for a session; lower is surfaced first.
type tier int

const (
	tierDue tier = iota
	tierNew
	tierModerate
	tierRest
)

func (pl *Planner) tierOf(c domain.Card, now time.Time) tier {
	switch {
	case c.NextReviewDate == nil:
		return tierNew
	case !c.NextReviewDate.After(now):
		return tierDue
	case c.Interval <= pl.moderateDays:
		return tierModerate
	default:
		return tierRest
	}
}

// SelectForSession returns the cards for a study session. Every due card is
// included, most overdue first. If that leaves fewer than minCount cards the
// session is filled from new cards, then scheduled cards with short intervals,
// then everything else, each group soonest first. Cards whose IDs are in
// excluded are never returned.
func (pl *Planner) SelectForSession(cards []domain.Card, minCount int, excluded map[string]bool, now time.Time) []domain.Card {
	var groups [tierRest + 1][]domain.Card
	for _, c := range cards {
		if excluded[c.ID] {
			continue
		}
		t := pl.tierOf(c, now)
		groups[t] = append(groups[t], c)
	}

	for t := range groups {
		g := groups[t]
		sort.SliceStable(g, func(i, j int) bool {
			a, b := g[i].NextReviewDate, g[j].NextReviewDate
			if a == nil || b == nil {
				return false
			}
			return a.Before(*b)
		})
	}

	selected := append([]domain.Card(nil), groups[tierDue]...)
	for t := tierNew; t <= tierRest; t++ {
		for _, c := range groups[t] {
			if len(selected) >= minCount {
				return selected
			}
			selected = append(selected, c)
		}
	}
	return selected
}

// CanStartSession reports whether the deck has at least one due or new card.
// A scheduling session should not start otherwise; free study is unaffected.
func (pl *Planner) CanStartSession(cards []domain.Card, now time.Time) bool {
	for _, c := range cards {
		if t := pl.tierOf(c, now); t == tierDue || t == tierNew {
			return true
		}
	}
	return false
}

// Stats computes the deck summary at now. An empty deck yields zero stats.
func (pl *Planner) Stats(cards []domain.Card, now time.Time) Stats {
	s := Stats{TotalCards: len(cards)}
	for _, c := range cards {
		if c.NextReviewDate == nil || !c.NextReviewDate.After(now) {
			s.ReadyCount++
		}
		if c.Interval >= pl.masteryDays {
			s.MasteredCards++
		}
		if c.LastReviewDate != nil && datepolicy.SameDay(*c.LastReviewDate, now, pl.loc) {
			s.TodayReviewCount++
		}
	}
	if s.TotalCards > 0 {
		s.MasteryPercentage = 100 * float64(s.MasteredCards) / float64(s.TotalCards)
	}
	return s
}

// Classify returns the status of a card at now. The first matching rule wins:
// overdue (due before today), due today, mastered (long interval and
// scheduled in the future), new (never reviewed nor scheduled). Anything else
// is Learning.
func (pl *Planner) Classify(c domain.Card, now time.Time) Status {
	if c.NextReviewDate != nil {
		next := *c.NextReviewDate
		if next.Before(datepolicy.StartOfDay(now, pl.loc)) {
			return Overdue
		}
		if next.Before(datepolicy.StartOfNextDay(now, pl.loc)) {
			return DueToday
		}
		if c.Interval >= pl.masteryDays && next.After(now) {
			return Mastered
		}
	}
	if c.ReviewCount == 0 && c.NextReviewDate == nil {
		return New
	}
	return Learning
}

// Counts tallies Classify over cards.
func (pl *Planner) Counts(cards []domain.Card, now time.Time) map[Status]int {
	out := make(map[Status]int)
	for _, c := range cards {
		out[pl.Classify(c, now)]++
	}
	return out
}
