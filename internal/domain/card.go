package domain

import "time"

// Card is a flashcard with its scheduling state.
// ID is the content hash produced by knol.ID.
type Card struct {
	ID       string
	Question string
	Answer   string
	Context  string

	Interval         float64 // days until the next review
	DifficultyFactor float64
	ReviewCount      int
	CorrectCount     int        // consecutive due successes since the last lapse
	LastReviewDate   *time.Time // nil before the first response
	NextReviewDate   *time.Time // nil means never scheduled
}

// NewCard returns an unscheduled card: interval 1, the given starting factor,
// zero counts and no dates.
func NewCard(id, question, answer, context string, defaultFactor float64) Card {
	return Card{
		ID:               id,
		Question:         question,
		Answer:           answer,
		Context:          context,
		Interval:         1,
		DifficultyFactor: defaultFactor,
	}
}

// IsNew reports whether the card has never been scheduled.
func (c Card) IsNew() bool {
	return c.NextReviewDate == nil
}

// ReviewLog records a single response to a card.
// Quality holds the numeric quality code; LogOnly marks responses that did not
// change the schedule because the card was not yet due.
type ReviewLog struct {
	CardID    string
	Timestamp time.Time
	Quality   int
	LogOnly   bool
}
