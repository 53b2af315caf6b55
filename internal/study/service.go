// Package study applies user responses to stored cards.
//
// A scheduled response passes through the operation ledger, so a retried
// delivery of the same action changes nothing. Free study skips the ledger:
// every response in that mode is processed on its own.
package study

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/ledger"
	"github.com/conorfennell/knolsched/internal/memo"
	"github.com/conorfennell/knolsched/internal/srs"
)

var (
	// ErrMissingOperationID is returned when a scheduled response carries no id.
	ErrMissingOperationID = errors.New("study: missing operation id")
	// ErrNothingDue is returned when a session is requested for a deck with no due or new cards.
	ErrNothingDue = errors.New("study: no cards are due")
)

// Store is the persistent card store.
type Store interface {
	FindCard(id string) (domain.Card, error)
	AllCards() ([]domain.Card, error)
	SaveReview(card domain.Card, log domain.ReviewLog) error
}

// Outcome describes what a response did.
type Outcome struct {
	// Processed is false when the operation id had already been handled.
	Processed bool
	Result    srs.Result
	Card      domain.Card
}

// Service wires the engine to a store.
type Service struct {
	engine    *srs.Engine
	scheduler memo.Scheduler
	cache     *memo.Cached
	ledger    *ledger.Ledger
	planner   *deck.Planner
	store     Store
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache memoizes engine results in c.
func WithCache(c *memo.Cache) Option {
	return func(s *Service) {
		s.cache = memo.Wrap(s.engine, c)
		s.scheduler = s.cache
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService returns a Service using engine for scheduling, l for
// deduplication and planner for session selection.
func NewService(engine *srs.Engine, l *ledger.Ledger, planner *deck.Planner, store Store, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		scheduler: engine,
		ledger:    l,
		planner:   planner,
		store:     store,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOperationID returns a fresh id for one user action.
func NewOperationID() string {
	return uuid.NewString()
}

// Respond applies a scheduled response identified by opID. Replays of an
// opID that was already handled return an Outcome with Processed false.
func (s *Service) Respond(opID, cardID string, q srs.Quality) (Outcome, error) {
	if opID == "" {
		return Outcome{}, ErrMissingOperationID
	}
	if !q.IsValid() {
		return Outcome{}, fmt.Errorf("%w: %d", srs.ErrInvalidQuality, int(q))
	}
	if !s.ledger.ShouldProcess(opID) {
		s.logger.Debug("duplicate operation ignored", "op", opID, "card", cardID)
		return Outcome{}, nil
	}

	out, err := s.process(cardID, q, "op", opID)
	if err != nil {
		s.ledger.Forget(opID)
		return Outcome{}, err
	}
	return out, nil
}

// FreeStudy applies a response outside a scheduled session, without
// deduplication. Cards that are not due are only logged.
func (s *Service) FreeStudy(cardID string, q srs.Quality) (Outcome, error) {
	if !q.IsValid() {
		return Outcome{}, fmt.Errorf("%w: %d", srs.ErrInvalidQuality, int(q))
	}
	return s.process(cardID, q, "mode", "free")
}

func (s *Service) process(cardID string, q srs.Quality, attrs ...any) (Outcome, error) {
	card, err := s.store.FindCard(cardID)
	if err != nil {
		return Outcome{}, fmt.Errorf("respond to card %s: %w", cardID, err)
	}

	now := s.now()
	isDue := srs.IsDue(card, now)
	// A reset is stored even when the response is log-only, so an unusable
	// schedule does not survive until the card next falls due.
	sanitized, reset := s.engine.Sanitize(card)
	if reset {
		s.logger.Warn("invalid schedule reset",
			"card", card.ID,
			"interval", card.Interval,
			"factor", card.DifficultyFactor,
			"reviews", card.ReviewCount,
			"correct", card.CorrectCount,
			"due", isDue,
		)
	}
	card = sanitized

	result := s.scheduler.Apply(card, q, isDue, now)
	updated := srs.Record(card, result, q, now)

	log := domain.ReviewLog{
		CardID:    card.ID,
		Timestamp: now,
		Quality:   q.Code(),
		LogOnly:   result.LogOnly,
	}
	if err := s.store.SaveReview(updated, log); err != nil {
		return Outcome{}, fmt.Errorf("respond to card %s: %w", cardID, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(card.ID)
	}

	s.logger.Info("review applied", append([]any{
		"card", card.ID,
		"quality", q.String(),
		"log_only", result.LogOnly,
		"interval", updated.Interval,
		"factor", updated.DifficultyFactor,
		"next_review", updated.NextReviewDate,
	}, attrs...)...)

	return Outcome{Processed: true, Result: result, Card: updated}, nil
}

// Preview returns what each quality would schedule for a card right now.
func (s *Service) Preview(cardID string) (map[srs.Quality]srs.Result, error) {
	card, err := s.store.FindCard(cardID)
	if err != nil {
		return nil, fmt.Errorf("preview card %s: %w", cardID, err)
	}
	now := s.now()
	isDue := srs.IsDue(card, now)
	card, _ = s.engine.Sanitize(card)
	return s.engine.Preview(card, isDue, now), nil
}

// Session returns the cards for a scheduled session of at least minCount
// cards. It returns ErrNothingDue when the deck has no due or new card.
func (s *Service) Session(minCount int, excluded map[string]bool) ([]domain.Card, error) {
	cards, err := s.store.AllCards()
	if err != nil {
		return nil, fmt.Errorf("plan session: %w", err)
	}
	now := s.now()
	if !s.planner.CanStartSession(cards, now) {
		return nil, ErrNothingDue
	}
	return s.planner.SelectForSession(cards, minCount, excluded, now), nil
}

// Stats returns the deck summary and per-status counts.
func (s *Service) Stats() (deck.Stats, map[deck.Status]int, error) {
	cards, err := s.store.AllCards()
	if err != nil {
		return deck.Stats{}, nil, fmt.Errorf("deck stats: %w", err)
	}
	now := s.now()
	return s.planner.Stats(cards, now), s.planner.Counts(cards, now), nil
}
