package study

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/ledger"
	"github.com/conorfennell/knolsched/internal/memo"
	"github.com/conorfennell/knolsched/internal/policy"
	"github.com/conorfennell/knolsched/internal/srs"
	"github.com/conorfennell/knolsched/internal/storage"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store down")

type memStore struct {
	mu      sync.Mutex
	cards   map[string]domain.Card
	logs    []domain.ReviewLog
	failing bool
}

func newMemStore(cards ...domain.Card) *memStore {
	s := &memStore{cards: make(map[string]domain.Card)}
	for _, c := range cards {
		s.cards[c.ID] = c
	}
	return s
}

func (s *memStore) FindCard(id string) (domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return domain.Card{}, fmt.Errorf("%w: %s", storage.ErrCardNotFound, id)
	}
	return c, nil
}

func (s *memStore) AllCards() ([]domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Card, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) SaveReview(card domain.Card, log domain.ReviewLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.cards[card.ID] = card
	s.logs = append(s.logs, log)
	return nil
}

type fixture struct {
	svc    *Service
	store  *memStore
	engine *srs.Engine
	now    time.Time
}

func newFixture(t *testing.T, cards ...domain.Card) *fixture {
	t.Helper()
	p := policy.Default()
	p.Timezone = "UTC"
	engine, err := srs.NewEngine(p)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	planner, err := deck.NewPlanner(p)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	f := &fixture{store: newMemStore(cards...), engine: engine, now: t0}
	f.svc = NewService(engine, ledger.New(p.LedgerMaxSize), planner, f.store,
		WithCache(memo.New(p.CacheMaxSize)),
		WithClock(func() time.Time { return f.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

func newCard(id string) domain.Card {
	return domain.NewCard(id, "Q "+id, "A "+id, "", policy.Default().DefaultFactor)
}

func TestRespondNewCard(t *testing.T) {
	f := newFixture(t, newCard("a"))

	out, err := f.svc.Respond("op-1", "a", srs.Confident)
	if err != nil {
		t.Fatalf("Respond() returned an unexpected error: %v", err)
	}
	if !out.Processed || out.Result.LogOnly {
		t.Fatalf("Expected a processed scheduling result, got %+v", out)
	}
	stored, _ := f.store.FindCard("a")
	if stored.Interval != 3 || stored.ReviewCount != 1 || stored.CorrectCount != 1 {
		t.Errorf("Unexpected stored card %+v", stored)
	}
	want := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	if stored.NextReviewDate == nil || !stored.NextReviewDate.Equal(want) {
		t.Errorf("Expected next review %v, got %v", want, stored.NextReviewDate)
	}
	if len(f.store.logs) != 1 || f.store.logs[0].Quality != srs.Confident.Code() {
		t.Errorf("Unexpected review logs %+v", f.store.logs)
	}
}

func TestRespondIsIdempotent(t *testing.T) {
	f := newFixture(t, newCard("a"))

	for i := 0; i < 5; i++ {
		out, err := f.svc.Respond("op-1", "a", srs.Confident)
		if err != nil {
			t.Fatalf("Respond() returned an unexpected error: %v", err)
		}
		if out.Processed != (i == 0) {
			t.Fatalf("delivery %d: Processed = %v", i, out.Processed)
		}
	}

	stored, _ := f.store.FindCard("a")
	if stored.ReviewCount != 1 {
		t.Errorf("Expected exactly one transition, ReviewCount = %d", stored.ReviewCount)
	}
	if len(f.store.logs) != 1 {
		t.Errorf("Expected exactly one review log, got %d", len(f.store.logs))
	}
}

func TestRespondConcurrentReplays(t *testing.T) {
	f := newFixture(t, newCard("a"))
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.svc.Respond("same-op", "a", srs.Hesitant)
			if err != nil {
				t.Errorf("Respond() returned an unexpected error: %v", err)
				return
			}
			if out.Processed {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if processed != 1 {
		t.Errorf("Expected one processed delivery, got %d", processed)
	}
}

func TestRespondNotDueIsLogOnly(t *testing.T) {
	future := t0.Add(72 * time.Hour)
	c := newCard("a")
	c.Interval = 4
	c.DifficultyFactor = 2.2
	c.ReviewCount = 3
	c.CorrectCount = 3
	c.NextReviewDate = &future
	f := newFixture(t, c)

	for i, q := range srs.Qualities {
		out, err := f.svc.Respond(fmt.Sprintf("op-%d", i), "a", q)
		if err != nil {
			t.Fatalf("Respond() returned an unexpected error: %v", err)
		}
		if !out.Result.LogOnly {
			t.Errorf("%v: expected log-only", q)
		}
	}

	stored, _ := f.store.FindCard("a")
	if stored.ReviewCount != 6 {
		t.Errorf("ReviewCount = %d, want 6", stored.ReviewCount)
	}
	if stored.Interval != 4 || stored.DifficultyFactor != 2.2 || stored.CorrectCount != 3 {
		t.Errorf("Schedule changed on log-only responses: %+v", stored)
	}
	if stored.NextReviewDate == nil || !stored.NextReviewDate.Equal(future) {
		t.Errorf("NextReviewDate changed: %v", stored.NextReviewDate)
	}
	if stored.LastReviewDate == nil || !stored.LastReviewDate.Equal(t0) {
		t.Errorf("LastReviewDate = %v, want %v", stored.LastReviewDate, t0)
	}
}

func TestFreeStudyBypassesLedger(t *testing.T) {
	f := newFixture(t, newCard("a"))

	for i := 0; i < 3; i++ {
		out, err := f.svc.FreeStudy("a", srs.Confident)
		if err != nil {
			t.Fatalf("FreeStudy() returned an unexpected error: %v", err)
		}
		if !out.Processed {
			t.Fatalf("swipe %d was not processed", i)
		}
	}

	stored, _ := f.store.FindCard("a")
	if stored.ReviewCount != 3 {
		t.Errorf("Expected every swipe to be processed, ReviewCount = %d", stored.ReviewCount)
	}
	// Only the first swipe found the card due; the rest were logged.
	if stored.Interval != 3 {
		t.Errorf("Interval = %v, want 3", stored.Interval)
	}
}

func TestRespondErrors(t *testing.T) {
	f := newFixture(t, newCard("a"))

	if _, err := f.svc.Respond("", "a", srs.Confident); !errors.Is(err, ErrMissingOperationID) {
		t.Errorf("Expected ErrMissingOperationID, got %v", err)
	}
	if _, err := f.svc.Respond("op", "a", srs.Quality(0)); !errors.Is(err, srs.ErrInvalidQuality) {
		t.Errorf("Expected ErrInvalidQuality, got %v", err)
	}
	if _, err := f.svc.Respond("op-missing", "nope", srs.Confident); !errors.Is(err, storage.ErrCardNotFound) {
		t.Errorf("Expected ErrCardNotFound, got %v", err)
	}

	t.Run("failed write can be retried", func(t *testing.T) {
		f.store.failing = true
		if _, err := f.svc.Respond("op-retry", "a", srs.Confident); !errors.Is(err, errStoreDown) {
			t.Fatalf("Expected store error, got %v", err)
		}
		f.store.failing = false
		out, err := f.svc.Respond("op-retry", "a", srs.Confident)
		if err != nil || !out.Processed {
			t.Errorf("Expected retry to be processed, got %+v, %v", out, err)
		}
	})
}

func TestRespondRecoversInvalidCard(t *testing.T) {
	c := newCard("a")
	c.Interval = math.NaN()
	c.DifficultyFactor = 12
	c.ReviewCount = 4
	c.CorrectCount = 2
	past := t0.Add(-time.Hour)
	c.NextReviewDate = &past
	f := newFixture(t, c)

	out, err := f.svc.Respond("op", "a", srs.Hesitant)
	if err != nil {
		t.Fatalf("Respond() returned an unexpected error: %v", err)
	}
	p := f.engine.Policy()
	if math.Abs(out.Card.Interval-p.HesitantMultiplier) > 1e-9 || out.Card.DifficultyFactor != p.DefaultFactor {
		t.Errorf("Expected a reset schedule, got %+v", out.Card)
	}
}

func TestRespondResetsInvalidCardBeforeItIsDue(t *testing.T) {
	c := newCard("a")
	c.Interval = math.NaN()
	c.DifficultyFactor = math.NaN()
	c.ReviewCount = 3
	future := t0.Add(48 * time.Hour)
	c.NextReviewDate = &future
	f := newFixture(t, c)
	p := f.engine.Policy()

	preview, err := f.svc.Preview("a")
	if err != nil {
		t.Fatalf("Preview() returned an unexpected error: %v", err)
	}
	for q, r := range preview {
		if math.IsNaN(r.Interval) || math.IsNaN(r.DifficultyFactor) {
			t.Errorf("%v: expected a finite preview, got %+v", q, r)
		}
	}

	out, err := f.svc.Respond("op", "a", srs.Incorrect)
	if err != nil {
		t.Fatalf("Respond() returned an unexpected error: %v", err)
	}
	if !out.Result.LogOnly {
		t.Errorf("Expected a not-due response to be log-only, got %+v", out.Result)
	}
	if out.Result.Interval != 1 || out.Result.DifficultyFactor != p.DefaultFactor {
		t.Errorf("Expected the reset schedule in the result, got %+v", out.Result)
	}

	stored, _ := f.store.FindCard("a")
	if stored.Interval != 1 || stored.DifficultyFactor != p.DefaultFactor {
		t.Errorf("Expected the reset schedule to be stored, got %+v", stored)
	}
	if stored.NextReviewDate == nil || !stored.NextReviewDate.Equal(future) {
		t.Errorf("Expected the review date to be kept, got %v", stored.NextReviewDate)
	}
	if stored.ReviewCount != 4 {
		t.Errorf("ReviewCount = %d, want 4", stored.ReviewCount)
	}
}

func TestSessionAndStats(t *testing.T) {
	future := t0.Add(10 * 24 * time.Hour)
	scheduled := newCard("later")
	scheduled.Interval = 30
	scheduled.ReviewCount = 5
	scheduled.NextReviewDate = &future

	f := newFixture(t, scheduled)
	if _, err := f.svc.Session(5, nil); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("Expected ErrNothingDue, got %v", err)
	}

	f.store.cards["new"] = newCard("new")
	cards, err := f.svc.Session(5, nil)
	if err != nil {
		t.Fatalf("Session() returned an unexpected error: %v", err)
	}
	if len(cards) != 2 || cards[0].ID != "new" {
		t.Errorf("Unexpected session %+v", cards)
	}

	if _, err := f.svc.Respond("op", "new", srs.Confident); err != nil {
		t.Fatalf("Respond() returned an unexpected error: %v", err)
	}
	stats, counts, err := f.svc.Stats()
	if err != nil {
		t.Fatalf("Stats() returned an unexpected error: %v", err)
	}
	want := deck.Stats{TotalCards: 2, ReadyCount: 0, MasteredCards: 1, MasteryPercentage: 50, TodayReviewCount: 1}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
	if counts[deck.Mastered] != 1 || counts[deck.Learning] != 1 {
		t.Errorf("Counts = %v", counts)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, newCard("a"))
	preview, err := f.svc.Preview("a")
	if err != nil {
		t.Fatalf("Preview() returned an unexpected error: %v", err)
	}
	if preview[srs.Confident].Interval != 3 {
		t.Errorf("Expected confident preview of 3 days, got %v", preview[srs.Confident].Interval)
	}
	if len(f.store.logs) != 0 {
		t.Error("Preview must not record a review")
	}
}

func TestWithSQLiteStore(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "study.db"))
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	defer db.Close()

	p := policy.Default()
	p.Timezone = "UTC"
	engine, _ := srs.NewEngine(p)
	planner, _ := deck.NewPlanner(p)
	now := t0
	svc := NewService(engine, ledger.New(p.LedgerMaxSize), planner, db,
		WithClock(func() time.Time { return now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	if err := db.InsertCard(newCard("a")); err != nil {
		t.Fatalf("InsertCard() returned an unexpected error: %v", err)
	}

	steps := []struct {
		advance  time.Duration
		quality  srs.Quality
		interval float64
	}{
		{0, srs.Confident, 3},
		{3*24*time.Hour + 3*time.Hour, srs.Confident, 7},
		{7 * 24 * time.Hour, srs.Incorrect, 2.8},
	}
	for i, step := range steps {
		now = now.Add(step.advance)
		out, err := svc.Respond(NewOperationID(), "a", step.quality)
		if err != nil {
			t.Fatalf("step %d: Respond() returned an unexpected error: %v", i, err)
		}
		if math.Abs(out.Card.Interval-step.interval) > 1e-9 {
			t.Errorf("step %d: interval = %v, want %v", i, out.Card.Interval, step.interval)
		}
	}

	logs, err := db.ReviewLogs("a")
	if err != nil {
		t.Fatalf("ReviewLogs() returned an unexpected error: %v", err)
	}
	if len(logs) != len(steps) {
		t.Errorf("Expected %d review logs, got %d", len(steps), len(logs))
	}
}
