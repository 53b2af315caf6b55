package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

var (
	// ErrCardNotFound is returned when no card has the requested id.
	ErrCardNotFound = errors.New("storage: card not found")
	// ErrCardExists is returned when inserting a card whose id is taken.
	ErrCardExists = errors.New("storage: card already exists")
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates the database file if needed, connects, and ensures the schema
// is up to date.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("open: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open: create database dir: %w", err)
	}

	dsn := "file:" + path + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertCard stores a new card with whatever scheduling state it carries.
func (db *DB) InsertCard(card domain.Card) error {
	res, err := db.conn.Exec(`
		INSERT INTO cards (id, question, answer, context, interval, difficulty_factor,
			review_count, correct_count, last_review, next_review, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		card.ID,
		card.Question,
		card.Answer,
		card.Context,
		nullFloat(card.Interval),
		nullFloat(card.DifficultyFactor),
		card.ReviewCount,
		card.CorrectCount,
		nullTime(card.LastReviewDate),
		nullTime(card.NextReviewDate),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCardExists, card.ID)
	}
	return nil
}

const cardColumns = `id, question, answer, context, interval, difficulty_factor,
	review_count, correct_count, last_review, next_review`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCard reads a card row. NULL or non-finite numeric columns come back as
// NaN so the scheduler's sanitization sees them as invalid.
func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c                domain.Card
		interval, factor sql.NullFloat64
		last, next       sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.Question,
		&c.Answer,
		&c.Context,
		&interval,
		&factor,
		&c.ReviewCount,
		&c.CorrectCount,
		&last,
		&next,
	); err != nil {
		return domain.Card{}, err
	}

	c.Interval = floatOrNaN(interval)
	c.DifficultyFactor = floatOrNaN(factor)

	var err error
	if c.LastReviewDate, err = parseTime(last); err != nil {
		return domain.Card{}, fmt.Errorf("card %s last_review: %w", c.ID, err)
	}
	if c.NextReviewDate, err = parseTime(next); err != nil {
		return domain.Card{}, fmt.Errorf("card %s next_review: %w", c.ID, err)
	}
	return c, nil
}

// FindCard retrieves a card by id.
func (db *DB) FindCard(id string) (domain.Card, error) {
	row := db.conn.QueryRow(`SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		return domain.Card{}, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	return c, nil
}

// AllCards retrieves every card, ordered by next review with unscheduled cards last.
func (db *DB) AllCards() ([]domain.Card, error) {
	rows, err := db.conn.Query(`
		SELECT ` + cardColumns + `
		FROM cards
		ORDER BY next_review IS NULL, next_review, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return cards, nil
}

// SaveReview writes the card's scheduling state and appends log in one transaction.
func (db *DB) SaveReview(card domain.Card, log domain.ReviewLog) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin review for card %s: %w", card.ID, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE cards
		SET interval = ?, difficulty_factor = ?, review_count = ?, correct_count = ?,
			last_review = ?, next_review = ?
		WHERE id = ?
	`,
		nullFloat(card.Interval),
		nullFloat(card.DifficultyFactor),
		card.ReviewCount,
		card.CorrectCount,
		nullTime(card.LastReviewDate),
		nullTime(card.NextReviewDate),
		card.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", card.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to update card %s: %w", card.ID, err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrCardNotFound, card.ID)
	}

	if _, err := tx.Exec(`
		INSERT INTO review_log (card_id, reviewed_at, quality, log_only)
		VALUES (?, ?, ?, ?)
	`, log.CardID, formatTime(log.Timestamp), log.Quality, log.LogOnly); err != nil {
		return fmt.Errorf("failed to append review log for card %s: %w", card.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review for card %s: %w", card.ID, err)
	}
	return nil
}

// ReviewLogs returns a card's review history, oldest first.
func (db *DB) ReviewLogs(cardID string) ([]domain.ReviewLog, error) {
	rows, err := db.conn.Query(`
		SELECT card_id, reviewed_at, quality, log_only
		FROM review_log WHERE card_id = ?
		ORDER BY id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get review logs for card %s: %w", cardID, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var (
			l  domain.ReviewLog
			at string
		)
		if err := rows.Scan(&l.CardID, &at, &l.Quality, &l.LogOnly); err != nil {
			return nil, fmt.Errorf("failed to scan review log row for card %s: %w", cardID, err)
		}
		if l.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("review log for card %s: %w", cardID, err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review logs for card %s: %w", cardID, err)
	}
	return logs, nil
}

// DeleteCard removes a card and its review history.
func (db *DB) DeleteCard(id string) error {
	res, err := db.conn.Exec(`DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	return nil
}

// timeLayout is RFC 3339 in UTC with a fixed nine-digit fraction, so stored
// timestamps sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullFloat stores non-finite values as NULL; SQLite cannot hold NaN.
func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func floatOrNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}
