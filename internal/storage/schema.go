package storage

const schema = `
-- One row per flashcard. Scheduling columns mirror domain.Card; timestamps are
-- RFC 3339 strings in UTC and NULL when unset.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    interval REAL,
    difficulty_factor REAL,
    review_count INTEGER NOT NULL DEFAULT 0,
    correct_count INTEGER NOT NULL DEFAULT 0,
    last_review TEXT,
    next_review TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS cards_next_review ON cards(next_review);

-- Append-only history of responses.
CREATE TABLE IF NOT EXISTS review_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id TEXT NOT NULL,
    reviewed_at TEXT NOT NULL,
    quality INTEGER NOT NULL,
    log_only INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS review_log_card ON review_log(card_id, reviewed_at);
`
