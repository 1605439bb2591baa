// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ledger is the persisted cross-run record of what has been recorded
// and uploaded. It is the single source of truth for idempotence: both the
// organizer and the dispatcher gate on it, and every state transition runs as
// one atomic statement so overlapping runs cannot double-submit a release.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reelherd/reelherd/internal/release"
)

// ErrNotFound is returned by Get for unknown identity keys.
var ErrNotFound = errors.New("ledger: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS releases (
	key             TEXT PRIMARY KEY,
	movie_id        INTEGER NOT NULL,
	resolution      TEXT NOT NULL,
	title           TEXT NOT NULL,
	year            INTEGER NOT NULL,
	rating          REAL NOT NULL,
	tier            TEXT NOT NULL,
	genre           TEXT NOT NULL,
	hash            TEXT NOT NULL,
	magnet          TEXT NOT NULL,
	seen_at         TIMESTAMP NOT NULL,
	recorded        INTEGER NOT NULL DEFAULT 0,
	uploaded        INTEGER NOT NULL DEFAULT 0,
	upload_attempts INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT
);

CREATE INDEX IF NOT EXISTS idx_releases_pending
	ON releases (recorded, uploaded, seen_at);
`

// Entry is the ledger row for one release identity.
type Entry struct {
	Key            string
	MovieID        int
	Resolution     string
	Title          string
	Year           int
	Rating         float64
	Tier           string
	Genre          string
	Hash           string
	Magnet         string
	SeenAt         time.Time
	Recorded       bool
	Uploaded       bool
	UploadAttempts int
	LastError      string
}

// Stats summarizes the ledger for the CLI.
type Stats struct {
	Total    int
	Recorded int
	Uploaded int
	Pending  int // recorded, not uploaded, attempts below the cap
	Terminal int // attempts at or above the cap without success
}

// Ledger wraps the SQLite database holding release state.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path. An unreadable or
// corrupt database is a hard failure: proceeding with a rebuilt ledger would
// silently re-upload everything.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// Serialized access through a single connection keeps every
	// read-modify-write statement atomic without explicit transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// FirstSeen inserts a ledger entry for the release if none exists. The
// original seen_at is preserved on re-observation so batch ordering stays
// stable across runs.
func (l *Ledger) FirstSeen(ctx context.Context, rel release.Release, now time.Time) error {
	const query = `INSERT OR IGNORE INTO releases
		(key, movie_id, resolution, title, year, rating, tier, genre, hash, magnet, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		rel.Key(), rel.ID, rel.Resolution, rel.SanitizedTitle(), rel.Year, rel.Rating,
		rel.Tier(), rel.PrimaryGenre(), rel.Hash, rel.Magnet(), now.UTC())
	if err != nil {
		return fmt.Errorf("insert ledger entry %s: %w", rel.Key(), err)
	}
	return nil
}

// Get returns the entry for an identity key, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, key string) (*Entry, error) {
	const query = selectColumns + ` WHERE key = ?`

	entry, err := scanEntry(l.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ledger entry %s: %w", key, err)
	}
	return entry, nil
}

// MarkRecorded flips the recorded flag for an identity key. Called
// immediately after the on-disk record is written, never batched.
func (l *Ledger) MarkRecorded(ctx context.Context, key string) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE releases SET recorded = 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("mark recorded %s: %w", key, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark recorded %s: %w", key, ErrNotFound)
	}
	return nil
}

// MarkUploaded attempts the false->true uploaded transition and reports
// whether this caller won it. The WHERE clause is the exactly-once gate: two
// processes racing on the same key cannot both see uploaded=0.
func (l *Ledger) MarkUploaded(ctx context.Context, key string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		`UPDATE releases SET uploaded = 1, last_error = NULL WHERE key = ? AND uploaded = 0`, key)
	if err != nil {
		return false, fmt.Errorf("mark uploaded %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark uploaded %s: %w", key, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter and stores the failure cause.
// Returns the attempt count after the increment.
func (l *Ledger) RecordFailure(ctx context.Context, key string, cause string) (int, error) {
	_, err := l.db.ExecContext(ctx,
		`UPDATE releases SET upload_attempts = upload_attempts + 1, last_error = ? WHERE key = ?`,
		cause, key)
	if err != nil {
		return 0, fmt.Errorf("record failure %s: %w", key, err)
	}

	var attempts int
	if err := l.db.QueryRowContext(ctx,
		`SELECT upload_attempts FROM releases WHERE key = ?`, key).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("read attempts %s: %w", key, err)
	}
	return attempts, nil
}

// SelectBatch returns up to limit entries eligible for upload: recorded, not
// uploaded, attempts below the cap, oldest seen_at first (FIFO fairness — a
// release is never starved behind newer arrivals).
func (l *Ledger) SelectBatch(ctx context.Context, limit, maxAttempts int) ([]*Entry, error) {
	const query = selectColumns + `
		WHERE recorded = 1 AND uploaded = 0 AND upload_attempts < ?
		ORDER BY seen_at ASC, key ASC
		LIMIT ?`

	rows, err := l.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	defer rows.Close()

	var batch []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch entry: %w", err)
		}
		batch = append(batch, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	return batch, nil
}

// Stats aggregates ledger counters for reporting.
func (l *Ledger) Stats(ctx context.Context, maxAttempts int) (Stats, error) {
	const query = `SELECT
		COUNT(*),
		COALESCE(SUM(recorded), 0),
		COALESCE(SUM(uploaded), 0),
		COALESCE(SUM(CASE WHEN recorded = 1 AND uploaded = 0 AND upload_attempts < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN uploaded = 0 AND upload_attempts >= ? THEN 1 ELSE 0 END), 0)
		FROM releases`

	var s Stats
	err := l.db.QueryRowContext(ctx, query, maxAttempts, maxAttempts).
		Scan(&s.Total, &s.Recorded, &s.Uploaded, &s.Pending, &s.Terminal)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	return s, nil
}

// Prune removes settled entries (uploaded, or terminally failed) seen before
// the cutoff. Pending entries are never pruned; dropping them would make the
// next run re-record and re-upload.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM releases WHERE seen_at < ? AND (uploaded = 1 OR upload_attempts >= ?)`,
		olderThan.UTC(), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return result.RowsAffected()
}

const selectColumns = `SELECT key, movie_id, resolution, title, year, rating, tier, genre,
	hash, magnet, seen_at, recorded, uploaded, upload_attempts, last_error FROM releases`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var lastError sql.NullString

	err := row.Scan(&entry.Key, &entry.MovieID, &entry.Resolution, &entry.Title,
		&entry.Year, &entry.Rating, &entry.Tier, &entry.Genre, &entry.Hash,
		&entry.Magnet, &entry.SeenAt, &entry.Recorded, &entry.Uploaded,
		&entry.UploadAttempts, &lastError)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		entry.LastError = lastError.String
	}
	return &entry, nil
}
