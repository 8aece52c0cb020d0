// Package history stores resume positions for played content in a SQLite
// database keyed by content URI.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is the last known playback state of one content URI.
type Entry struct {
	URI       string
	Title     string
	Position  float64
	Duration  float64
	UpdatedAt time.Time
}

// ErrNotFound is returned when no entry exists for a URI.
var ErrNotFound = errors.New("history: entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS history (
	uri        TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	position   REAL NOT NULL DEFAULT 0,
	duration   REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);`

// Store is a resume history backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes or updates the entry for e.URI. A zero UpdatedAt is stamped
// with the current time.
func (s *Store) Save(e Entry) error {
	if e.URI == "" {
		return fmt.Errorf("history entry has no uri")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}

	_, err := s.db.Exec(`
INSERT INTO history (uri, title, position, duration, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(uri) DO UPDATE SET
	title = excluded.title,
	position = excluded.position,
	duration = excluded.duration,
	updated_at = excluded.updated_at`,
		e.URI, e.Title, e.Position, e.Duration, e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

// Get returns the entry for uri, or ErrNotFound.
func (s *Store) Get(uri string) (Entry, error) {
	row := s.db.QueryRow(
		`SELECT uri, title, position, duration, updated_at FROM history WHERE uri = ?`, uri)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading history: %w", err)
	}
	return e, nil
}

// List returns all entries, most recently updated first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT uri, title, position, duration, updated_at FROM history ORDER BY updated_at DESC, uri`)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// Remove deletes the entry for uri. Removing a missing entry returns ErrNotFound.
func (s *Store) Remove(uri string) error {
	res, err := s.db.Exec(`DELETE FROM history WHERE uri = ?`, uri)
	if err != nil {
		return fmt.Errorf("removing history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e       Entry
		updated int64
	)
	if err := sc.Scan(&e.URI, &e.Title, &e.Position, &e.Duration, &updated); err != nil {
		return Entry{}, err
	}
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}

// FormatForDisplay creates one display line per entry.
func FormatForDisplay(entries []Entry) []string {
	var items []string
	for _, e := range entries {
		display := e.URI
		if e.Title != "" {
			display = e.Title + "  " + e.URI
		}
		if e.Position > 0 {
			if e.Duration > 0 {
				display += fmt.Sprintf(" [%.0f%%]", (e.Position/e.Duration)*100)
			} else {
				display += " [" + FormatPosition(e.Position) + "]"
			}
		}
		items = append(items, display)
	}
	return items
}

// FormatPosition renders seconds as h:mm:ss or m:ss.
func FormatPosition(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
