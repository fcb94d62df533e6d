// Package store persists the controller state document to SQLite.
//
// The document is written as four JSON sections (rooms, schedule, history,
// settings) in a single transaction, so a crash never leaves a mix of old
// and new sections behind.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/history"
	"github.com/sweeney/heating-controller/internal/room"
	"github.com/sweeney/heating-controller/internal/schedule"
)

var (
	// ErrNotFound is returned by Load when nothing has been saved yet.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned by Load when a section is missing or unreadable.
	ErrCorrupt = errors.New("corrupt state")
)

const (
	sectionRooms    = "rooms"
	sectionSchedule = "schedule"
	sectionHistory  = "history"
	sectionSettings = "settings"
)

var sections = []string{sectionRooms, sectionSchedule, sectionHistory, sectionSettings}

// Document is everything the controller needs to resume after a restart.
type Document struct {
	Rooms    []room.Config
	Schedule schedule.State
	History  history.Snapshot
	Settings heating.Settings
	SavedAt  time.Time
}

// Store is a SQLite-backed document store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes every section of doc atomically.
func (s *Store) Save(ctx context.Context, doc Document) error {
	if doc.SavedAt.IsZero() {
		doc.SavedAt = time.Now()
	}
	bodies := make(map[string][]byte, len(sections))
	for name, v := range map[string]any{
		sectionRooms:    doc.Rooms,
		sectionSchedule: doc.Schedule,
		sectionHistory:  doc.History,
		sectionSettings: doc.Settings,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		bodies[name] = b
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	for _, name := range sections {
		_, err := tx.ExecContext(ctx, `
INSERT INTO state_sections(name, body, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	body=excluded.body,
	updated_at=excluded.updated_at
`, name, string(bodies[name]), ts(doc.SavedAt))
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load reads the saved document. It returns ErrNotFound when the store is
// empty and ErrCorrupt when only part of a document is present.
func (s *Store) Load(ctx context.Context) (Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, body, updated_at FROM state_sections`)
	if err != nil {
		return Document{}, fmt.Errorf("load sections: %w", err)
	}
	defer rows.Close()

	bodies := make(map[string]string, len(sections))
	var doc Document
	for rows.Next() {
		var name, body, updated string
		if err := rows.Scan(&name, &body, &updated); err != nil {
			return Document{}, fmt.Errorf("scan section: %w", err)
		}
		bodies[name] = body
		if t, err := parseTS(updated); err == nil && t.After(doc.SavedAt) {
			doc.SavedAt = t
		}
	}
	if err := rows.Err(); err != nil {
		return Document{}, fmt.Errorf("load sections: %w", err)
	}
	if len(bodies) == 0 {
		return Document{}, ErrNotFound
	}

	targets := map[string]any{
		sectionRooms:    &doc.Rooms,
		sectionSchedule: &doc.Schedule,
		sectionHistory:  &doc.History,
		sectionSettings: &doc.Settings,
	}
	for _, name := range sections {
		body, ok := bodies[name]
		if !ok {
			return Document{}, fmt.Errorf("%w: section %s missing", ErrCorrupt, name)
		}
		if err := json.Unmarshal([]byte(body), targets[name]); err != nil {
			return Document{}, fmt.Errorf("%w: section %s: %v", ErrCorrupt, name, err)
		}
	}
	return doc, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
