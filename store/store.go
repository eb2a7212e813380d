// Package store keeps a history of discovered tags in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// Store handles tag history persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it.
// The special path ":memory:" keeps everything in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared between queries
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordEvent appends a tag event to the history.
func (s *Store) RecordEvent(ctx context.Context, e nfc.TagEvent) error {
	techs := e.Techs
	if techs == nil {
		techs = []string{}
	}
	techsJSON, err := json.Marshal(techs)
	if err != nil {
		return fmt.Errorf("encode techs: %w", err)
	}

	var primary string
	if e.Technology != nil {
		primary = e.Technology.Name()
	}

	texts := []string{}
	var ndefBytes []byte
	if e.Message != nil {
		texts = append(texts, e.Message.Texts()...)
		if ndefBytes, err = e.Message.Encode(); err != nil {
			return fmt.Errorf("encode ndef: %w", err)
		}
	}
	textsJSON, err := json.Marshal(texts)
	if err != nil {
		return fmt.Errorf("encode texts: %w", err)
	}

	at := e.DiscoveredAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tag_events (id, tag_id, techs, primary_tech, texts, ndef, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), protocol.FormatUID(e.TagID), string(techsJSON), primary,
		string(textsJSON), ndefBytes, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tag event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]protocol.HistoryEntry, error) {
	if limit <= 0 {
		return []protocol.HistoryEntry{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tag_id, techs, primary_tech, texts, ndef, discovered_at
		 FROM tag_events
		 ORDER BY rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tag events: %w", err)
	}
	defer rows.Close()

	entries := []protocol.HistoryEntry{}
	for rows.Next() {
		var (
			entry        protocol.HistoryEntry
			techs, texts string
			ndefBytes    []byte
		)
		if err := rows.Scan(&entry.ID, &entry.TagID, &techs, &entry.PrimaryTechnology, &texts, &ndefBytes, &entry.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan tag event: %w", err)
		}
		if err := json.Unmarshal([]byte(techs), &entry.Techs); err != nil {
			return nil, fmt.Errorf("decode techs: %w", err)
		}
		if err := json.Unmarshal([]byte(texts), &entry.Texts); err != nil {
			return nil, fmt.Errorf("decode texts: %w", err)
		}
		entry.NDEF = ndefBytes
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tag_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count tag events: %w", err)
	}
	return n, nil
}
