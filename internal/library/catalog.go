// Package library is the local data-fetch collaborator for the player: a
// SQLite track catalog filled by importing audio files from watched folders.
// It hands []track.Track values to callers; the player core never reaches
// back into it.
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"aria/internal/track"
)

var ErrTrackNotFound = errors.New("track not found")

type Emitter func(eventName string, payload any)

// Catalog stores imported tracks keyed by their generated id, with the
// originating file path kept for change tracking.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(database *sql.DB) *Catalog {
	return &Catalog{db: database}
}

func (c *Catalog) Upsert(ctx context.Context, item track.Track, originPath string) error {
	sourceJSON, err := json.Marshal(item.AudioSource)
	if err != nil {
		return fmt.Errorf("encode audio source for %q: %w", item.ID, err)
	}

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO tracks(id, title, artist, artwork_ref, duration_seconds, source_json, origin_path, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			artwork_ref = excluded.artwork_ref,
			duration_seconds = excluded.duration_seconds,
			source_json = excluded.source_json,
			origin_path = excluded.origin_path,
			imported_at = excluded.imported_at
	`,
		item.ID,
		item.Title,
		item.Artist,
		item.ArtworkRef,
		item.DurationSeconds,
		string(sourceJSON),
		originPath,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("upsert track %q: %w", item.ID, err)
	}

	return nil
}

func (c *Catalog) List(ctx context.Context) ([]track.Track, error) {
	return c.query(ctx, `
		SELECT id, title, artist, artwork_ref, duration_seconds, source_json
		FROM tracks
		ORDER BY artist COLLATE NOCASE, title COLLATE NOCASE
	`)
}

// Search matches title or artist, case-insensitively.
func (c *Catalog) Search(ctx context.Context, query string) ([]track.Track, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return c.List(ctx)
	}

	pattern := "%" + escapeLike(trimmed) + "%"
	return c.query(ctx, `
		SELECT id, title, artist, artwork_ref, duration_seconds, source_json
		FROM tracks
		WHERE title LIKE ? ESCAPE '\' OR artist LIKE ? ESCAPE '\'
		ORDER BY artist COLLATE NOCASE, title COLLATE NOCASE
	`, pattern, pattern)
}

func (c *Catalog) GetByID(ctx context.Context, id string) (track.Track, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, title, artist, artwork_ref, duration_seconds, source_json
		FROM tracks
		WHERE id = ?
	`, id)

	item, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return track.Track{}, ErrTrackNotFound
	}
	if err != nil {
		return track.Track{}, fmt.Errorf("get track %q: %w", id, err)
	}

	return item, nil
}

// IDByOriginPath reports the id already assigned to a file, so re-importing
// keeps track identity stable.
func (c *Catalog) IDByOriginPath(ctx context.Context, originPath string) (string, bool, error) {
	var id string
	err := c.db.QueryRowContext(
		ctx,
		"SELECT id FROM tracks WHERE origin_path = ?",
		originPath,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("look up track by path %q: %w", originPath, err)
	}

	return id, true, nil
}

func (c *Catalog) RemoveByOriginPath(ctx context.Context, originPath string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM tracks WHERE origin_path = ?", originPath); err != nil {
		return fmt.Errorf("remove track for path %q: %w", originPath, err)
	}

	return nil
}

// RemoveStaleUnder deletes entries under a root whose files were not touched
// by the scan that started at the given stamp.
func (c *Catalog) RemoveStaleUnder(ctx context.Context, rootPath string, scanStartedAt string) (int64, error) {
	prefix := strings.TrimRight(rootPath, string(filepath.Separator)) + string(filepath.Separator)
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM tracks
		WHERE origin_path LIKE ? ESCAPE '\' AND imported_at < ?
	`, escapeLike(prefix)+"%", scanStartedAt)
	if err != nil {
		return 0, fmt.Errorf("remove stale tracks under %q: %w", rootPath, err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed tracks: %w", err)
	}

	return removed, nil
}

func (c *Catalog) query(ctx context.Context, statement string, args ...any) ([]track.Track, error) {
	rows, err := c.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]track.Track, 0)
	for rows.Next() {
		item, scanErr := scanTrack(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan track row: %w", scanErr)
		}
		tracks = append(tracks, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track rows: %w", err)
	}

	return tracks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (track.Track, error) {
	var (
		item       track.Track
		sourceJSON string
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Artist, &item.ArtworkRef, &item.DurationSeconds, &sourceJSON); err != nil {
		return track.Track{}, err
	}

	if err := json.Unmarshal([]byte(sourceJSON), &item.AudioSource); err != nil {
		return track.Track{}, fmt.Errorf("decode audio source: %w", err)
	}

	return item, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
