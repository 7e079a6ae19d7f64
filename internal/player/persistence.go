package player

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"aria/internal/shuffle"
	"aria/internal/track"
)

// The playback slot (current track, position, index, queue contents) and the
// preference slot (shuffle, loop, volume, mute, quality, crossfade) are
// persisted independently; only the playback slot drives resume-on-restart.

func (s *Store) persistPlayback(state State) {
	if s.db == nil {
		return
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Warn("persist playback state", "error", err)
		return
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_entries"); err != nil {
		s.log.Warn("persist playback state", "error", err)
		return
	}

	for position, item := range state.Queue {
		body, err := json.Marshal(item)
		if err != nil {
			s.log.Warn("encode queue entry", "trackId", item.ID, "error", err)
			return
		}
		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO queue_entries(position, track_json) VALUES (?, ?)",
			position,
			string(body),
		); err != nil {
			s.log.Warn("persist queue entry", "error", err)
			return
		}
	}

	var currentJSON any
	if state.CurrentTrack != nil {
		body, err := json.Marshal(state.CurrentTrack)
		if err != nil {
			s.log.Warn("encode current track", "error", err)
			return
		}
		currentJSON = string(body)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playback_state(id, current_track_json, current_index, position_seconds, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_track_json = excluded.current_track_json,
			current_index = excluded.current_index,
			position_seconds = excluded.position_seconds,
			updated_at = excluded.updated_at
	`,
		currentJSON,
		state.CurrentIndex,
		state.CurrentTime,
		nowStamp(),
	); err != nil {
		s.log.Warn("persist playback state", "error", err)
		return
	}

	if err := tx.Commit(); err != nil {
		s.log.Warn("persist playback state", "error", err)
	}
}

// persistPosition updates only the stored position. Time-progress events
// arrive several times a second; rewriting the whole queue for each would be
// wasteful.
func (s *Store) persistPosition(state State) {
	if s.db == nil {
		return
	}

	if _, err := s.db.ExecContext(context.Background(), `
		UPDATE playback_state SET position_seconds = ?, updated_at = ? WHERE id = 1
	`, state.CurrentTime, nowStamp()); err != nil {
		s.log.Warn("persist playback position", "error", err)
	}
}

func (s *Store) persistPrefs(state State) {
	if s.db == nil {
		return
	}

	if _, err := s.db.ExecContext(context.Background(), `
		INSERT INTO player_prefs(id, shuffle, looping, volume, muted, audio_quality, crossfade, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shuffle = excluded.shuffle,
			looping = excluded.looping,
			volume = excluded.volume,
			muted = excluded.muted,
			audio_quality = excluded.audio_quality,
			crossfade = excluded.crossfade,
			updated_at = excluded.updated_at
	`,
		boolToInt(state.IsShuffle),
		boolToInt(state.IsLooping),
		state.Volume,
		boolToInt(state.IsMuted),
		string(state.AudioQuality),
		boolToInt(state.Crossfade),
		nowStamp(),
	); err != nil {
		s.log.Warn("persist player preferences", "error", err)
	}
}

func (s *Store) loadSnapshot() {
	if s.db == nil {
		return
	}

	ctx := context.Background()

	queue := s.loadQueue(ctx)

	var (
		currentJSON     sql.NullString
		currentIndex    sql.NullInt64
		positionSeconds sql.NullFloat64
	)
	err := s.db.QueryRowContext(
		ctx,
		"SELECT current_track_json, current_index, position_seconds FROM playback_state WHERE id = 1",
	).Scan(&currentJSON, &currentIndex, &positionSeconds)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log.Warn("load playback state", "error", err)
		return
	}

	var current *track.Track
	if currentJSON.Valid {
		var decoded track.Track
		if decodeErr := json.Unmarshal([]byte(currentJSON.String), &decoded); decodeErr != nil {
			s.log.Warn("decode persisted current track", "error", decodeErr)
		} else {
			current = &decoded
		}
	}

	s.mu.Lock()
	s.queue = queue
	s.current = current
	s.currentIndex = -1
	s.isPlaying = false
	if current != nil {
		s.currentIndex = s.indexOfLocked(current.ID)
		if s.currentIndex == -1 {
			// Persisted track no longer in the persisted queue; drop it.
			s.current = nil
		}
	}
	if s.current != nil && positionSeconds.Valid && positionSeconds.Float64 > 0 {
		s.currentTime = positionSeconds.Float64
	}
	s.mu.Unlock()

	s.loadPrefs(ctx)

	s.mu.Lock()
	if s.isShuffle {
		excludeID := ""
		if s.current != nil {
			excludeID = s.current.ID
		}
		s.shuffleOrder = shuffle.Build(s.queue, excludeID, s.rng)
	}
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Store) loadQueue(ctx context.Context) []track.Track {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_json FROM queue_entries ORDER BY position ASC, id ASC
	`)
	if err != nil {
		s.log.Warn("load persisted queue", "error", err)
		return nil
	}
	defer rows.Close()

	var queue []track.Track
	for rows.Next() {
		var body string
		if scanErr := rows.Scan(&body); scanErr != nil {
			s.log.Warn("scan queue entry", "error", scanErr)
			return nil
		}
		var item track.Track
		if decodeErr := json.Unmarshal([]byte(body), &item); decodeErr != nil {
			s.log.Warn("decode queue entry", "error", decodeErr)
			continue
		}
		queue = append(queue, item)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		s.log.Warn("iterate queue entries", "error", rowsErr)
		return nil
	}

	return queue
}

func (s *Store) loadPrefs(ctx context.Context) {
	var (
		shuffleInt   sql.NullInt64
		loopingInt   sql.NullInt64
		volume       sql.NullFloat64
		mutedInt     sql.NullInt64
		audioQuality sql.NullString
		crossfadeInt sql.NullInt64
	)
	err := s.db.QueryRowContext(
		ctx,
		"SELECT shuffle, looping, volume, muted, audio_quality, crossfade FROM player_prefs WHERE id = 1",
	).Scan(&shuffleInt, &loopingInt, &volume, &mutedInt, &audioQuality, &crossfadeInt)
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	if err != nil {
		s.log.Warn("load player preferences", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.isShuffle = shuffleInt.Valid && shuffleInt.Int64 == 1
	s.isLooping = !loopingInt.Valid || loopingInt.Int64 == 1
	if volume.Valid && volume.Float64 >= 0 && volume.Float64 <= 1 {
		s.volume = volume.Float64
	}
	s.isMuted = mutedInt.Valid && mutedInt.Int64 == 1
	if audioQuality.Valid {
		if normalized, qualityErr := track.NormalizeQuality(audioQuality.String); qualityErr == nil {
			s.audioQuality = normalized
		}
	}
	s.crossfade = crossfadeInt.Valid && crossfadeInt.Int64 == 1
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
