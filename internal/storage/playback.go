package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PlaybackState is the stored resume point of an item.
type PlaybackState struct {
	MediaID         string    `json:"mediaId"`
	PositionSeconds float64   `json:"positionSeconds"`
	DurationSeconds float64   `json:"durationSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
	LastPlayedAt    time.Time `json:"lastPlayedAt"`
}

// PercentComplete is the share of the item already listened to.
func (p PlaybackState) PercentComplete() float64 {
	if p.DurationSeconds <= 0 {
		return 0
	}
	return p.PositionSeconds / p.DurationSeconds * 100
}

func (s *Store) UpsertPlaybackState(ctx context.Context, mediaID string, positionSeconds, durationSeconds float64) error {
	if s == nil || s.db == nil {
		return errMissingDB
	}
	if s.readOnly {
		return errReadOnlyStore
	}

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_state (media_id, position_seconds, duration_seconds, updated_at, last_played_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(media_id) DO UPDATE SET
			position_seconds=excluded.position_seconds,
			duration_seconds=excluded.duration_seconds,
			updated_at=excluded.updated_at,
			last_played_at=excluded.last_played_at
	`, mediaID, positionSeconds, durationSeconds, now, now)
	return err
}

func (s *Store) GetPlaybackState(ctx context.Context, mediaID string) (*PlaybackState, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errMissingDB
	}

	var (
		state        PlaybackState
		updatedAt    int64
		lastPlayedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT media_id, position_seconds, duration_seconds, updated_at, last_played_at
		FROM playback_state
		WHERE media_id = ?
	`, mediaID).Scan(&state.MediaID, &state.PositionSeconds, &state.DurationSeconds, &updatedAt, &lastPlayedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	state.UpdatedAt = time.Unix(updatedAt, 0)
	state.LastPlayedAt = time.Unix(lastPlayedAt, 0)
	return &state, true, nil
}

func (s *Store) DeletePlaybackState(ctx context.Context, mediaID string) error {
	if s == nil || s.db == nil {
		return errMissingDB
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM playback_state WHERE media_id = ?`, mediaID)
	return err
}

// SaveResume stores the resume point used by the next session.
func (s *Store) SaveResume(ctx context.Context, mediaID string, position, total float64) error {
	return s.UpsertPlaybackState(ctx, mediaID, position, total)
}

// LoadResume returns the saved resume point, if any.
func (s *Store) LoadResume(ctx context.Context, mediaID string) (float64, bool, error) {
	state, ok, err := s.GetPlaybackState(ctx, mediaID)
	if err != nil || !ok {
		return 0, false, err
	}
	return state.PositionSeconds, true, nil
}
