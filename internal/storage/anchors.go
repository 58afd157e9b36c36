package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoadOffsets returns the saved anchor offsets of an item in the order they
// were written. Unknown items yield an empty list.
func (s *Store) LoadOffsets(ctx context.Context, mediaID string) ([]float64, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position
		FROM anchors
		WHERE media_id = ?
		ORDER BY rowid
	`, mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offsets := []float64{}
	for rows.Next() {
		var position float64
		if err := rows.Scan(&position); err != nil {
			return nil, err
		}
		offsets = append(offsets, position)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offsets, nil
}

// SaveOffsets replaces the stored offsets of an item.
func (s *Store) SaveOffsets(ctx context.Context, mediaID string, offsets []float64) (err error) {
	if s == nil || s.db == nil {
		return errMissingDB
	}
	if s.readOnly {
		return errReadOnlyStore
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM anchors WHERE media_id = ?`, mediaID); err != nil {
		return fmt.Errorf("storage: clear anchors for %s: %w", mediaID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anchors (id, media_id, position, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, offset := range offsets {
		if _, err = stmt.ExecContext(ctx, uuid.NewString(), mediaID, offset, now); err != nil {
			return fmt.Errorf("storage: insert anchor %v for %s: %w", offset, mediaID, err)
		}
	}

	return tx.Commit()
}

// DeleteOffset removes one stored anchor with exactly this offset. It
// reports false when the item has no such anchor.
func (s *Store) DeleteOffset(ctx context.Context, mediaID string, offset float64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errMissingDB
	}
	if s.readOnly {
		return false, errReadOnlyStore
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM anchors
		WHERE id = (
			SELECT id FROM anchors
			WHERE media_id = ? AND position = ?
			ORDER BY rowid
			LIMIT 1
		)
	`, mediaID, offset)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountAnchors returns the number of saved anchors per item.
func (s *Store) CountAnchors(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT media_id, COUNT(*)
		FROM anchors
		GROUP BY media_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			mediaID string
			count   int
		)
		if err := rows.Scan(&mediaID, &count); err != nil {
			return nil, err
		}
		counts[mediaID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
