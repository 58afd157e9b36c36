package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/treefix50/anchorplay/internal/server"
)

// SaveItems upserts library entries discovered by a scan.
func (s *Store) SaveItems(ctx context.Context, items []server.MediaItem) (err error) {
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

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO media_items (id, path, title, size, modified, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path=excluded.path,
			title=excluded.title,
			size=excluded.size,
			modified=excluded.modified,
			duration_seconds=excluded.duration_seconds
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		_, err = stmt.ExecContext(
			ctx,
			item.ID,
			item.Path,
			item.Title,
			item.Size,
			item.Modified.Unix(),
			nullDuration(item.DurationSeconds),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) DeleteItems(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return errMissingDB
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		"DELETE FROM media_items WHERE id IN (%s)",
		strings.Join(placeholders, ","),
	)

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// GetAll lists the library ordered by title.
func (s *Store) GetAll(ctx context.Context) ([]server.MediaItem, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, title, size, modified, duration_seconds
		FROM media_items
		ORDER BY title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []server.MediaItem
	for rows.Next() {
		var (
			id       string
			path     string
			title    sql.NullString
			size     int64
			modified int64
			duration sql.NullFloat64
		)
		if err := rows.Scan(&id, &path, &title, &size, &modified, &duration); err != nil {
			return nil, err
		}
		items = append(items, server.MediaItem{
			ID:              id,
			Path:            path,
			Title:           title.String,
			Size:            size,
			Modified:        time.Unix(modified, 0),
			DurationSeconds: duration.Float64,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (server.MediaItem, bool, error) {
	if s == nil || s.db == nil {
		return server.MediaItem{}, false, errMissingDB
	}

	var (
		item     server.MediaItem
		title    sql.NullString
		modified int64
		duration sql.NullFloat64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, title, size, modified, duration_seconds
		FROM media_items
		WHERE id = ?
	`, id).Scan(&item.ID, &item.Path, &title, &item.Size, &modified, &duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return server.MediaItem{}, false, nil
		}
		return server.MediaItem{}, false, err
	}

	item.Title = title.String
	item.Modified = time.Unix(modified, 0)
	item.DurationSeconds = duration.Float64

	return item, true, nil
}

func nullDuration(value float64) sql.NullFloat64 {
	if value <= 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: value, Valid: true}
}
