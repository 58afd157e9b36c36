package server

import "context"

// MediaStore defines the storage operations used by the library listing.
type MediaStore interface {
	ReadOnly() bool
	SaveItems(ctx context.Context, items []MediaItem) error
	DeleteItems(ctx context.Context, ids []string) error
	GetAll(ctx context.Context) ([]MediaItem, error)
	GetByID(ctx context.Context, id string) (MediaItem, bool, error)
	CountAnchors(ctx context.Context) (map[string]int, error)
	LoadResume(ctx context.Context, mediaID string) (float64, bool, error)
}
