package storage

import "fmt"

const schemaMediaItems = `
CREATE TABLE IF NOT EXISTS media_items (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	title TEXT,
	size INTEGER,
	modified INTEGER,
	duration_seconds REAL
);`

const schemaMediaItemsIndexes = `
CREATE INDEX IF NOT EXISTS idx_media_items_title ON media_items(title);
CREATE INDEX IF NOT EXISTS idx_media_items_modified ON media_items(modified);`

const schemaAnchors = `
CREATE TABLE IF NOT EXISTS anchors (
	id TEXT PRIMARY KEY,
	media_id TEXT NOT NULL,
	position REAL NOT NULL CHECK (position >= 0),
	created_at INTEGER NOT NULL
);`

const schemaAnchorsIndexes = `
CREATE INDEX IF NOT EXISTS idx_anchors_media_id ON anchors(media_id);`

const schemaPlaybackState = `
CREATE TABLE IF NOT EXISTS playback_state (
	media_id TEXT NOT NULL PRIMARY KEY,
	position_seconds REAL NOT NULL,
	duration_seconds REAL NOT NULL,
	updated_at INTEGER NOT NULL
);`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);`

type migration struct {
	version    int
	statements []string
}

// Anchors and playback state are keyed by file name, not by media_items.id,
// so they survive library rescans and files outside the library root.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			schemaMediaItems,
			schemaMediaItemsIndexes,
			schemaAnchors,
			schemaAnchorsIndexes,
			schemaPlaybackState,
		},
	},
	{
		version: 2,
		statements: []string{
			`ALTER TABLE playback_state ADD COLUMN last_played_at INTEGER NOT NULL DEFAULT 0;`,
			`UPDATE playback_state SET last_played_at = updated_at WHERE last_played_at = 0;`,
			`CREATE INDEX IF NOT EXISTS idx_playback_state_last_played ON playback_state(last_played_at DESC);`,
		},
	},
}

func (s *Store) EnsureSchema() error {
	return s.MigrateSchema()
}

func (s *Store) MigrateSchema() error {
	if s == nil || s.db == nil {
		return errMissingDB
	}

	if _, err := s.db.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("storage: create schema_migrations table: %w", err)
	}

	current, err := s.currentSchemaVersion()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.version <= current {
			continue
		}
		if err := s.applyMigration(migration); err != nil {
			return err
		}
		current = migration.version
	}

	return nil
}

func (s *Store) currentSchemaVersion() (int, error) {
	if s == nil || s.db == nil {
		return 0, errMissingDB
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) applyMigration(migration migration) error {
	if s == nil || s.db == nil {
		return errMissingDB
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: start migration %d: %w", migration.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, statement := range migration.statements {
		if _, err = tx.Exec(statement); err != nil {
			return fmt.Errorf("storage: migration %d failed: %w", migration.version, err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, migration.version); err != nil {
		return fmt.Errorf("storage: record migration %d: %w", migration.version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit migration %d: %w", migration.version, err)
	}
	return nil
}
