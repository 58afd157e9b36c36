package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	errMissingDB      = errors.New("storage: missing database connection")
	errReadOnlyMemory = errors.New("storage: read-only mode requires a file-backed database")
	errReadOnlyStore  = errors.New("storage: store is read-only")
	errSchemaMissing  = errors.New("no anchor schema; open it writable once first")
)

// Store is the SQLite-backed persistence for anchors, resume points and the
// media library.
type Store struct {
	db       *sql.DB
	readOnly bool
}

type Options struct {
	BusyTimeout time.Duration
	Synchronous string
	CacheSize   int
	ReadOnly    bool
}

func sqliteDSN(path string, readOnly bool) (string, error) {
	if !readOnly {
		return path, nil
	}
	if path == ":memory:" {
		return "", errReadOnlyMemory
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("mode", "ro")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// DefaultOptions are the settings used by the command line.
func DefaultOptions() Options {
	return Options{
		BusyTimeout: 5 * time.Second,
		Synchronous: "NORMAL",
		CacheSize:   -2000,
	}
}

// Open opens the anchor database at path, applies the connection pragmas and
// migrates the media_items, anchors and playback_state tables to the latest
// version. A read-only store is never migrated, so it must point at a file
// that was opened writable before.
func Open(path string, options Options) (*Store, error) {
	dsn, err := sqliteDSN(path, options.ReadOnly)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if err := applyPragmas(db, options); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: configure %s: %w", path, err)
	}

	store := &Store{db: db, readOnly: options.ReadOnly}
	if options.ReadOnly {
		version, err := store.currentSchemaVersion()
		if err != nil || version == 0 {
			_ = db.Close()
			return nil, fmt.Errorf("storage: %s: %w", path, errSchemaMissing)
		}
		return store, nil
	}

	if err := store.MigrateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate %s: %w", path, err)
	}
	return store, nil
}

func applyPragmas(db *sql.DB, options Options) error {
	synchronous := options.Synchronous
	if synchronous == "" {
		synchronous = "NORMAL"
	}

	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if !options.ReadOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			fmt.Sprintf("PRAGMA synchronous=%s", synchronous),
		)
	}
	pragmas = append(pragmas,
		fmt.Sprintf("PRAGMA busy_timeout=%d", int(options.BusyTimeout/time.Millisecond)),
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA cache_size=%d", options.CacheSize),
	)
	if !options.ReadOnly {
		pragmas = append(pragmas, "PRAGMA journal_size_limit=67108864")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ReadOnly() bool {
	if s == nil {
		return false
	}
	return s.readOnly
}

func (s *Store) IntegrityCheck() ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	rows, err := s.db.Query("PRAGMA integrity_check")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) Vacuum(target string) error {
	if s == nil || s.db == nil {
		return errMissingDB
	}
	if target == "" {
		if _, err := s.db.Exec("VACUUM"); err != nil {
			return fmt.Errorf("storage: vacuum: %w", err)
		}
		return nil
	}
	if _, err := s.db.Exec("VACUUM INTO ?", target); err != nil {
		return fmt.Errorf("storage: backup to %s: %w", target, err)
	}
	return nil
}
