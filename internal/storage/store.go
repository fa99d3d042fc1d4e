package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Pragmas are passed through the DSN so that every pooled connection gets
// them, not only the first one.
var connectionPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

type Store struct {
	db   *sql.DB
	path string

	Recordings   RecordingRepository
	ActionEvents ActionEventRepository
	WindowEvents WindowEventRepository
	Screenshots  ScreenshotRepository
	Replays      ReplayRepository
	Audit        AuditRepository
}

type OpenOptions struct {
	// SkipMigrations opens the database without bringing the schema up to
	// date. Used by the db subcommands, which manage the schema themselves.
	SkipMigrations bool
}

func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open storage: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open storage: create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	if !opts.SkipMigrations {
		if err := RunMigrations(db, DefaultMigrations()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := ensureDBPermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newStore(db, path), nil
}

func newStore(db *sql.DB, path string) *Store {
	return &Store{
		db:           db,
		path:         path,
		Recordings:   &recordingRepository{db: db},
		ActionEvents: &actionEventRepository{db: db},
		WindowEvents: &windowEventRepository{db: db},
		Screenshots:  &screenshotRepository{db: db},
		Replays:      &replayRepository{db: db},
		Audit:        &auditRepository{db: db},
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func sqliteDSN(path string) string {
	values := url.Values{}
	for _, pragma := range connectionPragmas {
		values.Add("_pragma", pragma)
	}
	return "file:" + path + "?" + values.Encode()
}

func ensureDBPermissions(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set db file permissions: %w", err)
		}
	}

	walPath := path + "-wal"
	if err := os.Chmod(walPath, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set wal file permissions: %w", err)
		}
	}
	return nil
}
