package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	schemaVersionMetaKey = "schema_version"
	auditChainTipMetaKey = "audit_chain_tip"
)

// Migration is one linear schema step. Down is optional; a migration without
// Down cannot be rolled back past.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
	Down        func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create recording tables",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, 1,
				`CREATE TABLE IF NOT EXISTS recordings (
					id TEXT PRIMARY KEY,
					timestamp REAL NOT NULL,
					monitor_width INTEGER NOT NULL DEFAULT 0,
					monitor_height INTEGER NOT NULL DEFAULT 0,
					double_click_interval_seconds REAL NOT NULL DEFAULT 0,
					double_click_distance_pixels REAL NOT NULL DEFAULT 0,
					platform TEXT NOT NULL DEFAULT '',
					task_description TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS screenshots (
					id TEXT PRIMARY KEY,
					recording_id TEXT NOT NULL,
					timestamp REAL NOT NULL,
					png_data BLOB,
					FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS window_events (
					id TEXT PRIMARY KEY,
					recording_id TEXT NOT NULL,
					timestamp REAL NOT NULL,
					window_id TEXT,
					title TEXT,
					left_px INTEGER,
					top_px INTEGER,
					width INTEGER,
					height INTEGER,
					state TEXT,
					FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS action_events (
					id TEXT PRIMARY KEY,
					recording_id TEXT NOT NULL,
					seq INTEGER NOT NULL,
					name TEXT NOT NULL,
					timestamp REAL NOT NULL,
					screenshot_id TEXT,
					window_event_id TEXT,
					mouse_x REAL,
					mouse_y REAL,
					mouse_dx REAL,
					mouse_dy REAL,
					mouse_button_name TEXT,
					mouse_pressed INTEGER,
					key_name TEXT,
					key_char TEXT,
					key_vk TEXT,
					text TEXT,
					FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE,
					FOREIGN KEY(screenshot_id) REFERENCES screenshots(id) ON DELETE SET NULL,
					FOREIGN KEY(window_event_id) REFERENCES window_events(id) ON DELETE SET NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_action_events_recording_seq ON action_events(recording_id, seq)`,
				`CREATE INDEX IF NOT EXISTS idx_window_events_recording ON window_events(recording_id, timestamp)`,
				`CREATE INDEX IF NOT EXISTS idx_screenshots_recording ON screenshots(recording_id, timestamp)`,
			)
		},
		Down: func(tx *sql.Tx) error {
			return execAll(tx, 1,
				`DROP TABLE IF EXISTS action_events`,
				`DROP TABLE IF EXISTS window_events`,
				`DROP TABLE IF EXISTS screenshots`,
				`DROP TABLE IF EXISTS recordings`,
			)
		},
	},
	{
		Version:     2,
		Description: "add recording.video_start_time",
		Up: func(tx *sql.Tx) error {
			ok, err := columnExists(tx, "recordings", "video_start_time")
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			if _, err := tx.Exec(`ALTER TABLE recordings ADD COLUMN video_start_time REAL`); err != nil {
				return fmt.Errorf("add recordings.video_start_time: %w", err)
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			ok, err := columnExists(tx, "recordings", "video_start_time")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if _, err := tx.Exec(`ALTER TABLE recordings DROP COLUMN video_start_time`); err != nil {
				return fmt.Errorf("drop recordings.video_start_time: %w", err)
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "add replay runs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, 3,
				`CREATE TABLE IF NOT EXISTS replay_runs (
					id TEXT PRIMARY KEY,
					recording_id TEXT NOT NULL,
					strategy TEXT NOT NULL,
					instructions TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'running',
					steps INTEGER NOT NULL DEFAULT 0,
					error TEXT,
					started_at TEXT NOT NULL,
					finished_at TEXT,
					FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS replay_actions (
					run_id TEXT NOT NULL,
					step INTEGER NOT NULL,
					action_json TEXT NOT NULL,
					created_at TEXT NOT NULL,
					PRIMARY KEY (run_id, step),
					FOREIGN KEY(run_id) REFERENCES replay_runs(id) ON DELETE CASCADE
				)`,
			)
		},
		Down: func(tx *sql.Tx) error {
			return execAll(tx, 3,
				`DROP TABLE IF EXISTS replay_actions`,
				`DROP TABLE IF EXISTS replay_runs`,
			)
		},
	},
	{
		Version:     4,
		Description: "add audit events",
		Up: func(tx *sql.Tx) error {
			if err := execAll(tx, 4,
				`CREATE TABLE IF NOT EXISTS audit_events (
					id TEXT PRIMARY KEY,
					action TEXT NOT NULL,
					actor TEXT,
					target_type TEXT,
					target_id TEXT,
					result TEXT NOT NULL DEFAULT '',
					details_json TEXT NOT NULL DEFAULT '{}',
					prev_hash TEXT NOT NULL DEFAULT '',
					event_hash TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_action_created_at ON audit_events(action, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_target_id_created_at ON audit_events(target_id, created_at)`,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO adapt_meta(key, value) VALUES(?, '')`, auditChainTipMetaKey); err != nil {
				return fmt.Errorf("initialize audit chain tip: %w", err)
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			if err := execAll(tx, 4, `DROP TABLE IF EXISTS audit_events`); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM adapt_meta WHERE key = ?`, auditChainTipMetaKey); err != nil {
				return fmt.Errorf("remove audit chain tip: %w", err)
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

func RunMigrations(db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("run migrations: db is nil")
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	ordered := sortedMigrations(migrations)

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, description, applied_at) VALUES (?, ?, ?)`, migration.Version, migration.Description, nowUTCString()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record schema migration v%d: %w", migration.Version, err)
		}

		if err := writeSchemaVersion(tx, migration.Version); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
		}
	}

	return nil
}

// Downgrade rolls the schema back to target by running Down of every applied
// migration above it, newest first.
func Downgrade(db *sql.DB, migrations []Migration, target int) error {
	if db == nil {
		return fmt.Errorf("downgrade: db is nil")
	}
	if target < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDowngrade, target)
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if target > current {
		return fmt.Errorf("%w: target=%d current=%d", ErrInvalidDowngrade, target, current)
	}

	ordered := sortedMigrations(migrations)
	for i := len(ordered) - 1; i >= 0; i-- {
		migration := ordered[i]
		if migration.Version > current || migration.Version <= target {
			continue
		}
		if migration.Down == nil {
			return fmt.Errorf("%w: migration v%d (%s) is irreversible", ErrInvalidDowngrade, migration.Version, migration.Description)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin downgrade v%d: %w", migration.Version, err)
		}

		if err := migration.Down(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("downgrade v%d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("remove schema migration v%d: %w", migration.Version, err)
		}

		if err := writeSchemaVersion(tx, previousVersion(ordered, i)); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit downgrade v%d: %w", migration.Version, err)
		}
	}

	return nil
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

func AppliedMigrations(db *sql.DB) ([]AppliedMigration, error) {
	if err := ensureMigrationTables(db); err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT version, description, applied_at FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []AppliedMigration{}
	for rows.Next() {
		var (
			item    AppliedMigration
			applied string
		)
		if err := rows.Scan(&item.Version, &item.Description, &applied); err != nil {
			return nil, fmt.Errorf("list applied migrations: scan row: %w", err)
		}
		item.AppliedAt, err = parseTime(applied)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: iterate: %w", err)
	}
	return out, nil
}

func ensureMigrationTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS adapt_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO adapt_meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure migration tables: %w", err)
		}
	}
	return nil
}

func SchemaVersion(db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRow(`SELECT value FROM adapt_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionStr, err)
	}
	return version, nil
}

func writeSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec(`INSERT OR REPLACE INTO adapt_meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("update schema version v%d: %w", version, err)
	}
	return nil
}

func sortedMigrations(migrations []Migration) []Migration {
	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })
	return ordered
}

func previousVersion(ordered []Migration, idx int) int {
	if idx <= 0 {
		return 0
	}
	return ordered[idx-1].Version
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}

func execAll(tx *sql.Tx, version int, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration v%d statement: %w", version, err)
		}
	}
	return nil
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, fmt.Errorf("query table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dfltVal sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dfltVal, &pk); err != nil {
			return false, fmt.Errorf("scan table info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return false, nil
}

func nowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
