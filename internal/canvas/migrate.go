package canvas

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

const migrationTable = "schema_migrations"

// Migration describes one embedded schema migration and whether it has been applied.
type Migration struct {
	Name      string    `json:"name"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// Migrator is implemented by stores backed by a versioned SQL schema.
type Migrator interface {
	Migrations(ctx context.Context) ([]Migration, error)
}

type column struct {
	name string
	ddl  string
}

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name         string
	root         string
	placeholder  func(n int) string
	createTable  string
	insertRecord string
	columnsQuery func(table string) (string, []any)
	expected     map[string][]column

	// legacyCopy moves rows from legacyActionsTable into actions and drops it.
	legacyCopy []string
	// backfillUpdatedAt fills updated_at on rows added before the column existed.
	backfillUpdatedAt string
}

// legacyActionsTable holds an id-keyed action log while it is carried into the seq-keyed table.
const legacyActionsTable = "actions_v0"


var sqliteDialect = dialect{
	name:        "sqlite",
	root:        "migrations/sqlite",
	placeholder: func(int) string { return "?" },
	createTable: `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`,
	insertRecord: `INSERT OR IGNORE INTO ` + migrationTable + ` (name, applied_at) VALUES (?, ?)`,
	columnsQuery: func(table string) (string, []any) {
		return `SELECT name FROM pragma_table_info(?)`, []any{table}
	},
	expected: map[string][]column{
		"canvases": {
			{"human_id", "TEXT"},
			{"name", "TEXT NOT NULL DEFAULT ''"},
			{"width", "INTEGER NOT NULL DEFAULT 800"},
			{"height", "INTEGER NOT NULL DEFAULT 600"},
			{"background", "TEXT NOT NULL DEFAULT '#FFFFFF'"},
			{"canvas_type", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"updated_at", "TEXT NOT NULL DEFAULT ''"},
		},
		"actions": {
			{"canvas_id", "TEXT"},
			{"action", "TEXT"},
			{"params", "TEXT NOT NULL DEFAULT '{}'"},
			{"timestamp", "TEXT NOT NULL DEFAULT ''"},
		},
		"api_keys": {
			{"label", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	legacyCopy: []string{
		`INSERT INTO actions (seq, canvas_id, action, params, timestamp)
SELECT id, COALESCE(canvas_id, ''), COALESCE(action, ''), COALESCE(params, '{}'), COALESCE(timestamp, '')
FROM ` + legacyActionsTable + ` ORDER BY id`,
		`DROP TABLE ` + legacyActionsTable,
	},
	backfillUpdatedAt: `UPDATE canvases
SET updated_at = COALESCE(strftime('%Y-%m-%dT%H:%M:%S', created_at) || '.000000000Z', ?)
WHERE updated_at IS NULL OR updated_at = ''`,
}

var postgresDialect = dialect{
	name:        "postgres",
	root:        "migrations/postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	createTable: `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`,
	insertRecord: `INSERT INTO ` + migrationTable + ` (name, applied_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
	columnsQuery: func(table string) (string, []any) {
		return `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`, []any{table}
	},
	expected: map[string][]column{
		"canvases": {
			{"human_id", "TEXT"},
			{"name", "TEXT NOT NULL DEFAULT ''"},
			{"width", "INTEGER NOT NULL DEFAULT 800"},
			{"height", "INTEGER NOT NULL DEFAULT 600"},
			{"background", "TEXT NOT NULL DEFAULT '#FFFFFF'"},
			{"canvas_type", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
			{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
		},
		"actions": {
			{"canvas_id", "TEXT"},
			{"action", "TEXT"},
			{"params", "JSONB NOT NULL DEFAULT '{}'::jsonb"},
			{"timestamp", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
		},
		"api_keys": {
			{"label", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
		},
	},
	legacyCopy: []string{
		`INSERT INTO actions (seq, canvas_id, action, params, timestamp)
SELECT id, COALESCE(canvas_id, ''), COALESCE(action, ''), COALESCE(params::jsonb, '{}'::jsonb), COALESCE("timestamp"::timestamptz, now())
FROM ` + legacyActionsTable + ` ORDER BY id`,
		`SELECT setval(pg_get_serial_sequence('actions', 'seq'), COALESCE((SELECT MAX(seq) FROM actions), 0) + 1, false)`,
		`DROP TABLE ` + legacyActionsTable,
	},
}

// migrate brings the schema up to date. Existing tables are reconciled before the
// migration files run so that additive DDL against older databases finds its columns,
// and once more afterwards for anything the files did not cover. An action log keyed
// by id is renamed first and copied into the new table once the files have run.
func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	if err := renameLegacyActions(ctx, db, d); err != nil {
		return err
	}
	if err := reconcileColumns(ctx, db, d); err != nil {
		return err
	}

	files, err := migrationFiles(d)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := isApplied(ctx, db, d, file)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}
		content, err := fs.ReadFile(migrationFS, path.Join(d.root, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, upSQL); err != nil && !isAlreadyExistsError(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, d.insertRecord, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	if err := reconcileColumns(ctx, db, d); err != nil {
		return err
	}
	if err := copyLegacyActions(ctx, db, d); err != nil {
		return err
	}
	if d.backfillUpdatedAt != "" {
		now := time.Now().UTC().Format(sqliteTimeLayout)
		if _, err := db.ExecContext(ctx, d.backfillUpdatedAt, now); err != nil {
			return fmt.Errorf("backfill canvases.updated_at: %w", err)
		}
	}
	return nil
}

// renameLegacyActions moves an actions table without a seq column out of the way.
func renameLegacyActions(ctx context.Context, db *sql.DB, d dialect) error {
	present, err := tableColumns(ctx, db, d, "actions")
	if err != nil {
		return fmt.Errorf("inspect table actions: %w", err)
	}
	_, hasID := present["id"]
	_, hasSeq := present["seq"]
	if !hasID || hasSeq {
		return nil
	}
	if _, err := db.ExecContext(ctx, "ALTER TABLE actions RENAME TO "+legacyActionsTable); err != nil {
		return fmt.Errorf("rename legacy actions: %w", err)
	}
	return nil
}

// copyLegacyActions carries a renamed log into actions, keeping each id as its seq.
func copyLegacyActions(ctx context.Context, db *sql.DB, d dialect) error {
	present, err := tableColumns(ctx, db, d, legacyActionsTable)
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", legacyActionsTable, err)
	}
	if len(present) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin legacy actions copy: %w", err)
	}
	for _, stmt := range d.legacyCopy {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("copy legacy actions: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit legacy actions copy: %w", err)
	}
	return nil
}

// reconcileColumns adds every expected column missing from an existing table.
// Tables that do not exist yet are left to the migration files.
func reconcileColumns(ctx context.Context, db *sql.DB, d dialect) error {
	tables := make([]string, 0, len(d.expected))
	for table := range d.expected {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		present, err := tableColumns(ctx, db, d, table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		if len(present) == 0 {
			continue
		}
		for _, col := range d.expected[table] {
			if _, ok := present[col.name]; ok {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
			if _, err := db.ExecContext(ctx, stmt); err != nil && !isAlreadyExistsError(err) {
				return fmt.Errorf("add column %s.%s: %w", table, col.name, err)
			}
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, d dialect, table string) (map[string]struct{}, error) {
	query, args := d.columnsQuery(table)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns[strings.ToLower(name)] = struct{}{}
	}
	return columns, rows.Err()
}

func migrationFiles(d dialect) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, d.root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func listMigrations(ctx context.Context, db *sql.DB, d dialect) ([]Migration, error) {
	files, err := migrationFiles(d)
	if err != nil {
		return nil, err
	}
	applied := map[string]time.Time{}
	rows, err := db.QueryContext(ctx, "SELECT name, applied_at FROM "+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var at int64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[name] = time.UnixMilli(at).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	out := make([]Migration, 0, len(files))
	for _, file := range files {
		at, ok := applied[file]
		out = append(out, Migration{Name: file, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

func isApplied(ctx context.Context, db *sql.DB, d dialect, name string) (bool, error) {
	var found int
	row := db.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = "+d.placeholder(1), name)
	if err := row.Scan(&found); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// extractUpMigration returns the SQL in the -- +migrate Up section.
func extractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

// isAlreadyExistsError reports whether this error indicates idempotent DDL success.
func isAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column")
}
