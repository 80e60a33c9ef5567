package canvas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/lib/pq"
)

// sqlStore is the database/sql implementation shared by the SQLite and Postgres stores.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) Init(ctx context.Context) error {
	if err := migrate(ctx, s.db, s.dialect); err != nil {
		return StorageFailure("init", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

// Migrations reports which embedded migrations have been applied.
func (s *sqlStore) Migrations(ctx context.Context) ([]Migration, error) {
	migrations, err := listMigrations(ctx, s.db, s.dialect)
	if err != nil {
		return nil, StorageFailure("list migrations", err)
	}
	return migrations, nil
}

func (s *sqlStore) q(query string) string {
	if s.dialect.name != postgresDialect.name {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) encodeTime(t time.Time) any {
	if s.dialect.name == postgresDialect.name {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// sqliteTimeLayout is fixed width so text timestamps order lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *sqlStore) CreateCanvas(ctx context.Context, canvas *Canvas) error {
	if canvas == nil {
		return ValidationFailed("create canvas", "canvas is required", nil)
	}
	assignIdentifiers(canvas)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StorageFailure("create canvas", err)
	}
	defer func() { _ = tx.Rollback() }()

	var retired int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM retired_human_ids WHERE human_id = ?`), canvas.HumanID).Scan(&retired)
	switch {
	case err == nil:
		return DuplicateIdentifier("create canvas", fmt.Errorf("human id %q belonged to an expired canvas", canvas.HumanID))
	case !errors.Is(err, sql.ErrNoRows):
		return StorageFailure("create canvas", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO canvases (id, human_id, name, width, height, background, canvas_type, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`),
		canvas.ID,
		canvas.HumanID,
		canvas.Name,
		canvas.Width,
		canvas.Height,
		canvas.Background,
		canvas.CanvasType,
		s.encodeTime(canvas.CreatedAt),
		s.encodeTime(canvas.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return DuplicateIdentifier("create canvas", err)
		}
		return StorageFailure("create canvas", err)
	}
	if err := tx.Commit(); err != nil {
		return StorageFailure("create canvas", err)
	}
	return nil
}

func (s *sqlStore) GetCanvas(ctx context.Context, id string) (*Canvas, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, human_id, name, width, height, background, canvas_type, created_at, updated_at
		FROM canvases WHERE id = ?
	`), id)

	var canvas Canvas
	var humanID, name, background, canvasType sql.NullString
	var width, height sql.NullInt64
	var createdAt, updatedAt timeValue
	if err := row.Scan(
		&canvas.ID,
		&humanID,
		&name,
		&width,
		&height,
		&background,
		&canvasType,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFound("get canvas", "canvas %q does not exist", id)
		}
		return nil, StorageFailure("get canvas", err)
	}
	canvas.HumanID = humanID.String
	canvas.Name = name.String
	canvas.Width = int(width.Int64)
	canvas.Height = int(height.Int64)
	canvas.Background = background.String
	canvas.CanvasType = canvasType.String
	canvas.CreatedAt = createdAt.Time
	canvas.UpdatedAt = updatedAt.Time
	if canvas.UpdatedAt.IsZero() {
		canvas.UpdatedAt = canvas.CreatedAt
	}
	return &canvas, nil
}

func (s *sqlStore) UpdateCanvas(ctx context.Context, canvas *Canvas) error {
	if canvas == nil || canvas.ID == "" {
		return ValidationFailed("update canvas", "canvas id is required", nil)
	}
	if canvas.UpdatedAt.IsZero() {
		canvas.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE canvases SET background = ?, canvas_type = ?, updated_at = ? WHERE id = ?
	`),
		canvas.Background,
		canvas.CanvasType,
		s.encodeTime(canvas.UpdatedAt),
		canvas.ID,
	)
	if err != nil {
		return StorageFailure("update canvas", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return NotFound("update canvas", "canvas %q does not exist", canvas.ID)
	}
	return nil
}

func (s *sqlStore) ResolveHumanID(ctx context.Context, alias string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM canvases WHERE human_id = ?`), alias).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, StorageFailure("resolve human id", err)
	}
	return id, true, nil
}

// DeleteExpired removes canvases idle for longer than ttl together with their
// logs. Their human ids are retired so they never resolve to a later canvas.
func (s *sqlStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := s.encodeTime(now.Add(-ttl))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, StorageFailure("delete expired", err)
	}
	defer func() { _ = tx.Rollback() }()

	type expired struct {
		id      string
		humanID sql.NullString
	}
	rows, err := tx.QueryContext(ctx, s.q(`DELETE FROM canvases WHERE updated_at < ? RETURNING id, human_id`), cutoff)
	if err != nil {
		return 0, StorageFailure("delete expired", err)
	}
	var removed []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.humanID); err != nil {
			_ = rows.Close()
			return 0, StorageFailure("delete expired", err)
		}
		removed = append(removed, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, StorageFailure("delete expired", err)
	}
	_ = rows.Close()

	for _, e := range removed {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM actions WHERE canvas_id = ?`), e.id); err != nil {
			return 0, StorageFailure("delete expired", err)
		}
		if !e.humanID.Valid || e.humanID.String == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO retired_human_ids (human_id, canvas_id, retired_at) VALUES (?,?,?)
			ON CONFLICT (human_id) DO NOTHING
		`), e.humanID.String, e.id, s.encodeTime(now)); err != nil {
			return 0, StorageFailure("delete expired", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, StorageFailure("delete expired", err)
	}
	return int64(len(removed)), nil
}

// AppendAction adds action to the log and bumps the canvas updated_at.
func (s *sqlStore) AppendAction(ctx context.Context, action *Action, overwrite bool) error {
	if action == nil || action.CanvasID == "" {
		return ValidationFailed("append action", "canvas id is required", nil)
	}
	return s.writeAction(ctx, "append action", nil, action, overwrite)
}

// CommitAction writes action and the canvas metadata in one transaction.
func (s *sqlStore) CommitAction(ctx context.Context, canvas *Canvas, action *Action, overwrite bool) error {
	if canvas == nil || canvas.ID == "" || action == nil {
		return ValidationFailed("commit action", "canvas id is required", nil)
	}
	action.CanvasID = canvas.ID
	return s.writeAction(ctx, "commit action", canvas, action, overwrite)
}

func (s *sqlStore) writeAction(ctx context.Context, op string, canvas *Canvas, action *Action, overwrite bool) error {
	stampAction(action)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StorageFailure(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	// the canvas row goes first so a concurrent sweep either sees the new
	// updated_at or leaves nothing for the insert to attach to
	if err := s.touchCanvas(ctx, tx, op, canvas, action.CanvasID, action.Timestamp); err != nil {
		return err
	}
	if overwrite {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM actions WHERE canvas_id = ?`), action.CanvasID); err != nil {
			return StorageFailure(op, err)
		}
	}
	if err := s.insertAction(ctx, tx, action); err != nil {
		return StorageFailure(op, err)
	}
	if err := tx.Commit(); err != nil {
		return StorageFailure(op, err)
	}
	if canvas != nil {
		canvas.UpdatedAt = action.Timestamp
	}
	return nil
}

// touchCanvas sets updated_at, and the mutable metadata when canvas is given.
// It fails with NotFound when the row is gone.
func (s *sqlStore) touchCanvas(ctx context.Context, tx *sql.Tx, op string, canvas *Canvas, id string, at time.Time) error {
	var res sql.Result
	var err error
	if canvas != nil {
		res, err = tx.ExecContext(ctx, s.q(`
			UPDATE canvases SET background = ?, canvas_type = ?, updated_at = ? WHERE id = ?
		`), canvas.Background, canvas.CanvasType, s.encodeTime(at), id)
	} else {
		res, err = tx.ExecContext(ctx, s.q(`UPDATE canvases SET updated_at = ? WHERE id = ?`), s.encodeTime(at), id)
	}
	if err != nil {
		return StorageFailure(op, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return NotFound(op, "canvas %q does not exist", id)
	}
	return nil
}

func (s *sqlStore) insertAction(ctx context.Context, tx *sql.Tx, action *Action) error {
	params, err := encodeParams(action.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if s.dialect.name == postgresDialect.name {
		return tx.QueryRowContext(ctx, `
			INSERT INTO actions (canvas_id, action, params, timestamp)
			VALUES ($1,$2,$3,$4) RETURNING seq
		`, action.CanvasID, action.Name, params, s.encodeTime(action.Timestamp)).Scan(&action.Seq)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO actions (canvas_id, action, params, timestamp) VALUES (?,?,?,?)
	`, action.CanvasID, action.Name, params, s.encodeTime(action.Timestamp))
	if err != nil {
		return err
	}
	action.Seq, err = res.LastInsertId()
	return err
}

func (s *sqlStore) ListActions(ctx context.Context, canvasID string) ([]*Action, error) {
	return collect(s.Actions(ctx, canvasID))
}

// Actions streams the log of a canvas in seq order. Each range re-runs the query.
func (s *sqlStore) Actions(ctx context.Context, canvasID string) iter.Seq2[*Action, error] {
	return func(yield func(*Action, error) bool) {
		rows, err := s.db.QueryContext(ctx, s.q(`
			SELECT seq, canvas_id, action, params, timestamp
			FROM actions WHERE canvas_id = ? ORDER BY seq ASC
		`), canvasID)
		if err != nil {
			yield(nil, StorageFailure("list actions", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var action Action
			var raw []byte
			var ts timeValue
			if err := rows.Scan(&action.Seq, &action.CanvasID, &action.Name, &raw, &ts); err != nil {
				yield(nil, StorageFailure("scan action", err))
				return
			}
			params, err := decodeParams(raw)
			if err != nil {
				yield(nil, StorageFailure("decode action params", err))
				return
			}
			action.Params = params
			action.Timestamp = ts.Time
			if !yield(&action, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, StorageFailure("list actions", err))
		}
	}
}

// ReplaceActions swaps the whole log of a canvas and bumps its updated_at.
func (s *sqlStore) ReplaceActions(ctx context.Context, canvasID string, actions []*Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StorageFailure("replace actions", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.touchCanvas(ctx, tx, "replace actions", nil, canvasID, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM actions WHERE canvas_id = ?`), canvasID); err != nil {
		return StorageFailure("replace actions", err)
	}
	for _, action := range actions {
		if action == nil {
			continue
		}
		action.CanvasID = canvasID
		stampAction(action)
		if err := s.insertAction(ctx, tx, action); err != nil {
			return StorageFailure("replace actions", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return StorageFailure("replace actions", err)
	}
	return nil
}

func (s *sqlStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key == nil || key.Key == "" {
		return ValidationFailed("create api key", "key is required", nil)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO api_keys (key, label, created_at) VALUES (?,?,?)`),
		key.Key, key.Label, s.encodeTime(key.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return DuplicateIdentifier("create api key", err)
		}
		return StorageFailure("create api key", err)
	}
	return nil
}

func (s *sqlStore) LookupAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var out APIKey
	var label sql.NullString
	var createdAt timeValue
	err := s.db.QueryRowContext(ctx, s.q(`SELECT key, label, created_at FROM api_keys WHERE key = ?`), key).
		Scan(&out.Key, &label, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFound("lookup api key", "api key not found")
		}
		return nil, StorageFailure("lookup api key", err)
	}
	out.Label = label.String
	out.CreatedAt = createdAt.Time
	return &out, nil
}

func (s *sqlStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, label, created_at FROM api_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, StorageFailure("list api keys", err)
	}
	defer rows.Close()

	keys := []*APIKey{}
	for rows.Next() {
		var key APIKey
		var label sql.NullString
		var createdAt timeValue
		if err := rows.Scan(&key.Key, &label, &createdAt); err != nil {
			return nil, StorageFailure("scan api key", err)
		}
		key.Label = label.String
		key.CreatedAt = createdAt.Time
		keys = append(keys, &key)
	}
	if err := rows.Err(); err != nil {
		return nil, StorageFailure("list api keys", err)
	}
	return keys, nil
}

func (s *sqlStore) DeleteAPIKey(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM api_keys WHERE key = ?`), key)
	if err != nil {
		return StorageFailure("delete api key", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return NotFound("delete api key", "api key not found")
	}
	return nil
}

// timeValue scans timestamps stored either natively or as text.
type timeValue struct {
	Time time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timeValue) parse(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", value)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}
