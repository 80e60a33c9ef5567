package canvas

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, NewPostgresStore(db)
}

func TestPostgresStore_CreateCanvas(t *testing.T) {
	noRetired := func(mock sqlmock.Sqlmock) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT 1 FROM retired_human_ids WHERE human_id = \$1`).
			WithArgs("brisk-vortex-197").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	}
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantKind  Kind
	}{
		{
			name: "successful create",
			setupMock: func(mock sqlmock.Sqlmock) {
				noRetired(mock)
				mock.ExpectExec("INSERT INTO canvases").
					WithArgs(
						"canvas-1",
						"brisk-vortex-197",
						"demo",
						800,
						600,
						"#000000",
						"",
						sqlmock.AnyArg(), // created_at
						sqlmock.AnyArg(), // updated_at
					).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "retired human id",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("FROM retired_human_ids").
					WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
				mock.ExpectRollback()
			},
			wantKind: KindDuplicateIdentifier,
		},
		{
			name: "unique violation",
			setupMock: func(mock sqlmock.Sqlmock) {
				noRetired(mock)
				mock.ExpectExec("INSERT INTO canvases").
					WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
				mock.ExpectRollback()
			},
			wantKind: KindDuplicateIdentifier,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				noRetired(mock)
				mock.ExpectExec("INSERT INTO canvases").
					WillReturnError(errors.New("connection refused"))
				mock.ExpectRollback()
			},
			wantKind: KindStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockDB(t)
			tt.setupMock(mock)

			err := store.CreateCanvas(context.Background(), &Canvas{
				ID:         "canvas-1",
				HumanID:    "brisk-vortex-197",
				Name:       "demo",
				Width:      800,
				Height:     600,
				Background: "#000000",
			})
			if KindOf(err) != tt.wantKind {
				t.Fatalf("CreateCanvas() error = %v, want kind %q", err, tt.wantKind)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresStore_GetCanvas(t *testing.T) {
	_, mock, store := setupMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "human_id", "name", "width", "height", "background", "canvas_type", "created_at", "updated_at"}).
		AddRow("canvas-1", "brisk-vortex-197", "demo", 800, 600, "#000000", "", now, now)
	mock.ExpectQuery(`SELECT id, human_id, name, width, height, background, canvas_type, created_at, updated_at\s+FROM canvases WHERE id = \$1`).
		WithArgs("canvas-1").
		WillReturnRows(rows)
	mock.ExpectQuery("FROM canvases WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, err := store.GetCanvas(context.Background(), "canvas-1")
	if err != nil {
		t.Fatalf("GetCanvas() error = %v", err)
	}
	if got.HumanID != "brisk-vortex-197" || got.Width != 800 || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected canvas %+v", got)
	}

	if _, err := store.GetCanvas(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_AppendActionOverwrite(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE canvases SET updated_at = \$1 WHERE id = \$2`).
		WithArgs(sqlmock.AnyArg(), "canvas-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM actions WHERE canvas_id = \$1`).
		WithArgs("canvas-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("INSERT INTO actions").
		WithArgs("canvas-1", "render_threejs", `{"code":"x"}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))
	mock.ExpectCommit()

	action := &Action{CanvasID: "canvas-1", Name: "render_threejs", Params: map[string]any{"code": "x"}}
	if err := store.AppendAction(context.Background(), action, true); err != nil {
		t.Fatalf("AppendAction() error = %v", err)
	}
	if action.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", action.Seq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_AppendActionRollsBackOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "insert fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE canvases").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("DELETE FROM actions").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("INSERT INTO actions").WillReturnError(errors.New("disk full"))
			},
			wantErr: ErrStorageFailure,
		},
		{
			name: "canvas gone",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE canvases").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockDB(t)
			mock.ExpectBegin()
			tt.setupMock(mock)
			mock.ExpectRollback()

			err := store.AppendAction(context.Background(), &Action{CanvasID: "canvas-1", Name: "clear"}, true)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AppendAction() error = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresStore_CommitActionWritesMetadata(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE canvases SET background = \$1, canvas_type = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("#222222", "", sqlmock.AnyArg(), "canvas-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO actions").
		WithArgs("canvas-1", "set_background", `{"color":"#222222"}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectCommit()

	canvas := &Canvas{ID: "canvas-1", Background: "#222222"}
	action := &Action{Name: "set_background", Params: map[string]any{"color": "#222222"}}
	if err := store.CommitAction(context.Background(), canvas, action, false); err != nil {
		t.Fatalf("CommitAction() error = %v", err)
	}
	if action.Seq != 7 || !canvas.UpdatedAt.Equal(action.Timestamp) {
		t.Fatalf("unexpected commit result action=%+v canvas=%+v", action, canvas)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_DeleteExpiredRetiresHumanIDs(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM canvases WHERE updated_at < \$1 RETURNING id, human_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "human_id"}).
			AddRow("canvas-1", "brisk-vortex-197").
			AddRow("canvas-2", nil))
	mock.ExpectExec(`DELETE FROM actions WHERE canvas_id = \$1`).
		WithArgs("canvas-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("INSERT INTO retired_human_ids").
		WithArgs("brisk-vortex-197", "canvas-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM actions WHERE canvas_id = \$1`).
		WithArgs("canvas-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	removed, err := store.DeleteExpired(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed canvases, got %d", removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_ListActions(t *testing.T) {
	_, mock, store := setupMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"seq", "canvas_id", "action", "params", "timestamp"}).
		AddRow(int64(1), "canvas-1", "create", []byte(`{"name":"demo"}`), now).
		AddRow(int64(2), "canvas-1", "draw_line", []byte(`{"start_x":0}`), now)
	mock.ExpectQuery(`FROM actions WHERE canvas_id = \$1 ORDER BY seq ASC`).
		WithArgs("canvas-1").
		WillReturnRows(rows)

	actions, err := store.ListActions(context.Background(), "canvas-1")
	if err != nil {
		t.Fatalf("ListActions() error = %v", err)
	}
	if len(actions) != 2 || actions[1].Name != "draw_line" {
		t.Fatalf("unexpected actions %+v", actions)
	}
	if actions[0].Params["name"] != "demo" {
		t.Fatalf("expected decoded params, got %#v", actions[0].Params)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_ResolveHumanID(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectQuery(`SELECT id FROM canvases WHERE human_id = \$1`).
		WithArgs("brisk-vortex-197").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("canvas-1"))
	mock.ExpectQuery(`SELECT id FROM canvases WHERE human_id = \$1`).
		WithArgs("canvas-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM canvases WHERE human_id = \$1`).
		WithArgs("x").
		WillReturnError(errors.New("timeout"))

	ctx := context.Background()
	if id, found, err := store.ResolveHumanID(ctx, "brisk-vortex-197"); err != nil || !found || id != "canvas-1" {
		t.Fatalf("ResolveHumanID() = %q, %v, %v", id, found, err)
	}
	if _, found, err := store.ResolveHumanID(ctx, "canvas-1"); err != nil || found {
		t.Fatalf("expected unresolved alias, got found=%v err=%v", found, err)
	}
	if _, _, err := store.ResolveHumanID(ctx, "x"); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
