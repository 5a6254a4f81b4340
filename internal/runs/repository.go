package runs

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error

	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string, limit int) ([]*Event, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const runColumns = `id, mode, status, stage, failed_stage, progress, error, user_message, prompt,
	comp_name, layer_name, render_folder, source_url, matte_url, request_id,
	result_url, result_path, fallback_url, created_at, updated_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.Status, run.Stage, nullString(run.FailedStage), run.Progress,
		nullString(run.Error), nullString(run.UserMessage), nullString(run.Prompt),
		nullString(run.CompName), nullString(run.LayerName), nullString(run.RenderDir),
		nullString(run.SourceURL), nullString(run.MatteURL), nullString(run.RequestID),
		nullString(run.ResultURL), nullString(run.ResultPath), nullString(run.FallbackURL),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateRun writes every mutable field of run.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, stage = ?, failed_stage = ?, progress = ?, error = ?, user_message = ?,
			comp_name = ?, layer_name = ?, render_folder = ?, source_url = ?, matte_url = ?,
			request_id = ?, result_url = ?, result_path = ?, fallback_url = ?, updated_at = ?
		WHERE id = ?
	`, run.Status, run.Stage, nullString(run.FailedStage), run.Progress,
		nullString(run.Error), nullString(run.UserMessage),
		nullString(run.CompName), nullString(run.LayerName), nullString(run.RenderDir),
		nullString(run.SourceURL), nullString(run.MatteURL), nullString(run.RequestID),
		nullString(run.ResultURL), nullString(run.ResultPath), nullString(run.FallbackURL),
		formatTime(run.UpdatedAt), run.ID)
	return err
}

func (r *SQLiteRepository) AppendEvent(ctx context.Context, e *Event) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, stage, message, created_at) VALUES (?, ?, ?, ?)
	`, e.RunID, e.Stage, e.Message, formatTime(e.CreatedAt))
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListEvents returns a run's events oldest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, runID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, stage, message, created_at
		FROM run_events WHERE run_id = ? ORDER BY id ASC LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Message, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var failedStage, errMsg, userMsg, prompt, compName, layerName, renderDir sql.NullString
	var sourceURL, matteURL, requestID, resultURL, resultPath, fallbackURL sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.Mode, &run.Status, &run.Stage, &failedStage, &run.Progress,
		&errMsg, &userMsg, &prompt, &compName, &layerName, &renderDir,
		&sourceURL, &matteURL, &requestID, &resultURL, &resultPath, &fallbackURL,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.FailedStage = failedStage.String
	run.Error = errMsg.String
	run.UserMessage = userMsg.String
	run.Prompt = prompt.String
	run.CompName = compName.String
	run.LayerName = layerName.String
	run.RenderDir = renderDir.String
	run.SourceURL = sourceURL.String
	run.MatteURL = matteURL.String
	run.RequestID = requestID.String
	run.ResultURL = resultURL.String
	run.ResultPath = resultPath.String
	run.FallbackURL = fallbackURL.String
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
