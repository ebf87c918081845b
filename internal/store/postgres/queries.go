package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yunfie-twitter/ytdlp-api/internal/model"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
)

const taskColumns = `
	id, source_url, container, format_code, quality_hint, audio_only, title,
	embed_thumbnail, client_id, proxy, cookies_file,
	resolved_title, thumbnail_url, duration_sec,
	status, percent, process_id,
	output_path, output_size, output_name, error_message,
	created_at, updated_at, completed_at, client_ip
`

func insertTask(ctx context.Context, pool *pgxpool.Pool, t model.Task) (model.Task, error) {
	query := `
INSERT INTO tasks (
	id, source_url, container, format_code, quality_hint, audio_only, title,
	embed_thumbnail, client_id, proxy, cookies_file,
	status, percent, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14
)
RETURNING ` + taskColumns
	row := pool.QueryRow(ctx, query,
		t.ID, t.SourceURL, t.Container, t.FormatCode, t.QualityHint, t.AudioOnly, t.Title,
		t.EmbedThumbnail, t.ClientID, t.Proxy, t.CookiesFile,
		model.StatusPending, 0.0, time.Now(),
	)
	return scanTask(row)
}

func selectTask(ctx context.Context, pool *pgxpool.Pool, id string) (model.Task, error) {
	row := pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// nonTerminalStatuses lists every status CanTransition still allows an
// outgoing edge from, i.e. what "active" means for FindActiveByClientID.
var nonTerminalStatuses = []string{
	string(model.StatusPending), string(model.StatusDownloading), string(model.StatusProcessing),
}

func selectActiveTaskByClientID(ctx context.Context, pool *pgxpool.Pool, clientID string) (model.Task, error) {
	row := pool.QueryRow(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE client_id = $1 AND status = ANY($2)
ORDER BY created_at DESC
LIMIT 1`, clientID, nonTerminalStatuses)
	return scanTask(row)
}

func updateTask(ctx context.Context, pool *pgxpool.Pool, t model.Task) (model.Task, error) {
	query := `
UPDATE tasks SET
	resolved_title = $2, thumbnail_url = $3, duration_sec = $4,
	status = $5, percent = $6, process_id = $7,
	output_path = $8, output_size = $9, output_name = $10, error_message = $11,
	updated_at = $12, completed_at = $13
WHERE id = $1
RETURNING ` + taskColumns
	var completedAt sql.NullTime
	if !t.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: t.CompletedAt, Valid: true}
	}
	row := pool.QueryRow(ctx, query,
		t.ID, t.ResolvedTitle, t.ThumbnailURL, t.DurationSec,
		t.Status, t.Percent, nullableInt(t.ProcessID),
		t.OutputPath, nullableInt64(t.OutputSize), t.OutputName, t.ErrorMessage,
		t.UpdatedAt, completedAt,
	)
	return scanTask(row)
}

func listTasks(ctx context.Context, pool *pgxpool.Pool, status model.Status, limit int) ([]model.Task, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row pgx.Row) (model.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row scannable) (model.Task, error) {
	var t model.Task
	var processID sql.NullInt32
	var outputSize sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.SourceURL, &t.Container, &t.FormatCode, &t.QualityHint, &t.AudioOnly, &t.Title,
		&t.EmbedThumbnail, &t.ClientID, &t.Proxy, &t.CookiesFile,
		&t.ResolvedTitle, &t.ThumbnailURL, &t.DurationSec,
		&t.Status, &t.Percent, &processID,
		&t.OutputPath, &outputSize, &t.OutputName, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt, &completedAt, &t.ClientIP,
	)
	if err != nil {
		return model.Task{}, err
	}
	if processID.Valid {
		t.ProcessID = int(processID.Int32)
	}
	if outputSize.Valid {
		t.OutputSize = outputSize.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	return t, nil
}

func applyPatch(t model.Task, patch store.Patch) model.Task {
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.ResolvedTitle != nil {
		t.ResolvedTitle = *patch.ResolvedTitle
	}
	if patch.ThumbnailURL != nil {
		t.ThumbnailURL = *patch.ThumbnailURL
	}
	if patch.DurationSec != nil {
		t.DurationSec = *patch.DurationSec
	}
	if patch.Percent != nil {
		t.Percent = *patch.Percent
	}
	if patch.ProcessID != nil {
		t.ProcessID = *patch.ProcessID
	}
	if patch.OutputPath != nil {
		t.OutputPath = *patch.OutputPath
	}
	if patch.OutputSize != nil {
		t.OutputSize = *patch.OutputSize
	}
	if patch.OutputName != nil {
		t.OutputName = *patch.OutputName
	}
	if patch.ErrorMessage != nil {
		t.ErrorMessage = *patch.ErrorMessage
	}
	if patch.CompletedAt != nil && *patch.CompletedAt {
		t.CompletedAt = time.Now()
	}
	return t
}

func nullableInt(v int) sql.NullInt32 {
	if v == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(v), Valid: true}
}

func nullableInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
