package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/cryptoprices/internal/apperror"
	"github.com/ahmethakanbesel/cryptoprices/internal/mirror"
)

type Repository struct {
	db *sql.DB
}

var _ mirror.RunRepository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectRuns = `SELECT id, status, symbols_count, records_count, error, created_at, updated_at
	FROM sync_runs`

func (r *Repository) Create(ctx context.Context, run *mirror.Run) error {
	const query = `INSERT INTO sync_runs (status, symbols_count, records_count) VALUES (?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query, string(run.Status), run.SymbolsCount, run.RecordsCount)
	if err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}

	run.ID, _ = res.LastInsertId()
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	return nil
}

func (r *Repository) Update(ctx context.Context, run *mirror.Run) error {
	const query = `UPDATE sync_runs SET status = ?, symbols_count = ?, records_count = ?, error = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`

	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		string(run.Status), run.SymbolsCount, run.RecordsCount, errText, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update sync run: %w", err)
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*mirror.Run, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "sync run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get sync run: %w", err)
	}
	return run, nil
}

func (r *Repository) List(ctx context.Context, status mirror.Status, limit int) ([]mirror.Run, error) {
	query := selectRuns + ` WHERE 1=1`
	var args []any
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []mirror.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// FailInterrupted closes runs that were still running when the process
// stopped.
func (r *Repository) FailInterrupted(ctx context.Context) (int64, error) {
	const query = `UPDATE sync_runs SET status = 'failed', error = 'interrupted',
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE status = 'running'`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted sync runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*mirror.Run, error) {
	run := &mirror.Run{}
	var status, createdStr, updatedStr string
	var errText sql.NullString

	if err := s.Scan(
		&run.ID, &status, &run.SymbolsCount, &run.RecordsCount,
		&errText, &createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	run.Status = mirror.Status(status)
	if errText.Valid {
		run.Error = errText.String
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return run, nil
}
