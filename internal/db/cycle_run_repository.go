package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/omega/internal/models"
)

// CycleRun repository errors.
var (
	ErrCycleRunNotFound = errors.New("cycle run not found")
)

// CycleRunRepository records executed cycles.
type CycleRunRepository struct {
	db *DB
}

// NewCycleRunRepository creates a new CycleRunRepository.
func NewCycleRunRepository(db *DB) *CycleRunRepository {
	return &CycleRunRepository{db: db}
}

// Create records a finished cycle.
func (r *CycleRunRepository) Create(ctx context.Context, run *models.CycleRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	var resultJSON *string
	if len(run.Result) > 0 {
		data, err := json.Marshal(run.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal cycle result: %w", err)
		}
		value := string(data)
		resultJSON = &value
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycle_runs (
			id, loop_id, loop_type, status, latency_ms, error, result_json, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.LoopID,
		run.LoopType.String(),
		string(run.Status),
		run.LatencyMs,
		nullableString(run.Error),
		resultJSON,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle run: %w", err)
	}
	return nil
}

// Get retrieves a cycle run by ID.
func (r *CycleRunRepository) Get(ctx context.Context, id string) (*models.CycleRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, loop_id, loop_type, status, latency_ms, error, result_json, started_at, finished_at
		FROM cycle_runs WHERE id = ?
	`, id)
	return r.scanCycleRun(row)
}

// ListByLoop returns the most recent runs of a loop, newest first.
func (r *CycleRunRepository) ListByLoop(ctx context.Context, loopID string, limit int) ([]*models.CycleRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, loop_id, loop_type, status, latency_ms, error, result_json, started_at, finished_at
		FROM cycle_runs
		WHERE loop_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, loopID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.CycleRun, 0)
	for rows.Next() {
		run, err := r.scanCycleRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountByStatus counts a loop's runs with the given status.
func (r *CycleRunRepository) CountByStatus(ctx context.Context, loopID string, status models.CycleRunStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cycle_runs WHERE loop_id = ? AND status = ?",
		loopID, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cycle runs: %w", err)
	}
	return count, nil
}

func (r *CycleRunRepository) scanCycleRun(scanner interface{ Scan(...any) error }) (*models.CycleRun, error) {
	var (
		run        models.CycleRun
		loopType   string
		status     string
		errText    sql.NullString
		resultJSON sql.NullString
		startedAt  string
		finishedAt string
	)

	if err := scanner.Scan(
		&run.ID,
		&run.LoopID,
		&loopType,
		&status,
		&run.LatencyMs,
		&errText,
		&resultJSON,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCycleRunNotFound
		}
		return nil, fmt.Errorf("failed to scan cycle run: %w", err)
	}

	if lt, err := models.ParseLoopType(loopType); err == nil {
		run.LoopType = lt
	}
	run.Status = models.CycleRunStatus(status)
	run.Error = errText.String
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	if resultJSON.Valid && resultJSON.String != "" {
		_ = json.Unmarshal([]byte(resultJSON.String), &run.Result)
	}
	return &run, nil
}
