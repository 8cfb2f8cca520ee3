package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound reports an unknown job identifier.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition reports a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Create inserts a queued job. CreatedAt is stamped when zero.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("job requires an id")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = StatusQueued
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (id, original_name, upload_path, output_dir, status, progress, device, options_json, created_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		job.ID, job.OriginalName, job.UploadPath, job.OutputDir, job.Status, job.Device,
		string(optionsJSON), formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs ordered by creation time, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkRunning moves a queued job to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	return s.transition(ctx, id,
		`UPDATE jobs SET status = ?, started_at = ?, stage = 'starting', progress = 5, message = 'Starting worker'
         WHERE id = ? AND status = ?`,
		StatusRunning, now, id, StatusQueued,
	)
}

// UpdateProgress records worker progress. Only running jobs accept updates,
// and progress never moves backwards.
func (s *Store) UpdateProgress(ctx context.Context, id, stage string, percent int, message string) error {
	percent = max(0, min(percent, 100))
	return s.transition(ctx, id,
		`UPDATE jobs SET stage = ?, progress = MAX(progress, ?), message = ?
         WHERE id = ? AND status = ?`,
		nullableString(stage), percent, nullableString(message), id, StatusRunning,
	)
}

// Succeed marks a running job succeeded with its output files.
func (s *Store) Succeed(ctx context.Context, id string, outputs map[string]string, degraded []string) error {
	outputsJSON, err := nullableJSON(outputs, len(outputs) == 0)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	degradedJSON, err := nullableJSON(degraded, len(degraded) == 0)
	if err != nil {
		return fmt.Errorf("encode degraded: %w", err)
	}
	message := "Complete"
	if len(degraded) > 0 {
		message = "Complete (degraded: " + strings.Join(degraded, ", ") + ")"
	}
	return s.transition(ctx, id,
		`UPDATE jobs SET status = ?, stage = 'complete', progress = 100, message = ?,
             outputs_json = ?, degraded_json = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		StatusSucceeded, message, outputsJSON, degradedJSON, formatTime(time.Now()), id, StatusRunning,
	)
}

// Fail marks a queued or running job failed.
func (s *Store) Fail(ctx context.Context, id, kind, message string) error {
	return s.transition(ctx, id,
		`UPDATE jobs SET status = ?, message = 'Failed', error_kind = ?, error_message = ?, finished_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, nullableString(kind), nullableString(message), formatTime(time.Now()),
		id, StatusQueued, StatusRunning,
	)
}

// Delete removes a job record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
}
