package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, original_name, upload_path, output_dir, status, stage, progress, message, device, options_json, outputs_json, degraded_json, error_kind, error_message, created_at, started_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		statusStr    string
		stage        sql.NullString
		message      sql.NullString
		optionsJSON  string
		outputsJSON  sql.NullString
		degradedJSON sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.OriginalName,
		&job.UploadPath,
		&job.OutputDir,
		&statusStr,
		&stage,
		&job.Progress,
		&message,
		&job.Device,
		&optionsJSON,
		&outputsJSON,
		&degradedJSON,
		&errorKind,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(statusStr)
	job.Stage = stage.String
	job.Message = message.String
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String

	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options for job %s: %w", job.ID, err)
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &job.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for job %s: %w", job.ID, err)
		}
	}
	if degradedJSON.Valid && degradedJSON.String != "" {
		if err := json.Unmarshal([]byte(degradedJSON.String), &job.Degraded); err != nil {
			return nil, fmt.Errorf("decode degraded for job %s: %w", job.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.FinishedAt = parseNullableTime(finishedRaw)
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableJSON(value any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := range count {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
