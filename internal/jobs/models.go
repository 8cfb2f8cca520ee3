package jobs

import (
	"time"

	"speakerscribe/internal/pipeline"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Job is one web-mode transcription request.
type Job struct {
	ID           string            `json:"id"`
	OriginalName string            `json:"original_name"`
	UploadPath   string            `json:"-"`
	OutputDir    string            `json:"-"`
	Status       Status            `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	Progress     int               `json:"progress"`
	Message      string            `json:"message,omitempty"`
	Device       string            `json:"device"`
	Options      pipeline.Options  `json:"options"`
	Outputs      map[string]string `json:"-"`
	Degraded     []string          `json:"degraded,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// Formats lists the output formats available for download.
func (j *Job) Formats() []string {
	if j == nil || j.Status != StatusSucceeded {
		return nil
	}
	out := make([]string, 0, len(j.Outputs))
	for _, f := range []string{"text", "structured", "subtitle"} {
		if _, ok := j.Outputs[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
