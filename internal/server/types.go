package server

import (
	"speakerscribe/internal/deps"
	"speakerscribe/internal/jobs"
)

// JobView is the public shape of a job.
type JobView struct {
	*jobs.Job
	Formats []string `json:"formats,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse lists jobs oldest first.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// TranscriptResponse carries the text transcript inline.
type TranscriptResponse struct {
	ID         string `json:"id"`
	Transcript string `json:"transcript"`
}

// HealthResponse reports liveness and tool availability.
type HealthResponse struct {
	Status       string         `json:"status"`
	Jobs         map[string]int `json:"jobs"`
	Dependencies []deps.Status  `json:"dependencies,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func newJobView(job *jobs.Job) JobView {
	return JobView{Job: job, Formats: job.Formats()}
}
