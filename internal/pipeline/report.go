package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"speakerscribe/internal/fileutil"
	"speakerscribe/internal/output"
	"speakerscribe/internal/services"
	"speakerscribe/internal/transcript"
)

// Report statuses.
const (
	ReportSucceeded = "succeeded"
	ReportFailed    = "failed"
)

// Report is the machine-readable summary a worker leaves for its
// coordinator.
type Report struct {
	Status    string            `json:"status"`
	Input     string            `json:"input"`
	Language  string            `json:"language,omitempty"`
	Duration  float64           `json:"duration"`
	Segments  int               `json:"segments"`
	Speakers  []string          `json:"speakers,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	Degraded  []Degradation     `json:"degraded,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	ExitCode  int               `json:"exit_code"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

// NewReport summarizes a finished run. err is the run or write failure, if
// any.
func NewReport(input string, result *Result, outputs Outputs, err error) Report {
	r := Report{Input: input, ExitCode: services.ExitCode(err)}
	if result != nil {
		r.Language = result.Language
		r.Duration = result.Source.Duration
		r.Segments = len(result.Segments)
		r.Degraded = result.Degraded
		r.ElapsedMS = result.Elapsed.Milliseconds()
		r.Speakers = transcript.Speakers(result.Segments)
	}
	if err != nil {
		r.Status = ReportFailed
		r.ErrorKind = services.Kind(err)
		r.Error = err.Error()
		return r
	}
	r.Status = ReportSucceeded
	r.Outputs = make(map[string]string, len(outputs))
	for f, p := range outputs {
		r.Outputs[string(f)] = p
	}
	return r
}

// OutputPath returns the path written for f.
func (r Report) OutputPath(f output.Format) (string, bool) {
	p, ok := r.Outputs[string(f)]
	return p, ok
}

// WriteReport stores r atomically at path.
func WriteReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return r, nil
}
