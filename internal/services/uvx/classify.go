package uvx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"speakerscribe/internal/services"
)

// Script-reported failure kinds.
const (
	KindAuthentication       = "authentication"
	KindModelLoad            = "model_load"
	KindResourceExhaustion   = "resource_exhaustion"
	KindTranscription        = "transcription"
	KindAlignmentUnavailable = "alignment_unavailable"
	KindInput                = "input"
)

var kindMarkers = map[string]error{
	KindAuthentication:       services.ErrAuthentication,
	KindModelLoad:            services.ErrModelLoad,
	KindResourceExhaustion:   services.ErrResourceExhaustion,
	KindTranscription:        services.ErrTranscription,
	KindAlignmentUnavailable: services.ErrAlignmentUnavailable,
	KindInput:                services.ErrInput,
}

type scriptFailure struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func classify(ctx context.Context, stage string, stderr []byte, runErr error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stage, "run script", "deadline exceeded", ctxErr)
		}
		return fmt.Errorf("%s: %w", stage, ctxErr)
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return services.Wrap(services.ErrExternalTool, stage, "run script", "uvx not found on PATH (install uv)", runErr)
	}

	if failure, ok := parseFailure(stderr); ok {
		marker, known := kindMarkers[failure.Kind]
		if !known {
			marker = markerFromText(failure.Error)
		}
		return services.Wrap(marker, stage, "run script", failure.Error, nil)
	}

	text := string(stderr)
	marker := markerFromText(text)
	var exitErr *exec.ExitError
	if marker == services.ErrExternalTool && errors.As(runErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGKILL {
			return services.Wrap(services.ErrResourceExhaustion, stage, "run script", "model process was killed (likely out of memory)", runErr)
		}
	}
	return services.Wrap(marker, stage, "run script", summarize(text), runErr)
}

// parseFailure finds the last JSON failure line on stderr.
func parseFailure(stderr []byte) (scriptFailure, bool) {
	lines := bytes.Split(bytes.TrimSpace(stderr), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var failure scriptFailure
		if json.Unmarshal(line, &failure) == nil && strings.TrimSpace(failure.Error) != "" {
			return failure, true
		}
	}
	return scriptFailure{}, false
}

func markerFromText(text string) error {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "GatedRepoError"),
		strings.Contains(lower, "401 client error"),
		strings.Contains(lower, "invalid user token"):
		return services.ErrAuthentication
	case strings.Contains(lower, "out of memory"),
		strings.Contains(text, "OutOfMemoryError"):
		return services.ErrResourceExhaustion
	case strings.Contains(lower, "no cuda gpus"),
		strings.Contains(lower, "torch not compiled with cuda"),
		strings.Contains(lower, "cuda driver"):
		return services.ErrModelLoad
	default:
		return services.ErrExternalTool
	}
}

// summarize picks the most useful line of a Python traceback: the last line
// naming an error or exception, otherwise the last non-empty line.
func summarize(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if last == "" {
			last = line
		}
		if strings.Contains(line, "Error:") || strings.Contains(line, "Exception:") {
			return line
		}
	}
	if last == "" {
		return "model script failed"
	}
	return last
}
