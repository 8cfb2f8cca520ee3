package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInput                = errors.New("input error")
	ErrConfiguration        = errors.New("configuration error")
	ErrModelLoad            = errors.New("model load error")
	ErrAuthentication       = errors.New("authentication error")
	ErrTranscription        = errors.New("transcription error")
	ErrAlignmentUnavailable = errors.New("alignment unavailable")
	ErrTimeout              = errors.New("timeout")
	ErrResourceExhaustion   = errors.New("resource exhaustion")
	ErrExternalTool         = errors.New("external tool error")
)

// Kind strings are persisted in job records and run reports.
const (
	KindInput                = "input_error"
	KindConfiguration        = "configuration_error"
	KindModelLoad            = "model_load_error"
	KindAuthentication       = "authentication_error"
	KindTranscription        = "transcription_error"
	KindAlignmentUnavailable = "alignment_unavailable"
	KindTimeout              = "timeout_error"
	KindResourceExhaustion   = "resource_exhaustion"
	KindExternalTool         = "external_tool_error"
	KindCanceled             = "canceled"
	KindUnknown              = "unknown_error"
)

// Process exit codes reported by the CLI.
const (
	ExitOK                 = 0
	ExitInput              = 1
	ExitModelLoad          = 2
	ExitTranscription      = 4
	ExitResourceExhaustion = 5
	ExitCanceled           = 130
	ExitTimeout            = 124
)

var markerKinds = []struct {
	marker error
	kind   string
	exit   int
}{
	{ErrInput, KindInput, ExitInput},
	{ErrConfiguration, KindConfiguration, ExitInput},
	{ErrModelLoad, KindModelLoad, ExitModelLoad},
	{ErrAuthentication, KindAuthentication, ExitInput},
	{ErrResourceExhaustion, KindResourceExhaustion, ExitResourceExhaustion},
	{ErrTimeout, KindTimeout, ExitTimeout},
	{ErrTranscription, KindTranscription, ExitTranscription},
	{ErrAlignmentUnavailable, KindAlignmentUnavailable, ExitTranscription},
	{ErrExternalTool, KindExternalTool, ExitTranscription},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the stable taxonomy name for err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	if isCanceled(err) {
		return KindCanceled
	}
	return KindUnknown
}

// MarkerForKind maps a persisted kind back to its sentinel marker.
func MarkerForKind(kind string) error {
	kind = strings.TrimSpace(kind)
	for _, entry := range markerKinds {
		if entry.kind == kind {
			return entry.marker
		}
	}
	return nil
}

// ExitCode maps err to the CLI process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			return entry.exit
		}
	}
	if isCanceled(err) {
		return ExitCanceled
	}
	return ExitInput
}

// KindForExitCode infers a kind from a worker exit status when no report was
// written.
func KindForExitCode(code int) string {
	switch code {
	case ExitOK:
		return ""
	case ExitInput:
		return KindInput
	case ExitModelLoad:
		return KindModelLoad
	case ExitTranscription:
		return KindTranscription
	case ExitResourceExhaustion:
		return KindResourceExhaustion
	case ExitTimeout:
		return KindTimeout
	case ExitCanceled:
		return KindCanceled
	default:
		return KindUnknown
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
