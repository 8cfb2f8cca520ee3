package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"speakerscribe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTranscription, "transcribe", "whisperx", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTranscription) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "whisperx", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindAndExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
		exit int
	}{
		{"nil", nil, "", services.ExitOK},
		{"input", services.Wrap(services.ErrInput, "load", "", "missing", nil), services.KindInput, services.ExitInput},
		{"model", services.Wrap(services.ErrModelLoad, "transcribe", "", "no gpu", nil), services.KindModelLoad, services.ExitModelLoad},
		{"transcription", services.Wrap(services.ErrTranscription, "", "", "corrupt", nil), services.KindTranscription, services.ExitTranscription},
		{"oom", services.Wrap(services.ErrResourceExhaustion, "", "", "oom", nil), services.KindResourceExhaustion, services.ExitResourceExhaustion},
		{"timeout", services.Wrap(services.ErrTimeout, "", "", "slow", nil), services.KindTimeout, services.ExitTimeout},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), services.KindCanceled, services.ExitCanceled},
		{"unknown", errors.New("mystery"), services.KindUnknown, services.ExitInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.kind {
				t.Fatalf("Kind = %q, want %q", got, tc.kind)
			}
			if got := services.ExitCode(tc.err); got != tc.exit {
				t.Fatalf("ExitCode = %d, want %d", got, tc.exit)
			}
		})
	}
}

func TestMarkerForKindRoundTrip(t *testing.T) {
	for _, marker := range []error{services.ErrInput, services.ErrModelLoad, services.ErrTimeout, services.ErrResourceExhaustion} {
		kind := services.Kind(marker)
		if got := services.MarkerForKind(kind); got != marker {
			t.Fatalf("MarkerForKind(%q) = %v, want %v", kind, got, marker)
		}
	}
	if services.MarkerForKind("nonsense") != nil {
		t.Fatal("expected nil marker for unknown kind")
	}
}

func TestKindForExitCode(t *testing.T) {
	if got := services.KindForExitCode(services.ExitModelLoad); got != services.KindModelLoad {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := services.KindForExitCode(137); got != services.KindUnknown {
		t.Fatalf("unexpected kind for signal exit %q", got)
	}
}
