package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"speakerscribe/internal/config"
	"speakerscribe/internal/corrections"
	"speakerscribe/internal/gpu"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/media/audio"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/pyannote"
	"speakerscribe/internal/services/whisperx"
	"speakerscribe/internal/speakers"
	"speakerscribe/internal/transcript"
)

// Degradation records a capability that was skipped without failing the run.
type Degradation struct {
	Capability string `json:"capability"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// Result is the outcome of a successful run.
type Result struct {
	Source   audio.Source
	Language string
	Segments []transcript.LabeledSegment
	Turns    []transcript.Turn
	Degraded []Degradation
	Elapsed  time.Duration
}

// DegradedCapabilities lists the degraded capability names in order.
func (r *Result) DegradedCapabilities() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Degraded))
	for _, d := range r.Degraded {
		out = append(out, d.Capability)
	}
	return out
}

// Run executes load, transcribe, align, diarize, assign and correct for
// opts.Input. Non-fatal failures are recorded in Result.Degraded.
func (c *Context) Run(ctx context.Context, opts Options, progress Progress) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	logger := logging.WithContext(ctx, c.logger)

	progress.emit(StageLoad)
	src, err := c.loader.Load(services.WithStage(ctx, StageLoad), opts.Input)
	if err != nil {
		return nil, err
	}

	if opts.Device == config.DeviceGPU {
		progress.emit(StagePreflight)
		lock, err := c.preflightGPU(services.WithStage(ctx, StagePreflight))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("failed to release gpu lock", logging.Error(err))
			}
		}()
	}

	runDir, err := os.MkdirTemp(c.workDir, "run-*")
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, StageLoad, "prepare", "create run directory", err)
	}
	defer os.RemoveAll(runDir)

	src, err = c.loader.Normalize(services.WithStage(ctx, StageLoad), src, runDir)
	if err != nil {
		return nil, err
	}

	result := &Result{Source: src}

	progress.emit(StageTranscribe)
	tr, err := c.transcriber.Transcribe(services.WithStage(ctx, StageTranscribe), src, whisperx.TranscribeOptions{
		ModelSize:   opts.ModelSize,
		Language:    opts.ResolvedLanguage(),
		BatchSize:   opts.BatchSize,
		Device:      opts.Device,
		ComputeType: opts.ComputeType,
	})
	if err != nil {
		return nil, err
	}
	result.Language = tr.Language
	if result.Language == "" {
		result.Language = opts.ResolvedLanguage()
	}
	segments := tr.Segments

	progress.emit(StageAlign)
	aligned, err := c.transcriber.Align(services.WithStage(ctx, StageAlign), src, segments, result.Language, opts.Device)
	switch {
	case err == nil:
		segments = aligned
	case alignmentDegradable(err):
		result.degrade(logger, "alignment", err, "word timings keep segment-level granularity")
	default:
		return nil, err
	}

	var turns []transcript.Turn
	if opts.Diarize {
		progress.emit(StageDiarize)
		turns, err = c.diarize(services.WithStage(ctx, StageDiarize), src, opts)
		switch {
		case err == nil:
		case diarizationDegradable(err):
			result.degrade(logger, "diarization", err, "all segments labeled "+transcript.Unknown)
			turns = nil
		default:
			return nil, err
		}
	} else {
		logger.Info("diarization disabled; labeling all segments "+transcript.Unknown,
			logging.String(logging.FieldEventType, "diarization_disabled"))
	}
	result.Turns = turns

	progress.emit(StageAssign)
	labeled := speakers.Assign(segments, turns)

	if opts.Corrections {
		progress.emit(StageCorrect)
		engine, err := corrections.NewEngine(c.rules)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, StageCorrect, "build engine", "", err)
		}
		labeled = engine.Apply(labeled)
	}
	result.Segments = labeled

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(started)
	logger.Info("pipeline complete",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.Int("segments", len(labeled)),
		logging.Int("speakers", len(transcript.Speakers(labeled))),
		logging.String("language", result.Language),
		logging.Duration("elapsed", result.Elapsed),
		logging.Strings("degraded", result.DegradedCapabilities()),
	)
	return result, nil
}

func (c *Context) preflightGPU(ctx context.Context) (*gpu.Lock, error) {
	info := c.detectGPU(ctx)
	if !info.Available {
		detail := strings.TrimSpace(info.Detail)
		if detail == "" {
			detail = "no GPU detected"
		}
		return nil, services.Wrap(services.ErrModelLoad, StagePreflight, "detect gpu",
			fmt.Sprintf("device gpu requested but unavailable (%s); rerun with --device cpu", detail), nil)
	}
	lock, err := gpu.Acquire(ctx, c.cfg.Paths.LockDir, info.Devices[0].Index)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrResourceExhaustion, StagePreflight, "lock gpu", "", err)
	}
	logging.WithContext(ctx, c.logger).Debug("gpu lock acquired",
		logging.String("device", info.Devices[0].Name),
		logging.String("lock", lock.Path()),
	)
	return lock, nil
}

// diarize wraps the Diarizer call in the clear_gpu_cache boundary.
func (c *Context) diarize(ctx context.Context, src audio.Source, opts Options) ([]transcript.Turn, error) {
	d := c.diarizer(opts.Credential)
	defer d.ClearGPUCache(context.WithoutCancel(ctx))
	return d.Diarize(ctx, src, pyannote.DiarizeOptions{
		NumSpeakers: opts.NumSpeakers,
		MinSpeakers: opts.MinSpeakers,
		MaxSpeakers: opts.MaxSpeakers,
		Device:      opts.Device,
	})
}

func (r *Result) degrade(logger *slog.Logger, capability string, err error, impact string) {
	r.Degraded = append(r.Degraded, Degradation{
		Capability: capability,
		Kind:       services.Kind(err),
		Reason:     err.Error(),
	})
	attrs := append(logging.Failure(err),
		logging.String(logging.FieldImpact, impact),
		logging.String(logging.FieldErrorHint, hintFor(err)),
	)
	logging.WarnWithContext(logger, capability+" skipped", capability+"_degraded", attrs...)
}

func alignmentDegradable(err error) bool {
	return errors.Is(err, services.ErrAlignmentUnavailable) || errors.Is(err, services.ErrModelLoad)
}

// Cancellation, timeouts, and resource exhaustion stay fatal.
func diarizationDegradable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, services.ErrTimeout), errors.Is(err, services.ErrResourceExhaustion):
		return false
	}
	return errors.Is(err, services.ErrAuthentication) ||
		errors.Is(err, services.ErrModelLoad) ||
		errors.Is(err, services.ErrExternalTool)
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, services.ErrAuthentication):
		return "set HF_TOKEN or --credential and accept the pyannote model terms"
	case errors.Is(err, services.ErrAlignmentUnavailable):
		return "no alignment model exists for this language"
	case errors.Is(err, services.ErrModelLoad):
		return "check model downloads and device availability"
	default:
		return "check logs for details"
	}
}
