package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"speakerscribe/internal/config"
	"speakerscribe/internal/corrections"
	"speakerscribe/internal/gpu"
	"speakerscribe/internal/media/audio"
	"speakerscribe/internal/output"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/pyannote"
	"speakerscribe/internal/services/whisperx"
	"speakerscribe/internal/testsupport"
	"speakerscribe/internal/transcript"
)

type fakeLoader struct {
	duration float64
	err      error
}

func (f fakeLoader) Load(_ context.Context, path string) (audio.Source, error) {
	if f.err != nil {
		return audio.Source{}, f.err
	}
	return audio.Source{Path: path, Duration: f.duration, SampleRate: 44100, Channels: 2, StreamIndex: 0}, nil
}

func (f fakeLoader) Normalize(_ context.Context, src audio.Source, workDir string) (audio.Source, error) {
	src.NormalizedPath = filepath.Join(workDir, "input.16k.wav")
	return src, nil
}

type fakeTranscriber struct {
	segments     []transcript.Segment
	alignErr     error
	transcribed  int
	lastLanguage string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, src audio.Source, opts whisperx.TranscribeOptions) (whisperx.TranscribeResult, error) {
	f.transcribed++
	f.lastLanguage = opts.Language
	return whisperx.TranscribeResult{Language: "en", Segments: transcript.Normalize(f.segments, src.Duration)}, nil
}

func (f *fakeTranscriber) Align(_ context.Context, _ audio.Source, segments []transcript.Segment, _, _ string) ([]transcript.Segment, error) {
	if f.alignErr != nil {
		return nil, f.alignErr
	}
	return segments, nil
}

type fakeDiarizer struct {
	turns   []transcript.Turn
	err     error
	cleared int
}

func (f *fakeDiarizer) Diarize(context.Context, audio.Source, pyannote.DiarizeOptions) ([]transcript.Turn, error) {
	return f.turns, f.err
}

func (f *fakeDiarizer) ClearGPUCache(context.Context) { f.cleared++ }

func conversation() []transcript.Segment {
	return []transcript.Segment{
		{Start: 0, End: 2, Text: "we use Asian face tools"},
		{Start: 2, End: 2.3, Text: "yeah"},
		{Start: 2.3, End: 5, Text: "right so open-ass models"},
	}
}

func conversationTurns() []transcript.Turn {
	return []transcript.Turn{
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
		{Start: 2, End: 2.3, Speaker: "SPEAKER_01"},
		{Start: 2.3, End: 5, Speaker: "SPEAKER_00"},
	}
}

func newContext(t *testing.T, cfg *config.Config, tr *fakeTranscriber, d *fakeDiarizer, opts ...pipeline.Option) *pipeline.Context {
	t.Helper()
	base := []pipeline.Option{
		pipeline.WithLoader(fakeLoader{duration: 6}),
		pipeline.WithTranscriber(tr),
		pipeline.WithGPUDetector(gpu.Static(gpu.Info{})),
		pipeline.WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
	}
	if d != nil {
		base = append(base, pipeline.WithDiarizerFactory(func(pyannote.Config) pipeline.Diarizer { return d }))
	}
	pc, err := pipeline.NewContext(cfg, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func runOptions(t *testing.T, cfg *config.Config) pipeline.Options {
	opts := pipeline.OptionsFromConfig(cfg)
	opts.Input = "/recordings/talk.mp3"
	opts.OutputDir = filepath.Join(t.TempDir(), "out")
	return opts
}

func TestRunLabelsCorrectsAndWrites(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToken("hf_test"))
	tr := &fakeTranscriber{segments: conversation()}
	d := &fakeDiarizer{turns: conversationTurns()}
	pc := newContext(t, cfg, tr, d)
	opts := runOptions(t, cfg)

	var events []string
	result, err := pc.Run(context.Background(), opts, func(ev pipeline.Event) { events = append(events, ev.Stage) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.cleared != 1 {
		t.Fatalf("expected gpu cache cleared once, got %d", d.cleared)
	}
	if len(result.Degraded) != 0 {
		t.Fatalf("unexpected degradation %+v", result.Degraded)
	}
	if tr.lastLanguage != "en" {
		t.Fatalf("expected configured language, got %q", tr.lastLanguage)
	}
	if len(result.Segments) != 3 {
		t.Fatalf("expected 3 speech segments, got %+v", result.Segments)
	}
	if got := result.Segments[0].Text; got != "we use agent-based tools" {
		t.Fatalf("correction not applied: %q", got)
	}
	if got := result.Segments[2].Text; got != "right so OpenAI's models" {
		t.Fatalf("correction not applied: %q", got)
	}
	mid := result.Segments[1]
	if !mid.Interjection || mid.Speaker != "SPEAKER_00" {
		t.Fatalf("expected reattributed interjection, got %+v", mid)
	}
	want := []string{pipeline.StageLoad, pipeline.StageTranscribe, pipeline.StageAlign, pipeline.StageDiarize, pipeline.StageAssign, pipeline.StageCorrect}
	if !slices.Equal(events, want) {
		t.Fatalf("unexpected progress %v", events)
	}

	outputs, err := pc.Write(result, opts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("expected three outputs, got %v", outputs)
	}
	if outputs[output.FormatText] != filepath.Join(opts.OutputDir, "talk.txt") {
		t.Fatalf("unexpected text path %q", outputs[output.FormatText])
	}
	data, err := os.ReadFile(outputs[output.FormatStructured])
	if err != nil {
		t.Fatalf("read structured: %v", err)
	}
	doc, err := output.ParseStructured(data)
	if err != nil {
		t.Fatalf("ParseStructured: %v", err)
	}
	if doc.Metadata.Source != "talk.mp3" || doc.Metadata.TotalSegments != 3 || doc.Metadata.Device != "cpu" {
		t.Fatalf("unexpected metadata %+v", doc.Metadata)
	}
	text, err := os.ReadFile(outputs[output.FormatText])
	if err != nil {
		t.Fatalf("read text: %v", err)
	}
	if !strings.HasPrefix(string(text), "[00:00.000–00:02.000] SPEAKER_00: we use agent-based tools\n") {
		t.Fatalf("unexpected text output %q", text)
	}
}

func TestRunWithoutCredentialDegradesToUnknown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("HF_TOKEN", "")
	tr := &fakeTranscriber{segments: conversation()}
	pc := newContext(t, cfg, tr, nil)
	opts := runOptions(t, cfg)
	opts.Credential = ""

	result, err := pc.Run(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result.DegradedCapabilities(); !slices.Equal(got, []string{"diarization"}) {
		t.Fatalf("expected diarization degradation, got %v", got)
	}
	if result.Degraded[0].Kind != services.KindAuthentication {
		t.Fatalf("unexpected kind %q", result.Degraded[0].Kind)
	}
	for _, seg := range result.Segments {
		if seg.Speaker != transcript.Unknown || seg.Interjection {
			t.Fatalf("expected unknown speaker, got %+v", seg)
		}
		for _, w := range seg.Words {
			if w.Speaker != transcript.Unknown {
				t.Fatalf("expected unknown word speaker, got %+v", w)
			}
		}
	}
	report := pipeline.NewReport(opts.Input, result, nil, nil)
	if report.ExitCode != services.ExitOK || len(report.Degraded) != 1 {
		t.Fatalf("degraded run must still succeed: %+v", report)
	}
}

func TestRunGPUUnavailableWritesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToken("hf_test"))
	tr := &fakeTranscriber{segments: conversation()}
	pc := newContext(t, cfg, tr, &fakeDiarizer{})
	opts := runOptions(t, cfg)
	opts.Device = "gpu"

	_, err := pc.Run(context.Background(), opts, nil)
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if services.ExitCode(err) != services.ExitModelLoad {
		t.Fatalf("unexpected exit code %d", services.ExitCode(err))
	}
	if tr.transcribed != 0 {
		t.Fatal("transcriber must not run without a GPU")
	}
	if _, statErr := os.Stat(opts.OutputDir); !os.IsNotExist(statErr) {
		t.Fatalf("output directory must not exist, stat err=%v", statErr)
	}
}

func TestRunGPUHoldsDeviceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToken("hf_test"))
	tr := &fakeTranscriber{segments: conversation()}
	d := &fakeDiarizer{turns: conversationTurns()}
	info := gpu.Info{Available: true, Devices: []gpu.Device{{Index: 0, Name: "Test GPU"}}}
	pc := newContext(t, cfg, tr, d, pipeline.WithGPUDetector(gpu.Static(info)))
	opts := runOptions(t, cfg)
	opts.Device = "gpu"

	held, err := gpu.TryAcquire(cfg.Paths.LockDir, 0)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := pc.Run(ctx, opts, nil); err == nil {
		t.Fatal("expected run to wait for the device and give up")
	}
	if tr.transcribed != 0 {
		t.Fatal("transcriber must not run while another process holds the device")
	}
	_ = held.Release()

	if _, err := pc.Run(context.Background(), opts, nil); err != nil {
		t.Fatalf("Run after release: %v", err)
	}
}

func TestRunAlignmentUnavailableDegrades(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToken("hf_test"))
	tr := &fakeTranscriber{
		segments: conversation(),
		alignErr: services.Wrap(services.ErrAlignmentUnavailable, "align", "select model", "no model for sw", nil),
	}
	d := &fakeDiarizer{turns: conversationTurns()}
	pc := newContext(t, cfg, tr, d)

	result, err := pc.Run(context.Background(), runOptions(t, cfg), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result.DegradedCapabilities(); !slices.Equal(got, []string{"alignment"}) {
		t.Fatalf("expected alignment degradation, got %v", got)
	}
	if result.Segments[0].Aligned {
		t.Fatal("segments must stay unaligned")
	}
}

func TestRunDiarizationResourceExhaustionIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToken("hf_test"))
	tr := &fakeTranscriber{segments: conversation()}
	d := &fakeDiarizer{err: services.Wrap(services.ErrResourceExhaustion, "diarize", "run script", "CUDA out of memory", nil)}
	pc := newContext(t, cfg, tr, d)

	_, err := pc.Run(context.Background(), runOptions(t, cfg), nil)
	if !errors.Is(err, services.ErrResourceExhaustion) {
		t.Fatalf("expected resource exhaustion, got %v", err)
	}
	if d.cleared != 1 {
		t.Fatalf("gpu cache must be cleared after failure, got %d", d.cleared)
	}
}

func TestRunWithoutCorrectionsKeepsText(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithToken("hf_test"))
	tr := &fakeTranscriber{segments: conversation()}
	d := &fakeDiarizer{turns: conversationTurns()}
	pc := newContext(t, cfg, tr, d, pipeline.WithRules(corrections.DefaultRules()))
	opts := runOptions(t, cfg)
	opts.Corrections = false

	result, err := pc.Run(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Segments[0].Text != "we use Asian face tools" {
		t.Fatalf("text changed without corrections: %q", result.Segments[0].Text)
	}
	if result.Segments[1].Speaker != "SPEAKER_01" || result.Segments[1].Interjection {
		t.Fatalf("speaker changed without corrections: %+v", result.Segments[1])
	}
}

func TestRunInputErrorStopsEarly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tr := &fakeTranscriber{}
	missing := services.Wrap(services.ErrInput, "load", "stat", "no such file", nil)
	pc := newContext(t, cfg, tr, &fakeDiarizer{}, pipeline.WithLoader(fakeLoader{err: missing}))

	_, err := pc.Run(context.Background(), runOptions(t, cfg), nil)
	if services.ExitCode(err) != services.ExitInput {
		t.Fatalf("expected input exit code, got %d (%v)", services.ExitCode(err), err)
	}
	if tr.transcribed != 0 {
		t.Fatal("transcriber must not run for invalid input")
	}
}

func TestReportRecordsFailure(t *testing.T) {
	err := services.Wrap(services.ErrTranscription, "transcribe", "run script", "corrupt audio", nil)
	report := pipeline.NewReport("/in/a.wav", nil, nil, err)
	if report.Status != pipeline.ReportFailed || report.ErrorKind != services.KindTranscription || report.ExitCode != services.ExitTranscription {
		t.Fatalf("unexpected report %+v", report)
	}
	path := filepath.Join(t.TempDir(), "report.json")
	if err := pipeline.WriteReport(path, report); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	loaded, err := pipeline.ReadReport(path)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if loaded.ErrorKind != report.ErrorKind || loaded.Error != report.Error {
		t.Fatalf("report mismatch: %+v", loaded)
	}
}
