package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"speakerscribe/internal/config"
	"speakerscribe/internal/corrections"
	"speakerscribe/internal/gpu"
	"speakerscribe/internal/jobs"
	"speakerscribe/internal/media/audio"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/preflight"
	"speakerscribe/internal/server"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/pyannote"
	"speakerscribe/internal/services/whisperx"
	"speakerscribe/internal/transcript"
)

type fakeLoader struct{}

func (fakeLoader) Load(_ context.Context, path string) (audio.Source, error) {
	return audio.Source{Path: path, Duration: 5, SampleRate: 16000, Channels: 1}, nil
}

func (fakeLoader) Normalize(_ context.Context, src audio.Source, workDir string) (audio.Source, error) {
	src.NormalizedPath = filepath.Join(workDir, "input.16k.wav")
	return src, nil
}

type fakeTranscriber struct {
	language string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, src audio.Source, opts whisperx.TranscribeOptions) (whisperx.TranscribeResult, error) {
	f.language = opts.Language
	segments := []transcript.Segment{
		{Start: 0, End: 2, Text: "we use Asian face tools"},
		{Start: 2, End: 5, Text: "sounds good"},
	}
	return whisperx.TranscribeResult{Language: "en", Segments: transcript.Normalize(segments, src.Duration)}, nil
}

func (f *fakeTranscriber) Align(_ context.Context, _ audio.Source, segments []transcript.Segment, _, _ string) ([]transcript.Segment, error) {
	return segments, nil
}

type fakeDiarizer struct {
	err error
}

func (f fakeDiarizer) Diarize(context.Context, audio.Source, pyannote.DiarizeOptions) ([]transcript.Turn, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []transcript.Turn{
		{Start: 0, End: 2, Speaker: "SPEAKER_00"},
		{Start: 2, End: 5, Speaker: "SPEAKER_01"},
	}, nil
}

func (fakeDiarizer) ClearGPUCache(context.Context) {}

// writeConfig writes a config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "")
	base := t.TempDir()
	doc := `[paths]
work_dir = "` + filepath.Join(base, "work") + `"
output_dir = "` + filepath.Join(base, "outputs") + `"
upload_dir = "` + filepath.Join(base, "uploads") + `"
log_dir = "` + filepath.Join(base, "logs") + `"
lock_dir = "` + filepath.Join(base, "locks") + `"

[diarization]
hf_token = "hf_from_config"
validate_token = false
` + extra
	path := filepath.Join(base, "speakerscribe.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, setup func(*commandContext), args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	var setups []func(*commandContext)
	if setup != nil {
		setups = append(setups, setup)
	}
	cmd := newRootCommand(setups...)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func fakePipeline(tr *fakeTranscriber, d fakeDiarizer) func(*commandContext) {
	return func(c *commandContext) {
		c.pipelineOpts = []pipeline.Option{
			pipeline.WithLoader(fakeLoader{}),
			pipeline.WithTranscriber(tr),
			pipeline.WithGPUDetector(gpu.Static(gpu.Info{})),
			pipeline.WithDiarizerFactory(func(pyannote.Config) pipeline.Diarizer { return d }),
		}
	}
}

func TestParseSpeakerNames(t *testing.T) {
	names, err := parseSpeakerNames([]string{"SPEAKER_00=Alice", " SPEAKER_01 = Bob Smith "})
	if err != nil {
		t.Fatalf("parseSpeakerNames: %v", err)
	}
	if names["SPEAKER_00"] != "Alice" || names["SPEAKER_01"] != "Bob Smith" {
		t.Fatalf("unexpected names %v", names)
	}
	for _, bad := range []string{"SPEAKER_00", "=Alice", "SPEAKER_00="} {
		if _, err := parseSpeakerNames([]string{bad}); !errors.Is(err, services.ErrInput) {
			t.Fatalf("expected input error for %q, got %v", bad, err)
		}
	}
}

func TestBuildTranscribeOptionsFlagPrecedence(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	cfg := config.Default()
	cfg.Transcription.Language = "en"
	cfg.Transcription.BatchSize = 4
	cfg.Diarization.HFToken = "hf_config"
	cfg.Speakers.Names = map[string]string{"SPEAKER_00": "Host"}

	var flags transcribeFlags
	cmd := &cobra.Command{Use: "transcribe"}
	bindTranscribeFlags(cmd, &flags)
	if err := cmd.ParseFlags([]string{
		"--language", "fr",
		"--credential", "hf_flag",
		"--speaker-name", "SPEAKER_01=Guest",
		"--no-corrections",
		"--min-speakers", "2",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	opts, err := buildTranscribeOptions(cmd, &cfg, flags, "talk.mp3")
	if err != nil {
		t.Fatalf("buildTranscribeOptions: %v", err)
	}
	if opts.Language != "fr" || opts.Credential != "hf_flag" || opts.BatchSize != 4 {
		t.Fatalf("unexpected precedence %+v", opts)
	}
	if opts.Corrections || !opts.Diarize || opts.MinSpeakers != 2 {
		t.Fatalf("unexpected toggles %+v", opts)
	}
	if opts.OutputDir != pipeline.DefaultOutputDir {
		t.Fatalf("expected default output dir, got %q", opts.OutputDir)
	}
	if opts.SpeakerNames["SPEAKER_00"] != "Host" || opts.SpeakerNames["SPEAKER_01"] != "Guest" {
		t.Fatalf("expected merged speaker names, got %v", opts.SpeakerNames)
	}
}

func TestBuildTranscribeOptionsSpeakerBoundsOverrideConfiguredCount(t *testing.T) {
	cfg := config.Default()
	cfg.Diarization.NumSpeakers = 3

	var flags transcribeFlags
	cmd := &cobra.Command{Use: "transcribe"}
	bindTranscribeFlags(cmd, &flags)
	if err := cmd.ParseFlags([]string{"--min-speakers", "2", "--max-speakers", "4"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	opts, err := buildTranscribeOptions(cmd, &cfg, flags, "talk.mp3")
	if err != nil {
		t.Fatalf("buildTranscribeOptions: %v", err)
	}
	if opts.NumSpeakers != 0 || opts.MinSpeakers != 2 || opts.MaxSpeakers != 4 {
		t.Fatalf("unexpected speaker counts %+v", opts)
	}
}

func TestBuildTranscribeOptionsRejectsConflictingCounts(t *testing.T) {
	cfg := config.Default()
	var flags transcribeFlags
	cmd := &cobra.Command{Use: "transcribe"}
	bindTranscribeFlags(cmd, &flags)
	if err := cmd.ParseFlags([]string{"--num-speakers", "2", "--max-speakers", "3"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	_, err := buildTranscribeOptions(cmd, &cfg, flags, "talk.mp3")
	if !errors.Is(err, services.ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	if services.ExitCode(err) != services.ExitInput {
		t.Fatalf("expected exit code %d, got %d", services.ExitInput, services.ExitCode(err))
	}
}

func TestTranscribeWritesOutputsAndReport(t *testing.T) {
	cfgPath := writeConfig(t, "")
	outDir := filepath.Join(t.TempDir(), "out")
	reportPath := filepath.Join(t.TempDir(), "report.json")
	tr := &fakeTranscriber{}

	stdout, stderr, err := runCLI(t, fakePipeline(tr, fakeDiarizer{}),
		"--config", cfgPath, "transcribe", "/recordings/talk.mp3",
		"-o", outDir, "--speaker-name", "SPEAKER_00=Alice", "--report", reportPath, "--json")
	if err != nil {
		t.Fatalf("transcribe: %v (stderr %q)", err, stderr)
	}
	if strings.Contains(stderr, "degraded") {
		t.Fatalf("unexpected degradation warning %q", stderr)
	}

	var report pipeline.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode stdout report: %v (%q)", err, stdout)
	}
	if report.Status != pipeline.ReportSucceeded || report.Segments != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Outputs["text"] != filepath.Join(outDir, "talk.txt") {
		t.Fatalf("unexpected outputs %v", report.Outputs)
	}
	text, err := os.ReadFile(filepath.Join(outDir, "talk.txt"))
	if err != nil {
		t.Fatalf("read text output: %v", err)
	}
	if !strings.Contains(string(text), "Alice: we use agent-based tools") {
		t.Fatalf("expected named, corrected line in %q", text)
	}
	for _, name := range []string{"talk.json", "talk.srt"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	saved, err := pipeline.ReadReport(reportPath)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if saved.Status != pipeline.ReportSucceeded {
		t.Fatalf("unexpected saved report %+v", saved)
	}
}

func TestTranscribeEventsAndDegradedWarning(t *testing.T) {
	cfgPath := writeConfig(t, "")
	outDir := t.TempDir()
	diarizeErr := services.Wrap(services.ErrAuthentication, "diarize", "load pipeline", "gated model", nil)

	stdout, stderr, err := runCLI(t, fakePipeline(&fakeTranscriber{}, fakeDiarizer{err: diarizeErr}),
		"--config", cfgPath, "transcribe", "talk.wav", "-o", outDir, "--events")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.Contains(stderr, "warning: diarization degraded") {
		t.Fatalf("expected degradation warning, got %q", stderr)
	}

	var stages []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		var ev pipeline.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		stages = append(stages, ev.Stage)
	}
	if len(stages) == 0 || stages[0] != pipeline.StageLoad || stages[len(stages)-1] != pipeline.StageComplete {
		t.Fatalf("unexpected event stages %v", stages)
	}
	text, err := os.ReadFile(filepath.Join(outDir, "talk.txt"))
	if err != nil {
		t.Fatalf("read text output: %v", err)
	}
	if !strings.Contains(string(text), "UNKNOWN:") {
		t.Fatalf("expected UNKNOWN labels in %q", text)
	}
}

func TestTranscribeInvalidOptionWritesFailedReport(t *testing.T) {
	cfgPath := writeConfig(t, "")
	reportPath := filepath.Join(t.TempDir(), "report.json")

	_, _, err := runCLI(t, fakePipeline(&fakeTranscriber{}, fakeDiarizer{}),
		"--config", cfgPath, "transcribe", "talk.wav", "--model-size", "gigantic", "--report", reportPath)
	if !errors.Is(err, services.ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	report, rerr := pipeline.ReadReport(reportPath)
	if rerr != nil {
		t.Fatalf("ReadReport: %v", rerr)
	}
	if report.Status != pipeline.ReportFailed || report.ErrorKind != services.KindInput || report.ExitCode != services.ExitInput {
		t.Fatalf("unexpected failed report %+v", report)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	stdout, _, err := runCLI(t, nil, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout, target) {
		t.Fatalf("expected target in output, got %q", stdout)
	}
	if _, _, err := runCLI(t, nil, "config", "init", "--path", target); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
	if _, _, err := runCLI(t, nil, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	cfgPath := writeConfig(t, "")
	stdout, _, err = runCLI(t, nil, "--config", cfgPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	for _, want := range []string{"Config path: " + cfgPath, "token set", "Configuration valid"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in %q", want, stdout)
		}
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cfgPath := writeConfig(t, "\n[transcription]\nmodel_size = \"gigantic\"\n")
	if _, _, err := runCLI(t, nil, "--config", cfgPath, "config", "validate"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCorrectionsShowAndApply(t *testing.T) {
	cfgPath := writeConfig(t, "")

	stdout, _, err := runCLI(t, nil, "--config", cfgPath, "corrections", "show", "--json")
	if err != nil {
		t.Fatalf("corrections show: %v", err)
	}
	var rules corrections.Rules
	if err := json.Unmarshal([]byte(stdout), &rules); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	if len(rules.Substitutions) != len(corrections.DefaultRules().Substitutions) {
		t.Fatalf("expected built-in table, got %d rules", len(rules.Substitutions))
	}
	if rules.Interjection.ThresholdSeconds != corrections.DefaultThresholdSeconds {
		t.Fatalf("unexpected heuristic %+v", rules.Interjection)
	}

	stdout, _, err = runCLI(t, nil, "--config", cfgPath, "corrections", "show")
	if err != nil {
		t.Fatalf("corrections show: %v", err)
	}
	if !strings.Contains(stdout, "Rules: built-in") || !strings.Contains(stdout, "Interjections: segments under 0.50s") {
		t.Fatalf("unexpected table output %q", stdout)
	}

	stdout, _, err = runCLI(t, nil, "--config", cfgPath, "corrections", "apply", "Asian face tools")
	if err != nil {
		t.Fatalf("corrections apply: %v", err)
	}
	if strings.TrimSpace(stdout) != "agent-based tools" {
		t.Fatalf("unexpected corrected text %q", stdout)
	}
}

func TestCorrectionsShowCustomRulesFile(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte("substitutions:\n  - pattern: kuber netties\n    replacement: Kubernetes\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfgPath := writeConfig(t, "\n[corrections]\nrules_file = \""+rulesPath+"\"\ninterjection_threshold_seconds = 1.25\ninterjection_max_words = 3\n")

	stdout, _, err := runCLI(t, nil, "--config", cfgPath, "corrections", "show")
	if err != nil {
		t.Fatalf("corrections show: %v", err)
	}
	if !strings.Contains(stdout, "kuber netties") || !strings.Contains(stdout, "Interjections: segments under 1.25s and at most 3 words") {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func stubTools(t *testing.T, names ...string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\necho \""+name+" version 1.0\"\n"), 0o755); err != nil {
			t.Fatalf("write stub: %v", err)
		}
	}
	t.Setenv("PATH", dir)
}

func TestDoctorReportsChecks(t *testing.T) {
	stubTools(t, "ffmpeg", "ffprobe", "uvx")
	cfgPath := writeConfig(t, "")
	setup := func(c *commandContext) {
		c.checkers = preflight.Checkers{GPU: gpu.Static(gpu.Info{})}
	}

	stdout, _, err := runCLI(t, setup, "--config", cfgPath, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, stdout)
	}
	for _, want := range []string{"== Dependencies ==", "[OK] ffmpeg version 1.0", "[WARN]", "== Environment ==", "cpu mode"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in %q", want, stdout)
		}
	}

	stdout, _, err = runCLI(t, setup, "--config", cfgPath, "doctor", "--json")
	if err != nil {
		t.Fatalf("doctor --json: %v", err)
	}
	var payload struct {
		Dependencies []map[string]any  `json:"dependencies"`
		Checks       []preflight.Result `json:"checks"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("decode doctor json: %v", err)
	}
	if len(payload.Dependencies) != 4 || len(payload.Checks) == 0 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDoctorFailsWhenRequiredToolMissing(t *testing.T) {
	stubTools(t, "ffprobe", "uvx")
	cfgPath := writeConfig(t, "")
	setup := func(c *commandContext) {
		c.checkers = preflight.Checkers{GPU: gpu.Static(gpu.Info{})}
	}
	stdout, _, err := runCLI(t, setup, "--config", cfgPath, "doctor")
	if err == nil || !strings.Contains(err.Error(), "1 check(s) failed") {
		t.Fatalf("expected one failed check, got %v", err)
	}
	if !strings.Contains(stdout, "[ERROR]") {
		t.Fatalf("expected error line in %q", stdout)
	}
}

func TestWorkerFlagsCarryServerConfig(t *testing.T) {
	cfgPath := writeConfig(t, "")
	configFlag, logLevel := cfgPath, "debug"
	ctx := newCommandContext(&configFlag, &logLevel)
	if _, err := ctx.ensureConfig(); err != nil {
		t.Fatalf("ensureConfig: %v", err)
	}
	got := strings.Join(ctx.workerFlags(), " ")
	if want := "--config " + cfgPath + " --log-level debug"; got != want {
		t.Fatalf("worker flags = %q, want %q", got, want)
	}
}

func TestRenderJobTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	list := []server.JobView{
		{Job: &jobs.Job{
			ID: "0123456789abcdef", OriginalName: "standup.mp3", Status: jobs.StatusRunning,
			Progress: 40, Device: "cpu", Message: "Transcribing", CreatedAt: now.Add(-90 * time.Second),
		}},
		{Job: &jobs.Job{
			ID: "fedcba9876543210", OriginalName: "call.wav", Status: jobs.StatusFailed,
			Device: "gpu", ErrorKind: services.KindModelLoad, ErrorMessage: "weights missing", CreatedAt: now.Add(-3 * time.Hour),
		}},
	}
	out := renderJobTable(list, now)
	for _, want := range []string{"01234567", "standup.mp3", "40%", "1m", "Transcribing", "fedcba98", "3h", "model_load_error: weights missing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatDuration(3725.4); got != "1:02:05" {
		t.Fatalf("formatDuration: %q", got)
	}
	if got := formatDuration(59.6); got != "1:00" {
		t.Fatalf("formatDuration: %q", got)
	}
	if got := truncate("abcdefgh", 5); got != "abcd…" {
		t.Fatalf("truncate: %q", got)
	}
	if got := formatAge(50 * time.Hour); got != "2d" {
		t.Fatalf("formatAge: %q", got)
	}
}
