package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"speakerscribe/internal/config"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/services"
	"speakerscribe/internal/testsupport"
)

const helperToken = "hf_helper_secret"

// TestHelperProcess stands in for the `speakerscribe transcribe` worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	os.Exit(helperMain(args))
}

func helperMain(args []string) int {
	reportPath := flagValue(args, "--report")
	outputDir := flagValue(args, "--output-dir")
	base := flagValue(args, "--basename")
	if len(args) < 2 || args[0] != "transcribe" || reportPath == "" || !slices.Contains(args, "--events") {
		fmt.Fprintf(os.Stderr, "unexpected args %v\n", args)
		return 1
	}
	for _, a := range args {
		if strings.Contains(a, helperToken) {
			fmt.Fprintln(os.Stderr, "credential leaked on command line")
			return 1
		}
	}
	emit := func(stage string, pct int) {
		data, _ := json.Marshal(pipeline.Event{Stage: stage, Percent: pct, Message: stage})
		fmt.Println(string(data))
	}

	switch os.Getenv("HELPER_MODE") {
	case "succeed":
		if want := os.Getenv("HELPER_WANT_CONFIG"); want != "" && flagValue(args, "--config") != want {
			fmt.Fprintf(os.Stderr, "worker config = %q, want %q\n", flagValue(args, "--config"), want)
			return 1
		}
		if os.Getenv("HF_TOKEN") != helperToken {
			fmt.Fprintln(os.Stderr, "credential missing from environment")
			return 1
		}
		emit(pipeline.StageLoad, 10)
		fmt.Println("not an event")
		emit(pipeline.StageTranscribe, 30)
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return 4
		}
		text := filepath.Join(outputDir, base+".txt")
		if err := os.WriteFile(text, []byte("[00:00.000–00:01.000] SPEAKER_00: hello\n"), 0o644); err != nil {
			return 4
		}
		report := pipeline.Report{
			Status:  pipeline.ReportSucceeded,
			Input:   args[1],
			Outputs: map[string]string{"text": text},
		}
		if os.Getenv("HELPER_DEGRADED") != "" {
			report.Degraded = []pipeline.Degradation{{Capability: "diarization", Kind: services.KindAuthentication}}
		}
		if err := pipeline.WriteReport(reportPath, report); err != nil {
			return 4
		}
		emit(pipeline.StageComplete, 100)
		return 0
	case "fail":
		emit(pipeline.StageLoad, 10)
		_ = pipeline.WriteReport(reportPath, pipeline.Report{
			Status:    pipeline.ReportFailed,
			ErrorKind: services.KindModelLoad,
			Error:     "model load error: transcribe: unknown model",
			ExitCode:  services.ExitModelLoad,
		})
		return services.ExitModelLoad
	case "crash":
		fmt.Fprintln(os.Stderr, "loading model")
		fmt.Fprintln(os.Stderr, "CUDA out of memory")
		return services.ExitResourceExhaustion
	case "hang":
		emit(pipeline.StageLoad, 10)
		if err := os.MkdirAll(outputDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(outputDir, "partial.txt"), []byte("partial"), 0o644)
		}
		time.Sleep(time.Minute)
		return 0
	}
	return 1
}

func flagValue(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

type runnerEnv struct {
	cfg    *config.Config
	store  *Store
	runner *Runner
}

func newRunnerEnv(t *testing.T, mode string, opts ...RunnerOption) *runnerEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Server.WorkerPoolSize = 2
	if err := cfg.EnsureServerDirectories(); err != nil {
		t.Fatalf("EnsureServerDirectories: %v", err)
	}
	store := openTestStore(t)
	base := []RunnerOption{
		WithExecutable(os.Args[0], "-test.run=TestHelperProcess", "--"),
		WithEnv("GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode),
	}
	runner, err := NewRunner(store, cfg, logging.NewNop(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return &runnerEnv{cfg: cfg, store: store, runner: runner}
}

func (e *runnerEnv) submit(t *testing.T, device string) *Job {
	t.Helper()
	opts := pipeline.OptionsFromConfig(e.cfg)
	opts.Device = device
	opts.Credential = helperToken
	job := NewJob(e.cfg, "Team Meeting.wav", opts)
	testsupport.WriteAudio(t, filepath.Dir(job.UploadPath), filepath.Base(job.UploadPath))
	if err := e.runner.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

func (e *runnerEnv) wait(t *testing.T, id string) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err := e.runner.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return job
}

func TestNewJobPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	job := NewJob(cfg, "../../etc/Team Meeting.wav", pipeline.Options{Device: "cpu"})
	if job.ID == "" {
		t.Fatal("job id empty")
	}
	if filepath.Dir(filepath.Dir(job.UploadPath)) != cfg.Paths.UploadDir {
		t.Fatalf("upload path %q escapes %q", job.UploadPath, cfg.Paths.UploadDir)
	}
	if job.OutputDir != filepath.Join(cfg.Paths.OutputDir, job.ID) {
		t.Fatalf("output dir = %q", job.OutputDir)
	}
	if job.Options.Input != job.UploadPath || job.Options.OutputDir != job.OutputDir {
		t.Fatalf("options not pinned to job paths: %+v", job.Options)
	}
	if job.Options.BaseName == "" || strings.ContainsAny(job.Options.BaseName, `/\`) {
		t.Fatalf("basename = %q", job.Options.BaseName)
	}
	if other := NewJob(cfg, "Team Meeting.wav", pipeline.Options{}); other.ID == job.ID {
		t.Fatal("job ids must be unique")
	}
}

func TestRunnerSucceeds(t *testing.T) {
	env := newRunnerEnv(t, "succeed")
	job := env.submit(t, config.DeviceCPU)

	got := env.wait(t, job.ID)
	if got.Status != StatusSucceeded {
		t.Fatalf("status = %s (%s: %s)", got.Status, got.ErrorKind, got.ErrorMessage)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d", got.Progress)
	}
	text := got.Outputs["text"]
	if !strings.HasPrefix(text, job.OutputDir) {
		t.Fatalf("text output %q outside job dir", text)
	}
	if _, err := os.Stat(text); err != nil {
		t.Fatalf("text output missing: %v", err)
	}
	if len(got.Degraded) != 0 {
		t.Fatalf("degraded = %v", got.Degraded)
	}
}

func TestRunnerForwardsWorkerFlags(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "server.toml")
	env := newRunnerEnv(t, "succeed",
		WithWorkerFlags("--config", configPath, "--log-level", "debug"),
		WithEnv("HELPER_WANT_CONFIG="+configPath),
	)
	job := env.submit(t, config.DeviceCPU)

	got := env.wait(t, job.ID)
	if got.Status != StatusSucceeded {
		t.Fatalf("status = %s (%s: %s)", got.Status, got.ErrorKind, got.ErrorMessage)
	}
}

func TestRunnerRecordsDegradation(t *testing.T) {
	env := newRunnerEnv(t, "succeed", WithEnv("HELPER_DEGRADED=1"))
	job := env.submit(t, config.DeviceCPU)

	got := env.wait(t, job.ID)
	if got.Status != StatusSucceeded {
		t.Fatalf("status = %s", got.Status)
	}
	if len(got.Degraded) != 1 || got.Degraded[0] != "diarization" {
		t.Fatalf("degraded = %v", got.Degraded)
	}
}

func TestRunnerUsesReportKind(t *testing.T) {
	env := newRunnerEnv(t, "fail")
	job := env.submit(t, config.DeviceCPU)

	got := env.wait(t, job.ID)
	if got.Status != StatusFailed || got.ErrorKind != services.KindModelLoad {
		t.Fatalf("job = %s/%s", got.Status, got.ErrorKind)
	}
	if !strings.Contains(got.ErrorMessage, "unknown model") {
		t.Fatalf("error = %q", got.ErrorMessage)
	}
}

func TestRunnerInfersKindFromExitStatus(t *testing.T) {
	env := newRunnerEnv(t, "crash")
	job := env.submit(t, config.DeviceCPU)

	got := env.wait(t, job.ID)
	if got.Status != StatusFailed || got.ErrorKind != services.KindResourceExhaustion {
		t.Fatalf("job = %s/%s", got.Status, got.ErrorKind)
	}
	if !strings.Contains(got.ErrorMessage, "CUDA out of memory") {
		t.Fatalf("error should carry stderr tail: %q", got.ErrorMessage)
	}
}

func TestRunnerTimeoutDiscardsOutputs(t *testing.T) {
	env := newRunnerEnv(t, "hang", WithTimeout(time.Second))
	job := env.submit(t, config.DeviceCPU)

	got := env.wait(t, job.ID)
	if got.Status != StatusFailed || got.ErrorKind != services.KindTimeout {
		t.Fatalf("job = %s/%s", got.Status, got.ErrorKind)
	}
	if _, err := os.Stat(job.OutputDir); !os.IsNotExist(err) {
		t.Fatalf("partial outputs kept: %v", err)
	}
}

func TestRunnerCancel(t *testing.T) {
	env := newRunnerEnv(t, "hang")
	job := env.submit(t, config.DeviceCPU)

	deadline := time.Now().Add(10 * time.Second)
	for {
		current, err := env.store.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if current.Status == StatusRunning && current.Stage == pipeline.StageLoad {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reported progress: %+v", current)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !env.runner.Cancel(job.ID) {
		t.Fatal("Cancel returned false for active job")
	}
	got := env.wait(t, job.ID)
	if got.Status != StatusFailed || got.ErrorKind != services.KindCanceled {
		t.Fatalf("job = %s/%s", got.Status, got.ErrorKind)
	}
	if env.runner.Cancel(job.ID) {
		t.Fatal("Cancel returned true for finished job")
	}
}

func TestRunnerSerializesGPUJobs(t *testing.T) {
	env := newRunnerEnv(t, "hang", WithTimeout(time.Minute))
	first := env.submit(t, config.DeviceGPU)
	second := env.submit(t, config.DeviceGPU)

	time.Sleep(500 * time.Millisecond)
	a, _ := env.store.Get(context.Background(), first.ID)
	b, _ := env.store.Get(context.Background(), second.ID)
	running := 0
	for _, j := range []*Job{a, b} {
		if j.Status == StatusRunning {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("running GPU jobs = %d, want 1 (%s, %s)", running, a.Status, b.Status)
	}
	env.runner.Cancel(first.ID)
	env.runner.Cancel(second.ID)
	env.wait(t, first.ID)
	env.wait(t, second.ID)
}

func TestRunnerRemove(t *testing.T) {
	env := newRunnerEnv(t, "succeed")
	job := env.submit(t, config.DeviceCPU)
	env.wait(t, job.ID)

	if err := env.runner.Remove(context.Background(), job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := env.store.Get(context.Background(), job.ID); err != ErrNotFound {
		t.Fatalf("Get after remove = %v", err)
	}
	for _, p := range []string{filepath.Dir(job.UploadPath), job.OutputDir} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still present: %v", p, err)
		}
	}
}

func TestRunnerRejectsAfterShutdown(t *testing.T) {
	env := newRunnerEnv(t, "succeed")
	if err := env.runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	job := NewJob(env.cfg, "late.wav", pipeline.OptionsFromConfig(env.cfg))
	if err := env.runner.Submit(context.Background(), job); err == nil {
		t.Fatal("Submit after Shutdown succeeded")
	}
}
