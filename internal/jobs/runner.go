package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"speakerscribe/internal/config"
	"speakerscribe/internal/fileutil"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/procutil"
	"speakerscribe/internal/services"
)

var (
	errCanceledByUser = errors.New("canceled by request")
	errShutdown       = errors.New("server shutting down")
)

const stderrTailBytes = 4096

// Runner executes jobs in isolated worker processes. GPU jobs take the
// device slot before a pool slot; CPU jobs only take a pool slot.
type Runner struct {
	store      *Store
	logger     *slog.Logger
	executable string
	prefixArgs []string
	flags      []string
	extraEnv   []string
	timeout    time.Duration

	pool    *semaphore.Weighted
	gpuSlot chan struct{}

	baseCtx context.Context
	stop    context.CancelCauseFunc

	mu     sync.Mutex
	active map[string]*activeJob
	wg     sync.WaitGroup
}

type activeJob struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithExecutable sets the worker binary and arguments placed before the
// transcribe subcommand.
func WithExecutable(path string, prefixArgs ...string) RunnerOption {
	return func(r *Runner) {
		r.executable = path
		r.prefixArgs = append([]string(nil), prefixArgs...)
	}
}

// WithWorkerFlags appends flags after the transcribe arguments, typically
// --config and --log-level so workers share the server's configuration.
func WithWorkerFlags(flags ...string) RunnerOption {
	return func(r *Runner) { r.flags = append(r.flags, flags...) }
}

// WithTimeout overrides the per-job wall-clock limit.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithEnv adds environment entries to every worker.
func WithEnv(env ...string) RunnerOption {
	return func(r *Runner) { r.extraEnv = append(r.extraEnv, env...) }
}

// NewRunner creates a runner sized from cfg.Server.
func NewRunner(store *Store, cfg *config.Config, logger *slog.Logger, opts ...RunnerOption) (*Runner, error) {
	if store == nil || cfg == nil {
		return nil, errors.New("job runner requires store and config")
	}
	ctx, stop := context.WithCancelCause(context.Background())
	r := &Runner{
		store:   store,
		logger:  logging.NewComponentLogger(logger, "jobs"),
		timeout: time.Duration(cfg.Server.JobTimeoutMinutes) * time.Minute,
		pool:    semaphore.NewWeighted(int64(max(cfg.Server.WorkerPoolSize, 1))),
		gpuSlot: make(chan struct{}, 1),
		baseCtx: ctx,
		stop:    stop,
		active:  make(map[string]*activeJob),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.executable == "" {
		exe, err := os.Executable()
		if err != nil {
			stop(nil)
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		r.executable = exe
	}
	if r.timeout <= 0 {
		r.timeout = time.Hour
	}
	return r, nil
}

// Submit records job as queued and schedules it. The job's upload must
// already exist at job.UploadPath.
func (r *Runner) Submit(ctx context.Context, job *Job) error {
	if r.baseCtx.Err() != nil {
		return errShutdown
	}
	if err := r.store.Create(ctx, job); err != nil {
		return err
	}
	jobCtx, cancel := context.WithCancelCause(r.baseCtx)
	jobCtx = services.WithJobID(jobCtx, job.ID)
	aj := &activeJob{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.active[job.ID] = aj
	r.mu.Unlock()

	r.wg.Add(1)
	snapshot := *job
	go r.run(jobCtx, &snapshot, aj)
	return nil
}

// Cancel stops a queued or running job. The job ends failed with kind
// canceled.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	aj, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		aj.cancel(errCanceledByUser)
	}
	return ok
}

// Wait blocks until job id is no longer active, then returns its record.
func (r *Runner) Wait(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	aj, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		select {
		case <-aj.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.store.Get(ctx, id)
}

// Remove cancels the job if needed, deletes its upload and outputs, and
// drops its record.
func (r *Runner) Remove(ctx context.Context, id string) error {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Cancel(id) {
		if _, err := r.Wait(ctx, id); err != nil {
			return err
		}
	}
	if err := fileutil.RemoveAll(filepath.Dir(job.UploadPath), job.OutputDir); err != nil {
		r.logger.Warn("failed to remove job files", logging.String(logging.FieldJobID, id), logging.Error(err))
	}
	return r.store.Delete(ctx, id)
}

// Shutdown cancels every job and waits for workers to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, job *Job, aj *activeJob) {
	defer r.wg.Done()
	defer close(aj.done)
	defer func() {
		r.mu.Lock()
		delete(r.active, job.ID)
		r.mu.Unlock()
		aj.cancel(nil)
	}()

	logger := logging.WithContext(ctx, r.logger)
	storeCtx := context.WithoutCancel(ctx)

	if job.Device == config.DeviceGPU {
		select {
		case r.gpuSlot <- struct{}{}:
			defer func() { <-r.gpuSlot }()
		case <-ctx.Done():
			r.failStopped(storeCtx, logger, job, context.Cause(ctx))
			return
		}
	}
	if err := r.pool.Acquire(ctx, 1); err != nil {
		r.failStopped(storeCtx, logger, job, context.Cause(ctx))
		return
	}
	defer r.pool.Release(1)

	if err := r.store.MarkRunning(storeCtx, job.ID); err != nil {
		logger.Error("failed to mark job running", logging.Error(err))
		return
	}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("device", job.Device),
		logging.String("input", job.OriginalName),
	)

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := time.Now()
	exit := r.execute(execCtx, storeCtx, job)

	switch {
	case ctx.Err() != nil:
		r.discardOutputs(logger, job)
		r.failStopped(storeCtx, logger, job, context.Cause(ctx))
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		r.discardOutputs(logger, job)
		msg := fmt.Sprintf("job exceeded the %s time limit and was terminated", r.timeout)
		r.fail(storeCtx, logger, job, services.KindTimeout, msg)
	default:
		r.finish(storeCtx, logger, job, exit)
	}
	logger.Info("job finished", logging.Duration("elapsed", time.Since(started)))
}

type workerExit struct {
	code     int
	signaled bool
	signal   syscall.Signal
	stderr   string
	startErr error
}

func (r *Runner) execute(ctx, storeCtx context.Context, job *Job) workerExit {
	args := append([]string(nil), r.prefixArgs...)
	args = append(args, "transcribe", job.UploadPath)
	args = append(args, job.Options.Args()...)
	args = append(args, r.flags...)
	args = append(args, "--report", job.reportPath(), "--events")

	cmd := exec.CommandContext(ctx, r.executable, args...) //nolint:gosec
	cmd.Env = append(os.Environ(), r.extraEnv...)
	cmd.Env = append(cmd.Env, "SPEAKERSCRIBE_JOB_ID="+job.ID)
	if job.Options.Credential != "" {
		cmd.Env = append(cmd.Env, "HF_TOKEN="+job.Options.Credential)
	}
	procutil.Isolate(cmd)
	cmd.Cancel = func() error {
		return procutil.KillGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = 5 * time.Second

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return workerExit{startErr: err}
	}
	if err := cmd.Start(); err != nil {
		return workerExit{startErr: err}
	}
	pid := cmd.Process.Pid

	r.consumeEvents(storeCtx, job.ID, stdout)
	waitErr := cmd.Wait()
	_ = procutil.KillGroup(pid)

	exit := workerExit{stderr: stderr.String()}
	if waitErr == nil {
		return exit
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exit.code = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			exit.signaled = true
			exit.signal = status.Signal()
		}
		return exit
	}
	exit.code = -1
	exit.startErr = waitErr
	return exit
}

func (r *Runner) consumeEvents(ctx context.Context, id string, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev pipeline.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Stage == "" {
			continue
		}
		if err := r.store.UpdateProgress(ctx, id, ev.Stage, ev.Percent, ev.Message); err != nil {
			r.logger.Debug("progress update dropped", logging.String(logging.FieldJobID, id), logging.Error(err))
		}
	}
	_, _ = io.Copy(io.Discard, stdout)
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, job *Job, exit workerExit) {
	if exit.startErr != nil && exit.code == 0 {
		r.fail(ctx, logger, job, services.KindExternalTool, "start worker: "+exit.startErr.Error())
		return
	}
	report, err := pipeline.ReadReport(job.reportPath())
	if err != nil {
		kind := services.KindForExitCode(exit.code)
		if exit.signaled && exit.signal == syscall.SIGKILL {
			kind = services.KindResourceExhaustion
		}
		msg := fmt.Sprintf("worker exited without a report (%s)", describeExit(exit))
		if tail := lastLine(exit.stderr); tail != "" {
			msg += ": " + tail
		}
		r.fail(ctx, logger, job, kind, msg)
		return
	}
	if report.Status != pipeline.ReportSucceeded {
		kind := report.ErrorKind
		if kind == "" {
			kind = services.KindForExitCode(exit.code)
		}
		r.fail(ctx, logger, job, kind, report.Error)
		return
	}
	degraded := make([]string, 0, len(report.Degraded))
	for _, d := range report.Degraded {
		degraded = append(degraded, d.Capability)
	}
	if err := r.store.Succeed(ctx, job.ID, report.Outputs, degraded); err != nil {
		logger.Error("failed to record job success", logging.Error(err))
		return
	}
	if len(degraded) > 0 {
		logging.WarnWithContext(logger, "job completed with degraded capabilities", "job_degraded",
			logging.Strings("degraded", degraded),
			logging.String(logging.FieldImpact, "transcript lacks "+strings.Join(degraded, ", ")),
		)
	}
}

func (r *Runner) failStopped(ctx context.Context, logger *slog.Logger, job *Job, cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	r.fail(ctx, logger, job, services.KindCanceled, cause.Error())
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, job *Job, kind, message string) {
	if err := r.store.Fail(ctx, job.ID, kind, message); err != nil {
		logger.Error("failed to record job failure", logging.Error(err))
		return
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.String(logging.FieldErrorKind, kind),
		logging.String("error_message", message),
	)
}

func (r *Runner) discardOutputs(logger *slog.Logger, job *Job) {
	if err := fileutil.RemoveAll(job.OutputDir, job.reportPath()); err != nil {
		logger.Warn("failed to discard partial outputs", logging.Error(err))
	}
}

func describeExit(exit workerExit) string {
	if exit.signaled {
		return "signal " + exit.signal.String()
	}
	return fmt.Sprintf("status %d", exit.code)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
