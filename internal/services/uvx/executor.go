package uvx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"speakerscribe/internal/logging"
	"speakerscribe/internal/procutil"
	"speakerscribe/internal/services"
)

// Package index URLs used when resolving the Python environment.
const (
	CUDAIndexURL = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL = "https://pypi.org/simple"
)

// Command is one subprocess invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer
	Started func(pid int)
}

// CommandRunner executes a Command and waits for it.
type CommandRunner func(ctx context.Context, cmd Command) error

// Script describes an embedded Python program run through uvx. Its JSON
// result goes to stdout; failures print {"error": ..., "kind": ...} to stderr.
type Script struct {
	Name   string
	Source []byte
	With   []string
	CUDA   bool
	Args   []string
	Env    []string
}

// Executor writes scripts into a scratch directory and runs them via uvx.
type Executor struct {
	binary  string
	workDir string
	logger  *slog.Logger
	runner  CommandRunner

	mu      sync.Mutex
	running map[int]struct{}
	scripts map[string]struct{}
}

// NewExecutor constructs an executor rooted at workDir.
func NewExecutor(binary, workDir string, logger *slog.Logger) *Executor {
	if strings.TrimSpace(binary) == "" {
		binary = "uvx"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		binary:  binary,
		workDir: workDir,
		logger:  logger,
		runner:  defaultRunner,
		running: make(map[int]struct{}),
		scripts: make(map[string]struct{}),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (e *Executor) WithCommandRunner(runner CommandRunner) {
	if runner != nil {
		e.runner = runner
	}
}

// Run executes script and returns its stdout. Failures are classified into
// the services error markers under stage.
func (e *Executor) Run(ctx context.Context, stage string, script Script) ([]byte, error) {
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stage, "prepare script", "create work directory", err)
	}
	scriptPath := filepath.Join(e.workDir, script.Name)
	if err := os.WriteFile(scriptPath, script.Source, 0o644); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stage, "prepare script", "write "+script.Name, err)
	}
	e.mu.Lock()
	e.scripts[scriptPath] = struct{}{}
	e.mu.Unlock()

	var stdout, stderr bytes.Buffer
	cmd := Command{
		Name:   e.binary,
		Args:   buildArgs(scriptPath, script),
		Env:    buildEnv(script.Env),
		Stdout: &stdout,
		Stderr: &stderr,
	}
	var pid int
	cmd.Started = func(p int) {
		pid = p
		e.mu.Lock()
		e.running[p] = struct{}{}
		e.mu.Unlock()
	}

	started := time.Now()
	e.logger.Debug("running model script",
		logging.String("script", script.Name),
		logging.Bool("cuda", script.CUDA),
	)
	runErr := e.runner(ctx, cmd)
	if pid > 0 {
		// Helpers forked by the runtime share the group and may outlive it.
		if err := procutil.KillGroup(pid); err != nil {
			e.logger.Debug("kill script process group failed", logging.Int("pid", pid), logging.Error(err))
		}
		e.mu.Lock()
		delete(e.running, pid)
		e.mu.Unlock()
	}
	e.logger.Debug("model script finished",
		logging.String("script", script.Name),
		logging.Duration("elapsed", time.Since(started)),
		logging.Bool("ok", runErr == nil),
	)
	if runErr != nil {
		return nil, classify(ctx, stage, stderr.Bytes(), runErr)
	}
	return stdout.Bytes(), nil
}

// Cleanup kills any script process group still running and removes the
// scratch scripts written so far.
func (e *Executor) Cleanup() {
	e.mu.Lock()
	pids := make([]int, 0, len(e.running))
	for pid := range e.running {
		pids = append(pids, pid)
	}
	scripts := make([]string, 0, len(e.scripts))
	for path := range e.scripts {
		scripts = append(scripts, path)
	}
	e.running = make(map[int]struct{})
	e.scripts = make(map[string]struct{})
	e.mu.Unlock()

	for _, pid := range pids {
		if err := procutil.KillGroup(pid); err != nil {
			e.logger.Warn("failed to stop model process", logging.Int("pid", pid), logging.Error(err))
		}
	}
	for _, path := range scripts {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Debug("remove scratch script failed", logging.String("path", path), logging.Error(err))
		}
	}
}

func buildArgs(scriptPath string, script Script) []string {
	args := make([]string, 0, 8+2*len(script.With)+len(script.Args))
	args = append(args, "--quiet")
	for _, dep := range script.With {
		args = append(args, "--with", dep)
	}
	if script.CUDA {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	}
	args = append(args, "python", scriptPath)
	return append(args, script.Args...)
}

func buildEnv(extra []string) []string {
	env := os.Environ()
	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		env = append(env, "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	return append(env, extra...)
}

func defaultRunner(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec
	cmd.Env = c.Env
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	procutil.Isolate(cmd)
	cmd.Cancel = func() error {
		return procutil.KillGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Start(); err != nil {
		return err
	}
	if c.Started != nil {
		c.Started(cmd.Process.Pid)
	}
	return cmd.Wait()
}
