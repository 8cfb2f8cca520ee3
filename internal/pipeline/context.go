package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"speakerscribe/internal/config"
	"speakerscribe/internal/corrections"
	"speakerscribe/internal/gpu"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/media/audio"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/pyannote"
	"speakerscribe/internal/services/uvx"
	"speakerscribe/internal/services/whisperx"
	"speakerscribe/internal/transcript"
)

// AudioLoader validates input files and prepares model input.
type AudioLoader interface {
	Load(ctx context.Context, path string) (audio.Source, error)
	Normalize(ctx context.Context, src audio.Source, workDir string) (audio.Source, error)
}

// Transcriber runs ASR and forced alignment.
type Transcriber interface {
	Transcribe(ctx context.Context, src audio.Source, opts whisperx.TranscribeOptions) (whisperx.TranscribeResult, error)
	Align(ctx context.Context, src audio.Source, segments []transcript.Segment, lang, device string) ([]transcript.Segment, error)
}

// Diarizer produces speaker turns. ClearGPUCache is called after every
// Diarize call, whatever its outcome.
type Diarizer interface {
	Diarize(ctx context.Context, src audio.Source, opts pyannote.DiarizeOptions) ([]transcript.Turn, error)
	ClearGPUCache(ctx context.Context)
}

// DiarizerFactory builds a Diarizer bound to one credential.
type DiarizerFactory func(cfg pyannote.Config) Diarizer

// Context holds the long-lived handles shared by pipeline runs: one per CLI
// process or web worker. It is not safe for concurrent Run calls.
type Context struct {
	cfg     *config.Config
	logger  *slog.Logger
	workDir string

	loader      AudioLoader
	transcriber Transcriber
	newDiarizer DiarizerFactory
	detectGPU   gpu.Detector
	rules       corrections.Rules
	now         func() time.Time

	mu        sync.Mutex
	diarizers map[string]Diarizer
	closers   []func()
}

// Option customizes a Context.
type Option func(*Context)

// WithLoader replaces the audio loader.
func WithLoader(l AudioLoader) Option {
	return func(c *Context) { c.loader = l }
}

// WithTranscriber replaces the transcriber and aligner.
func WithTranscriber(t Transcriber) Option {
	return func(c *Context) { c.transcriber = t }
}

// WithDiarizerFactory replaces diarizer construction.
func WithDiarizerFactory(f DiarizerFactory) Option {
	return func(c *Context) { c.newDiarizer = f }
}

// WithGPUDetector replaces GPU detection.
func WithGPUDetector(d gpu.Detector) Option {
	return func(c *Context) { c.detectGPU = d }
}

// WithRules replaces the correction rule table.
func WithRules(r corrections.Rules) Option {
	return func(c *Context) { c.rules = r }
}

// WithClock replaces the timestamp source used in output metadata.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// NewContext builds a pipeline context from configuration. Services not
// supplied through options are created against the configured binaries.
func NewContext(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Context, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "configuration required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(cfg.Paths.WorkDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "create work directory", err)
	}
	workDir, err := os.MkdirTemp(cfg.Paths.WorkDir, "ctx-*")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "create scratch directory", err)
	}

	c := &Context{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		workDir:   workDir,
		diarizers: make(map[string]Diarizer),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.rules.Substitutions == nil && c.rules.Interjection == (corrections.Heuristic{}) {
		rules, err := LoadRules(cfg)
		if err != nil {
			_ = os.RemoveAll(workDir)
			return nil, err
		}
		c.rules = rules
	}
	if _, err := corrections.NewEngine(c.rules); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "invalid correction rules", err)
	}

	if c.loader == nil {
		c.loader = audio.NewLoader(cfg.FFprobeBinary(), cfg.FFmpegBinary(), logger,
			audio.WithAllowedExtensions(cfg.Server.AllowedExtensions),
			audio.WithPreferredLanguage(cfg.Transcription.Language),
		)
	}
	if c.transcriber == nil {
		exec := uvx.NewExecutor(cfg.UVXBinary(), filepath.Join(workDir, "asr"), logger)
		svc := whisperx.NewService(exec, filepath.Join(workDir, "asr"), logger)
		c.transcriber = svc
		c.closers = append(c.closers, svc.Close)
	}
	if c.newDiarizer == nil {
		c.newDiarizer = func(pcfg pyannote.Config) Diarizer {
			exec := uvx.NewExecutor(cfg.UVXBinary(), filepath.Join(workDir, "diarize"), logger)
			return pyannote.NewService(pcfg, exec, logger)
		}
	}
	if c.detectGPU == nil {
		c.detectGPU = gpu.NewDetector("nvidia-smi")
	}
	return c, nil
}

// LoadRules builds the active correction table from the built-in defaults or the
// configured rules file, with the configured interjection heuristic.
func LoadRules(cfg *config.Config) (corrections.Rules, error) {
	rules := corrections.DefaultRules()
	if cfg.Corrections.RulesFile != "" {
		loaded, err := corrections.LoadRules(cfg.Corrections.RulesFile)
		if err != nil {
			return corrections.Rules{}, services.Wrap(services.ErrConfiguration, "pipeline", "load correction rules", cfg.Corrections.RulesFile, err)
		}
		rules = loaded
	}
	return rules.WithHeuristic(corrections.Heuristic{
		ThresholdSeconds: cfg.Corrections.InterjectionThresholdSeconds,
		MaxWords:         cfg.Corrections.InterjectionMaxWords,
	}), nil
}

// Rules returns the active correction rule table.
func (c *Context) Rules() corrections.Rules {
	return c.rules
}

func (c *Context) diarizer(token string) Diarizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.diarizers[token]; ok {
		return d
	}
	d := c.newDiarizer(pyannote.Config{
		Token:         token,
		Model:         c.cfg.Diarization.Model,
		ValidateToken: c.cfg.Diarization.ValidateToken,
	})
	c.diarizers[token] = d
	return d
}

// Close stops any model subprocess still running and removes scratch files.
func (c *Context) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	diarizers := c.diarizers
	c.diarizers = make(map[string]Diarizer)
	c.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	for _, d := range diarizers {
		d.ClearGPUCache(context.Background())
	}
	if err := os.RemoveAll(c.workDir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}
	return nil
}
