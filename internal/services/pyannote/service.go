package pyannote

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"speakerscribe/internal/logging"
	"speakerscribe/internal/media/audio"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/uvx"
	"speakerscribe/internal/transcript"
)

//go:embed scripts/diarize.py
var diarizeScript []byte

const stageDiarize = "diarize"

// DefaultModel is the diarization pipeline loaded from Hugging Face.
const DefaultModel = "pyannote/speaker-diarization-3.1"

// uvx requirements for the diarization script.
var scriptDeps = []string{"pyannote.audio", "torchaudio", "soundfile", "omegaconf"}

// Config configures the diarization service.
type Config struct {
	Token string
	Model string
	// ValidateToken checks the token against the Hugging Face API before the
	// first run.
	ValidateToken bool
}

// DiarizeOptions configures one diarization run. NumSpeakers is exclusive
// with the Min/Max bounds; zero means unset.
type DiarizeOptions struct {
	NumSpeakers int
	MinSpeakers int
	MaxSpeakers int
	// Device is "cpu" or "gpu".
	Device string
}

// Service runs pyannote speaker diarization.
type Service struct {
	cfg       Config
	exec      *uvx.Executor
	validator TokenValidator
	logger    *slog.Logger

	tokenOnce   sync.Once
	tokenResult *TokenValidationResult
	tokenErr    error
}

// NewService creates a diarization service.
func NewService(cfg Config, exec *uvx.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &Service{
		cfg:       cfg,
		exec:      exec,
		validator: NewHTTPValidator(nil, ""),
		logger:    logging.NewComponentLogger(logger, "diarizer"),
	}
}

// WithTokenValidator replaces the Hugging Face token check (for testing).
func (s *Service) WithTokenValidator(v TokenValidator) {
	s.validator = v
}

// Diarize returns speaker turns ordered by start, with no speaker overlapping
// itself. A missing or rejected token fails with services.ErrAuthentication
// before any model is loaded.
func (s *Service) Diarize(ctx context.Context, src audio.Source, opts DiarizeOptions) ([]transcript.Turn, error) {
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}

	device := "cpu"
	if opts.Device == "gpu" || opts.Device == "cuda" {
		device = "cuda"
	}
	args := []string{
		"--audio", src.ModelInput(),
		"--model", s.cfg.Model,
		"--device", device,
	}
	if opts.NumSpeakers > 0 {
		args = append(args, "--num-speakers", strconv.Itoa(opts.NumSpeakers))
	} else {
		if opts.MinSpeakers > 0 {
			args = append(args, "--min-speakers", strconv.Itoa(opts.MinSpeakers))
		}
		if opts.MaxSpeakers > 0 {
			args = append(args, "--max-speakers", strconv.Itoa(opts.MaxSpeakers))
		}
	}

	out, err := s.exec.Run(ctx, stageDiarize, uvx.Script{
		Name:   "pyannote_diarize.py",
		Source: diarizeScript,
		With:   scriptDeps,
		CUDA:   device == "cuda",
		Args:   args,
		Env:    []string{"HF_TOKEN=" + s.cfg.Token},
	})
	if err != nil {
		if errors.Is(err, services.ErrAuthentication) {
			return nil, services.Wrap(services.ErrAuthentication, stageDiarize, "load pipeline",
				"model access denied; accept the terms at https://hf.co/"+s.cfg.Model+" and retry", err)
		}
		return nil, err
	}

	var payload struct {
		Turns []transcript.Turn `json:"turns"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stageDiarize, "parse output", "invalid diarization output", err)
	}
	turns := transcript.NormalizeTurns(payload.Turns)
	s.logger.Info("diarization complete",
		logging.Int("turns", len(turns)),
		logging.Int("speakers", countSpeakers(turns)),
	)
	return turns, nil
}

// ClearGPUCache runs after every diarization call, whether it succeeded or
// not. The script empties the CUDA cache itself; here any model process still
// alive is killed so its GPU memory is returned, and the scratch script is
// removed.
func (s *Service) ClearGPUCache(ctx context.Context) {
	logging.WithContext(ctx, s.logger).Debug("clearing diarization resources")
	s.exec.Cleanup()
}

func (s *Service) ensureToken(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Token) == "" {
		return services.Wrap(services.ErrAuthentication, stageDiarize, "validate token",
			"no Hugging Face token configured (set HF_TOKEN or pass --credential)", nil)
	}
	if !s.cfg.ValidateToken || s.validator == nil {
		return nil
	}
	s.tokenOnce.Do(func() {
		result, err := s.validator(ctx, s.cfg.Token)
		if err != nil {
			s.tokenErr = err
			return
		}
		s.tokenResult = &result
	})
	if s.tokenErr != nil {
		if errors.Is(s.tokenErr, services.ErrAuthentication) {
			return s.tokenErr
		}
		logging.WarnWithContext(s.logger, "token validation unavailable; continuing", "hf_token_check_failed",
			logging.Error(s.tokenErr),
			logging.String(logging.FieldErrorHint, "check network access to huggingface.co"),
			logging.String(logging.FieldImpact, "token problems will surface when the model loads"),
		)
		return nil
	}
	if s.tokenResult != nil {
		s.logger.Debug("hugging face token verified", logging.String("account", s.tokenResult.Account))
	}
	return nil
}

func countSpeakers(turns []transcript.Turn) int {
	seen := make(map[string]struct{})
	for _, t := range turns {
		seen[t.Speaker] = struct{}{}
	}
	return len(seen)
}
