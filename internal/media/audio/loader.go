package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"speakerscribe/internal/logging"
	"speakerscribe/internal/media/ffprobe"
	"speakerscribe/internal/services"
)

const stageLoad = "load"

// NormalizedSampleRate is the sample rate of the WAV handed to the models.
const NormalizedSampleRate = 16000

// Source describes a validated input file. It is not modified after Load;
// Normalize returns a copy carrying the normalized path.
type Source struct {
	Path           string
	NormalizedPath string
	Duration       float64
	SampleRate     int
	Channels       int
	Format         string
	StreamIndex    int
	StreamLabel    string
}

// ModelInput returns the file the model subprocesses should read.
func (s Source) ModelInput() string {
	if s.NormalizedPath != "" {
		return s.NormalizedPath
	}
	return s.Path
}

// InspectFunc probes a media file.
type InspectFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Loader validates inputs and prepares model-ready audio.
type Loader struct {
	ffprobeBinary string
	ffmpegBinary  string
	allowed       map[string]struct{}
	language      string
	logger        *slog.Logger
	inspect       InspectFunc
	extract       ExtractFunc
}

// Option customizes a Loader.
type Option func(*Loader)

// WithInspector overrides the ffprobe call (primarily for tests).
func WithInspector(fn InspectFunc) Option {
	return func(l *Loader) {
		if fn != nil {
			l.inspect = fn
		}
	}
}

// WithExtractor overrides the ffmpeg extraction call (primarily for tests).
func WithExtractor(fn ExtractFunc) Option {
	return func(l *Loader) {
		if fn != nil {
			l.extract = fn
		}
	}
}

// WithAllowedExtensions replaces the accepted file extensions.
func WithAllowedExtensions(exts []string) Option {
	return func(l *Loader) {
		if len(exts) == 0 {
			return
		}
		l.allowed = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			l.allowed[ext] = struct{}{}
		}
	}
}

// WithPreferredLanguage ranks streams tagged with this language first when a
// container carries several audio tracks.
func WithPreferredLanguage(code string) Option {
	return func(l *Loader) {
		l.language = strings.TrimSpace(code)
	}
}

// DefaultExtensions lists the input containers the loader accepts.
var DefaultExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".opus", ".webm", ".mp4", ".aac", ".wma"}

// NewLoader constructs a loader.
func NewLoader(ffprobeBinary, ffmpegBinary string, logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Loader{
		ffprobeBinary: ffprobeBinary,
		ffmpegBinary:  ffmpegBinary,
		logger:        logging.NewComponentLogger(logger, "audio"),
		inspect:       ffprobe.Inspect,
		extract:       ExtractSpeechWAV,
	}
	WithAllowedExtensions(DefaultExtensions)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load validates path and reads its audio metadata. A missing ffprobe binary
// is tolerated: the source is returned with unknown duration and a warning.
func (l *Loader) Load(ctx context.Context, path string) (Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Source{}, services.Wrap(services.ErrInput, stageLoad, "validate", "audio path is required", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, services.Wrap(services.ErrInput, stageLoad, "resolve path", path, err)
	}
	if err := l.checkFile(abs); err != nil {
		return Source{}, err
	}

	src := Source{Path: abs, StreamIndex: -1}
	result, err := l.inspect(ctx, l.ffprobeBinary, abs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Source{}, ctxErr
		}
		if errors.Is(err, ffprobe.ErrNotInstalled) {
			logging.WarnWithContext(l.logger, "ffprobe unavailable; audio metadata unknown", "probe_unavailable",
				logging.String("path", abs),
				logging.String(logging.FieldErrorHint, "install ffmpeg to enable duration and stream checks"),
				logging.String(logging.FieldImpact, "duration reported as 0 and stream selection skipped"),
			)
			return src, nil
		}
		return Source{}, services.Wrap(services.ErrTranscription, stageLoad, "probe", "unreadable or corrupt audio", err)
	}

	streams := result.AudioStreams()
	if len(streams) == 0 {
		return Source{}, services.Wrap(services.ErrInput, stageLoad, "probe", fmt.Sprintf("%s contains no audio stream", filepath.Base(abs)), nil)
	}
	selection := Select(streams, l.language)
	src.StreamIndex = selection.PrimaryIndex
	src.StreamLabel = selection.PrimaryLabel()
	src.SampleRate = selection.Primary.SampleRateHz()
	src.Channels = channelCount(selection.Primary)
	src.Format = result.Format.FormatName
	src.Duration = result.DurationSeconds()

	if selection.Candidates > 1 {
		l.logger.Info("selected audio stream",
			logging.Int("stream_index", src.StreamIndex),
			logging.String("stream", src.StreamLabel),
			logging.Int("candidates", selection.Candidates),
		)
	}
	l.logger.Debug("audio loaded",
		logging.String("path", abs),
		logging.Seconds("duration_seconds", src.Duration),
		logging.Int("sample_rate", src.SampleRate),
		logging.Int("channels", src.Channels),
		logging.String("format", src.Format),
	)
	return src, nil
}

// Normalize writes the 16 kHz mono WAV consumed by the model subprocesses
// into workDir and returns a copy of src pointing at it.
func (l *Loader) Normalize(ctx context.Context, src Source, workDir string) (Source, error) {
	if strings.TrimSpace(workDir) == "" {
		return Source{}, services.Wrap(services.ErrInput, stageLoad, "normalize", "work directory is required", nil)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Source{}, services.Wrap(services.ErrInput, stageLoad, "normalize", "create work directory", err)
	}
	base := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	dest := filepath.Join(workDir, base+".16k.wav")
	if err := l.extract(ctx, l.ffmpegBinary, src.Path, src.StreamIndex, dest); err != nil {
		_ = os.Remove(dest)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Source{}, ctxErr
		}
		return Source{}, services.Wrap(services.ErrTranscription, stageLoad, "normalize", "ffmpeg could not decode audio", err)
	}
	out := src
	out.NormalizedPath = dest
	return out, nil
}

func (l *Loader) checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrInput, stageLoad, "validate", fmt.Sprintf("audio file %s not found", path), nil)
		}
		return services.Wrap(services.ErrInput, stageLoad, "validate", "stat audio file", err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrInput, stageLoad, "validate", fmt.Sprintf("%s is a directory", path), nil)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := l.allowed[ext]; !ok {
		return services.Wrap(services.ErrInput, stageLoad, "validate", fmt.Sprintf("unsupported audio format %q", ext), nil)
	}
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrInput, stageLoad, "validate", "audio file is not readable", err)
	}
	return file.Close()
}
