package whisperx

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"speakerscribe/internal/language"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/media/audio"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/uvx"
	"speakerscribe/internal/transcript"
)

//go:embed scripts/transcribe.py
var transcribeScript []byte

//go:embed scripts/align.py
var alignScript []byte

const (
	stageTranscribe = "transcribe"
	stageAlign      = "align"
)

// Service runs WhisperX transcription and forced alignment.
type Service struct {
	exec    *uvx.Executor
	workDir string
	logger  *slog.Logger
}

// NewService creates a WhisperX service writing scratch files under workDir.
func NewService(exec *uvx.Executor, workDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		exec:    exec,
		workDir: workDir,
		logger:  logging.NewComponentLogger(logger, "whisperx"),
	}
}

// Close removes scratch scripts and stops stray model processes.
func (s *Service) Close() {
	s.exec.Cleanup()
}

// TranscribeResult holds the detected language and normalized segments.
type TranscribeResult struct {
	Language string
	Segments []transcript.Segment
}

// Transcribe runs ASR over the whole source. Segments come back normalized
// (ordered, non-overlapping, covering the source duration) with coarse words
// and Aligned=false.
func (s *Service) Transcribe(ctx context.Context, src audio.Source, opts TranscribeOptions) (TranscribeResult, error) {
	args := []string{
		"--audio", src.ModelInput(),
		"--model", opts.model(),
		"--device", torchDevice(opts.Device),
		"--compute-type", opts.computeType(),
		"--batch-size", strconv.Itoa(opts.batchSize()),
	}
	if lang := language.ToISO2(opts.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	out, err := s.exec.Run(ctx, stageTranscribe, uvx.Script{
		Name:   "whisperx_transcribe.py",
		Source: transcribeScript,
		With:   []string{Package},
		CUDA:   opts.cuda(),
		Args:   args,
	})
	if err != nil {
		return TranscribeResult{}, err
	}

	var payload struct {
		Language string       `json:"language"`
		Segments []rawSegment `json:"segments"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return TranscribeResult{}, services.Wrap(services.ErrTranscription, stageTranscribe, "parse output", "invalid whisperx output", err)
	}
	segments := make([]transcript.Segment, 0, len(payload.Segments))
	for _, raw := range payload.Segments {
		seg := raw.segment()
		seg.Aligned = false
		seg.Words = nil
		segments = append(segments, seg)
	}
	result := TranscribeResult{
		Language: language.ToISO2(payload.Language),
		Segments: transcript.Normalize(segments, src.Duration),
	}
	if result.Language == "" {
		result.Language = language.ToISO2(opts.Language)
	}
	s.logger.Info("transcription complete",
		logging.Int("segments", len(payload.Segments)),
		logging.String("language", result.Language),
		logging.String("model", opts.model()),
	)
	return result, nil
}

// Align refines word timestamps of the speech segments for lang. It returns
// an error marked services.ErrAlignmentUnavailable when no alignment model
// exists for the language; callers keep the unaligned segments in that case.
func (s *Service) Align(ctx context.Context, src audio.Source, segments []transcript.Segment, lang, device string) ([]transcript.Segment, error) {
	lang = language.ToISO2(lang)
	if lang == "" || !language.HasAlignmentModel(lang) {
		return nil, services.Wrap(services.ErrAlignmentUnavailable, stageAlign, "select model",
			fmt.Sprintf("no alignment model for language %q", language.DisplayName(lang)), nil)
	}

	speech := make([]rawSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.IsSilence() {
			continue
		}
		speech = append(speech, rawSegment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	if len(speech) == 0 {
		return segments, nil
	}

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stageAlign, "prepare input", "create work directory", err)
	}
	input, err := json.Marshal(speech)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stageAlign, "prepare input", "encode segments", err)
	}
	inputPath := filepath.Join(s.workDir, "align_segments.json")
	if err := os.WriteFile(inputPath, input, 0o644); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stageAlign, "prepare input", "write segments", err)
	}
	defer os.Remove(inputPath)

	out, err := s.exec.Run(ctx, stageAlign, uvx.Script{
		Name:   "whisperx_align.py",
		Source: alignScript,
		With:   []string{Package},
		CUDA:   torchDevice(device) == CUDADevice,
		Args: []string{
			"--audio", src.ModelInput(),
			"--segments", inputPath,
			"--language", lang,
			"--device", torchDevice(device),
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Segments []rawSegment `json:"segments"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, services.Wrap(services.ErrTranscription, stageAlign, "parse output", "invalid alignment output", err)
	}
	aligned := make([]transcript.Segment, 0, len(payload.Segments))
	for _, raw := range payload.Segments {
		aligned = append(aligned, raw.segment())
	}
	return transcript.Normalize(aligned, src.Duration), nil
}

type rawWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Score *float64 `json:"score"`
}

type rawSegment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []rawWord `json:"words,omitempty"`
}

// segment converts the script output. Words the aligner could not place
// (numerals, symbols) inherit bounds from their neighbours.
func (r rawSegment) segment() transcript.Segment {
	seg := transcript.Segment{
		Start: r.Start,
		End:   r.End,
		Text:  strings.TrimSpace(r.Text),
	}
	if len(r.Words) == 0 {
		return seg
	}
	seg.Aligned = true
	seg.Words = make([]transcript.Word, len(r.Words))
	for i, raw := range r.Words {
		seg.Words[i].Text = strings.TrimSpace(raw.Word)
		if raw.Score != nil {
			seg.Words[i].Confidence = *raw.Score
		}
	}
	for i, raw := range r.Words {
		w := &seg.Words[i]
		switch {
		case raw.Start != nil && raw.End != nil:
			w.Start, w.End = *raw.Start, *raw.End
		default:
			w.Start = previousEnd(seg.Words, r.Words, i, r.Start)
			w.End = nextStart(r.Words, i, r.End)
			if w.End < w.Start {
				w.End = w.Start
			}
		}
	}
	return seg
}

func previousEnd(words []transcript.Word, raw []rawWord, i int, fallback float64) float64 {
	if i == 0 {
		return fallback
	}
	if raw[i-1].End != nil {
		return *raw[i-1].End
	}
	return words[i-1].End
}

func nextStart(raw []rawWord, i int, fallback float64) float64 {
	for j := i + 1; j < len(raw); j++ {
		if raw[j].Start != nil {
			return *raw[j].Start
		}
	}
	return fallback
}
