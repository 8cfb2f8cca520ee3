package pipeline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"speakerscribe/internal/config"
	"speakerscribe/internal/language"
	"speakerscribe/internal/services"
	"speakerscribe/internal/textutil"
)

// DefaultOutputDir is used when Options.OutputDir is empty.
const DefaultOutputDir = "output"

// Options configures one pipeline run. Zero speaker counts mean unset.
type Options struct {
	Input       string `json:"input"`
	ModelSize   string `json:"model_size"`
	Language    string `json:"language"`
	Device      string `json:"device"`
	BatchSize   int    `json:"batch_size"`
	ComputeType string `json:"compute_type,omitempty"`

	NumSpeakers int `json:"num_speakers,omitempty"`
	MinSpeakers int `json:"min_speakers,omitempty"`
	MaxSpeakers int `json:"max_speakers,omitempty"`
	// Credential is never serialized.
	Credential string `json:"-"`

	Diarize     bool `json:"diarize"`
	Corrections bool `json:"corrections"`

	OutputDir    string            `json:"output_dir,omitempty"`
	BaseName     string            `json:"basename,omitempty"`
	SpeakerNames map[string]string `json:"speaker_names,omitempty"`
}

// OptionsFromConfig seeds run options from configuration defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	names := make(map[string]string, len(cfg.Speakers.Names))
	for id, name := range cfg.Speakers.Names {
		names[id] = name
	}
	return Options{
		ModelSize:    cfg.Transcription.ModelSize,
		Language:     cfg.Transcription.Language,
		Device:       cfg.Transcription.Device,
		BatchSize:    cfg.Transcription.BatchSize,
		ComputeType:  cfg.Transcription.ComputeType,
		NumSpeakers:  cfg.Diarization.NumSpeakers,
		MinSpeakers:  cfg.Diarization.MinSpeakers,
		MaxSpeakers:  cfg.Diarization.MaxSpeakers,
		Credential:   cfg.Diarization.HFToken,
		Diarize:      cfg.Diarization.Enabled,
		Corrections:  cfg.Corrections.Enabled,
		SpeakerNames: names,
	}
}

// OverrideSpeakerCounts applies per-run speaker counts over the configured
// ones. A nil pointer means the caller did not set that value. Setting the
// exact count drops configured bounds and setting a bound drops a configured
// exact count; setting both sides is left for Validate to reject.
func (o *Options) OverrideSpeakerCounts(num, minimum, maximum *int) {
	if num != nil {
		o.NumSpeakers = *num
		o.MinSpeakers, o.MaxSpeakers = 0, 0
	}
	if minimum != nil {
		o.MinSpeakers = *minimum
	}
	if maximum != nil {
		o.MaxSpeakers = *maximum
	}
	if num == nil && (minimum != nil || maximum != nil) {
		o.NumSpeakers = 0
	}
}

// Validate normalizes the options in place. Any invalid value or flag
// combination is reported as services.ErrInput.
func (o *Options) Validate() error {
	o.ModelSize = strings.ToLower(strings.TrimSpace(o.ModelSize))
	if o.ModelSize == "" {
		o.ModelSize = "base"
	}
	if !config.ValidModelSize(o.ModelSize) {
		return invalid("model size must be one of %s (got %q)", strings.Join(config.ModelSizes, ", "), o.ModelSize)
	}

	o.Device = config.NormalizeDevice(o.Device)
	if o.Device == "" {
		o.Device = config.DeviceCPU
	}
	if !config.ValidDevice(o.Device) {
		return invalid("device must be one of %s (got %q)", strings.Join(config.Devices, ", "), o.Device)
	}

	if o.BatchSize == 0 {
		o.BatchSize = 8
	}
	if o.BatchSize < 1 {
		return invalid("batch size must be at least 1 (got %d)", o.BatchSize)
	}

	o.ComputeType = strings.ToLower(strings.TrimSpace(o.ComputeType))
	switch o.ComputeType {
	case "", "float16", "float32", "int8":
	default:
		return invalid("compute type must be float16, float32, or int8 (got %q)", o.ComputeType)
	}

	lang, err := language.Resolve(o.Language)
	if err != nil {
		return services.Wrap(services.ErrInput, "options", "validate", "", err)
	}
	if lang == "" {
		lang = language.Auto
	}
	o.Language = lang

	if err := config.ValidateSpeakerCounts(o.NumSpeakers, o.MinSpeakers, o.MaxSpeakers); err != nil {
		return services.Wrap(services.ErrInput, "options", "validate", "", err)
	}

	o.Credential = strings.TrimSpace(o.Credential)
	o.BaseName = strings.TrimSpace(o.BaseName)
	if strings.ContainsAny(o.BaseName, `/\`) {
		return invalid("basename must not contain path separators (got %q)", o.BaseName)
	}
	return nil
}

// ResolvedLanguage returns the ISO 639-1 code, or "" for auto-detection.
func (o Options) ResolvedLanguage() string {
	if o.Language == language.Auto {
		return ""
	}
	lang, _ := language.Resolve(o.Language)
	return lang
}

// OutputBase returns the file stem used for output files.
func (o Options) OutputBase() string {
	if o.BaseName != "" {
		return o.BaseName
	}
	if stem := textutil.Stem(o.Input); stem != "" {
		return stem
	}
	return "transcript"
}

// OutputDirectory returns the directory outputs are written to.
func (o Options) OutputDirectory() string {
	if strings.TrimSpace(o.OutputDir) == "" {
		return DefaultOutputDir
	}
	return o.OutputDir
}

// Args renders the options as transcribe command flags. The input path and
// the credential are not included; workers receive the credential through
// the environment.
func (o Options) Args() []string {
	args := []string{
		"--model-size", o.ModelSize,
		"--language", o.Language,
		"--device", o.Device,
		"--batch-size", strconv.Itoa(o.BatchSize),
	}
	if o.ComputeType != "" {
		args = append(args, "--compute-type", o.ComputeType)
	}
	if o.NumSpeakers > 0 {
		args = append(args, "--num-speakers", strconv.Itoa(o.NumSpeakers))
	}
	if o.MinSpeakers > 0 {
		args = append(args, "--min-speakers", strconv.Itoa(o.MinSpeakers))
	}
	if o.MaxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(o.MaxSpeakers))
	}
	if !o.Diarize {
		args = append(args, "--no-diarization")
	}
	if !o.Corrections {
		args = append(args, "--no-corrections")
	}
	if o.OutputDir != "" {
		args = append(args, "--output-dir", o.OutputDir)
	}
	if o.BaseName != "" {
		args = append(args, "--basename", o.BaseName)
	}
	ids := make([]string, 0, len(o.SpeakerNames))
	for id := range o.SpeakerNames {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		args = append(args, "--speaker-name", id+"="+o.SpeakerNames[id])
	}
	return args
}

func invalid(format string, args ...any) error {
	return services.Wrap(services.ErrInput, "options", "validate", fmt.Sprintf(format, args...), nil)
}
