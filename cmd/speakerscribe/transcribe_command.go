package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"speakerscribe/internal/config"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/output"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/services"
)

type transcribeFlags struct {
	modelSize     string
	language      string
	device        string
	batchSize     int
	computeType   string
	numSpeakers   int
	minSpeakers   int
	maxSpeakers   int
	credential    string
	outputDir     string
	basename      string
	speakerNames  []string
	noCorrections bool
	noDiarization bool
	reportPath    string
	events        bool
	jsonOutput    bool
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var flags transcribeFlags

	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe an audio file and label its speakers",
		Long: `Transcribe an audio file, identify who spoke when, and write
<basename>.txt, <basename>.json and <basename>.srt to the output directory.

The diarization credential is read from --credential, HF_TOKEN, or
diarization.hf_token. Without one the transcript is still written and every
segment is labeled UNKNOWN.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := buildTranscribeOptions(cmd, cfg, flags, args[0])
			if err != nil {
				return reportFailure(flags.reportPath, args[0], err)
			}
			return runTranscribe(cmd, ctx, opts, flags)
		},
	}

	bindTranscribeFlags(cmd, &flags)
	return cmd
}

func bindTranscribeFlags(cmd *cobra.Command, flags *transcribeFlags) {
	f := cmd.Flags()
	f.StringVar(&flags.modelSize, "model-size", "", "Whisper model size ("+strings.Join(config.ModelSizes, ", ")+")")
	f.StringVar(&flags.language, "language", "", "Spoken language code or name, or auto")
	f.StringVar(&flags.device, "device", "", "Compute device (cpu or gpu)")
	f.IntVar(&flags.batchSize, "batch-size", 0, "Transcription batch size")
	f.StringVar(&flags.computeType, "compute-type", "", "Model precision (float16, float32, int8)")
	f.IntVar(&flags.numSpeakers, "num-speakers", 0, "Exact number of speakers")
	f.IntVar(&flags.minSpeakers, "min-speakers", 0, "Minimum number of speakers")
	f.IntVar(&flags.maxSpeakers, "max-speakers", 0, "Maximum number of speakers")
	f.StringVar(&flags.credential, "credential", "", "Hugging Face token for diarization (default $HF_TOKEN)")
	f.StringVarP(&flags.outputDir, "output-dir", "o", "", "Directory for transcript files (default \"output\")")
	f.StringVar(&flags.basename, "basename", "", "File stem for outputs (default: input file name)")
	f.StringArrayVar(&flags.speakerNames, "speaker-name", nil, "Display name for a speaker, as SPEAKER_00=Alice (repeatable)")
	f.BoolVar(&flags.noCorrections, "no-corrections", false, "Skip transcript corrections")
	f.BoolVar(&flags.noDiarization, "no-diarization", false, "Skip speaker diarization")
	f.StringVar(&flags.reportPath, "report", "", "Write a JSON run report to this path")
	f.BoolVar(&flags.events, "events", false, "Print progress events as JSON lines on stdout")
	f.BoolVar(&flags.jsonOutput, "json", false, "Print the run report as JSON instead of a table")
}

func buildTranscribeOptions(cmd *cobra.Command, cfg *config.Config, flags transcribeFlags, input string) (pipeline.Options, error) {
	opts := pipeline.OptionsFromConfig(cfg)
	opts.Input = input
	opts.OutputDir = pipeline.DefaultOutputDir

	changed := cmd.Flags().Changed
	if changed("model-size") {
		opts.ModelSize = flags.modelSize
	}
	if changed("language") {
		opts.Language = flags.language
	}
	if changed("device") {
		opts.Device = flags.device
	}
	if changed("batch-size") {
		opts.BatchSize = flags.batchSize
	}
	if changed("compute-type") {
		opts.ComputeType = flags.computeType
	}
	var num, minimum, maximum *int
	if changed("num-speakers") {
		num = &flags.numSpeakers
	}
	if changed("min-speakers") {
		minimum = &flags.minSpeakers
	}
	if changed("max-speakers") {
		maximum = &flags.maxSpeakers
	}
	opts.OverrideSpeakerCounts(num, minimum, maximum)
	if changed("credential") {
		opts.Credential = flags.credential
	}
	if changed("output-dir") {
		opts.OutputDir = flags.outputDir
	}
	opts.BaseName = flags.basename
	if flags.noCorrections {
		opts.Corrections = false
	}
	if flags.noDiarization {
		opts.Diarize = false
	}
	names, err := parseSpeakerNames(flags.speakerNames)
	if err != nil {
		return pipeline.Options{}, err
	}
	for id, name := range names {
		if opts.SpeakerNames == nil {
			opts.SpeakerNames = map[string]string{}
		}
		opts.SpeakerNames[id] = name
	}
	if err := opts.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	return opts, nil
}

// parseSpeakerNames reads ID=Name pairs.
func parseSpeakerNames(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		id, name, ok := strings.Cut(v, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			return nil, services.Wrap(services.ErrInput, "options", "parse", fmt.Sprintf("--speaker-name must look like SPEAKER_00=Alice (got %q)", v), nil)
		}
		out[id] = name
	}
	return out, nil
}

func runTranscribe(cmd *cobra.Command, ctx *commandContext, opts pipeline.Options, flags transcribeFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.newLogger("")
	if err != nil {
		return err
	}
	pctx, err := pipeline.NewContext(cfg, logger, ctx.pipelineOpts...)
	if err != nil {
		return reportFailure(flags.reportPath, opts.Input, err)
	}
	defer pctx.Close()

	progress := progressPrinter(cmd, flags.events)
	result, err := pctx.Run(cmd.Context(), opts, progress)
	var outputs pipeline.Outputs
	if err == nil {
		progress.Emit(pipeline.StageWrite)
		outputs, err = pctx.Write(result, opts)
	}
	report := pipeline.NewReport(opts.Input, result, outputs, err)
	if flags.reportPath != "" {
		if werr := pipeline.WriteReport(flags.reportPath, report); werr != nil {
			logger.Warn("failed to write run report", logging.String("path", flags.reportPath), logging.Error(werr))
		}
	}
	if err != nil {
		return err
	}
	progress.Emit(pipeline.StageComplete)

	stderr := cmd.ErrOrStderr()
	for _, d := range result.Degraded {
		fmt.Fprintf(stderr, "warning: %s degraded: %s\n", d.Capability, d.Reason)
	}
	if flags.events {
		return nil
	}
	if flags.jsonOutput {
		return writeJSON(cmd, report)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderRunSummary(report, result))
	return nil
}

// reportFailure leaves a failed report for coordinators before returning err.
func reportFailure(reportPath, input string, err error) error {
	if reportPath != "" {
		_ = pipeline.WriteReport(reportPath, pipeline.NewReport(input, nil, nil, err))
	}
	return err
}

// progressPrinter prints JSON events on stdout with --events, a short line
// on an interactive stderr otherwise, or nothing.
func progressPrinter(cmd *cobra.Command, events bool) pipeline.Progress {
	var mu sync.Mutex
	if events {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return func(ev pipeline.Event) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(ev)
		}
	}
	stderr := cmd.ErrOrStderr()
	if !shouldColorize(stderr) {
		return nil
	}
	return func(ev pipeline.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(stderr, "[%3d%%] %s\n", ev.Percent, ev.Message)
	}
}

func renderRunSummary(report pipeline.Report, result *pipeline.Result) string {
	degraded := "none"
	if caps := result.DegradedCapabilities(); len(caps) > 0 {
		degraded = strings.Join(caps, ", ")
	}
	rows := [][2]string{
		{"Input", filepath.Base(report.Input)},
		{"Language", report.Language},
		{"Duration", formatDuration(report.Duration)},
		{"Segments", strconv.Itoa(report.Segments)},
		{"Speakers", strings.Join(report.Speakers, ", ")},
		{"Degraded", degraded},
	}
	for _, f := range output.Formats {
		if p, ok := report.OutputPath(f); ok {
			rows = append(rows, [2]string{"Output (" + string(f) + ")", p})
		}
	}
	return renderKeyValues(rows)
}

func formatDuration(seconds float64) string {
	total := int(seconds + 0.5)
	h, m, sec := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
