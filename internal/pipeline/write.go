package pipeline

import (
	"os"
	"path/filepath"

	"speakerscribe/internal/fileutil"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/output"
	"speakerscribe/internal/services"
	"speakerscribe/internal/transcript"
)

// Outputs maps each written format to its file path.
type Outputs map[output.Format]string

// Paths returns the written paths in format order.
func (o Outputs) Paths() []string {
	paths := make([]string, 0, len(o))
	for _, f := range output.Formats {
		if p, ok := o[f]; ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// Write renders every format before touching the filesystem, then writes
// each file atomically. A failed write removes the files already written.
func (c *Context) Write(result *Result, opts Options) (Outputs, error) {
	if result == nil {
		return nil, services.Wrap(services.ErrInput, StageWrite, "render", "no result to write", nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	names := transcript.SpeakerMap(opts.SpeakerNames)
	meta := output.Metadata{
		ProcessedAt: c.now(),
		Source:      filepath.Base(result.Source.Path),
		Duration:    result.Source.Duration,
		Language:    result.Language,
		ModelSize:   opts.ModelSize,
		Device:      opts.Device,
		Degraded:    result.DegradedCapabilities(),
	}

	rendered := make(map[output.Format][]byte, len(output.Formats))
	for _, f := range output.Formats {
		data, err := output.Render(f, result.Segments, names, meta)
		if err != nil {
			return nil, services.Wrap(services.ErrTranscription, StageWrite, "render "+string(f), "", err)
		}
		rendered[f] = data
	}

	dir := opts.OutputDirectory()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrInput, StageWrite, "create output directory", dir, err)
	}
	base := opts.OutputBase()
	outputs := make(Outputs, len(output.Formats))
	for _, f := range output.Formats {
		path := filepath.Join(dir, base+f.Extension())
		if err := fileutil.WriteFileAtomic(path, rendered[f], 0o644); err != nil {
			if rmErr := fileutil.RemoveAll(outputs.Paths()...); rmErr != nil {
				c.logger.Warn("failed to remove partial outputs", logging.Error(rmErr))
			}
			return nil, services.Wrap(services.ErrExternalTool, StageWrite, "write "+string(f), path, err)
		}
		outputs[f] = path
	}
	c.logger.Info("outputs written",
		logging.String(logging.FieldEventType, "outputs_written"),
		logging.String("dir", dir),
		logging.Strings("files", outputs.Paths()),
	)
	return outputs, nil
}
