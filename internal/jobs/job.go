package jobs

import (
	"path/filepath"

	"github.com/google/uuid"

	"speakerscribe/internal/config"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/textutil"
)

// NewJob allocates an identifier and the per-job upload and output paths
// for an uploaded file. opts is copied; its output location is pinned to the
// job directory.
func NewJob(cfg *config.Config, originalName string, opts pipeline.Options) *Job {
	id := uuid.NewString()
	name := textutil.SafeFileName(originalName)
	if name == "" {
		name = "upload"
	}
	uploadPath := filepath.Join(cfg.Paths.UploadDir, id, name)
	outputDir := filepath.Join(cfg.Paths.OutputDir, id)

	opts.Input = uploadPath
	opts.OutputDir = outputDir
	if opts.BaseName == "" {
		opts.BaseName = textutil.Stem(name)
	}
	return &Job{
		ID:           id,
		OriginalName: originalName,
		UploadPath:   uploadPath,
		OutputDir:    outputDir,
		Device:       opts.Device,
		Options:      opts,
	}
}

// reportPath is where the worker leaves its pipeline.Report.
func (j *Job) reportPath() string {
	return filepath.Join(filepath.Dir(j.UploadPath), "report.json")
}
