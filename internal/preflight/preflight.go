package preflight

import (
	"context"

	"speakerscribe/internal/config"
	"speakerscribe/internal/gpu"
	"speakerscribe/internal/services/pyannote"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Checkers replaces the network and device probes used by RunAll.
type Checkers struct {
	Token pyannote.TokenValidator
	GPU   gpu.Detector
}

// RunAll executes all applicable preflight checks for the given config.
// The token check only runs when diarization is enabled and validation is
// turned on; server directories only when server is true.
func RunAll(ctx context.Context, cfg *config.Config, server bool, checkers Checkers) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Lock directory", cfg.Paths.LockDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if server {
		results = append(results,
			CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
			CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		)
	}

	results = append(results, CheckGPU(ctx, checkers.GPU, cfg.Transcription.Device == config.DeviceGPU))

	if cfg.Diarization.Enabled && cfg.Diarization.ValidateToken {
		results = append(results, CheckHuggingFace(ctx, cfg.Diarization.HFToken, checkers.Token))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
