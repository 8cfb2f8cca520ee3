package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"speakerscribe/internal/config"
	"speakerscribe/internal/deps"
	"speakerscribe/internal/gpu"
	"speakerscribe/internal/services"
	"speakerscribe/internal/services/pyannote"
)

// CheckHuggingFace verifies that the diarization credential is accepted.
// It uses a 15-second timeout and a single attempt.
func CheckHuggingFace(ctx context.Context, token string, validate pyannote.TokenValidator) Result {
	const name = "Hugging Face token"

	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "missing (diarization will be skipped)"}
	}
	if validate == nil {
		validate = pyannote.NewHTTPValidator(nil, "")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := validate(checkCtx, token)
	if err != nil {
		return Result{Name: name, Detail: summarizeTokenError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "accepted (" + res.Account + ")"}
}

// CheckGPU reports whether a CUDA device is visible.
func CheckGPU(ctx context.Context, detect gpu.Detector, required bool) Result {
	const name = "GPU"

	if detect == nil {
		detect = gpu.NewDetector("nvidia-smi")
	}
	info := detect(ctx)
	if !info.Available {
		detail := info.Detail
		if detail == "" {
			detail = "no CUDA device"
		}
		if !required {
			return Result{Name: name, Passed: true, Detail: detail + " (cpu mode)"}
		}
		return Result{Name: name, Detail: detail}
	}
	dev := info.Devices[0]
	detail := fmt.Sprintf("%s (%d MiB)", dev.Name, dev.MemoryMB)
	if len(info.Devices) > 1 {
		detail += fmt.Sprintf(" +%d more", len(info.Devices)-1)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external tools the pipeline shells out to.
// The CLI doctor command and the web health endpoint both use this list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for audio normalization",
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for audio inspection",
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "uvx",
			Command:     cfg.UVXBinary(),
			Description: "Required to run the WhisperX and pyannote models",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "nvidia-smi",
			Command:     "nvidia-smi",
			Description: "Required for GPU transcription",
			Optional:    cfg.Transcription.Device != config.DeviceGPU,
		},
	}
	return deps.CheckBinaries(ctx, requirements)
}

func summarizeTokenError(err error) string {
	if errors.Is(err, services.ErrAuthentication) {
		return "rejected (check the token and accept the pyannote model terms)"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (Hugging Face unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (Hugging Face unreachable)"
	}
	return err.Error()
}
