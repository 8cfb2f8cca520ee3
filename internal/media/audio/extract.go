package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExtractFunc writes a 16 kHz mono PCM WAV of the chosen stream to dest.
type ExtractFunc func(ctx context.Context, ffmpegBinary, source string, streamIndex int, dest string) error

// ExtractSpeechWAV extracts one audio stream as the mono 16 kHz WAV the speech
// models expect. A negative streamIndex maps the first audio stream.
func ExtractSpeechWAV(ctx context.Context, ffmpegBinary, source string, streamIndex int, dest string) error {
	mapping := "0:a:0"
	if streamIndex >= 0 {
		mapping = fmt.Sprintf("0:%d", streamIndex)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", mapping,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
