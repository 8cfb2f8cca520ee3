package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"speakerscribe/internal/config"
)

// ConfigOption adjusts the generated test configuration.
type ConfigOption func(t testing.TB, cfg *config.Config)

// NewConfig returns a default config whose directories live under a fresh
// temp dir. Token validation is off and the server binds an ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		WorkDir:   filepath.Join(base, "work"),
		OutputDir: filepath.Join(base, "outputs"),
		UploadDir: filepath.Join(base, "uploads"),
		LogDir:    filepath.Join(base, "logs"),
		LockDir:   filepath.Join(base, "locks"),
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LockDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	cfg.Diarization.ValidateToken = false
	cfg.Server.Bind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(t, &cfg)
	}
	return &cfg
}

// WithToken sets the diarization credential.
func WithToken(token string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Diarization.HFToken = token
	}
}

// WithDevice sets the transcription device.
func WithDevice(device string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Transcription.Device = device
	}
}

// WithStubbedBinaries puts shell stubs for names first on PATH for the rest
// of the test. Each stub prints "<name> version test" and exits 0. Without
// names, the media tools and uvx are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		t.Helper()
		if len(names) == 0 {
			names = []string{cfg.FFprobeBinary(), cfg.FFmpegBinary(), cfg.UVXBinary()}
		}
		binDir := filepath.Join(filepath.Dir(cfg.Paths.WorkDir), "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			script := "#!/bin/sh\necho \"" + name + " version test\"\n"
			if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}
