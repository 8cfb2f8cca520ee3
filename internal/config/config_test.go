package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"speakerscribe/internal/config"
)

func TestLoadDefaultConfigUsesEnvTokenAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("HF_TOKEN", "hf_env_token")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".cache", "speakerscribe", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Diarization.HFToken != "hf_env_token" {
		t.Fatalf("expected token from env, got %q", cfg.Diarization.HFToken)
	}
	if cfg.Transcription.ModelSize != "base" || cfg.Transcription.Language != "en" || cfg.Transcription.BatchSize != 8 {
		t.Fatalf("unexpected transcription defaults: %+v", cfg.Transcription)
	}
	if cfg.Transcription.Device != config.DeviceCPU {
		t.Fatalf("expected cpu default device, got %q", cfg.Transcription.Device)
	}
	if cfg.Corrections.InterjectionThresholdSeconds != 0.5 {
		t.Fatalf("unexpected interjection threshold: %v", cfg.Corrections.InterjectionThresholdSeconds)
	}
	if cfg.Server.MaxUploadMB != 500 {
		t.Fatalf("unexpected upload cap: %d", cfg.Server.MaxUploadMB)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Paths.LockDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HF_TOKEN", "from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	content := `
[transcription]
model_size = "Large-V3"
device = "CUDA"
language = "auto"
batch_size = 4

[diarization]
hf_token = "from-file"
min_speakers = 2
max_speakers = 4

[speakers.names]
SPEAKER_00 = " Alice "
SPEAKER_01 = ""

[server]
allowed_extensions = ["MP3", ".wav"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Transcription.ModelSize != "large-v3" {
		t.Fatalf("model size not normalized: %q", cfg.Transcription.ModelSize)
	}
	if cfg.Transcription.Device != config.DeviceGPU {
		t.Fatalf("expected cuda alias to map to gpu, got %q", cfg.Transcription.Device)
	}
	if cfg.Diarization.HFToken != "from-file" {
		t.Fatalf("expected file token to win over env, got %q", cfg.Diarization.HFToken)
	}
	if got := cfg.Speakers.Names; len(got) != 1 || got["SPEAKER_00"] != "Alice" {
		t.Fatalf("unexpected speaker names: %#v", got)
	}
	if got := strings.Join(cfg.Server.AllowedExtensions, ","); got != ".mp3,.wav" {
		t.Fatalf("unexpected extensions: %s", got)
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "typo.toml")
	if err := os.WriteFile(path, []byte("[transcription]\nmodel_sise = \"tiny\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCreateSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed map[string]any
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"model", func(c *config.Config) { c.Transcription.ModelSize = "huge" }, "model_size"},
		{"device", func(c *config.Config) { c.Transcription.Device = "tpu" }, "device"},
		{"batch", func(c *config.Config) { c.Transcription.BatchSize = 0 }, "batch_size"},
		{"exclusive", func(c *config.Config) {
			c.Diarization.NumSpeakers = 2
			c.Diarization.MinSpeakers = 1
		}, "mutually exclusive"},
		{"bounds", func(c *config.Config) {
			c.Diarization.MinSpeakers = 4
			c.Diarization.MaxSpeakers = 2
		}, "must not exceed"},
		{"workers", func(c *config.Config) { c.Server.WorkerPoolSize = -1 }, "worker_pool_size"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
