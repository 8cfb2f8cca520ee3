package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscription()
	if err := c.normalizeDiarization(); err != nil {
		return err
	}
	if err := c.normalizeCorrections(); err != nil {
		return err
	}
	c.normalizeSpeakers()
	c.normalizeServer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.output_dir", &c.Paths.OutputDir, defaultOutputDir},
		{"paths.upload_dir", &c.Paths.UploadDir, defaultUploadDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.lock_dir", &c.Paths.LockDir, defaultLockDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.ModelSize = strings.ToLower(strings.TrimSpace(t.ModelSize))
	if t.ModelSize == "" {
		t.ModelSize = defaultModelSize
	}
	t.Language = strings.ToLower(strings.TrimSpace(t.Language))
	if t.Language == "" {
		t.Language = defaultLanguage
	}
	t.Device = NormalizeDevice(t.Device)
	if t.Device == "" {
		t.Device = defaultDevice
	}
	t.ComputeType = strings.ToLower(strings.TrimSpace(t.ComputeType))
}

// NormalizeDevice lowercases a device selector and accepts "cuda" as an alias
// for gpu.
func NormalizeDevice(device string) string {
	device = strings.ToLower(strings.TrimSpace(device))
	if device == "cuda" {
		return DeviceGPU
	}
	return device
}

func (c *Config) normalizeDiarization() error {
	c.Diarization.HFToken = strings.TrimSpace(c.Diarization.HFToken)
	if c.Diarization.HFToken == "" {
		c.Diarization.HFToken = TokenFromEnv()
	}
	c.Diarization.Model = strings.TrimSpace(c.Diarization.Model)
	if c.Diarization.Model == "" {
		c.Diarization.Model = defaultDiarizeModel
	}
	return nil
}

// TokenFromEnv returns the Hugging Face credential from the environment.
func TokenFromEnv() string {
	for _, key := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (c *Config) normalizeCorrections() error {
	if strings.TrimSpace(c.Corrections.RulesFile) != "" {
		expanded, err := expandPath(strings.TrimSpace(c.Corrections.RulesFile))
		if err != nil {
			return fmt.Errorf("corrections.rules_file: %w", err)
		}
		c.Corrections.RulesFile = expanded
	}
	if c.Corrections.InterjectionThresholdSeconds == 0 {
		c.Corrections.InterjectionThresholdSeconds = defaultInterjectionThreshold
	}
	return nil
}

func (c *Config) normalizeSpeakers() {
	if len(c.Speakers.Names) == 0 {
		return
	}
	cleaned := make(map[string]string, len(c.Speakers.Names))
	for id, name := range c.Speakers.Names {
		id = strings.TrimSpace(id)
		name = strings.TrimSpace(name)
		if id == "" || name == "" {
			continue
		}
		cleaned[id] = name
	}
	c.Speakers.Names = cleaned
}

func (c *Config) normalizeServer() {
	s := &c.Server
	s.Bind = strings.TrimSpace(s.Bind)
	if s.Bind == "" {
		s.Bind = defaultServerBind
	}
	s.APIToken = strings.TrimSpace(s.APIToken)
	if s.APIToken == "" {
		if value, ok := os.LookupEnv("SPEAKERSCRIBE_API_TOKEN"); ok {
			s.APIToken = strings.TrimSpace(value)
		}
	}
	if s.MaxUploadMB == 0 {
		s.MaxUploadMB = defaultMaxUploadMB
	}
	if s.WorkerPoolSize == 0 {
		s.WorkerPoolSize = defaultWorkerPoolSize
	}
	if s.JobTimeoutMinutes == 0 {
		s.JobTimeoutMinutes = defaultJobTimeoutMinutes
	}
	if len(s.AllowedExtensions) == 0 {
		s.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	exts := make([]string, 0, len(s.AllowedExtensions))
	for _, ext := range s.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	s.AllowedExtensions = exts
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
