package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateDiarization(); err != nil {
		return err
	}
	if err := c.validateCorrections(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscription() error {
	t := c.Transcription
	if !ValidModelSize(t.ModelSize) {
		return fmt.Errorf("transcription.model_size must be one of %s (got %q)", strings.Join(ModelSizes, ", "), t.ModelSize)
	}
	if !ValidDevice(t.Device) {
		return fmt.Errorf("transcription.device must be one of %s (got %q)", strings.Join(Devices, ", "), t.Device)
	}
	if t.BatchSize < 1 {
		return errors.New("transcription.batch_size must be at least 1")
	}
	switch t.ComputeType {
	case "", "float16", "float32", "int8":
	default:
		return fmt.Errorf("transcription.compute_type must be float16, float32, or int8 (got %q)", t.ComputeType)
	}
	return nil
}

func (c *Config) validateDiarization() error {
	return ValidateSpeakerCounts(c.Diarization.NumSpeakers, c.Diarization.MinSpeakers, c.Diarization.MaxSpeakers)
}

// ValidateSpeakerCounts enforces that an exact speaker count and min/max bounds
// are mutually exclusive. Zero means unset.
func ValidateSpeakerCounts(num, minimum, maximum int) error {
	if num < 0 || minimum < 0 || maximum < 0 {
		return errors.New("speaker counts must not be negative")
	}
	if num > 0 && (minimum > 0 || maximum > 0) {
		return errors.New("num_speakers is mutually exclusive with min_speakers/max_speakers")
	}
	if minimum > 0 && maximum > 0 && minimum > maximum {
		return fmt.Errorf("min_speakers (%d) must not exceed max_speakers (%d)", minimum, maximum)
	}
	return nil
}

func (c *Config) validateCorrections() error {
	if c.Corrections.InterjectionThresholdSeconds < 0 {
		return errors.New("corrections.interjection_threshold_seconds must not be negative")
	}
	if c.Corrections.InterjectionMaxWords < 0 {
		return errors.New("corrections.interjection_max_words must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	s := c.Server
	if s.MaxUploadMB < 1 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if s.WorkerPoolSize < 1 {
		return errors.New("server.worker_pool_size must be positive")
	}
	if s.JobTimeoutMinutes < 1 {
		return errors.New("server.job_timeout_minutes must be positive")
	}
	return nil
}
