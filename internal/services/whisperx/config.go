package whisperx

// WhisperX defaults.
const (
	DefaultModel     = "base"
	DefaultBatchSize = 8
	CPUComputeType   = "float32"
	GPUComputeType   = "float16"
	CPUDevice        = "cpu"
	CUDADevice       = "cuda"
	// Package is the uvx requirement that provides the whisperx module.
	Package = "whisperx"
)

// TranscribeOptions configures one transcription run.
type TranscribeOptions struct {
	// ModelSize is one of the Whisper model names (tiny .. large-v3).
	ModelSize string
	// Language is an ISO 639-1 code; empty requests detection.
	Language  string
	BatchSize int
	// Device is "cpu" or "gpu".
	Device string
	// ComputeType overrides the precision; empty picks float16 on GPU and
	// float32 on CPU.
	ComputeType string
}

func (o TranscribeOptions) cuda() bool {
	return o.Device == "gpu" || o.Device == CUDADevice
}

func (o TranscribeOptions) computeType() string {
	if o.ComputeType != "" {
		return o.ComputeType
	}
	if o.cuda() {
		return GPUComputeType
	}
	return CPUComputeType
}

func (o TranscribeOptions) model() string {
	if o.ModelSize == "" {
		return DefaultModel
	}
	return o.ModelSize
}

func (o TranscribeOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func torchDevice(device string) string {
	if device == "gpu" || device == CUDADevice {
		return CUDADevice
	}
	return CPUDevice
}
