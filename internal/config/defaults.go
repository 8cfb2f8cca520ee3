package config

const (
	defaultConfigPath   = "~/.config/speakerscribe/config.toml"
	projectConfigName   = "speakerscribe.toml"
	defaultWorkDir      = "~/.cache/speakerscribe/work"
	defaultOutputDir    = "~/.local/share/speakerscribe/outputs"
	defaultUploadDir    = "~/.local/share/speakerscribe/uploads"
	defaultLogDir       = "~/.local/share/speakerscribe/logs"
	defaultLockDir      = "~/.cache/speakerscribe/locks"
	defaultModelSize    = "base"
	defaultLanguage     = "en"
	defaultDevice       = DeviceCPU
	defaultBatchSize    = 8
	defaultDiarizeModel = "pyannote/speaker-diarization-3.1"

	defaultInterjectionThreshold = 0.5
	defaultServerBind            = "127.0.0.1:7860"
	defaultMaxUploadMB           = 500
	defaultWorkerPoolSize        = 2
	defaultJobTimeoutMinutes     = 60
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Device selectors accepted by the transcriber and diarizer.
const (
	DeviceCPU = "cpu"
	DeviceGPU = "gpu"
)

// LanguageAuto requests language detection by the ASR model.
const LanguageAuto = "auto"

// ModelSizes lists the accepted ASR model size selectors.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large", "large-v3"}

// Devices lists the accepted device selectors.
var Devices = []string{DeviceCPU, DeviceGPU}

// DefaultAllowedExtensions lists the upload extensions accepted in web mode.
var DefaultAllowedExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".opus", ".webm", ".mp4", ".aac", ".wma"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			UploadDir: defaultUploadDir,
			LogDir:    defaultLogDir,
			LockDir:   defaultLockDir,
		},
		Transcription: Transcription{
			ModelSize: defaultModelSize,
			Language:  defaultLanguage,
			Device:    defaultDevice,
			BatchSize: defaultBatchSize,
		},
		Diarization: Diarization{
			Enabled:       true,
			Model:         defaultDiarizeModel,
			ValidateToken: true,
		},
		Corrections: Corrections{
			Enabled:                      true,
			InterjectionThresholdSeconds: defaultInterjectionThreshold,
		},
		Server: Server{
			Bind:              defaultServerBind,
			MaxUploadMB:       defaultMaxUploadMB,
			WorkerPoolSize:    defaultWorkerPoolSize,
			JobTimeoutMinutes: defaultJobTimeoutMinutes,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// ValidModelSize reports whether size is an accepted model selector.
func ValidModelSize(size string) bool {
	return contains(ModelSizes, size)
}

// ValidDevice reports whether device is an accepted device selector.
func ValidDevice(device string) bool {
	return contains(Devices, device)
}

func contains(values []string, candidate string) bool {
	for _, v := range values {
		if v == candidate {
			return true
		}
	}
	return false
}
