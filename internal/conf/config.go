// conf/config.go
package conf

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Settings holds the full runtime configuration for the engine.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string // instance name, used in logs and session metadata
	}

	Audio struct {
		Device          string // capture device name, empty for system default
		SampleRate      int    // requested sample rate in Hz, device may override
		Channels        int    // requested channel count
		BufferSeconds   int    // rolling pre-roll window length
		BatchFrames     int    // frames delivered per capture callback
		LiveQueueBlocks int    // live queue capacity in batches
		RMSEveryK       int    // compute mean-square every Kth callback
		MeterIntervalMs int    // level observer publish interval
	}

	Recorder struct {
		AutoRecord        bool    // arm the signal detector at startup
		OnsetThresholdDB  float64 // sustained RMS above this starts auto recording
		OffsetThresholdDB float64 // RMS below this counts toward silence timeout
		OnsetSustainSec   float64 // required duration above onset threshold
		SilenceTimeoutSec float64 // required duration below offset threshold
		GateThresholdDB   float64 // recent-activity threshold for the manual gate
		GateLookbackSec   float64 // look-back window for the manual gate
		DiscardFloorDB    float64 // recordings below this average RMS are discarded
		RetainFailed      bool    // keep partial files after a writer failure
	}

	Session struct {
		TempRoot        string // root directory for temp session layout
		AutoCleanupDays int    // delete temp sessions older than this at startup
	}

	Transcription struct {
		Enabled            bool
		Backend            TranscriptionBackend
		MaxAttempts        int // attempts per job including the first
		MaxConcurrent      int // dispatcher worker bound
		RequestTimeoutSec  int // per-attempt timeout in steady state
		ShutdownTimeoutSec int // per-attempt timeout once shutdown begins
	}

	Telemetry struct {
		Enabled bool   // true to expose Prometheus metrics
		Listen  string // address for the metrics listener
	}
}

// Backend type discriminators for TranscriptionBackend.
const (
	BackendLocal        = "local"
	BackendOpenAICompat = "openai-compat"
)

// TranscriptionBackend is a tagged variant selecting the inference endpoint.
// Type selects which fields are meaningful; Validate enforces the pairing.
type TranscriptionBackend struct {
	Type   string // "local" or "openai-compat"
	URL    string // endpoint base URL
	Path   string // inference path, default "/inference"
	APIKey string // openai-compat only
	Model  string // openai-compat only
}

var (
	settingsInstance *Settings
	settingsOnce     sync.Once
	settingsMu       sync.RWMutex
	loadErr          error
)

// Load reads configuration from file and environment, applies defaults,
// and validates the result. The outcome, success or failure, is latched
// for subsequent calls.
func Load() (*Settings, error) {
	settingsOnce.Do(func() {
		settings := &Settings{}

		if err := initViper(); err != nil {
			loadErr = fmt.Errorf("error initializing viper: %w", err)
			return
		}

		if err := viper.Unmarshal(settings); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config into struct: %w", err)
			return
		}

		if err := ValidateSettings(settings); err != nil {
			loadErr = err
			return
		}

		settingsMu.Lock()
		settingsInstance = settings
		settingsMu.Unlock()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return Setting(), nil
}

// initViper sets up the viper search paths and reads the config file if present.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("OMEGA13")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}
	return nil
}

// Setting returns the current settings instance, nil before Load.
func Setting() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "omega-13"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "omega-13"))
	}
	return paths, nil
}

// RuntimeDir returns the directory for runtime state such as the PID file.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// DefaultTempRoot returns the session temp root used when none is configured.
func DefaultTempRoot() string {
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "omega-13", "sessions")
	}
	return filepath.Join(os.TempDir(), "omega-13", "sessions")
}
