// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main configuration
	viper.SetDefault("main.name", "omega-13")

	// Audio configuration
	viper.SetDefault("audio.device", "")
	viper.SetDefault("audio.samplerate", 48000)
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.bufferseconds", 13)
	viper.SetDefault("audio.batchframes", 512)
	viper.SetDefault("audio.livequeueblocks", 512)
	viper.SetDefault("audio.rmseveryk", 10)
	viper.SetDefault("audio.meterintervalms", 50)

	// Recorder configuration
	viper.SetDefault("recorder.autorecord", false)
	viper.SetDefault("recorder.onsetthresholddb", -35.0)
	viper.SetDefault("recorder.offsetthresholddb", -40.0)
	viper.SetDefault("recorder.onsetsustainsec", 0.5)
	viper.SetDefault("recorder.silencetimeoutsec", 10.0)
	viper.SetDefault("recorder.gatethresholddb", -70.0)
	viper.SetDefault("recorder.gatelookbacksec", 0.5)
	viper.SetDefault("recorder.discardfloordb", -50.0)
	viper.SetDefault("recorder.retainfailed", true)

	// Session configuration
	viper.SetDefault("session.temproot", DefaultTempRoot())
	viper.SetDefault("session.autocleanupdays", 7)

	// Transcription configuration
	viper.SetDefault("transcription.enabled", false)
	viper.SetDefault("transcription.backend.type", BackendLocal)
	viper.SetDefault("transcription.backend.url", "http://localhost:8080")
	viper.SetDefault("transcription.backend.path", "/inference")
	viper.SetDefault("transcription.backend.apikey", "")
	viper.SetDefault("transcription.backend.model", "")
	viper.SetDefault("transcription.maxattempts", 3)
	viper.SetDefault("transcription.maxconcurrent", 2)
	viper.SetDefault("transcription.requesttimeoutsec", 600)
	viper.SetDefault("transcription.shutdowntimeoutsec", 3)

	// Telemetry configuration
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "localhost:9090")
}
