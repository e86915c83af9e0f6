// conf/validate.go configuration validation
package conf

import (
	"net/url"

	"github.com/b08x/omega-13/internal/errors"
)

// ValidateSettings checks the loaded configuration for values that would
// leave the engine in an unusable state. Violations are configuration
// errors, reported before any audio resource is touched.
func ValidateSettings(s *Settings) error {
	var errs []error

	if err := validateAudio(s); err != nil {
		errs = append(errs, err)
	}
	if err := validateRecorder(s); err != nil {
		errs = append(errs, err)
	}
	if err := validateSession(s); err != nil {
		errs = append(errs, err)
	}
	if s.Transcription.Enabled {
		if err := validateTranscription(s); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateAudio(s *Settings) error {
	a := &s.Audio
	switch {
	case a.SampleRate <= 0:
		return confError("audio.samplerate must be positive, got %d", a.SampleRate)
	case a.Channels <= 0:
		return confError("audio.channels must be positive, got %d", a.Channels)
	case a.BufferSeconds <= 0:
		return confError("audio.bufferseconds must be positive, got %d", a.BufferSeconds)
	case a.BatchFrames <= 0:
		return confError("audio.batchframes must be positive, got %d", a.BatchFrames)
	case a.BatchFrames > a.SampleRate*a.BufferSeconds:
		// A batch larger than the ring would make Write undefined.
		return confError("audio.batchframes %d exceeds ring capacity of %d frames",
			a.BatchFrames, a.SampleRate*a.BufferSeconds)
	case a.LiveQueueBlocks < 16:
		return confError("audio.livequeueblocks must be at least 16, got %d", a.LiveQueueBlocks)
	case a.RMSEveryK <= 0:
		return confError("audio.rmseveryk must be positive, got %d", a.RMSEveryK)
	case a.MeterIntervalMs <= 0:
		return confError("audio.meterintervalms must be positive, got %d", a.MeterIntervalMs)
	}
	return nil
}

func validateRecorder(s *Settings) error {
	r := &s.Recorder
	switch {
	case r.OnsetThresholdDB <= r.OffsetThresholdDB:
		// Hysteresis requires onset strictly above offset.
		return confError("recorder.onsetthresholddb (%.1f) must be above offsetthresholddb (%.1f)",
			r.OnsetThresholdDB, r.OffsetThresholdDB)
	case r.OnsetSustainSec < 0:
		return confError("recorder.onsetsustainsec must not be negative, got %.2f", r.OnsetSustainSec)
	case r.SilenceTimeoutSec < 0:
		return confError("recorder.silencetimeoutsec must not be negative, got %.2f", r.SilenceTimeoutSec)
	case r.GateLookbackSec <= 0:
		return confError("recorder.gatelookbacksec must be positive, got %.2f", r.GateLookbackSec)
	}
	return nil
}

func validateSession(s *Settings) error {
	if s.Session.TempRoot == "" {
		return confError("session.temproot must not be empty")
	}
	if s.Session.AutoCleanupDays < 0 {
		return confError("session.autocleanupdays must not be negative, got %d", s.Session.AutoCleanupDays)
	}
	return nil
}

func validateTranscription(s *Settings) error {
	t := &s.Transcription
	b := &t.Backend

	switch b.Type {
	case BackendLocal:
		// Local backends need only a URL.
	case BackendOpenAICompat:
		if b.APIKey == "" {
			return confError("transcription.backend.apikey is required for %s backends", BackendOpenAICompat)
		}
		if b.Model == "" {
			return confError("transcription.backend.model is required for %s backends", BackendOpenAICompat)
		}
	default:
		return confError("transcription.backend.type must be %q or %q, got %q",
			BackendLocal, BackendOpenAICompat, b.Type)
	}

	if _, err := url.ParseRequestURI(b.URL); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("setting", "transcription.backend.url").
			Context("value", b.URL).
			Build()
	}
	if t.MaxAttempts <= 0 {
		return confError("transcription.maxattempts must be positive, got %d", t.MaxAttempts)
	}
	if t.MaxConcurrent <= 0 {
		return confError("transcription.maxconcurrent must be positive, got %d", t.MaxConcurrent)
	}
	if t.RequestTimeoutSec <= 0 {
		return confError("transcription.requesttimeoutsec must be positive, got %d", t.RequestTimeoutSec)
	}
	if t.ShutdownTimeoutSec <= 0 {
		return confError("transcription.shutdowntimeoutsec must be positive, got %d", t.ShutdownTimeoutSec)
	}
	return nil
}

func confError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Build()
}
