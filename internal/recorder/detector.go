package recorder

import (
	"time"

	"github.com/b08x/omega-13/internal/errors"
)

// Edge is a voice-activity transition reported by the Detector.
type Edge int

const (
	// EdgeNone means no transition on this observation.
	EdgeNone Edge = iota
	// EdgeOnset means sustained signal above the onset threshold.
	EdgeOnset
	// EdgeOffset means continuous silence past the timeout.
	EdgeOffset
)

// DetectorConfig holds the voice-activity thresholds. Onset and offset
// thresholds are independent to permit hysteresis; onset must be strictly
// above offset.
type DetectorConfig struct {
	OnsetThresholdDB  float64
	OffsetThresholdDB float64
	OnsetSustain      time.Duration
	SilenceTimeout    time.Duration
}

// Detector decides voice-activity onset and offset from the downsampled RMS
// stream published by the capture callback. It keeps no state beyond the
// sustain and silence timers.
type Detector struct {
	config DetectorConfig

	active     bool // true between onset and offset
	aboveSince time.Time
	hasAbove   bool
	belowSince time.Time
	hasBelow   bool
}

// NewDetector validates the thresholds and returns a detector.
func NewDetector(config DetectorConfig) (*Detector, error) {
	if config.OnsetThresholdDB <= config.OffsetThresholdDB {
		return nil, errors.Newf("onset threshold %.1f dB must be above offset threshold %.1f dB",
			config.OnsetThresholdDB, config.OffsetThresholdDB).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}
	if config.OnsetSustain < 0 || config.SilenceTimeout < 0 {
		return nil, errors.Newf("sustain and silence timeout must not be negative").
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}
	return &Detector{config: config}, nil
}

// Observe feeds one RMS sample and returns the edge it produces, if any.
// Below-sustain transients reset the onset timer; momentary signal during
// silence resets the silence timer.
func (d *Detector) Observe(rmsDB float64, now time.Time) Edge {
	if !d.active {
		if rmsDB <= d.config.OnsetThresholdDB {
			d.hasAbove = false
			return EdgeNone
		}
		if !d.hasAbove {
			d.aboveSince = now
			d.hasAbove = true
		}
		if now.Sub(d.aboveSince) >= d.config.OnsetSustain {
			d.active = true
			d.hasAbove = false
			d.hasBelow = false
			return EdgeOnset
		}
		return EdgeNone
	}

	if rmsDB >= d.config.OffsetThresholdDB {
		d.hasBelow = false
		return EdgeNone
	}
	if !d.hasBelow {
		d.belowSince = now
		d.hasBelow = true
	}
	if now.Sub(d.belowSince) >= d.config.SilenceTimeout {
		d.active = false
		d.hasBelow = false
		return EdgeOffset
	}
	return EdgeNone
}

// Active reports whether the detector currently considers voice present.
func (d *Detector) Active() bool {
	return d.active
}

// Reset returns the detector to the inactive state with cleared timers.
// Called when a recording finishes so re-arming requires a fresh sustain.
func (d *Detector) Reset() {
	d.active = false
	d.hasAbove = false
	d.hasBelow = false
}
