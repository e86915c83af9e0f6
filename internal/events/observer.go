// Package events defines the outbound observer surface the engine calls
// into. UI, clipboard, and notification integrations live behind this
// interface, outside the core.
package events

import "log/slog"

// Recording is the observer-facing view of a completed or failed recording.
type Recording struct {
	SessionID  string
	Ordinal    int
	Path       string
	Duration   float64 // seconds
	Channels   int
	SampleRate int
	PeakDB     float64
	AverageDB  float64
	Failed     bool
	Discarded  bool
}

// Observer receives engine notifications. Implementations must return
// quickly; the coordinator calls them inline.
type Observer interface {
	// OnLevel is published at roughly the configured meter rate (~20 Hz).
	OnLevel(peakDB, rmsDB float64)

	// OnStateChange fires on every recorder state transition.
	OnStateChange(state string)

	// OnRecordingComplete fires when a recording is finalized, whether
	// retained, discarded, or failed.
	OnRecordingComplete(rec Recording)

	// OnTranscript fires when a transcription job succeeds.
	OnTranscript(rec Recording, text, language string)

	// OnTranscriptError fires when a transcription job reaches a terminal
	// failure. kind distinguishes exhausted retries from shutdown preemption.
	OnTranscriptError(rec Recording, kind string)

	// OnCaptureBlocked fires when a manual trigger is refused by the
	// activity gate.
	OnCaptureBlocked(reason string)
}

// Transcript error kinds.
const (
	TranscriptErrorExhausted = "attempts-exhausted"
	TranscriptErrorShutdown  = "shutdown"
)

// NoopObserver ignores all notifications.
type NoopObserver struct{}

func (NoopObserver) OnLevel(peakDB, rmsDB float64)                  {}
func (NoopObserver) OnStateChange(state string)                     {}
func (NoopObserver) OnRecordingComplete(rec Recording)              {}
func (NoopObserver) OnTranscript(rec Recording, text, lang string)  {}
func (NoopObserver) OnTranscriptError(rec Recording, kind string)   {}
func (NoopObserver) OnCaptureBlocked(reason string)                 {}

// LogObserver writes notifications to a structured logger, used for
// headless runs. Level updates are skipped to keep logs readable.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) OnLevel(peakDB, rmsDB float64) {}

func (o *LogObserver) OnStateChange(state string) {
	o.Logger.Info("recorder state changed", "state", state)
}

func (o *LogObserver) OnRecordingComplete(rec Recording) {
	o.Logger.Info("recording complete",
		"ordinal", rec.Ordinal,
		"path", rec.Path,
		"duration_sec", rec.Duration,
		"average_db", rec.AverageDB,
		"failed", rec.Failed)
}

func (o *LogObserver) OnTranscript(rec Recording, text, language string) {
	o.Logger.Info("transcript ready",
		"ordinal", rec.Ordinal,
		"language", language,
		"chars", len(text))
}

func (o *LogObserver) OnTranscriptError(rec Recording, kind string) {
	o.Logger.Warn("transcription failed", "ordinal", rec.Ordinal, "kind", kind)
}

func (o *LogObserver) OnCaptureBlocked(reason string) {
	o.Logger.Warn("capture blocked", "reason", reason)
}

// Multi fans notifications out to several observers in order.
type Multi []Observer

func (m Multi) OnLevel(peakDB, rmsDB float64) {
	for _, o := range m {
		o.OnLevel(peakDB, rmsDB)
	}
}

func (m Multi) OnStateChange(state string) {
	for _, o := range m {
		o.OnStateChange(state)
	}
}

func (m Multi) OnRecordingComplete(rec Recording) {
	for _, o := range m {
		o.OnRecordingComplete(rec)
	}
}

func (m Multi) OnTranscript(rec Recording, text, language string) {
	for _, o := range m {
		o.OnTranscript(rec, text, language)
	}
}

func (m Multi) OnTranscriptError(rec Recording, kind string) {
	for _, o := range m {
		o.OnTranscriptError(rec, kind)
	}
}

func (m Multi) OnCaptureBlocked(reason string) {
	for _, o := range m {
		o.OnCaptureBlocked(reason)
	}
}
