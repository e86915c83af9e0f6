// Package engine composes the capture source, recording controller,
// session store, and transcription dispatcher into the running realtime
// process, and owns the graceful-shutdown choreography.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/b08x/omega-13/internal/audio"
	"github.com/b08x/omega-13/internal/conf"
	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/events"
	"github.com/b08x/omega-13/internal/logging"
	"github.com/b08x/omega-13/internal/observability"
	"github.com/b08x/omega-13/internal/recorder"
	"github.com/b08x/omega-13/internal/session"
	"github.com/b08x/omega-13/internal/transcribe"
	"github.com/b08x/omega-13/internal/trigger"
)

// shutdownDeadline bounds the whole signal-to-exit sequence. Workers not
// finished by then are abandoned and their audio lost.
const shutdownDeadline = 60 * time.Second

// Engine is the composed realtime process.
type Engine struct {
	settings   *conf.Settings
	capture    *audio.Capture
	controller *recorder.Controller
	dispatcher *transcribe.Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger

	stopMu sync.Mutex
	stopFn context.CancelFunc
}

// New wires the engine from settings. observer may be nil for headless
// runs, in which case notifications go to the structured log.
func New(settings *conf.Settings, observer events.Observer) (*Engine, error) {
	logger := logging.ForService("engine")

	if observer == nil {
		observer = &events.LogObserver{Logger: logger}
	}

	if removed, err := session.CleanupStale(settings.Session.TempRoot,
		time.Duration(settings.Session.AutoCleanupDays)*24*time.Hour); err != nil {
		logger.Warn("stale session cleanup incomplete", "error", err)
	} else if removed > 0 {
		logger.Info("cleaned up stale sessions", "removed", removed)
	}

	capture, err := audio.NewCapture(audio.CaptureConfig{
		DeviceName:    settings.Audio.Device,
		SampleRate:    settings.Audio.SampleRate,
		Channels:      settings.Audio.Channels,
		BufferSeconds: settings.Audio.BufferSeconds,
		BatchFrames:   settings.Audio.BatchFrames,
		QueueBlocks:   settings.Audio.LiveQueueBlocks,
		RMSEveryK:     settings.Audio.RMSEveryK,
	})
	if err != nil {
		return nil, err
	}

	newSession := func() (*session.Session, error) {
		return session.New(settings.Session.TempRoot, settings.Main.Name)
	}
	sess, err := newSession()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		settings: settings,
		capture:  capture,
		logger:   logger,
	}

	var enqueuer recorder.TranscriptionEnqueuer
	if settings.Transcription.Enabled {
		client, err := transcribe.NewClient(settings.Transcription.Backend)
		if err != nil {
			return nil, err
		}
		e.dispatcher = transcribe.NewDispatcher(client, &sessionSink{engine: e}, observer,
			transcribe.DispatcherConfig{
				MaxAttempts:     settings.Transcription.MaxAttempts,
				MaxConcurrent:   settings.Transcription.MaxConcurrent,
				RequestTimeout:  time.Duration(settings.Transcription.RequestTimeoutSec) * time.Second,
				ShutdownTimeout: time.Duration(settings.Transcription.ShutdownTimeoutSec) * time.Second,
			})
		enqueuer = e.dispatcher
	}

	if settings.Telemetry.Enabled {
		e.metrics = observability.NewMetrics()
		observer = events.Multi{observer, &metricsObserver{metrics: e.metrics}}
	}

	controller, err := recorder.New(capture, sess, observer, enqueuer, newSession,
		recorder.Config{
			AutoRecord: settings.Recorder.AutoRecord,
			Detector: recorder.DetectorConfig{
				OnsetThresholdDB:  settings.Recorder.OnsetThresholdDB,
				OffsetThresholdDB: settings.Recorder.OffsetThresholdDB,
				OnsetSustain:      secondsToDuration(settings.Recorder.OnsetSustainSec),
				SilenceTimeout:    secondsToDuration(settings.Recorder.SilenceTimeoutSec),
			},
			GateThresholdDB: settings.Recorder.GateThresholdDB,
			GateLookback:    secondsToDuration(settings.Recorder.GateLookbackSec),
			DiscardFloorDB:  settings.Recorder.DiscardFloorDB,
			RetainFailed:    settings.Recorder.RetainFailed,
			MeterInterval:   time.Duration(settings.Audio.MeterIntervalMs) * time.Millisecond,
			ShutdownTimeout: shutdownDeadline / 2,
		})
	if err != nil {
		return nil, err
	}
	e.controller = controller

	return e, nil
}

// Controller exposes the inbound control surface.
func (e *Engine) Controller() *recorder.Controller {
	return e.controller
}

// RequestShutdown begins cooperative shutdown, equivalent to receiving a
// termination signal. No-op before Run.
func (e *Engine) RequestShutdown() {
	e.stopMu.Lock()
	stop := e.stopFn
	e.stopMu.Unlock()
	if stop != nil {
		stop()
	}
}

// SelectInputs changes the capture input connection. Refused while a
// recording is active; the choice is not persisted.
func (e *Engine) SelectInputs(ctx context.Context, device string) error {
	if state := e.controller.CurrentState(); state == recorder.StateRecordingManual ||
		state == recorder.StateRecordingAuto || state == recorder.StateStopping {
		return errors.Newf("cannot change inputs while recording").
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}
	return e.capture.SelectDevice(ctx, device)
}

// Health probes the transcription backend. Always false when transcription
// is disabled.
func (e *Engine) Health(ctx context.Context) bool {
	if e.dispatcher == nil {
		return false
	}
	return e.dispatcher.Health(ctx)
}

// Run starts capture and the coordinator and blocks until a termination
// signal arrives and shutdown completes or the deadline forces an exit.
func (e *Engine) Run(parent context.Context) error {
	pidPath := trigger.PIDFilePath()
	if err := trigger.WritePIDFile(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := trigger.RemovePIDFile(pidPath); err != nil {
			e.logger.Warn("could not remove pid file", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	e.stopMu.Lock()
	e.stopFn = stop
	e.stopMu.Unlock()

	if err := e.capture.Start(ctx); err != nil {
		return errors.New(err).
			Component("engine").
			Category(errors.CategoryAudio).
			Context("error_kind", "audio_server_unavailable").
			Build()
	}
	defer e.capture.Stop()

	trigger.Listen(ctx, e.controller.Toggle)

	if e.dispatcher != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if !e.dispatcher.Health(probeCtx) {
			e.logger.Warn("transcription backend unreachable at startup, operating degraded",
				"backend", e.settings.Transcription.Backend.URL)
		}
		cancel()
	}

	if e.metrics != nil {
		go e.metrics.Serve(ctx, e.settings.Telemetry.Listen)
		go e.pollMetrics(ctx)
	}

	controllerDone := make(chan error, 1)
	go func() {
		controllerDone <- e.controller.Run(ctx)
	}()

	<-ctx.Done()
	e.logger.Info("shutdown requested")
	shutdownStart := time.Now()

	// The deadline is absolute: if cooperative shutdown stalls, exit anyway.
	forceExit := time.AfterFunc(shutdownDeadline, func() {
		e.logger.Error("shutdown deadline exceeded, forcing exit")
		os.Exit(1)
	})
	defer forceExit.Stop()

	// Writer completion is prioritized over transcription completion.
	runErr := <-controllerDone

	if e.dispatcher != nil {
		remaining := shutdownDeadline - time.Since(shutdownStart)
		if remaining < time.Second {
			remaining = time.Second
		}
		e.dispatcher.Shutdown(remaining)
	}

	e.logger.Info("shutdown complete", "elapsed", time.Since(shutdownStart))
	return runErr
}

// pollMetrics mirrors hot-path atomics into Prometheus gauges.
func (e *Engine) pollMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.metrics.DroppedBatches.Set(float64(e.capture.Dropped()))
			e.metrics.LiveQueueDepth.Set(float64(e.capture.Queue().Len()))
			e.metrics.InputRMSDB.Set(e.capture.Meter().RMSDB())
			if e.dispatcher != nil {
				attempts, failures := e.dispatcher.Stats()
				e.metrics.TranscriptionAttempts.Set(float64(attempts))
				e.metrics.TranscriptionFailures.Set(float64(failures))
			}
		}
	}
}

// sessionSink routes dispatcher outcomes to whichever session currently
// owns the recording. Recordings from a session that has since been saved
// or discarded still get their transcript written next to the audio.
type sessionSink struct {
	engine *Engine
}

func (s *sessionSink) TranscriptPath(rec events.Recording) string {
	sess := s.engine.controller.Session()
	if sess != nil && sess.ID() == rec.SessionID {
		return sess.TranscriptPath(rec.Ordinal)
	}
	sessionDir := filepath.Dir(filepath.Dir(rec.Path))
	return filepath.Join(sessionDir, "transcriptions", fmt.Sprintf("%03d.md", rec.Ordinal))
}

func (s *sessionSink) MarkTranscribed(rec events.Recording, transcriptFile string) error {
	sess := s.engine.controller.Session()
	if sess == nil || sess.ID() != rec.SessionID {
		return nil
	}
	return sess.SetTranscript(rec.Ordinal, transcriptFile)
}

// metricsObserver mirrors recording lifecycle events into counters.
type metricsObserver struct {
	metrics *observability.Metrics
}

func (o *metricsObserver) OnLevel(peakDB, rmsDB float64) {}

func (o *metricsObserver) OnStateChange(state string) {
	if state == recorder.StateRecordingManual.String() || state == recorder.StateRecordingAuto.String() {
		o.metrics.RecordingsStarted.Inc()
	}
}

func (o *metricsObserver) OnRecordingComplete(rec events.Recording) {
	switch {
	case rec.Failed:
		o.metrics.RecordingsFailed.Inc()
	case rec.Discarded:
		o.metrics.RecordingsDiscarded.Inc()
	default:
		o.metrics.RecordingsCompleted.Inc()
	}
}

func (o *metricsObserver) OnTranscript(rec events.Recording, text, language string) {}
func (o *metricsObserver) OnTranscriptError(rec events.Recording, kind string)      {}
func (o *metricsObserver) OnCaptureBlocked(reason string)                           {}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
