// Package recorder owns the recording state machine: manual and auto
// triggers, the per-recording file writer, post-stop disposition, and the
// voice-activity detector. All state transitions happen on a single
// coordinator goroutine; the capture callback never mutates state, it only
// publishes metrics the coordinator polls.
package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b08x/omega-13/internal/audio"
	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/events"
	"github.com/b08x/omega-13/internal/logging"
	"github.com/b08x/omega-13/internal/session"
)

// CaptureSource is the controller's view of the capture side. Implemented
// by audio.Capture; tests substitute a synthetic source.
type CaptureSource interface {
	Format() (sampleRate, channels int)
	Meter() *audio.LevelMeter
	Ring() *audio.RingBuffer
	Queue() *audio.LiveQueue
	SetRecording(active bool)
	InputsConnected() bool
	Dropped() uint64
}

// TranscriptionEnqueuer accepts completed recordings for transcription.
type TranscriptionEnqueuer interface {
	Enqueue(rec events.Recording)
}

// Config holds the controller tunables.
type Config struct {
	AutoRecord      bool
	Detector        DetectorConfig
	GateThresholdDB float64
	GateLookback    time.Duration
	DiscardFloorDB  float64
	RetainFailed    bool
	MeterInterval   time.Duration
	ShutdownTimeout time.Duration // writer completion wait during shutdown
}

// Capture-blocked reasons reported through the observer.
const (
	BlockedNoInputs = "no-input-connected"
)

type commandKind int

const (
	cmdToggle commandKind = iota
	cmdSetAuto
	cmdSaveSession
	cmdDiscardSession
)

type command struct {
	kind  commandKind
	auto  bool
	path  string
	reply chan error
}

type rmsSample struct {
	at time.Time
	db float64
}

// Controller is the recording coordinator.
type Controller struct {
	capture  CaptureSource
	sessMu   sync.RWMutex
	sess     *session.Session
	observer events.Observer
	enqueuer TranscriptionEnqueuer
	config   Config
	detector *Detector

	newSession func() (*session.Session, error)

	commands   chan command
	writerDone chan WriterResult

	// state is written only by the coordinator goroutine; it is atomic so
	// the exported CurrentState accessor is race-free from other goroutines.
	state          atomic.Int32
	autoEnabled    bool
	snapshot       []float32
	writerStop     chan struct{}
	currentOrdinal int
	currentStart   time.Time

	rmsHistory []rmsSample
	lastMSSeq  uint64

	logger *slog.Logger
}

// New creates a controller bound to a capture source and an initial
// session. newSession is invoked to replace the session after a save or
// discard. enqueuer may be nil when transcription is disabled.
func New(capture CaptureSource, sess *session.Session, observer events.Observer,
	enqueuer TranscriptionEnqueuer, newSession func() (*session.Session, error),
	config Config) (*Controller, error) {

	detector, err := NewDetector(config.Detector)
	if err != nil {
		return nil, err
	}
	if config.MeterInterval <= 0 {
		config.MeterInterval = 50 * time.Millisecond
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 60 * time.Second
	}
	if observer == nil {
		observer = events.NoopObserver{}
	}

	ring := capture.Ring()
	c := &Controller{
		capture:    capture,
		sess:       sess,
		observer:   observer,
		enqueuer:   enqueuer,
		config:     config,
		detector:   detector,
		newSession: newSession,
		commands:   make(chan command, 64),
		writerDone: make(chan WriterResult, 1),
		snapshot:   make([]float32, ring.CapacityFrames()*ring.Channels()),
		logger:     logging.ForService("recorder"),
	}
	if config.AutoRecord {
		c.autoEnabled = true
		c.state.Store(int32(StateArmed))
	}
	return c, nil
}

// Session returns the current session. Safe to call from any goroutine;
// the session is replaced after a save or discard.
func (c *Controller) Session() *session.Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.sess
}

// CurrentState returns the controller state as of the last transition.
// Safe to call from any goroutine; the coordinator is the only writer.
func (c *Controller) CurrentState() State {
	return State(c.state.Load())
}

// Toggle advances the controller one step from the operator's perspective:
// start a recording, or stop the active one. Never blocks; when the command
// queue is saturated the toggle is dropped and logged.
func (c *Controller) Toggle() {
	c.send(command{kind: cmdToggle})
}

// SetAutoRecord enables or disables auto-record mode.
func (c *Controller) SetAutoRecord(enabled bool) {
	c.send(command{kind: cmdSetAuto, auto: enabled})
}

// SaveSession persists the current session to dest and starts a fresh one.
// Refused while a recording is active.
func (c *Controller) SaveSession(dest string) error {
	reply := make(chan error, 1)
	c.send(command{kind: cmdSaveSession, path: dest, reply: reply})
	return <-reply
}

// DiscardSession deletes the current session's temp data and starts a
// fresh session. Refused while a recording is active.
func (c *Controller) DiscardSession() error {
	reply := make(chan error, 1)
	c.send(command{kind: cmdDiscardSession, reply: reply})
	return <-reply
}

func (c *Controller) send(cmd command) {
	select {
	case c.commands <- cmd:
	default:
		c.logger.Warn("command queue full, dropping command", "kind", cmd.kind)
		if cmd.reply != nil {
			cmd.reply <- errors.Newf("controller command queue full").
				Component("recorder").
				Category(errors.CategoryLimit).
				Build()
		}
	}
}

// Run is the coordinator loop. It owns every state transition and returns
// once ctx is cancelled and the active writer, if any, has completed or the
// shutdown timeout expired.
func (c *Controller) Run(ctx context.Context) error {
	c.observer.OnStateChange(c.CurrentState().String())
	ticker := time.NewTicker(c.config.MeterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case cmd := <-c.commands:
			c.handleCommand(cmd)
		case result := <-c.writerDone:
			c.finishRecording(result)
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// tick publishes levels, maintains the gate look-back history, and feeds
// fresh RMS values to the detector.
func (c *Controller) tick(now time.Time) {
	peakDB := c.capture.Meter().PeakDB()
	ms, seq := c.capture.Meter().MeanSquare()
	rmsDB := audio.MeanSquareToDB(ms)

	c.observer.OnLevel(peakDB, rmsDB)

	c.rmsHistory = append(c.rmsHistory, rmsSample{at: now, db: rmsDB})
	cutoff := now.Add(-c.config.GateLookback)
	trim := 0
	for trim < len(c.rmsHistory) && c.rmsHistory[trim].at.Before(cutoff) {
		trim++
	}
	c.rmsHistory = c.rmsHistory[trim:]

	if seq == c.lastMSSeq {
		return
	}
	c.lastMSSeq = seq

	switch c.detector.Observe(rmsDB, now) {
	case EdgeOnset:
		if c.CurrentState() == StateArmed {
			c.startRecording(true, now)
		}
	case EdgeOffset:
		if c.CurrentState() == StateRecordingAuto {
			c.beginStop()
		}
	case EdgeNone:
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdToggle:
		c.handleToggle()
	case cmdSetAuto:
		c.handleSetAuto(cmd.auto)
	case cmdSaveSession:
		cmd.reply <- c.handleSave(cmd.path)
	case cmdDiscardSession:
		cmd.reply <- c.handleDiscard()
	}
}

func (c *Controller) handleToggle() {
	switch c.CurrentState() {
	case StateIdle, StateArmed:
		if !c.gatePasses() {
			return
		}
		c.startRecording(false, time.Now())
	case StateRecordingManual, StateRecordingAuto:
		c.beginStop()
	case StateStopping:
		c.logger.Debug("toggle ignored while stopping")
	}
}

func (c *Controller) handleSetAuto(enabled bool) {
	c.autoEnabled = enabled
	switch {
	case enabled && c.CurrentState() == StateIdle:
		c.setState(StateArmed)
	case !enabled && c.CurrentState() == StateArmed:
		c.detector.Reset()
		c.setState(StateIdle)
	}
}

// gatePasses implements the activity gate: a manual trigger requires at
// least one connected input. When inputs exist the gate falls open even on
// a silent signal; the look-back check only informs the log.
func (c *Controller) gatePasses() bool {
	if !c.capture.InputsConnected() {
		c.logger.Warn("manual trigger refused", "reason", BlockedNoInputs)
		c.observer.OnCaptureBlocked(BlockedNoInputs)
		return false
	}
	if !c.recentActivity() {
		c.logger.Debug("starting on silent but connected input",
			"gate_threshold_db", c.config.GateThresholdDB,
			"lookback", c.config.GateLookback)
	}
	return true
}

func (c *Controller) recentActivity() bool {
	for i := range c.rmsHistory {
		if c.rmsHistory[i].db > c.config.GateThresholdDB {
			return true
		}
	}
	return false
}

// startRecording snapshots the ring buffer, spawns the writer, and arms the
// callback's live-queue forwarding.
func (c *Controller) startRecording(auto bool, now time.Time) {
	ordinal := c.sess.NextOrdinal()
	path := c.sess.RecordingPath(ordinal)
	sampleRate, channels := c.capture.Format()

	queue := c.capture.Queue()
	queue.Reset()

	frames := c.capture.Ring().SnapshotInto(c.snapshot)

	c.currentOrdinal = ordinal
	c.currentStart = now.Add(-time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second)))
	c.writerStop = make(chan struct{})

	startWriter(writerJob{
		path:       path,
		snapshot:   c.snapshot[:frames*channels],
		queue:      queue,
		sampleRate: sampleRate,
		channels:   channels,
		stop:       c.writerStop,
		done:       c.writerDone,
		logger:     c.logger,
	})

	c.capture.SetRecording(true)

	if auto {
		c.setState(StateRecordingAuto)
	} else {
		c.setState(StateRecordingManual)
	}
	c.logger.Info("recording started",
		"ordinal", ordinal,
		"auto", auto,
		"preroll_frames", frames,
		"path", path)
}

// beginStop disarms the callback and signals the writer to finish draining.
func (c *Controller) beginStop() {
	c.capture.SetRecording(false)
	close(c.writerStop)
	c.setState(StateStopping)
}

// finishRecording applies post-stop disposition: failed recordings are
// appended as FAILED, recordings below the energy floor are discarded, and
// surviving recordings join the session and, when enabled, the
// transcription queue.
func (c *Controller) finishRecording(result WriterResult) {
	sampleRate, channels := c.capture.Format()

	rec := events.Recording{
		SessionID:  c.sess.ID(),
		Ordinal:    c.currentOrdinal,
		Path:       result.Path,
		Duration:   result.Duration,
		Channels:   channels,
		SampleRate: sampleRate,
		PeakDB:     result.PeakDB,
		AverageDB:  result.AverageRMSDB,
	}

	switch {
	case result.Err != nil:
		rec.Failed = true
		if !c.config.RetainFailed {
			if err := os.Remove(result.Path); err != nil && !os.IsNotExist(err) {
				c.logger.Warn("could not remove failed recording", "path", result.Path, "error", err)
			}
		}
		if err := c.sess.Append(c.sessionRecord(rec, session.StatusFailed)); err != nil {
			c.logger.Error("could not persist failed recording", "error", err)
		}

	case result.AverageRMSDB < c.config.DiscardFloorDB:
		rec.Discarded = true
		if err := c.sess.DiscardRecording(rec.Ordinal); err != nil {
			c.logger.Warn("could not remove discarded recording", "path", result.Path, "error", err)
		}
		c.logger.Info("recording below energy floor, discarded",
			"ordinal", rec.Ordinal,
			"average_rms_db", result.AverageRMSDB,
			"floor_db", c.config.DiscardFloorDB)

	default:
		if err := c.sess.Append(c.sessionRecord(rec, session.StatusOK)); err != nil {
			c.logger.Error("could not persist recording", "error", err)
		}
		if c.enqueuer != nil {
			c.enqueuer.Enqueue(rec)
		}
	}

	c.observer.OnRecordingComplete(rec)

	if dropped := c.capture.Dropped(); dropped > 0 {
		c.logger.Warn("capture underruns during recording", "dropped_batches", dropped)
	}

	c.detector.Reset()
	if c.autoEnabled {
		c.setState(StateArmed)
	} else {
		c.setState(StateIdle)
	}
}

func (c *Controller) sessionRecord(rec events.Recording, status string) session.Recording {
	return session.Recording{
		Ordinal:      rec.Ordinal,
		Filename:     filepath.Base(rec.Path),
		StartedAt:    c.currentStart,
		Duration:     rec.Duration,
		Channels:     rec.Channels,
		SampleRate:   rec.SampleRate,
		PeakDB:       rec.PeakDB,
		AverageRMSDB: rec.AverageDB,
		Status:       status,
	}
}

func (c *Controller) handleSave(dest string) error {
	if state := c.CurrentState(); state.recordingActive() || state == StateStopping {
		return errors.Newf("cannot save session while recording").
			Component("recorder").
			Category(errors.CategoryState).
			Build()
	}
	if err := c.sess.Save(dest); err != nil {
		return err
	}
	return c.replaceSession()
}

func (c *Controller) handleDiscard() error {
	if state := c.CurrentState(); state.recordingActive() || state == StateStopping {
		return errors.Newf("cannot discard session while recording").
			Component("recorder").
			Category(errors.CategoryState).
			Build()
	}
	if err := c.sess.Discard(); err != nil {
		return err
	}
	return c.replaceSession()
}

func (c *Controller) replaceSession() error {
	if c.newSession == nil {
		return nil
	}
	next, err := c.newSession()
	if err != nil {
		return err
	}
	c.sessMu.Lock()
	c.sess = next
	c.sessMu.Unlock()
	return nil
}

// shutdown finishes the active recording before returning. The writer's
// completion is prioritized; if it misses the deadline its audio is lost
// and logged as such.
func (c *Controller) shutdown() error {
	if c.CurrentState().recordingActive() {
		c.beginStop()
	}

	if c.CurrentState() == StateStopping {
		select {
		case result := <-c.writerDone:
			c.finishRecording(result)
		case <-time.After(c.config.ShutdownTimeout):
			c.logger.Error("writer missed shutdown deadline, recording lost",
				"ordinal", c.currentOrdinal,
				"timeout", c.config.ShutdownTimeout)
		}
	}

	c.setState(StateIdle)
	if err := c.sess.Persist(); err != nil {
		c.logger.Error("could not persist session during shutdown", "error", err)
		return err
	}
	return nil
}

func (c *Controller) setState(s State) {
	if State(c.state.Load()) == s {
		return
	}
	c.state.Store(int32(s))
	c.observer.OnStateChange(s.String())
}
