package recorder

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/b08x/omega-13/internal/audio"
	"github.com/b08x/omega-13/internal/events"
	"github.com/b08x/omega-13/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCapture is a synthetic CaptureSource for controller tests; tests
// write the ring and meter directly instead of a sound device.
type fakeCapture struct {
	ring      *audio.RingBuffer
	queue     *audio.LiveQueue
	meter     *audio.LevelMeter
	rate      int
	channels  int
	connected atomic.Bool
	recording atomic.Bool
}

func newFakeCapture(t *testing.T, rate, channels, bufferSeconds int) *fakeCapture {
	t.Helper()
	ring, err := audio.NewRingBuffer(rate, channels, bufferSeconds)
	require.NoError(t, err)
	queue, err := audio.NewLiveQueue(64, 64*channels)
	require.NoError(t, err)
	f := &fakeCapture{
		ring:     ring,
		queue:    queue,
		meter:    &audio.LevelMeter{},
		rate:     rate,
		channels: channels,
	}
	f.connected.Store(true)
	return f
}

func (f *fakeCapture) Format() (int, int)          { return f.rate, f.channels }
func (f *fakeCapture) Meter() *audio.LevelMeter    { return f.meter }
func (f *fakeCapture) Ring() *audio.RingBuffer     { return f.ring }
func (f *fakeCapture) Queue() *audio.LiveQueue     { return f.queue }
func (f *fakeCapture) SetRecording(active bool)    { f.recording.Store(active) }
func (f *fakeCapture) InputsConnected() bool       { return f.connected.Load() }
func (f *fakeCapture) Dropped() uint64             { return f.queue.Dropped() }

// fillRing writes value into the ring for the given number of frames.
func (f *fakeCapture) fillRing(frames int, value float32) {
	batch := make([]float32, 100*f.channels)
	for i := range batch {
		batch[i] = value
	}
	for written := 0; written < frames; written += 100 {
		n := min(100, frames-written)
		f.ring.Write(batch[:n*f.channels])
	}
}

// testObserver records notifications for assertions.
type testObserver struct {
	mu        sync.Mutex
	states    []string
	blocked   []string
	completed []events.Recording
}

func (o *testObserver) OnLevel(peakDB, rmsDB float64) {}
func (o *testObserver) OnStateChange(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}
func (o *testObserver) OnRecordingComplete(rec events.Recording) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, rec)
}
func (o *testObserver) OnTranscript(rec events.Recording, text, lang string) {}
func (o *testObserver) OnTranscriptError(rec events.Recording, kind string)  {}
func (o *testObserver) OnCaptureBlocked(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocked = append(o.blocked, reason)
}

func (o *testObserver) lastState() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return ""
	}
	return o.states[len(o.states)-1]
}

func (o *testObserver) allStates() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.states))
	copy(out, o.states)
	return out
}

func (o *testObserver) completedRecordings() []events.Recording {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]events.Recording, len(o.completed))
	copy(out, o.completed)
	return out
}

func (o *testObserver) blockedReasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.blocked))
	copy(out, o.blocked)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type controllerFixture struct {
	capture    *fakeCapture
	controller *Controller
	observer   *testObserver
	sess       *session.Session
	cancel     context.CancelFunc
	done       chan error
	stopOnce   sync.Once
	runErr     error
}

// stop cancels the coordinator and waits for Run to return, once.
func (fix *controllerFixture) stop(t *testing.T) error {
	t.Helper()
	fix.stopOnce.Do(func() {
		fix.cancel()
		select {
		case fix.runErr = <-fix.done:
		case <-time.After(10 * time.Second):
			t.Error("controller did not shut down")
		}
	})
	return fix.runErr
}

func newControllerFixture(t *testing.T, mutate func(*Config)) *controllerFixture {
	t.Helper()

	capture := newFakeCapture(t, 1000, 1, 1)
	tempRoot := t.TempDir()
	sess, err := session.New(tempRoot, "test")
	require.NoError(t, err)

	observer := &testObserver{}
	config := Config{
		Detector: DetectorConfig{
			OnsetThresholdDB:  -35,
			OffsetThresholdDB: -40,
			OnsetSustain:      0,
			SilenceTimeout:    0,
		},
		GateThresholdDB: -70,
		GateLookback:    500 * time.Millisecond,
		DiscardFloorDB:  -50,
		RetainFailed:    true,
		MeterInterval:   5 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&config)
	}

	newSession := func() (*session.Session, error) {
		return session.New(tempRoot, "test")
	}
	controller, err := New(capture, sess, observer, nil, newSession, config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- controller.Run(ctx) }()

	fix := &controllerFixture{
		capture:    capture,
		controller: controller,
		observer:   observer,
		sess:       sess,
		cancel:     cancel,
		done:       done,
	}
	t.Cleanup(func() { fix.stop(t) })
	return fix
}

func TestControllerManualRecordingLifecycle(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.fillRing(500, 0.5)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateRecordingManual.String()
	}, "recording-manual state")
	assert.True(t, fix.capture.recording.Load(), "callback forwarding must be armed")

	// Two live batches as the callback would push them.
	batch := make([]float32, 64)
	for i := range batch {
		batch[i] = 0.5
	}
	require.True(t, fix.capture.queue.Push(batch, 1))
	require.True(t, fix.capture.queue.Push(batch, 2))

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateIdle.String()
	}, "return to idle")
	assert.False(t, fix.capture.recording.Load())

	completed := fix.observer.completedRecordings()
	require.Len(t, completed, 1)
	rec := completed[0]
	assert.Equal(t, 1, rec.Ordinal)
	assert.False(t, rec.Failed)
	assert.False(t, rec.Discarded)
	assert.InDelta(t, float64(500+128)/1000.0, rec.Duration, 1e-6,
		"pre-roll plus live batches")
	assert.FileExists(t, rec.Path)

	recs := fix.controller.Session().Recordings()
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Ordinal)
	assert.Equal(t, session.StatusOK, recs[0].Status)
}

func TestControllerPartialPrerollBeforeFill(t *testing.T) {
	fix := newControllerFixture(t, nil)
	// Only 300 of 1000 frames written: pre-roll equals the cursor.
	fix.capture.fillRing(300, 0.25)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateRecordingManual.String()
	}, "recording-manual state")
	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateIdle.String()
	}, "return to idle")

	completed := fix.observer.completedRecordings()
	require.Len(t, completed, 1)
	assert.InDelta(t, 0.3, completed[0].Duration, 1e-6)
}

func TestControllerGateRefusesWithoutInputs(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.connected.Store(false)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return len(fix.observer.blockedReasons()) > 0
	}, "capture blocked notification")

	assert.Equal(t, []string{BlockedNoInputs}, fix.observer.blockedReasons())
	assert.Empty(t, fix.observer.completedRecordings())
	assert.NotContains(t, fix.observer.allStates(), StateRecordingManual.String())
}

func TestControllerDiscardsBelowEnergyFloor(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.fillRing(500, 0) // silence: average RMS at -100 dB, below the -50 dB floor

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateRecordingManual.String()
	}, "recording-manual state")
	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateIdle.String()
	}, "return to idle")

	completed := fix.observer.completedRecordings()
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Discarded)
	assert.NoFileExists(t, completed[0].Path)
	assert.Empty(t, fix.controller.Session().Recordings(),
		"discarded recordings are omitted from the session")
}

func TestControllerOrdinalsSkipDiscarded(t *testing.T) {
	fix := newControllerFixture(t, nil)

	record := func(loud bool) {
		if loud {
			fix.capture.fillRing(500, 0.5)
		} else {
			fix.capture.fillRing(1000, 0)
		}
		fix.controller.Toggle()
		waitFor(t, time.Second, func() bool {
			return fix.observer.lastState() == StateRecordingManual.String()
		}, "recording started")
		fix.controller.Toggle()
		waitFor(t, time.Second, func() bool {
			return fix.observer.lastState() == StateIdle.String()
		}, "recording finished")
	}

	record(true)  // ordinal 1, retained
	record(false) // ordinal 2, discarded
	record(true)  // ordinal 3, retained

	recs := fix.controller.Session().Recordings()
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Ordinal)
	assert.Equal(t, 3, recs[1].Ordinal, "ordinals are never reused")
}

func TestControllerAutoRecordLifecycle(t *testing.T) {
	fix := newControllerFixture(t, func(c *Config) {
		c.AutoRecord = true
	})
	fix.capture.fillRing(500, 0.5)

	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateArmed.String()
	}, "armed state")

	// Publish loud mean-square values until onset starts a recording.
	loud := audio.DBToLinear(-25)
	loudMS := loud * loud
	waitFor(t, 2*time.Second, func() bool {
		fix.capture.meter.PublishMeanSquare(loudMS)
		return fix.observer.lastState() == StateRecordingAuto.String()
	}, "auto recording to start")

	// Silence drives the offset; auto mode re-arms afterwards.
	waitFor(t, 2*time.Second, func() bool {
		fix.capture.meter.PublishMeanSquare(0)
		return fix.observer.lastState() == StateArmed.String()
	}, "auto recording to stop and re-arm")

	completed := fix.observer.completedRecordings()
	require.Len(t, completed, 1)
	assert.False(t, completed[0].Discarded)
}

func TestControllerToggleStopsAutoRecording(t *testing.T) {
	fix := newControllerFixture(t, func(c *Config) {
		c.AutoRecord = true
	})
	fix.capture.fillRing(500, 0.5)

	loud := audio.DBToLinear(-25)
	waitFor(t, 2*time.Second, func() bool {
		fix.capture.meter.PublishMeanSquare(loud * loud)
		return fix.observer.lastState() == StateRecordingAuto.String()
	}, "auto recording to start")

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateArmed.String()
	}, "toggle stops the auto recording")
}

func TestControllerSetAutoRecord(t *testing.T) {
	fix := newControllerFixture(t, nil)

	fix.controller.SetAutoRecord(true)
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateArmed.String()
	}, "armed after enable")

	fix.controller.SetAutoRecord(false)
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateIdle.String()
	}, "idle after disable")
}

func TestControllerShutdownFinishesActiveRecording(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.fillRing(500, 0.5)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateRecordingManual.String()
	}, "recording started")

	require.NoError(t, fix.stop(t))

	completed := fix.observer.completedRecordings()
	require.Len(t, completed, 1, "active recording must complete before exit")
	assert.FileExists(t, completed[0].Path)

	// session.json persisted with saved=false and the recording present.
	data, err := os.ReadFile(filepath.Join(fix.controller.Session().Dir(), "session.json"))
	require.NoError(t, err)
	var doc struct {
		Saved      bool `json:"saved"`
		Recordings []struct {
			Ordinal int `json:"ordinal"`
		} `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.False(t, doc.Saved)
	require.Len(t, doc.Recordings, 1)
}

func TestControllerSaveRefusedWhileRecording(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.fillRing(500, 0.5)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateRecordingManual.String()
	}, "recording started")

	err := fix.controller.SaveSession(t.TempDir())
	assert.Error(t, err)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateIdle.String()
	}, "recording finished")
}

func TestControllerSaveStartsFreshSession(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.fillRing(500, 0.5)

	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateRecordingManual.String()
	}, "recording started")
	fix.controller.Toggle()
	waitFor(t, time.Second, func() bool {
		return fix.observer.lastState() == StateIdle.String()
	}, "recording finished")

	originalID := fix.controller.Session().ID()
	dest := filepath.Join(t.TempDir(), "saved")
	require.NoError(t, fix.controller.SaveSession(dest))

	assert.FileExists(t, filepath.Join(dest, "session.json"))
	assert.NotEqual(t, originalID, fix.controller.Session().ID(),
		"a fresh session begins after save")
}

// TestControllerStateClosure fuzzes the controller with a deterministic
// random event stream and checks that every observed state is one of the
// five declared states.
func TestControllerStateClosure(t *testing.T) {
	fix := newControllerFixture(t, nil)
	fix.capture.fillRing(500, 0.5)

	valid := map[string]bool{
		StateIdle.String():            true,
		StateArmed.String():           true,
		StateRecordingManual.String(): true,
		StateRecordingAuto.String():   true,
		StateStopping.String():        true,
	}

	rng := rand.New(rand.NewSource(13))
	loud := audio.DBToLinear(-20)
	for i := 0; i < 200; i++ {
		switch rng.Intn(5) {
		case 0:
			fix.controller.Toggle()
		case 1:
			fix.controller.SetAutoRecord(true)
		case 2:
			fix.controller.SetAutoRecord(false)
		case 3:
			fix.capture.meter.PublishMeanSquare(loud * loud)
		case 4:
			fix.capture.meter.PublishMeanSquare(0)
		}
		time.Sleep(time.Millisecond)
	}

	// Let in-flight transitions settle, then stop any active recording.
	fix.controller.SetAutoRecord(false)
	waitFor(t, 5*time.Second, func() bool {
		fix.capture.meter.PublishMeanSquare(0)
		s := fix.observer.lastState()
		return s == StateIdle.String() || s == StateRecordingManual.String()
	}, "settle")
	if fix.observer.lastState() == StateRecordingManual.String() {
		fix.controller.Toggle()
		waitFor(t, 5*time.Second, func() bool {
			return fix.observer.lastState() == StateIdle.String()
		}, "final idle")
	}

	for _, s := range fix.observer.allStates() {
		assert.True(t, valid[s], "undeclared state %q observed", s)
	}
}
