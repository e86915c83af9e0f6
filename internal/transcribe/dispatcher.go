package transcribe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b08x/omega-13/internal/events"
	"github.com/b08x/omega-13/internal/logging"
)

// SessionSink resolves transcript targets and records transcription
// outcomes in session metadata.
type SessionSink interface {
	// TranscriptPath returns the path the transcript for a recording
	// should be written to.
	TranscriptPath(rec events.Recording) string

	// MarkTranscribed annotates the recording with its transcript file.
	MarkTranscribed(rec events.Recording, transcriptFile string) error
}

// DispatcherConfig holds the retry and concurrency tunables.
type DispatcherConfig struct {
	MaxAttempts     int
	MaxConcurrent   int
	RequestTimeout  time.Duration // per attempt in steady state
	ShutdownTimeout time.Duration // per attempt once shutdown begins
}

// Dispatcher is the bounded transcription worker pool. Each enqueued
// recording gets its own worker goroutine; a semaphore bounds how many run
// concurrently. Workers observe the shutdown signal at every iteration and
// every I/O boundary.
type Dispatcher struct {
	client   *Client
	sink     SessionSink
	observer events.Observer
	config   DispatcherConfig

	sem      chan struct{}
	wg       sync.WaitGroup
	shutdown chan struct{}
	stopping atomic.Bool

	// prevTail remembers the last published transcript for overlap dedup.
	prevMu   sync.Mutex
	prevTail string

	attempts atomic.Uint64
	failures atomic.Uint64

	logger *slog.Logger
}

// NewDispatcher creates the worker pool. observer may be nil.
func NewDispatcher(client *Client, sink SessionSink, observer events.Observer, config DispatcherConfig) *Dispatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 600 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 3 * time.Second
	}
	if observer == nil {
		observer = events.NoopObserver{}
	}
	return &Dispatcher{
		client:   client,
		sink:     sink,
		observer: observer,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrent),
		shutdown: make(chan struct{}),
		logger:   logging.ForService("transcribe"),
	}
}

// Enqueue accepts a completed recording for transcription. One worker per
// job; admission blocks on the concurrency bound but yields to shutdown.
func (d *Dispatcher) Enqueue(rec events.Recording) {
	if d.stopping.Load() {
		d.observer.OnTranscriptError(rec, events.TranscriptErrorShutdown)
		return
	}
	d.wg.Add(1)
	go d.worker(rec)
}

// Health probes the backend root.
func (d *Dispatcher) Health(ctx context.Context) bool {
	return d.client.Health(ctx)
}

// Stats returns total attempts and terminal failures so far.
func (d *Dispatcher) Stats() (attempts, failures uint64) {
	return d.attempts.Load(), d.failures.Load()
}

// Shutdown signals all workers to fail fast and waits for them up to
// deadline. Workers still running after the deadline are abandoned.
func (d *Dispatcher) Shutdown(deadline time.Duration) {
	if d.stopping.Swap(true) {
		return
	}
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("transcription dispatcher drained")
	case <-time.After(deadline):
		d.logger.Warn("transcription workers abandoned at shutdown deadline", "deadline", deadline)
	}
}

func (d *Dispatcher) worker(rec events.Recording) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.shutdown:
		d.failures.Add(1)
		d.observer.OnTranscriptError(rec, events.TranscriptErrorShutdown)
		return
	}

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if d.stopping.Load() && attempt > 1 {
			// Shutdown abandons in-flight retries after the current attempt.
			d.failures.Add(1)
			d.observer.OnTranscriptError(rec, events.TranscriptErrorShutdown)
			return
		}

		timeout := d.config.RequestTimeout
		if d.stopping.Load() {
			timeout = d.config.ShutdownTimeout
		}

		d.attempts.Add(1)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		go func() {
			// An attempt already in flight when shutdown begins is cut to
			// the shutdown timeout.
			select {
			case <-d.shutdown:
			case <-ctx.Done():
				return
			}
			select {
			case <-time.After(d.config.ShutdownTimeout):
				cancel()
			case <-ctx.Done():
			}
		}()
		resp, err := d.client.Transcribe(ctx, rec.Path)
		cancel()

		if err == nil {
			d.finish(rec, resp)
			return
		}

		d.logger.Warn("transcription attempt failed",
			"ordinal", rec.Ordinal,
			"attempt", attempt,
			"max_attempts", d.config.MaxAttempts,
			"error", err)

		if attempt == d.config.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-d.shutdown:
			d.failures.Add(1)
			d.observer.OnTranscriptError(rec, events.TranscriptErrorShutdown)
			return
		}
	}

	d.failures.Add(1)
	d.observer.OnTranscriptError(rec, events.TranscriptErrorExhausted)
}

// finish writes the transcript next to the audio, annotates the session,
// and publishes the overlap-deduplicated text.
func (d *Dispatcher) finish(rec events.Recording, resp *Response) {
	path := d.sink.TranscriptPath(rec)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.logger.Error("could not create transcript directory", "path", path, "error", err)
	}
	if err := os.WriteFile(path, []byte(resp.Text), 0o644); err != nil {
		d.logger.Error("could not write transcript", "path", path, "error", err)
		d.failures.Add(1)
		d.observer.OnTranscriptError(rec, events.TranscriptErrorExhausted)
		return
	}
	if err := d.sink.MarkTranscribed(rec, filepath.Base(path)); err != nil {
		d.logger.Warn("could not annotate session with transcript", "ordinal", rec.Ordinal, "error", err)
	}

	d.prevMu.Lock()
	published := MergeOverlap(d.prevTail, resp.Text)
	d.prevTail = resp.Text
	d.prevMu.Unlock()

	d.logger.Info("transcript ready",
		"ordinal", rec.Ordinal,
		"language", resp.Language,
		"chars", len(resp.Text),
		"published_chars", len(published))
	d.observer.OnTranscript(rec, published, resp.Language)
}
