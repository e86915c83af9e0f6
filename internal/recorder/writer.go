package recorder

import (
	"log/slog"
	"time"

	"github.com/b08x/omega-13/internal/audio"
)

// drainPollInterval is how long the writer sleeps when the live queue is
// momentarily empty. Short enough to keep queue residency low, long enough
// not to spin.
const drainPollInterval = time.Millisecond

// WriterResult reports a finished recording back to the controller.
type WriterResult struct {
	Path         string
	Frames       int64
	Duration     float64 // seconds
	PeakDB       float64
	AverageRMSDB float64
	Err          error
}

// writerJob is the per-recording file writer. It writes the pre-roll
// snapshot first, then drains the live queue in capture order until the
// stop signal is set and the queue is empty.
//
// The writer owns the file handle and the queue's consumer side for the
// duration of the recording. It never touches the ring buffer; the
// snapshot it receives is already a private copy.
type writerJob struct {
	path       string
	snapshot   []float32 // interleaved, valid pre-roll samples
	queue      *audio.LiveQueue
	sampleRate int
	channels   int
	stop       <-chan struct{}
	done       chan<- WriterResult
	logger     *slog.Logger
}

// startWriter spawns the writer goroutine. Completion, success or failure,
// is always posted to done exactly once.
func startWriter(job writerJob) {
	go job.run()
}

func (j *writerJob) run() {
	result := WriterResult{Path: j.path}

	var peak, sumSquares float64
	var samples int64

	accumulate := func(batch []float32) {
		for _, s := range batch {
			v := float64(s)
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
			sumSquares += float64(s) * float64(s)
		}
		samples += int64(len(batch))
	}

	wf, err := createWavFile(j.path, j.sampleRate, j.channels)
	if err != nil {
		result.Err = err
		j.done <- result
		return
	}

	writeErr := func() error {
		if err := wf.writeSamples(j.snapshot); err != nil {
			return err
		}
		accumulate(j.snapshot)

		buf := make([]float32, j.queue.BatchSamples())
		stopped := false
		for {
			n, _, ok := j.queue.PopInto(buf)
			if ok {
				if err := wf.writeSamples(buf[:n]); err != nil {
					return err
				}
				accumulate(buf[:n])
				continue
			}
			if stopped {
				return nil
			}
			select {
			case <-j.stop:
				// Keep draining; exit once the queue reads empty again.
				stopped = true
			case <-time.After(drainPollInterval):
			}
		}
	}()

	closeErr := wf.close(writeErr == nil)
	if writeErr != nil {
		result.Err = writeErr
	} else if closeErr != nil {
		result.Err = closeErr
	}

	result.Frames = samples / int64(j.channels)
	result.Duration = float64(result.Frames) / float64(j.sampleRate)
	result.PeakDB = audio.LinearToDB(peak)
	if samples > 0 {
		result.AverageRMSDB = audio.MeanSquareToDB(sumSquares / float64(samples))
	} else {
		result.AverageRMSDB = audio.SilenceFloorDB
	}

	if result.Err != nil {
		j.logger.Error("recording writer failed", "path", j.path, "error", result.Err)
	} else {
		j.logger.Info("recording written",
			"path", j.path,
			"frames", result.Frames,
			"duration_sec", result.Duration,
			"average_rms_db", result.AverageRMSDB)
	}

	j.done <- result
}
