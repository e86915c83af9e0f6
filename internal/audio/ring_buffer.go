package audio

import (
	"sync/atomic"

	"github.com/b08x/omega-13/internal/errors"
)

// RingBuffer is a fixed-capacity circular store of the most recent frames of
// interleaved float32 PCM. It has exactly one producer (the capture callback)
// and one consumer (the controller, via SnapshotInto at recording start).
//
// Write is wait-free and allocation-free. SnapshotInto copies the logical
// contents oldest-first without stopping the producer; one or two batches
// straddling the cursor may be torn, which is below perceptual thresholds
// for pre-roll audio.
type RingBuffer struct {
	data           []float32 // capacityFrames * channels samples
	capacityFrames int
	channels       int
	sampleRate     int

	// writeFrame holds the producer cursor in frames, always < capacityFrames.
	// filledOnce latches true after the first wrap and is never reset.
	writeFrame atomic.Int64
	filledOnce atomic.Bool
}

// NewRingBuffer allocates a ring buffer holding bufferSeconds of audio.
// All storage is allocated here; nothing on the write path allocates.
func NewRingBuffer(sampleRate, channels, bufferSeconds int) (*RingBuffer, error) {
	if sampleRate <= 0 || channels <= 0 || bufferSeconds <= 0 {
		return nil, errors.Newf("invalid ring buffer dimensions: rate=%d channels=%d seconds=%d",
			sampleRate, channels, bufferSeconds).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	capacityFrames := sampleRate * bufferSeconds
	return &RingBuffer{
		data:           make([]float32, capacityFrames*channels),
		capacityFrames: capacityFrames,
		channels:       channels,
		sampleRate:     sampleRate,
	}, nil
}

// CapacityFrames returns the fixed frame capacity.
func (rb *RingBuffer) CapacityFrames() int {
	return rb.capacityFrames
}

// Channels returns the interleaved channel count.
func (rb *RingBuffer) Channels() int {
	return rb.channels
}

// SampleRate returns the sample rate the buffer was sized for.
func (rb *RingBuffer) SampleRate() int {
	return rb.sampleRate
}

// FilledOnce reports whether the buffer has wrapped at least once.
func (rb *RingBuffer) FilledOnce() bool {
	return rb.filledOnce.Load()
}

// Write copies a batch of interleaved samples into the store at the write
// cursor, wrapping at capacity. len(samples) must be a multiple of the
// channel count and at most the buffer capacity; larger batches are a
// configuration error rejected at engine init, not here.
//
// Called only from the capture callback. Wait-free, allocation-free.
func (rb *RingBuffer) Write(samples []float32) {
	frames := len(samples) / rb.channels
	if frames == 0 {
		return
	}

	cursor := int(rb.writeFrame.Load())
	pos := cursor * rb.channels

	first := min(len(samples), (rb.capacityFrames-cursor)*rb.channels)
	copy(rb.data[pos:pos+first], samples[:first])
	if first < len(samples) {
		copy(rb.data, samples[first:])
	}

	next := cursor + frames
	if next >= rb.capacityFrames {
		next -= rb.capacityFrames
		rb.filledOnce.Store(true)
	}
	rb.writeFrame.Store(int64(next))
}

// SnapshotInto copies the logical buffer contents, unwrapped so the oldest
// frame is first, into dst. dst must hold CapacityFrames()*Channels()
// samples. Returns the number of valid frames: the full capacity once the
// buffer has wrapped, otherwise the current cursor position.
//
// Called from the controller at recording start while Write continues.
func (rb *RingBuffer) SnapshotInto(dst []float32) int {
	cursor := int(rb.writeFrame.Load())
	pos := cursor * rb.channels

	if !rb.filledOnce.Load() {
		copy(dst, rb.data[:pos])
		return cursor
	}

	// Oldest data starts at the cursor: [cursor..end] then [0..cursor].
	tail := len(rb.data) - pos
	copy(dst[:tail], rb.data[pos:])
	copy(dst[tail:], rb.data[:pos])
	return rb.capacityFrames
}
