package audio

import (
	"sync/atomic"

	"github.com/b08x/omega-13/internal/errors"
)

// LiveQueue is a bounded single-producer single-consumer queue of audio
// frame batches, carrying post-trigger blocks from the capture callback to
// the file writer. Slots are pre-allocated at construction; Push copies in
// and never blocks, PopInto copies out. When the queue is full the batch is
// dropped and the drop counter incremented, which is a degradation path
// (CaptureUnderrun), not a failure.
type LiveQueue struct {
	slots     []liveSlot
	capacity  uint64
	head      atomic.Uint64 // producer position
	tail      atomic.Uint64 // consumer position
	dropCount atomic.Uint64
}

type liveSlot struct {
	samples []float32
	length  int
	seq     uint64
}

// NewLiveQueue creates a queue of blocks slots, each holding up to
// batchSamples interleaved samples.
func NewLiveQueue(blocks, batchSamples int) (*LiveQueue, error) {
	if blocks <= 0 || batchSamples <= 0 {
		return nil, errors.Newf("invalid live queue dimensions: blocks=%d batchSamples=%d",
			blocks, batchSamples).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	q := &LiveQueue{
		slots:    make([]liveSlot, blocks),
		capacity: uint64(blocks),
	}
	for i := range q.slots {
		q.slots[i].samples = make([]float32, batchSamples)
	}
	return q, nil
}

// Push copies samples into the next slot. Returns false when the queue is
// full, in which case the batch is dropped and counted.
//
// Called only from the capture callback. Wait-free, allocation-free.
func (q *LiveQueue) Push(samples []float32, seq uint64) bool {
	head := q.head.Load()
	tail := q.tail.Load()

	if head-tail >= q.capacity {
		q.dropCount.Add(1)
		return false
	}

	slot := &q.slots[head%q.capacity]
	n := copy(slot.samples, samples)
	slot.length = n
	slot.seq = seq

	q.head.Add(1)
	return true
}

// PopInto copies the oldest batch into dst and advances the consumer.
// Returns the number of samples copied, the batch sequence number, and
// whether a batch was available.
func (q *LiveQueue) PopInto(dst []float32) (n int, seq uint64, ok bool) {
	head := q.head.Load()
	tail := q.tail.Load()

	if head == tail {
		return 0, 0, false
	}

	slot := &q.slots[tail%q.capacity]
	n = copy(dst, slot.samples[:slot.length])
	seq = slot.seq

	q.tail.Add(1)
	return n, seq, true
}

// Reset empties the queue for reuse by the next recording. Must only be
// called while the producer is disarmed and no consumer is draining.
func (q *LiveQueue) Reset() {
	q.tail.Store(q.head.Load())
}

// Len returns the number of batches currently queued.
func (q *LiveQueue) Len() int {
	return int(q.head.Load() - q.tail.Load())
}

// Dropped returns the number of batches dropped due to a full queue.
func (q *LiveQueue) Dropped() uint64 {
	return q.dropCount.Load()
}

// BatchSamples returns the per-slot sample capacity.
func (q *LiveQueue) BatchSamples() int {
	return len(q.slots[0].samples)
}
