package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewRingBufferRejectsInvalidDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rate     int
		channels int
		seconds  int
	}{
		{"zero rate", 0, 1, 13},
		{"zero channels", 48000, 0, 13},
		{"zero seconds", 48000, 1, 0},
		{"negative rate", -1, 1, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRingBuffer(tt.rate, tt.channels, tt.seconds)
			assert.Error(t, err)
		})
	}
}

func TestRingBufferSnapshotBeforeFill(t *testing.T) {
	t.Parallel()

	// 1 kHz mono, 2 second window, write half a second.
	rb, err := NewRingBuffer(1000, 1, 2)
	require.NoError(t, err)

	batch := make([]float32, 500)
	for i := range batch {
		batch[i] = float32(i)
	}
	rb.Write(batch)

	assert.False(t, rb.FilledOnce())

	dst := make([]float32, rb.CapacityFrames()*rb.Channels())
	frames := rb.SnapshotInto(dst)
	assert.Equal(t, 500, frames, "pre-roll length equals the cursor before first wrap")
	for i := 0; i < frames; i++ {
		assert.Equal(t, float32(i), dst[i])
	}
}

func TestRingBufferUnwrapsOldestFirst(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(10, 1, 1) // capacity 10 frames
	require.NoError(t, err)

	// Write 15 numbered samples in two batches; 5..14 should survive.
	first := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	second := []float32{8, 9, 10, 11, 12, 13, 14}
	rb.Write(first)
	rb.Write(second)

	require.True(t, rb.FilledOnce())

	dst := make([]float32, 10)
	frames := rb.SnapshotInto(dst)
	require.Equal(t, 10, frames)
	for i := 0; i < 10; i++ {
		assert.Equal(t, float32(i+5), dst[i], "sample %d", i)
	}
}

func TestRingBufferInterleavedChannels(t *testing.T) {
	t.Parallel()

	rb, err := NewRingBuffer(4, 2, 1) // 4 frames stereo
	require.NoError(t, err)

	// 6 frames interleaved across two batches; the oldest 2 frames fall off.
	var batch []float32
	for f := 0; f < 3; f++ {
		batch = append(batch, float32(f), float32(f)+0.5)
	}
	rb.Write(batch)
	batch = batch[:0]
	for f := 3; f < 6; f++ {
		batch = append(batch, float32(f), float32(f)+0.5)
	}
	rb.Write(batch)

	dst := make([]float32, 8)
	frames := rb.SnapshotInto(dst)
	require.Equal(t, 4, frames)
	for f := 0; f < 4; f++ {
		assert.Equal(t, float32(f+2), dst[f*2])
		assert.Equal(t, float32(f+2)+0.5, dst[f*2+1])
	}
}

// TestRingBufferCapacityProperty checks that after writes totalling more
// than the capacity, a snapshot always yields exactly capacity frames, in
// write order, regardless of the batch-size sequence.
func TestRingBufferCapacityProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		capacitySeconds := rapid.IntRange(1, 4).Draw(t, "seconds")
		rate := rapid.SampledFrom([]int{100, 250, 1000}).Draw(t, "rate")

		rb, err := NewRingBuffer(rate, 1, capacitySeconds)
		require.NoError(t, err)
		capacity := rb.CapacityFrames()

		written := 0
		next := float32(0)
		for written <= capacity {
			batchLen := rapid.IntRange(1, capacity).Draw(t, "batchLen")
			batch := make([]float32, batchLen)
			for i := range batch {
				batch[i] = next
				next++
			}
			rb.Write(batch)
			written += batchLen
		}

		require.True(t, rb.FilledOnce())

		dst := make([]float32, capacity)
		frames := rb.SnapshotInto(dst)
		require.Equal(t, capacity, frames)

		// The snapshot must be the most recent `capacity` samples in order.
		expectedFirst := next - float32(capacity)
		for i := 0; i < capacity; i++ {
			require.Equal(t, expectedFirst+float32(i), dst[i], "sample %d", i)
		}
	})
}
