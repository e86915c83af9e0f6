package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q, err := NewLiveQueue(16, 4)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ok := q.Push([]float32{float32(i), float32(i), float32(i), float32(i)}, uint64(i+1))
		require.True(t, ok)
	}
	assert.Equal(t, 10, q.Len())

	dst := make([]float32, 4)
	for i := 0; i < 10; i++ {
		n, seq, ok := q.PopInto(dst)
		require.True(t, ok)
		assert.Equal(t, 4, n)
		assert.Equal(t, uint64(i+1), seq)
		assert.Equal(t, float32(i), dst[0])
	}

	_, _, ok := q.PopInto(dst)
	assert.False(t, ok, "queue should be empty")
}

func TestLiveQueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	q, err := NewLiveQueue(16, 2)
	require.NoError(t, err)

	batch := []float32{1, 2}
	for i := 0; i < 16; i++ {
		require.True(t, q.Push(batch, uint64(i)))
	}

	assert.False(t, q.Push(batch, 99), "push into a full queue must drop")
	assert.False(t, q.Push(batch, 100))
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 16, q.Len())
}

func TestLiveQueueShortBatch(t *testing.T) {
	t.Parallel()

	q, err := NewLiveQueue(4, 8)
	require.NoError(t, err)

	require.True(t, q.Push([]float32{7, 8, 9}, 1))

	dst := make([]float32, 8)
	n, _, ok := q.PopInto(dst)
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float32{7, 8, 9}, dst[:n])
}

func TestLiveQueueReset(t *testing.T) {
	t.Parallel()

	q, err := NewLiveQueue(4, 2)
	require.NoError(t, err)

	q.Push([]float32{1, 2}, 1)
	q.Push([]float32{3, 4}, 2)
	require.Equal(t, 2, q.Len())

	q.Reset()
	assert.Equal(t, 0, q.Len())

	dst := make([]float32, 2)
	_, _, ok := q.PopInto(dst)
	assert.False(t, ok)

	// The queue remains usable after a reset.
	require.True(t, q.Push([]float32{5, 6}, 3))
	n, seq, ok := q.PopInto(dst)
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(3), seq)
}

func TestNewLiveQueueRejectsInvalidDimensions(t *testing.T) {
	t.Parallel()

	_, err := NewLiveQueue(0, 16)
	assert.Error(t, err)
	_, err = NewLiveQueue(16, 0)
	assert.Error(t, err)
}
