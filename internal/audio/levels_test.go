package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearToDB(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, LinearToDB(1.0), 1e-9)
	assert.InDelta(t, -6.0206, LinearToDB(0.5), 1e-3)
	assert.Equal(t, SilenceFloorDB, LinearToDB(0))
	assert.Equal(t, SilenceFloorDB, LinearToDB(-0.1))
}

func TestMeanSquareToDB(t *testing.T) {
	t.Parallel()

	// A full-scale square wave has mean-square 1.0 -> 0 dB RMS.
	assert.InDelta(t, 0.0, MeanSquareToDB(1.0), 1e-9)
	// Amplitude 0.1 sine: ms = 0.005 -> about -23 dB.
	assert.InDelta(t, -23.01, MeanSquareToDB(0.005), 0.01)
	assert.Equal(t, SilenceFloorDB, MeanSquareToDB(0))
}

func TestDBToLinearRoundTrip(t *testing.T) {
	t.Parallel()

	for _, db := range []float64{0, -6, -35, -70} {
		assert.InDelta(t, db, LinearToDB(DBToLinear(db)), 1e-9)
	}
}

func TestBatchMetrics(t *testing.T) {
	t.Parallel()

	peak, ms := batchMetrics([]float32{0.5, -0.25, 0.1, -0.1})
	assert.InDelta(t, 0.5, peak, 1e-9)
	expected := (0.25 + 0.0625 + 0.01 + 0.01) / 4
	assert.InDelta(t, expected, ms, 1e-7)

	peak, ms = batchMetrics(nil)
	assert.Zero(t, peak)
	assert.Zero(t, ms)
}

func TestLevelMeterPublishes(t *testing.T) {
	t.Parallel()

	m := &LevelMeter{}
	_, seq0 := m.MeanSquare()

	m.PublishPeak(0.5)
	m.PublishMeanSquare(0.25)

	assert.InDelta(t, 0.5, m.Peak(), 1e-9)
	ms, seq := m.MeanSquare()
	assert.InDelta(t, 0.25, ms, 1e-9)
	assert.Equal(t, seq0+1, seq, "sequence must advance on publish")

	assert.InDelta(t, 20*math.Log10(0.5), m.PeakDB(), 1e-9)
	assert.InDelta(t, 10*math.Log10(0.25), m.RMSDB(), 1e-9)
}
