package audio

import (
	"math"
	"sync/atomic"
)

// SilenceFloorDB is the level reported for an all-zero signal.
const SilenceFloorDB = -100.0

// LevelMeter publishes peak and mean-square metrics from the capture
// callback through atomics. The callback stores, the coordinator loads; no
// locks on either side.
type LevelMeter struct {
	peakBits atomic.Uint64 // float64 bits, linear peak of the last batch
	msBits   atomic.Uint64 // float64 bits, mean-square of the last measured batch
	msSeq    atomic.Uint64 // bumped on every mean-square publication
}

// PublishPeak stores the linear peak absolute value of the last batch.
func (m *LevelMeter) PublishPeak(peak float64) {
	m.peakBits.Store(math.Float64bits(peak))
}

// PublishMeanSquare stores the mean-square of the last measured batch and
// bumps the sequence counter so consumers can detect fresh values.
func (m *LevelMeter) PublishMeanSquare(ms float64) {
	m.msBits.Store(math.Float64bits(ms))
	m.msSeq.Add(1)
}

// Peak returns the linear peak of the last batch.
func (m *LevelMeter) Peak() float64 {
	return math.Float64frombits(m.peakBits.Load())
}

// MeanSquare returns the last published mean-square and its sequence number.
func (m *LevelMeter) MeanSquare() (ms float64, seq uint64) {
	return math.Float64frombits(m.msBits.Load()), m.msSeq.Load()
}

// RMSDB returns the last published RMS in decibels full scale.
func (m *LevelMeter) RMSDB() float64 {
	ms, _ := m.MeanSquare()
	return MeanSquareToDB(ms)
}

// PeakDB returns the last published peak in decibels full scale.
func (m *LevelMeter) PeakDB() float64 {
	return LinearToDB(m.Peak())
}

// LinearToDB converts a linear amplitude to decibels full scale, clamping
// silence to SilenceFloorDB.
func LinearToDB(v float64) float64 {
	if v <= 0 {
		return SilenceFloorDB
	}
	return max(20*math.Log10(v), SilenceFloorDB)
}

// MeanSquareToDB converts a mean-square power value to RMS decibels.
func MeanSquareToDB(ms float64) float64 {
	if ms <= 0 {
		return SilenceFloorDB
	}
	return max(10*math.Log10(ms), SilenceFloorDB)
}

// DBToLinear converts decibels full scale to linear amplitude.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// batchMetrics computes peak absolute value and mean-square over a batch.
// Linear in the batch length, no allocation; safe on the callback path.
func batchMetrics(samples []float32) (peak, meanSquare float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
		sum += float64(s) * float64(s)
	}
	return peak, sum / float64(len(samples))
}
