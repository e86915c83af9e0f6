// Package audio provides the real-time capture path: a malgo-backed device
// source feeding a ring buffer, a live SPSC queue, and atomic level metrics.
//
// The data callback is the only hard real-time code in the system. It must
// not allocate, lock, log, or block; everything it touches is pre-allocated
// in NewCapture and shared through atomics.
package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/logging"
)

// CaptureConfig contains configuration for the capture source.
type CaptureConfig struct {
	DeviceName    string // empty for the system default device
	SampleRate    int
	Channels      int
	BufferSeconds int // ring buffer window
	BatchFrames   int // frames per callback period
	QueueBlocks   int // live queue capacity in batches
	RMSEveryK     int // compute mean-square every Kth callback
}

// Capture owns the audio device and the shared capture-side state.
type Capture struct {
	config CaptureConfig

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	ring  *RingBuffer
	queue *LiveQueue
	meter *LevelMeter

	// Callback-only scratch state. Pre-allocated; the callback is the sole
	// writer and no other goroutine reads these.
	scratch    []float32
	rmsCounter int
	seq        uint64

	recording atomic.Bool
	running   atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64 // bumped per Start so stale monitors stand down

	actualRate     uint32
	actualChannels uint32

	logger *slog.Logger
}

// NewCapture allocates the capture source and all real-time buffers.
// No device is touched until Start.
func NewCapture(config CaptureConfig) (*Capture, error) {
	ring, err := NewRingBuffer(config.SampleRate, config.Channels, config.BufferSeconds)
	if err != nil {
		return nil, err
	}
	queue, err := NewLiveQueue(config.QueueBlocks, config.BatchFrames*config.Channels)
	if err != nil {
		return nil, err
	}
	if config.RMSEveryK <= 0 {
		config.RMSEveryK = 1
	}

	return &Capture{
		config:  config,
		ring:    ring,
		queue:   queue,
		meter:   &LevelMeter{},
		scratch: make([]float32, config.BatchFrames*config.Channels*2),
		logger:  logging.ForService("audio"),
	}, nil
}

// Ring returns the pre-roll ring buffer.
func (c *Capture) Ring() *RingBuffer { return c.ring }

// Queue returns the live queue.
func (c *Capture) Queue() *LiveQueue { return c.queue }

// Meter returns the level meter.
func (c *Capture) Meter() *LevelMeter { return c.meter }

// Format returns the negotiated sample rate and channel count.
func (c *Capture) Format() (sampleRate, channels int) {
	if rate := c.actualRate; rate != 0 {
		return int(rate), int(c.actualChannels)
	}
	return c.config.SampleRate, c.config.Channels
}

// SetRecording arms or disarms live-queue forwarding in the callback.
func (c *Capture) SetRecording(active bool) {
	c.recording.Store(active)
}

// InputsConnected reports whether the capture device is attached and running.
func (c *Capture) InputsConnected() bool {
	return c.running.Load()
}

// Dropped returns the number of live batches dropped since Start.
func (c *Capture) Dropped() uint64 {
	return c.queue.Dropped()
}

// Start initializes the audio backend, negotiates the device format, and
// begins delivering callbacks. Fails with AudioServerUnavailable semantics
// when no backend context can be created.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return errors.Newf("capture already running").
			Component("audio").
			Category(errors.CategoryState).
			Build()
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{c.backend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("backend", runtime.GOOS).
			Context("operation", "init_context").
			Build()
	}
	c.ctx = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(c.config.Channels)
	deviceConfig.SampleRate = uint32(c.config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(c.config.BatchFrames)
	deviceConfig.Alsa.NoMMap = 1

	if c.config.DeviceName != "" && c.config.DeviceName != "default" {
		info, err := c.findDevice(c.config.DeviceName)
		if err != nil {
			_ = malgoCtx.Uninit()
			c.ctx = nil
			return err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	captureCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	callbacks := malgo.DeviceCallbacks{
		Data: c.onRecvFrames,
		Stop: c.onDeviceStop,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		cancel()
		_ = malgoCtx.Uninit()
		c.ctx = nil
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("device_name", c.config.DeviceName).
			Context("operation", "init_device").
			Build()
	}
	c.device = device
	c.actualRate = device.SampleRate()
	c.actualChannels = uint32(c.config.Channels)

	if err := device.Start(); err != nil {
		device.Uninit()
		cancel()
		_ = malgoCtx.Uninit()
		c.ctx = nil
		c.device = nil
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "start_device").
			Build()
	}

	c.running.Store(true)
	c.generation++
	c.logger.Info("capture started",
		"device", c.config.DeviceName,
		"sample_rate", c.actualRate,
		"channels", c.actualChannels,
		"batch_frames", c.config.BatchFrames)

	go c.monitor(captureCtx, c.generation)

	return nil
}

// Stop halts capture and releases the device.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return
	}
	c.running.Store(false)
	c.recording.Store(false)

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx = nil
	}
	c.logger.Info("capture stopped", "dropped_batches", c.queue.Dropped())
}

// SelectDevice reconnects capture to a different input device. The new
// name is validated against the live device graph before the running
// device is disturbed; on a stale name the current capture keeps running
// and a not-found error is returned for the operator to reselect.
func (c *Capture) SelectDevice(ctx context.Context, name string) error {
	if name != "" && name != "default" {
		devices, err := ListDevices()
		if err != nil {
			return err
		}
		found := false
		for _, d := range devices {
			if d == name {
				found = true
				break
			}
		}
		if !found {
			return errors.Newf("input port %q not present in the audio graph", name).
				Component("audio").
				Category(errors.CategoryNotFound).
				Context("device_name", name).
				Build()
		}
	}

	c.Stop()
	c.mu.Lock()
	c.config.DeviceName = name
	c.mu.Unlock()
	return c.Start(ctx)
}

// onRecvFrames is the real-time data callback. Work per invocation: byte to
// float32 conversion into pre-allocated scratch, ring write, level metrics,
// and a live-queue push while a recording is active. Linear in the frame
// count; no allocation, no locks, no logging.
func (c *Capture) onRecvFrames(pOutputSamples, pInputSamples []byte, frameCount uint32) {
	sampleCount := len(pInputSamples) / 4
	if sampleCount == 0 || sampleCount > len(c.scratch) {
		return
	}

	batch := c.scratch[:sampleCount]
	for i := range batch {
		bits := binary.LittleEndian.Uint32(pInputSamples[i*4:])
		batch[i] = math.Float32frombits(bits)
	}

	c.ring.Write(batch)

	peak, ms := 0.0, -1.0
	c.rmsCounter++
	if c.rmsCounter >= c.config.RMSEveryK {
		c.rmsCounter = 0
		peak, ms = batchMetrics(batch)
	} else {
		peak = peakOnly(batch)
	}
	c.meter.PublishPeak(peak)
	if ms >= 0 {
		c.meter.PublishMeanSquare(ms)
	}

	c.seq++
	if c.recording.Load() {
		c.queue.Push(batch, c.seq)
	}
}

// onDeviceStop is invoked by the backend when the device stops unexpectedly.
// It schedules a restart attempt off the audio thread.
func (c *Capture) onDeviceStop() {
	if !c.running.Load() {
		return
	}
	go func() {
		time.Sleep(time.Second)
		c.mu.Lock()
		device := c.device
		c.mu.Unlock()
		if c.running.Load() && device != nil {
			if err := device.Start(); err != nil {
				c.logger.Error("capture device restart failed", "error", err)
			} else {
				c.logger.Warn("capture device restarted after unexpected stop")
			}
		}
	}()
}

// monitor stops the device when the engine context is cancelled. A monitor
// from a superseded Start (device reselection) stands down instead of
// stopping the replacement device.
func (c *Capture) monitor(ctx context.Context, generation uint64) {
	<-ctx.Done()
	c.mu.Lock()
	stale := c.generation != generation
	c.mu.Unlock()
	if !stale {
		c.Stop()
	}
}

func (c *Capture) backend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// findDevice resolves a capture device by name.
func (c *Capture) findDevice(name string) (*malgo.DeviceInfo, error) {
	devices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range devices {
		if devices[i].Name() == name {
			return &devices[i], nil
		}
	}
	return nil, errors.Newf("capture device %q not found", name).
		Component("audio").
		Category(errors.CategoryNotFound).
		Context("device_name", name).
		Build()
}

// ListDevices enumerates capture devices without starting a device. Used by
// the input selection surface.
func ListDevices() ([]string, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}
	defer func() { _ = malgoCtx.Uninit() }()

	devices, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}
	names := make([]string, 0, len(devices))
	for i := range devices {
		names = append(names, devices[i].Name())
	}
	return names, nil
}

// peakOnly computes the peak absolute value without the mean-square pass.
func peakOnly(samples []float32) (peak float64) {
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
