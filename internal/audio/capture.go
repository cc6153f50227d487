// internal/audio/capture.go
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/ColonelBlimp/tickrate/internal/dsp"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrClosed         = errors.New("audio capture closed")
)

// bytesPerSample is the size of one mono float32 frame.
const bytesPerSample = 4

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 48000
	BufferSize  uint32 // frames per callback
}

// DefaultConfig returns sensible defaults for tick capture
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		BufferSize:  512,
	}
}

// BlockCallback is called directly from the audio thread with each block.
// The block's sample slice is reused after the callback returns.
// Must be non-blocking and fast.
type BlockCallback func(block dsp.Block)

// Capture handles real-time mono sampling from an audio input device.
// Blocks carry a stream clock derived from the number of frames delivered
// since Start, so timestamps do not drift with wall-clock jitter.
type Capture struct {
	config Config
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	mu     sync.Mutex

	running     atomic.Bool
	closed      atomic.Bool
	done        chan struct{} // closed when the current session ends
	callbackPtr atomic.Pointer[BlockCallback]

	// Owned by the audio thread between Start and Stop.
	frames uint64
	buf    []float32
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config: cfg,
		buf:    make([]float32, cfg.BufferSize),
	}
}

// Config returns the capture configuration
func (c *Capture) Config() Config {
	return c.config
}

// SetCallback sets the block consumer. Safe to call while running.
func (c *Capture) SetCallback(cb BlockCallback) {
	if cb == nil {
		c.callbackPtr.Store(nil)
		return
	}
	c.callbackPtr.Store(&cb)
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listDevicesLocked()
}

func (c *Capture) listDevicesLocked() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	return infos, nil
}

// Start begins audio capture. Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return ErrAlreadyRunning
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1

	// Select specific device if requested
	if c.config.DeviceIndex >= 0 {
		devices, err := c.listDevicesLocked()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	c.frames = 0

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			c.handleFrames(inputSamples)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.device = device
	go c.stopOnCancel(ctx, c.beginSessionLocked())

	return nil
}

func (c *Capture) beginSessionLocked() chan struct{} {
	c.done = make(chan struct{})
	c.running.Store(true)
	return c.done
}

// stopOnCancel stops the session identified by done when ctx is cancelled.
// It returns as soon as that session ends by other means, and never touches
// a session started later.
func (c *Capture) stopOnCancel(ctx context.Context, done chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done {
		c.stopDeviceLocked()
	}
}

// handleFrames converts one device period to a Block and hands it to the
// registered callback. Runs on the audio thread.
func (c *Capture) handleFrames(input []byte) {
	n := len(input) / bytesPerSample
	if n == 0 {
		return
	}
	if cap(c.buf) < n {
		c.buf = make([]float32, n)
	}
	samples := bytesToFloat32(c.buf[:n], input)

	sampleRate := float64(c.config.SampleRate)
	block := dsp.Block{
		Samples:    samples,
		SampleRate: sampleRate,
		StartTime:  float64(c.frames) / sampleRate,
	}
	c.frames += uint64(n)

	if cb := c.callbackPtr.Load(); cb != nil && !c.closed.Load() {
		(*cb)(block)
	}
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}

	c.stopDeviceLocked()
	return nil
}

func (c *Capture) stopDeviceLocked() {
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.running.Store(false)
}

// Close releases all audio resources. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed.Store(true)

	if c.running.Load() {
		c.stopDeviceLocked()
	}

	if c.ctx != nil {
		err := c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
		if err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
	}

	return nil
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// bytesToFloat32 decodes little-endian float32 samples from data into dst
// and returns the filled prefix. Trailing partial samples are ignored.
func bytesToFloat32(dst []float32, data []byte) []float32 {
	n := min(len(data)/bytesPerSample, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*bytesPerSample:]))
	}
	return dst[:n]
}
