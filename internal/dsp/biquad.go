// internal/dsp/biquad.go
package dsp

import (
	"errors"
	"math"
	"sync/atomic"
)

var (
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidCutoff indicates a filter cutoff must be non-negative
	ErrInvalidCutoff = errors.New("filter cutoff must be non-negative")
	// ErrInvalidQ indicates the filter Q must be positive
	ErrInvalidQ = errors.New("filter Q must be positive")
)

// ButterworthQ gives a maximally flat second order response.
const ButterworthQ = 1 / math.Sqrt2

// FilterConfig holds configuration for the band-limiting front end.
// All values should come from the application config file.
type FilterConfig struct {
	// SampleRate is the audio sample rate in Hz (from config: sample_rate)
	SampleRate float64
	// HighpassHz removes rumble below the ticks, 0 disables (from config: highpass_hz)
	HighpassHz float64
	// LowpassHz removes hiss above the ticks, 0 disables (from config: lowpass_hz)
	LowpassHz float64
	// Q of both sections (from config: filter_q)
	Q float64
}

// DefaultFilterConfig returns an 800-5000 Hz band at 48 kHz.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		SampleRate: 48000,
		HighpassHz: 800,
		LowpassHz:  5000,
		Q:          ButterworthQ,
	}
}

type biquadKind int

const (
	lowpass biquadKind = iota
	highpass
)

// biquad is a second order IIR section in transposed direct form II with
// RBJ cookbook coefficients, normalised by a0.
type biquad struct {
	bypass     bool
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// design computes coefficients for the given cutoff. A zero cutoff, or a
// low-pass at or above Nyquist, bypasses the section. A high-pass at or
// above Nyquist is pulled just below it.
func (f *biquad) design(kind biquadKind, cutoff, q, sampleRate float64) {
	nyquist := sampleRate / 2
	if cutoff <= 0 || (kind == lowpass && cutoff >= nyquist) {
		f.bypass = true
		return
	}
	if cutoff >= nyquist {
		cutoff = 0.999 * nyquist
	}
	f.bypass = false

	omega := 2 * math.Pi * cutoff / sampleRate
	cosine := math.Cos(omega)
	alpha := math.Sin(omega) / (2 * q)
	a0 := 1 + alpha

	switch kind {
	case lowpass:
		f.b0 = (1 - cosine) / 2 / a0
		f.b1 = (1 - cosine) / a0
		f.b2 = f.b0
	case highpass:
		f.b0 = (1 + cosine) / 2 / a0
		f.b1 = -(1 + cosine) / a0
		f.b2 = f.b0
	}
	f.a1 = -2 * cosine / a0
	f.a2 = (1 - alpha) / a0
}

func (f *biquad) process(x float64) float64 {
	if f.bypass {
		return x
	}
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

func (f *biquad) reset() {
	f.z1, f.z2 = 0, 0
}

// FilterChain is a high-pass followed by a low-pass, applied ahead of the
// tick detector. Filter state persists across blocks.
//
// Cutoffs may be changed from any goroutine with SetHighpass and
// SetLowpass; the change takes effect at the start of the next block.
type FilterChain struct {
	config FilterConfig
	hp     biquad
	lp     biquad

	pendingHP atomic.Uint64 // math.Float64bits of requested cutoff
	pendingLP atomic.Uint64
	dirty     atomic.Bool
}

// NewFilterChain creates a filter chain with the given configuration.
func NewFilterChain(cfg FilterConfig) (*FilterChain, error) {
	if !(cfg.SampleRate > 0) || math.IsInf(cfg.SampleRate, 0) {
		return nil, ErrInvalidSampleRate
	}
	if !(cfg.HighpassHz >= 0) || !(cfg.LowpassHz >= 0) {
		return nil, ErrInvalidCutoff
	}
	if !(cfg.Q > 0) {
		return nil, ErrInvalidQ
	}

	fc := &FilterChain{config: cfg}
	fc.pendingHP.Store(math.Float64bits(cfg.HighpassHz))
	fc.pendingLP.Store(math.Float64bits(cfg.LowpassHz))
	fc.redesign()
	return fc, nil
}

// SetHighpass requests a new high-pass cutoff. Negative values are ignored.
func (fc *FilterChain) SetHighpass(hz float64) {
	if !(hz >= 0) {
		return
	}
	fc.pendingHP.Store(math.Float64bits(hz))
	fc.dirty.Store(true)
}

// SetLowpass requests a new low-pass cutoff. Negative values are ignored.
func (fc *FilterChain) SetLowpass(hz float64) {
	if !(hz >= 0) {
		return
	}
	fc.pendingLP.Store(math.Float64bits(hz))
	fc.dirty.Store(true)
}

func (fc *FilterChain) redesign() {
	hp := math.Float64frombits(fc.pendingHP.Load())
	lp := math.Float64frombits(fc.pendingLP.Load())
	fc.hp.design(highpass, hp, fc.config.Q, fc.config.SampleRate)
	fc.lp.design(lowpass, lp, fc.config.Q, fc.config.SampleRate)
}

// Process filters src into dst and returns the number of samples written,
// which is the shorter of the two lengths. dst and src may be the same slice.
func (fc *FilterChain) Process(dst, src []float32) int {
	if fc.dirty.Swap(false) {
		fc.redesign()
	}

	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		x := float64(src[i])
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		dst[i] = float32(fc.lp.process(fc.hp.process(x)))
	}
	return n
}

// Reset clears the filter state
func (fc *FilterChain) Reset() {
	fc.hp.reset()
	fc.lp.reset()
}

// Config returns the configuration including the latest requested cutoffs
func (fc *FilterChain) Config() FilterConfig {
	cfg := fc.config
	cfg.HighpassHz = math.Float64frombits(fc.pendingHP.Load())
	cfg.LowpassHz = math.Float64frombits(fc.pendingLP.Load())
	return cfg
}
