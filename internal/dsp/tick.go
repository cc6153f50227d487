// internal/dsp/tick.go
package dsp

import (
	"errors"
	"math"
	"sync/atomic"
)

var (
	// ErrInvalidCooldown indicates the cooldown must be non-negative
	ErrInvalidCooldown = errors.New("cooldown must be non-negative")
	// ErrInvalidEchoGate indicates the echo gate must be non-negative
	ErrInvalidEchoGate = errors.New("echo gate must be non-negative")
	// ErrInvalidTauEnv indicates the envelope time constant must be positive
	ErrInvalidTauEnv = errors.New("envelope time constant must be positive")
	// ErrInvalidTauNoise indicates the noise time constant must exceed the envelope time constant
	ErrInvalidTauNoise = errors.New("noise time constant must be longer than the envelope time constant")
	// ErrInvalidHysteresisDB indicates hysteresis must be non-negative
	ErrInvalidHysteresisDB = errors.New("hysteresis must be non-negative dB")
	// ErrInvalidMinSNR indicates the minimum SNR must be non-negative
	ErrInvalidMinSNR = errors.New("minimum SNR must be non-negative dB")
	// ErrInvalidPeriodHistory indicates at least one period must be kept
	ErrInvalidPeriodHistory = errors.New("period history must hold at least one period")
	// ErrInvalidPredictionTolerance indicates the tolerance must be in (0, 1]
	ErrInvalidPredictionTolerance = errors.New("prediction tolerance must be greater than 0 and at most 1")
	// ErrInvalidWarmup indicates warmup must be non-negative
	ErrInvalidWarmup = errors.New("warmup must be non-negative")
)

// Block is one chunk of mono audio delivered by the audio source.
type Block struct {
	// Samples are amplitudes nominally in -1.0 to 1.0
	Samples []float32
	// SampleRate in Hz
	SampleRate float64
	// StartTime of the first sample in seconds, monotonic across blocks
	StartTime float64
}

// TickEvent is a single accepted tick.
type TickEvent struct {
	// Timestamp is the burst peak time in the block time domain (seconds)
	Timestamp float64
	// Confidence is in 0.0-1.0
	Confidence float64
}

// TickCallback is called synchronously for every accepted tick.
// Must be non-blocking and fast - called from the audio processing path.
type TickCallback func(event TickEvent)

// TickConfig holds the tick detector tunables.
// All values should come from the application config file.
type TickConfig struct {
	// CooldownMs is the minimum spacing between accepted ticks (from config: cooldown_ms)
	CooldownMs float64
	// EchoGateMs rejects bursts this close to the last posted tick (from config: echo_gate_ms)
	EchoGateMs float64
	// TauEnvMs is the envelope time constant (from config: tau_env_ms)
	TauEnvMs float64
	// TauNoiseMs is the noise floor time constant (from config: tau_noise_ms)
	TauNoiseMs float64
	// HysteresisDB is the gap between the on and off thresholds (from config: hyst_db)
	HysteresisDB float64
	// MinSNRDB is the on threshold above the noise floor (from config: min_snr_db)
	MinSNRDB float64
	// PeriodHistory is how many inter-tick periods feed the expected period (from config: period_m)
	PeriodHistory int
	// PredictionTolerance is the accepted deviation from the expected period,
	// as a fraction of it (from config: pred_tol_pct)
	PredictionTolerance float64
	// WarmupMs is stream time during which only the level trackers run (from config: warmup_ms)
	// The noise floor follows the envelope at the fast rate meanwhile, so the
	// start-up transient is not taken for a burst
	WarmupMs float64
}

// DefaultTickConfig returns the detector defaults.
func DefaultTickConfig() TickConfig {
	return TickConfig{
		CooldownMs:          130,
		EchoGateMs:          20,
		TauEnvMs:            8,
		TauNoiseMs:          600,
		HysteresisDB:        6,
		MinSNRDB:            6,
		PeriodHistory:       7,
		PredictionTolerance: 0.28,
		WarmupMs:            100,
	}
}

// Validate checks the configuration, returning the first violation found.
func (c TickConfig) Validate() error {
	if !(c.CooldownMs >= 0) || math.IsInf(c.CooldownMs, 0) {
		return ErrInvalidCooldown
	}
	if !(c.EchoGateMs >= 0) || math.IsInf(c.EchoGateMs, 0) {
		return ErrInvalidEchoGate
	}
	if !(c.TauEnvMs > 0) || math.IsInf(c.TauEnvMs, 0) {
		return ErrInvalidTauEnv
	}
	if !(c.TauNoiseMs > c.TauEnvMs) || math.IsInf(c.TauNoiseMs, 0) {
		return ErrInvalidTauNoise
	}
	if !(c.HysteresisDB >= 0) || math.IsInf(c.HysteresisDB, 0) {
		return ErrInvalidHysteresisDB
	}
	if !(c.MinSNRDB >= 0) || math.IsInf(c.MinSNRDB, 0) {
		return ErrInvalidMinSNR
	}
	if c.PeriodHistory < 1 {
		return ErrInvalidPeriodHistory
	}
	if !(c.PredictionTolerance > 0 && c.PredictionTolerance <= 1) {
		return ErrInvalidPredictionTolerance
	}
	if !(c.WarmupMs >= 0) || math.IsInf(c.WarmupMs, 0) {
		return ErrInvalidWarmup
	}
	return nil
}

// TickStats counts what happened to burst candidates since the last reset.
type TickStats struct {
	Candidates       uint64
	EchoRejected     uint64
	CooldownRejected uint64
	RhythmRejected   uint64
	Accepted         uint64
	Relocks          uint64
}

// TickDetector turns a mono sample stream into tick events.
//
// Per sample it computes a three-tap energy, tracks a fast envelope and a
// slow noise floor, segments bursts with on/off hysteresis around the noise
// floor and, when a burst ends, runs its peak time through the echo,
// cooldown and periodicity gates. Accepted ticks are scored and handed to
// the callback.
//
// Process must not be called concurrently. It does not allocate.
type TickDetector struct {
	config           TickConfig
	minSNRLinear     float64
	hysteresisLinear float64

	sampleRate float64
	tracker    tracker

	// Energy shift register: s1 previous sample, s2 the one before
	s1, s2 float64

	warmupLeft float64 // seconds of stream time left before segmenting

	inBurst       bool
	burstPeak     float64
	burstPeakTime float64

	hasAccepted      bool
	lastAcceptedTime float64
	lastPostedTime   float64
	periods          *periodHistory

	stats TickStats

	// Callback for tick events (atomic for thread safety)
	callbackPtr atomic.Pointer[TickCallback]
}

// NewTickDetector creates a tick detector. An invalid configuration is
// rejected rather than coerced.
func NewTickDetector(cfg TickConfig) (*TickDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &TickDetector{
		config:           cfg,
		minSNRLinear:     dbToLinear(cfg.MinSNRDB),
		hysteresisLinear: dbToLinear(cfg.HysteresisDB),
		periods:          newPeriodHistory(cfg.PeriodHistory),
	}
	d.Reset()
	return d, nil
}

// SetCallback sets the callback for tick events.
// The callback is invoked from the processing goroutine - it must be fast and non-blocking.
func (d *TickDetector) SetCallback(cb TickCallback) {
	if cb == nil {
		d.callbackPtr.Store(nil)
	} else {
		d.callbackPtr.Store(&cb)
	}
}

// Process runs every sample of the block through the detector and returns
// the number of ticks emitted. Empty blocks and blocks without a usable
// sample rate are skipped and leave the state untouched.
func (d *TickDetector) Process(block Block) int {
	if len(block.Samples) == 0 || !(block.SampleRate > 0) || math.IsInf(block.SampleRate, 0) {
		return 0
	}
	if block.SampleRate != d.sampleRate {
		d.sampleRate = block.SampleRate
		d.tracker.configure(d.config.TauEnvMs, d.config.TauNoiseMs, block.SampleRate)
	}

	dt := 1.0 / block.SampleRate
	emitted := 0

	for i, x := range block.Samples {
		s0 := float64(x)
		if math.IsNaN(s0) || math.IsInf(s0, 0) {
			s0 = 0
		}
		e := teagerEnergy(d.s2, d.s1, s0)
		d.s2, d.s1 = d.s1, s0

		if d.warmupLeft > 0 {
			d.tracker.settle(e)
			d.warmupLeft -= dt
			continue
		}
		d.tracker.update(e)

		candidate, ended := d.segment(block.StartTime + float64(i)*dt)
		if !ended {
			continue
		}
		if d.offer(candidate) {
			emitted++
		}
	}

	return emitted
}

// segment advances the IDLE/IN_BURST state machine by one sample. When a
// burst ends it returns the time of the burst peak.
func (d *TickDetector) segment(now float64) (float64, bool) {
	on, off := d.tracker.thresholds(d.minSNRLinear, d.hysteresisLinear)
	env := d.tracker.envelope

	if !d.inBurst {
		if env > on {
			d.inBurst = true
			d.burstPeak = env
			d.burstPeakTime = now
		}
		return 0, false
	}

	if env > d.burstPeak {
		d.burstPeak = env
		d.burstPeakTime = now
	}
	if env < off {
		d.inBurst = false
		return d.burstPeakTime, true
	}
	return 0, false
}

// offer runs a candidate through the gate chain and emits it if accepted.
func (d *TickDetector) offer(candidate float64) bool {
	d.stats.Candidates++

	p, ok := d.gate(candidate)
	if !ok {
		return false
	}

	event := TickEvent{
		Timestamp:  candidate,
		Confidence: d.confidence(p),
	}
	d.accept(candidate)
	d.emitEvent(event)
	return true
}

// emitEvent calls the registered callback if set
func (d *TickDetector) emitEvent(event TickEvent) {
	cbPtr := d.callbackPtr.Load()
	if cbPtr != nil {
		(*cbPtr)(event)
	}
}

// Reset returns the detector to its initial state. Configuration and
// callback are kept.
func (d *TickDetector) Reset() {
	d.sampleRate = 0
	d.tracker.reset()
	d.s1, d.s2 = 0, 0
	d.warmupLeft = d.config.WarmupMs * 0.001
	d.inBurst = false
	d.burstPeak = 0
	d.burstPeakTime = 0
	d.hasAccepted = false
	d.lastAcceptedTime = 0
	d.lastPostedTime = 0
	d.periods.Reset()
	d.stats = TickStats{}
}

// Noise returns the current noise floor estimate (always > 0)
func (d *TickDetector) Noise() float64 {
	return d.tracker.noise
}

// Envelope returns the current envelope value
func (d *TickDetector) Envelope() float64 {
	return d.tracker.envelope
}

// InBurst reports whether the segmenter is inside a burst
func (d *TickDetector) InBurst() bool {
	return d.inBurst
}

// Periods returns the recorded inter-tick periods, oldest first.
func (d *TickDetector) Periods() []float64 {
	return d.periods.AppendTo(make([]float64, 0, d.periods.Len()))
}

// ExpectedPeriod returns the median period once enough periods are
// recorded for the periodicity gate to be active, and 0 before that.
func (d *TickDetector) ExpectedPeriod() float64 {
	if d.periods.Len() < minPeriodsForPrediction {
		return 0
	}
	return d.periods.Median()
}

// Stats returns the candidate counters. Not safe to call while Process runs.
func (d *TickDetector) Stats() TickStats {
	return d.stats
}

// Config returns the current configuration
func (d *TickDetector) Config() TickConfig {
	return d.config
}
