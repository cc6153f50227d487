// internal/rate/tracker.go
// Package rate turns accepted ticks into oscillator rate statistics.
package rate

import (
	"errors"
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ColonelBlimp/tickrate/internal/dsp"
)

// MinutesPerDay converts a frequency error of a seconds-counting oscillator
// into minutes gained or lost per day.
const MinutesPerDay = 1440.0

// minHistogramSpan keeps the histogram usable when every value is equal.
const minHistogramSpan = 1e-6

var (
	// ErrInvalidClicksPerCycle indicates clicks per cycle must be positive
	ErrInvalidClicksPerCycle = errors.New("clicks per cycle must be positive")
	// ErrInvalidWindow indicates the averaging window must be positive
	ErrInvalidWindow = errors.New("window must be positive")
	// ErrInvalidDebounce indicates the debounce interval must be non-negative
	ErrInvalidDebounce = errors.New("debounce must be non-negative")
	// ErrInvalidMinTicks indicates at least three ticks are needed for statistics
	ErrInvalidMinTicks = errors.New("minimum ticks must be at least 3")
	// ErrInvalidMaxTicks indicates the history cap must be at least the minimum
	ErrInvalidMaxTicks = errors.New("maximum ticks must not be below minimum ticks")
)

// Config holds configuration for rate analysis.
type Config struct {
	// ClicksPerCycle is 2 for a pendulum (tick and tock), 1 for a single click (from config: clicks_per_cycle)
	ClicksPerCycle int
	// WindowSec is the span of the windowed rate average (from config: window_sec)
	WindowSec float64
	// DebounceMs ignores ticks this close to the previous kept tick (from config: debounce_ms)
	DebounceMs float64
	// MinTicks needed before statistics are reported (from config: min_ticks)
	MinTicks int
	// MaxTicks kept in history, oldest dropped first (from config: max_ticks)
	MaxTicks int
}

// DefaultConfig returns defaults for a seconds-beating pendulum.
func DefaultConfig() Config {
	return Config{
		ClicksPerCycle: 2,
		WindowSec:      10,
		DebounceMs:     200,
		MinTicks:       6,
		MaxTicks:       10000,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ClicksPerCycle < 1 {
		return ErrInvalidClicksPerCycle
	}
	if !(c.WindowSec > 0) {
		return ErrInvalidWindow
	}
	if !(c.DebounceMs >= 0) {
		return ErrInvalidDebounce
	}
	if c.MinTicks < 3 {
		return ErrInvalidMinTicks
	}
	if c.MaxTicks < c.MinTicks {
		return ErrInvalidMaxTicks
	}
	return nil
}

// Stats are the live figures over the kept ticks.
type Stats struct {
	// Ready is false until MinTicks ticks are kept; the other fields are then zero
	Ready bool
	Ticks int
	// MeanHz and StdHz are over all kept intervals, in seconds-counting Hz
	MeanHz float64
	StdHz  float64
	// WindowHz is the mean over the last WindowSec seconds
	WindowHz float64
	// MinutesPerDay is the rate from WindowHz; positive means gaining
	MinutesPerDay float64
}

// Summary describes a whole session from every tick the detector emitted.
type Summary struct {
	RawTicks       int
	Intervals      int
	MeanHz         float64
	StdHz          float64
	MinutesPerDay  float64
	MeanConfidence float64
}

// Histogram bins seconds-counting frequencies. Edges has len(Counts)+1 entries.
type Histogram struct {
	Edges  []float64
	Counts []float64
}

// Tracker accumulates tick events. It is safe for concurrent use.
type Tracker struct {
	config Config

	mu    sync.Mutex
	raw   []dsp.TickEvent
	ticks []float64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{config: cfg}, nil
}

// Add records an event. It returns false when the event was debounced;
// debounced events still count towards the session summary.
func (t *Tracker) Add(event dsp.TickEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.raw = appendCapped(t.raw, event, t.config.MaxTicks)

	if n := len(t.ticks); n > 0 && (event.Timestamp-t.ticks[n-1])*1000 <= t.config.DebounceMs {
		return false
	}
	t.ticks = appendCapped(t.ticks, event.Timestamp, t.config.MaxTicks)
	return true
}

func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = slices.Delete(s, 0, len(s)-limit)
	}
	return s
}

// Stats computes the live statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{Ticks: len(t.ticks)}
	if len(t.ticks) < t.config.MinTicks {
		return stats
	}

	freqs := t.frequencies(t.ticks)
	if len(freqs) == 0 {
		return stats
	}

	stats.Ready = true
	stats.MeanHz, stats.StdHz = meanStdDev(freqs)

	// Intervals ending inside the window, plus the one leading into it
	cut := t.ticks[len(t.ticks)-1] - t.config.WindowSec
	first, _ := slices.BinarySearch(t.ticks, cut)
	window := freqs
	if first > 0 && first-1 < len(freqs) {
		window = freqs[first-1:]
	}
	stats.WindowHz = stat.Mean(window, nil)
	stats.MinutesPerDay = MinutesPerDay * (stats.WindowHz - 1)

	return stats
}

// Histogram bins the seconds-counting frequencies of the kept ticks into
// equal-width bins spanning the observed range. It returns an empty
// histogram until statistics are ready.
func (t *Tracker) Histogram(bins int) Histogram {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bins < 1 || len(t.ticks) < t.config.MinTicks {
		return Histogram{}
	}
	freqs := t.frequencies(t.ticks)
	if len(freqs) == 0 {
		return Histogram{}
	}
	slices.Sort(freqs)

	lo, hi := freqs[0], freqs[len(freqs)-1]
	span := math.Max(minHistogramSpan, hi-lo)
	edges := floats.Span(make([]float64, bins+1), lo, lo+span)
	// The top edge is exclusive; keep the maximum in the last bin
	if edges[bins] <= hi {
		edges[bins] = math.Nextafter(hi, math.Inf(1))
	}

	return Histogram{
		Edges:  edges,
		Counts: stat.Histogram(nil, edges, freqs, nil),
	}
}

// Summary computes session figures over every recorded event, sorted by
// time, ignoring the debounce.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := Summary{RawTicks: len(t.raw)}
	if len(t.raw) == 0 {
		return summary
	}

	times := make([]float64, len(t.raw))
	confidences := make([]float64, len(t.raw))
	for i, ev := range t.raw {
		times[i] = ev.Timestamp
		confidences[i] = ev.Confidence
	}
	slices.Sort(times)
	summary.MeanConfidence = stat.Mean(confidences, nil)

	if len(times) < 2 {
		return summary
	}
	summary.Intervals = len(times) - 1

	freqs := t.frequencies(times)
	if len(freqs) == 0 {
		return summary
	}
	summary.MeanHz, summary.StdHz = meanStdDev(freqs)
	summary.MinutesPerDay = MinutesPerDay * (summary.MeanHz - 1)
	return summary
}

// frequencies converts consecutive tick times into seconds-counting
// frequencies, skipping non-positive intervals.
func (t *Tracker) frequencies(times []float64) []float64 {
	freqs := make([]float64, 0, len(times))
	perCycle := float64(t.config.ClicksPerCycle)
	for i := 1; i < len(times); i++ {
		dt := times[i] - times[i-1]
		if dt > 0 {
			freqs = append(freqs, 1/dt/perCycle)
		}
	}
	return freqs
}

// meanStdDev returns the mean and sample standard deviation. A single
// value has zero deviation.
func meanStdDev(x []float64) (mean, std float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}

// Ticks returns the kept tick times
func (t *Tracker) Ticks() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.ticks)
}

// Reset clears all recorded ticks
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.raw = t.raw[:0]
	t.ticks = t.ticks[:0]
}

// Config returns the tracker configuration
func (t *Tracker) Config() Config {
	return t.config
}
