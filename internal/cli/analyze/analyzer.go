// internal/cli/analyze/analyzer.go
package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ColonelBlimp/tickrate/internal/audio"
	"github.com/ColonelBlimp/tickrate/internal/config"
	"github.com/ColonelBlimp/tickrate/internal/dsp"
	"github.com/ColonelBlimp/tickrate/internal/events"
	"github.com/ColonelBlimp/tickrate/internal/rate"
	"github.com/ColonelBlimp/tickrate/internal/recovery"
)

// histogramWidth is the longest bar drawn in the session histogram.
const histogramWidth = 40

// Source delivers audio blocks to a callback on its own thread.
type Source interface {
	SetCallback(cb audio.BlockCallback)
	Start(ctx context.Context) error
	Stop() error
}

// Analyzer wires a Source through the filter chain and tick detector to the
// rate tracker. Blocks are processed on the source thread; accepted ticks
// cross to a consumer goroutine through a bounded dispatcher.
type Analyzer struct {
	settings config.Settings
	source   Source
	logger   *zap.Logger
	out      io.Writer

	filters    *dsp.FilterChain
	detector   *dsp.TickDetector
	dispatcher *events.Dispatcher
	tracker    *rate.Tracker

	// Owned by the source thread.
	scratch []float32

	// Owned by the reporting loop.
	reportedDropped uint64

	// Called on the consumer goroutine after each tick is recorded.
	tickHook func(event dsp.TickEvent)
}

// NewAnalyzer builds the processing chain from settings.
func NewAnalyzer(settings *config.Settings, source Source, logger *zap.Logger, out io.Writer) (*Analyzer, error) {
	if source == nil {
		return nil, errors.New("nil audio source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}

	filters, err := dsp.NewFilterChain(settings.FilterConfig())
	if err != nil {
		return nil, fmt.Errorf("create filter chain: %w", err)
	}
	detector, err := dsp.NewTickDetector(settings.TickConfig())
	if err != nil {
		return nil, fmt.Errorf("create tick detector: %w", err)
	}
	tracker, err := rate.NewTracker(settings.RateConfig())
	if err != nil {
		return nil, fmt.Errorf("create rate tracker: %w", err)
	}

	a := &Analyzer{
		settings:   *settings,
		source:     source,
		logger:     logger,
		out:        out,
		filters:    filters,
		detector:   detector,
		dispatcher: events.NewDispatcher(events.DefaultQueueSize),
		tracker:    tracker,
		scratch:    make([]float32, settings.BufferSize),
	}
	detector.SetCallback(func(event dsp.TickEvent) {
		a.dispatcher.Post(event)
	})
	return a, nil
}

// Run processes audio until ctx is cancelled, printing a status line every
// report interval. On return the source is stopped, queued ticks have been
// consumed and the session summary has been written.
func (a *Analyzer) Run(ctx context.Context) error {
	a.logger.Info("starting analyzer",
		zap.Float64("sample_rate", a.settings.SampleRate),
		zap.Float64("highpass_hz", a.settings.HighpassHz),
		zap.Float64("lowpass_hz", a.settings.LowpassHz),
		zap.Float64("cooldown_ms", a.settings.CooldownMs),
		zap.Float64("min_snr_db", a.settings.MinSNRDB),
		zap.Int("clicks_per_cycle", a.settings.ClicksPerCycle),
	)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- recovery.Guard(func() error {
			return a.dispatcher.Run(consumerCtx, a.handleTick)
		})
	}()

	a.source.SetCallback(a.processBlock)
	if err := a.source.Start(ctx); err != nil {
		a.source.SetCallback(nil)
		stopConsumer()
		<-consumerDone
		return fmt.Errorf("start audio: %w", err)
	}

	ticker := time.NewTicker(a.settings.ReportInterval())
	defer ticker.Stop()

	var runErr error
	consumerExited := false
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-consumerDone:
			consumerExited = true
			runErr = fmt.Errorf("tick consumer: %w", err)
			break loop
		case <-ticker.C:
			a.report()
		}
	}

	if err := a.source.Stop(); err != nil && !errors.Is(err, audio.ErrNotRunning) {
		a.logger.Warn("stop audio", zap.Error(err))
	}
	a.source.SetCallback(nil)

	if !consumerExited {
		stopConsumer()
		if err := <-consumerDone; err != nil {
			runErr = fmt.Errorf("tick consumer: %w", err)
		}
	}

	a.summarize()
	a.logger.Info("analyzer stopped")
	return runErr
}

// processBlock runs on the source thread.
func (a *Analyzer) processBlock(block dsp.Block) {
	if cap(a.scratch) < len(block.Samples) {
		a.scratch = make([]float32, len(block.Samples))
	}
	n := a.filters.Process(a.scratch[:len(block.Samples)], block.Samples)
	a.detector.Process(dsp.Block{
		Samples:    a.scratch[:n],
		SampleRate: block.SampleRate,
		StartTime:  block.StartTime,
	})
}

// handleTick runs on the consumer goroutine.
func (a *Analyzer) handleTick(event dsp.TickEvent) {
	kept := a.tracker.Add(event)
	a.logger.Debug("tick",
		zap.Float64("t", event.Timestamp),
		zap.Float64("confidence", event.Confidence),
		zap.Bool("kept", kept),
	)
	if a.tickHook != nil {
		a.tickHook(event)
	}
}

// SetFilters changes the front-end cutoffs while running. The new
// coefficients take effect at the next block.
func (a *Analyzer) SetFilters(highpassHz, lowpassHz float64) {
	a.filters.SetHighpass(highpassHz)
	a.filters.SetLowpass(lowpassHz)
	a.logger.Info("filters updated",
		zap.Float64("highpass_hz", highpassHz),
		zap.Float64("lowpass_hz", lowpassHz),
	)
}

// Tracker returns the rate tracker fed by this analyzer.
func (a *Analyzer) Tracker() *rate.Tracker {
	return a.tracker
}

// Filters returns the current front-end configuration.
func (a *Analyzer) Filters() dsp.FilterConfig {
	return a.filters.Config()
}

// DetectorStats returns the gate counters. Only call it once Run has returned.
func (a *Analyzer) DetectorStats() dsp.TickStats {
	return a.detector.Stats()
}

// Dropped returns how many ticks were lost between detector and consumer.
func (a *Analyzer) Dropped() uint64 {
	return a.dispatcher.Dropped()
}

func (a *Analyzer) report() {
	if dropped := a.dispatcher.Dropped(); dropped > a.reportedDropped {
		a.logger.Warn("tick events dropped",
			zap.Uint64("dropped", dropped-a.reportedDropped),
			zap.Uint64("total", dropped),
		)
		a.reportedDropped = dropped
	}

	stats := a.tracker.Stats()
	if !stats.Ready {
		_, _ = fmt.Fprintf(a.out, "listening: %d/%d ticks\n", stats.Ticks, a.settings.MinTicks)
		return
	}
	_, _ = fmt.Fprintf(a.out, "%.5f Hz (sd %.5f)  window %.5f Hz  %+.2f min/day  %d ticks\n",
		stats.MeanHz, stats.StdHz, stats.WindowHz, stats.MinutesPerDay, stats.Ticks)
}

func (a *Analyzer) summarize() {
	summary := a.tracker.Summary()
	gates := a.detector.Stats()

	a.logger.Info("session summary",
		zap.Int("raw_ticks", summary.RawTicks),
		zap.Int("intervals", summary.Intervals),
		zap.Float64("mean_hz", summary.MeanHz),
		zap.Float64("std_hz", summary.StdHz),
		zap.Float64("minutes_per_day", summary.MinutesPerDay),
		zap.Float64("mean_confidence", summary.MeanConfidence),
		zap.Uint64("candidates", gates.Candidates),
		zap.Uint64("echo_rejected", gates.EchoRejected),
		zap.Uint64("cooldown_rejected", gates.CooldownRejected),
		zap.Uint64("rhythm_rejected", gates.RhythmRejected),
		zap.Uint64("relocks", gates.Relocks),
		zap.Uint64("dropped", a.dispatcher.Dropped()),
	)

	if summary.Intervals == 0 {
		return
	}
	_, _ = fmt.Fprintf(a.out, "\n%d ticks, %.5f Hz (sd %.5f), %+.2f min/day\n",
		summary.RawTicks, summary.MeanHz, summary.StdHz, summary.MinutesPerDay)
	writeHistogram(a.out, a.tracker.Histogram(a.settings.HistogramBins))
}

func writeHistogram(w io.Writer, h rate.Histogram) {
	var peak float64
	for _, c := range h.Counts {
		peak = max(peak, c)
	}
	if peak == 0 {
		return
	}
	for i, c := range h.Counts {
		bar := strings.Repeat("#", int(c/peak*histogramWidth+0.5))
		_, _ = fmt.Fprintf(w, "%.5f-%.5f Hz |%-*s %d\n", h.Edges[i], h.Edges[i+1], histogramWidth, bar, int(c))
	}
}
