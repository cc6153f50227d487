// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ColonelBlimp/tickrate/internal/audio"
	"github.com/ColonelBlimp/tickrate/internal/cli/analyze"
	"github.com/ColonelBlimp/tickrate/internal/config"
	"github.com/ColonelBlimp/tickrate/internal/logging"
	"github.com/ColonelBlimp/tickrate/internal/recovery"
)

// captureSource is an analyzer source that owns a device.
type captureSource interface {
	analyze.Source
	Close() error
}

// newSource opens the audio input.
var newSource = func(cfg audio.Config) (captureSource, error) {
	capture := audio.New(cfg)
	if err := capture.Init(); err != nil {
		return nil, fmt.Errorf("init audio: %w", err)
	}
	return capture, nil
}

// newLogger builds the session logger.
var newLogger = logging.New

var rootCmd = &cobra.Command{
	Use:   "tickrate",
	Short: "Clock and watch rate analyzer from microphone input",
	Long: `A real-time tick detector that listens to a mechanical clock or watch,
timestamps each tick and reports the beat rate in minutes gained or lost per day.`,
	SilenceUsage: true,
	RunE:         runAnalyzer,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error { return initConfig() }

	// Global flags (override config file)
	flags := rootCmd.PersistentFlags()
	flags.IntP("device", "d", -1, "audio device index (-1 for default)")
	flags.Float64("highpass", 800, "high-pass cutoff in Hz (0 disables)")
	flags.Float64("lowpass", 5000, "low-pass cutoff in Hz (0 disables)")
	flags.IntP("clicks", "k", 2, "clicks per oscillator cycle (2 for tick-tock, 1 for single click)")
	flags.Float64P("window", "w", 10, "rate averaging window in seconds")
	flags.BoolP("debug", "D", false, "enable debug output")

	rootCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")

	rootCmd.AddCommand(devicesCmd)
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"device":   "device_index",
	"highpass": "highpass_hz",
	"lowpass":  "lowpass_hz",
	"clicks":   "clicks_per_cycle",
	"window":   "window_sec",
	"debug":    "debug",
}

func initConfig() error {
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

func runAnalyzer(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	logger, err := newLogger(settings.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	source, err := newSource(settings.AudioConfig())
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()
	defer recovery.HandlePanicFunc(func() { _ = source.Close() })

	analyzer, err := analyze.NewAnalyzer(settings, source, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	// Filter cutoffs follow edits to the config file while running
	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := config.Watch(watchCtx, applyConfigChange(analyzer, logger)); err != nil {
			logger.Warn("config reload disabled", zap.Error(err))
		}
	}()
	defer func() {
		stopWatch()
		<-watchDone
	}()

	return analyzer.Run(ctx)
}

// applyConfigChange hands reloaded filter cutoffs to the analyzer. A config
// that fails to load or validate is logged and the running cutoffs are kept.
func applyConfigChange(analyzer *analyze.Analyzer, logger *zap.Logger) config.ChangeFunc {
	return func(settings *config.Settings, err error) {
		if err != nil {
			logger.Warn("ignoring config change", zap.Error(err))
			return
		}
		analyzer.SetFilters(settings.HighpassHz, settings.LowpassHz)
	}
}
