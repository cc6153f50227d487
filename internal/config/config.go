// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/tickrate/internal/audio"
	"github.com/ColonelBlimp/tickrate/internal/dsp"
	"github.com/ColonelBlimp/tickrate/internal/rate"
)

const (
	AppName       = "tickrate"
	ConfigType    = "yaml"
	DefaultConfig = `# Tick Rate Analyzer Configuration

# Audio device settings
device_index: -1        # -1 for default device
sample_rate: 48000      # Audio sample rate in Hz
buffer_size: 512        # Frames per audio callback

# Front-end band-pass (0 disables a stage)
highpass_hz: 800        # Removes room rumble and handling noise
lowpass_hz: 5000        # Removes hiss above the tick band
filter_q: 0.7071        # Q of both filter sections (0.7071 = Butterworth)

# Tick detection
cooldown_ms: 130        # Minimum spacing between accepted ticks
echo_gate_ms: 20        # Rejects reflections this soon after a tick
tau_env_ms: 8           # Envelope time constant (fast)
tau_noise_ms: 600       # Noise floor time constant (slow, must exceed tau_env_ms)
hyst_db: 6              # Gap between burst start and end thresholds
min_snr_db: 6           # Burst start threshold above the noise floor
period_m: 7             # Periods used for the expected beat period
pred_tol_pct: 0.28      # Accepted deviation from the expected period (0.0-1.0)
warmup_ms: 100          # Lets the noise floor settle before detecting

# Rate analysis
clicks_per_cycle: 2     # 2 for a pendulum (tick + tock), 1 for single-click
window_sec: 10          # Span of the windowed rate average
debounce_ms: 200        # Ignore ticks closer than this for statistics
min_ticks: 6            # Ticks needed before statistics are shown
max_ticks: 10000        # Tick history kept
histogram_bins: 24      # Bins in the session frequency histogram

# Output
report_interval_ms: 1000  # Status line interval
debug: false              # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int     `mapstructure:"device_index"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	BufferSize  int     `mapstructure:"buffer_size"`

	// Front-end filters
	HighpassHz float64 `mapstructure:"highpass_hz"`
	LowpassHz  float64 `mapstructure:"lowpass_hz"`
	FilterQ    float64 `mapstructure:"filter_q"`

	// Tick detection
	CooldownMs float64 `mapstructure:"cooldown_ms"`
	EchoGateMs float64 `mapstructure:"echo_gate_ms"`
	TauEnvMs   float64 `mapstructure:"tau_env_ms"`
	TauNoiseMs float64 `mapstructure:"tau_noise_ms"`
	HystDB     float64 `mapstructure:"hyst_db"`
	MinSNRDB   float64 `mapstructure:"min_snr_db"`
	PeriodM    int     `mapstructure:"period_m"`
	PredTolPct float64 `mapstructure:"pred_tol_pct"`
	WarmupMs   float64 `mapstructure:"warmup_ms"`

	// Rate analysis
	ClicksPerCycle int     `mapstructure:"clicks_per_cycle"`
	WindowSec      float64 `mapstructure:"window_sec"`
	DebounceMs     float64 `mapstructure:"debounce_ms"`
	MinTicks       int     `mapstructure:"min_ticks"`
	MaxTicks       int     `mapstructure:"max_ticks"`
	HistogramBins  int     `mapstructure:"histogram_bins"`

	// Output
	ReportIntervalMs int  `mapstructure:"report_interval_ms"`
	Debug            bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/tickrate/
func Init() error {
	// Set defaults
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("buffer_size", 512)
	viper.SetDefault("highpass_hz", 800)
	viper.SetDefault("lowpass_hz", 5000)
	viper.SetDefault("filter_q", 0.7071)
	viper.SetDefault("cooldown_ms", 130)
	viper.SetDefault("echo_gate_ms", 20)
	viper.SetDefault("tau_env_ms", 8)
	viper.SetDefault("tau_noise_ms", 600)
	viper.SetDefault("hyst_db", 6)
	viper.SetDefault("min_snr_db", 6)
	viper.SetDefault("period_m", 7)
	viper.SetDefault("pred_tol_pct", 0.28)
	viper.SetDefault("warmup_ms", 100)
	viper.SetDefault("clicks_per_cycle", 2)
	viper.SetDefault("window_sec", 10)
	viper.SetDefault("debounce_ms", 200)
	viper.SetDefault("min_ticks", 6)
	viper.SetDefault("max_ticks", 10000)
	viper.SetDefault("histogram_bins", 24)
	viper.SetDefault("report_interval_ms", 1000)
	viper.SetDefault("debug", false)

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.DeviceIndex < -1 {
		errs = append(errs, fmt.Errorf("device_index must be -1 (default) or a device index, got %d", s.DeviceIndex))
	}
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}
	if s.BufferSize&(s.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_size should be a power of 2, got %d", s.BufferSize))
	}

	// Front-end filters
	if s.HighpassHz < 0 || s.HighpassHz > 20000 {
		errs = append(errs, fmt.Errorf("highpass_hz must be between 0 and 20000 Hz, got %v", s.HighpassHz))
	}
	if s.LowpassHz < 0 || s.LowpassHz > 96000 {
		errs = append(errs, fmt.Errorf("lowpass_hz must be between 0 and 96000 Hz, got %v", s.LowpassHz))
	}
	if s.HighpassHz > 0 && s.LowpassHz > 0 && s.HighpassHz >= s.LowpassHz {
		errs = append(errs, fmt.Errorf("highpass_hz (%v Hz) must be below lowpass_hz (%v Hz)", s.HighpassHz, s.LowpassHz))
	}
	if s.FilterQ < 0.1 || s.FilterQ > 20 {
		errs = append(errs, fmt.Errorf("filter_q must be between 0.1 and 20, got %v", s.FilterQ))
	}

	// Tick detection
	if s.CooldownMs < 0 || s.CooldownMs > 5000 {
		errs = append(errs, fmt.Errorf("cooldown_ms must be between 0 and 5000, got %v", s.CooldownMs))
	}
	if s.EchoGateMs < 0 || s.EchoGateMs > 1000 {
		errs = append(errs, fmt.Errorf("echo_gate_ms must be between 0 and 1000, got %v", s.EchoGateMs))
	}
	if s.TauEnvMs < 0.1 || s.TauEnvMs > 1000 {
		errs = append(errs, fmt.Errorf("tau_env_ms must be between 0.1 and 1000, got %v", s.TauEnvMs))
	}
	if s.TauNoiseMs <= s.TauEnvMs || s.TauNoiseMs > 60000 {
		errs = append(errs, fmt.Errorf("tau_noise_ms must exceed tau_env_ms (%v) and be at most 60000, got %v", s.TauEnvMs, s.TauNoiseMs))
	}
	if s.HystDB < 0 || s.HystDB > 40 {
		errs = append(errs, fmt.Errorf("hyst_db must be between 0 and 40, got %v", s.HystDB))
	}
	if s.MinSNRDB < 0 || s.MinSNRDB > 60 {
		errs = append(errs, fmt.Errorf("min_snr_db must be between 0 and 60, got %v", s.MinSNRDB))
	}
	if s.PeriodM < 1 || s.PeriodM > 64 {
		errs = append(errs, fmt.Errorf("period_m must be between 1 and 64, got %d", s.PeriodM))
	}
	if s.PredTolPct <= 0 || s.PredTolPct > 1 {
		errs = append(errs, fmt.Errorf("pred_tol_pct must be greater than 0.0 and at most 1.0, got %v", s.PredTolPct))
	}
	if s.WarmupMs < 0 || s.WarmupMs > 60000 {
		errs = append(errs, fmt.Errorf("warmup_ms must be between 0 and 60000, got %v", s.WarmupMs))
	}

	// Rate analysis
	if s.ClicksPerCycle < 1 || s.ClicksPerCycle > 2 {
		errs = append(errs, fmt.Errorf("clicks_per_cycle must be 1 or 2, got %d", s.ClicksPerCycle))
	}
	if s.WindowSec < 1 || s.WindowSec > 3600 {
		errs = append(errs, fmt.Errorf("window_sec must be between 1 and 3600, got %v", s.WindowSec))
	}
	if s.DebounceMs < 0 || s.DebounceMs > 2000 {
		errs = append(errs, fmt.Errorf("debounce_ms must be between 0 and 2000, got %v", s.DebounceMs))
	}
	if s.MinTicks < 3 || s.MinTicks > 1000 {
		errs = append(errs, fmt.Errorf("min_ticks must be between 3 and 1000, got %d", s.MinTicks))
	}
	if s.MaxTicks < s.MinTicks || s.MaxTicks > 1000000 {
		errs = append(errs, fmt.Errorf("max_ticks must be between min_ticks (%d) and 1000000, got %d", s.MinTicks, s.MaxTicks))
	}
	if s.HistogramBins < 1 || s.HistogramBins > 256 {
		errs = append(errs, fmt.Errorf("histogram_bins must be between 1 and 256, got %d", s.HistogramBins))
	}

	// Output
	if s.ReportIntervalMs < 100 || s.ReportIntervalMs > 60000 {
		errs = append(errs, fmt.Errorf("report_interval_ms must be between 100 and 60000, got %d", s.ReportIntervalMs))
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"sample_rate", s.SampleRate}, {"highpass_hz", s.HighpassHz}, {"lowpass_hz", s.LowpassHz},
		{"filter_q", s.FilterQ}, {"cooldown_ms", s.CooldownMs}, {"echo_gate_ms", s.EchoGateMs},
		{"tau_env_ms", s.TauEnvMs}, {"tau_noise_ms", s.TauNoiseMs}, {"hyst_db", s.HystDB},
		{"min_snr_db", s.MinSNRDB}, {"pred_tol_pct", s.PredTolPct}, {"warmup_ms", s.WarmupMs},
		{"window_sec", s.WindowSec}, {"debounce_ms", s.DebounceMs},
	} {
		if math.IsNaN(f.value) {
			errs = append(errs, fmt.Errorf("%s must be a number, got NaN", f.name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TickConfig returns the tick detector configuration
func (s *Settings) TickConfig() dsp.TickConfig {
	return dsp.TickConfig{
		CooldownMs:          s.CooldownMs,
		EchoGateMs:          s.EchoGateMs,
		TauEnvMs:            s.TauEnvMs,
		TauNoiseMs:          s.TauNoiseMs,
		HysteresisDB:        s.HystDB,
		MinSNRDB:            s.MinSNRDB,
		PeriodHistory:       s.PeriodM,
		PredictionTolerance: s.PredTolPct,
		WarmupMs:            s.WarmupMs,
	}
}

// FilterConfig returns the front-end filter configuration
func (s *Settings) FilterConfig() dsp.FilterConfig {
	return dsp.FilterConfig{
		SampleRate: s.SampleRate,
		HighpassHz: s.HighpassHz,
		LowpassHz:  s.LowpassHz,
		Q:          s.FilterQ,
	}
}

// AudioConfig returns the capture configuration
func (s *Settings) AudioConfig() audio.Config {
	return audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		BufferSize:  uint32(s.BufferSize),
	}
}

// RateConfig returns the rate analysis configuration
func (s *Settings) RateConfig() rate.Config {
	return rate.Config{
		ClicksPerCycle: s.ClicksPerCycle,
		WindowSec:      s.WindowSec,
		DebounceMs:     s.DebounceMs,
		MinTicks:       s.MinTicks,
		MaxTicks:       s.MaxTicks,
	}
}

// ReportInterval returns the status line interval
func (s *Settings) ReportInterval() time.Duration {
	return time.Duration(s.ReportIntervalMs) * time.Millisecond
}
