// internal/logging/logging.go
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the console logger used by the CLI. Debug enables debug-level
// records and caller annotations.
func New(debug bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	config.DisableStacktrace = true
	config.Level = zap.NewAtomicLevelAt(LevelFor(debug))
	if !debug {
		config.DisableCaller = true
	}
	return config.Build()
}

// NewWriter builds a plain console logger that writes to w.
func NewWriter(w io.Writer, debug bool) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(LevelFor(debug)),
	)
	return zap.New(core)
}

// LevelFor maps the debug flag to a zap level.
func LevelFor(debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
