// Package logging builds the zap loggers used across searchmeter.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encodings
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config controls the logger built by New
type Config struct {
	Level            string   `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format           string   `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	OutputPaths      []string `yaml:"output_paths" json:"output_paths"`
	ErrorOutputPaths []string `yaml:"error_output_paths" json:"error_output_paths"`
	DisableCaller    bool     `yaml:"disable_caller" json:"disable_caller"`
	// Sampling keeps the first 100 entries per second of each message, then one in 100
	Sampling bool `yaml:"sampling" json:"sampling"`
}

// Default returns an info-level console logger config writing to stderr
func Default() Config {
	return Config{
		Level:            "info",
		Format:           FormatConsole,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// New creates a logger from cfg
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.TimeKey = "ts"
	zapConfig.EncoderConfig.LevelKey = "level"
	zapConfig.EncoderConfig.MessageKey = "msg"
	zapConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	switch strings.ToLower(cfg.Format) {
	case "", FormatConsole:
		zapConfig.Encoding = FormatConsole
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case FormatJSON:
		zapConfig.Encoding = FormatJSON
		zapConfig.EncoderConfig.EncodeTime = zapcore.EpochTimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.DisableCaller {
		zapConfig.EncoderConfig.CallerKey = ""
	}
	if cfg.Sampling {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	} else {
		zapConfig.Sampling = nil
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = cfg.OutputPaths
	zapConfig.ErrorOutputPaths = cfg.ErrorOutputPaths

	return zapConfig.Build(
		zap.AddStacktrace(zapcore.DPanicLevel), // Only stacktrace for critical errors
	)
}

// ParseLevel maps a level name to a zap level; empty means info
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
