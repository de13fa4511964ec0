package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level   string
	File    string
	Verbose bool
	// Quiet drops console output, e.g. when stdout carries the MCP stdio protocol.
	Quiet bool
	// Atomic, when set, receives the resolved level and gates every core so
	// it can be changed at runtime with SetLevel.
	Atomic *zap.AtomicLevel
}

// New builds the application logger: human-readable on stderr, JSON in a
// rotated file when a path is configured.
func New(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	var enabler zapcore.LevelEnabler = level
	if opts.Atomic != nil {
		opts.Atomic.SetLevel(level)
		enabler = *opts.Atomic
	}

	var cores []zapcore.Core

	if !opts.Quiet {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			enabler,
		))
	}

	if opts.File != "" {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		writer := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.AddSync(writer),
			enabler,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// SetLevel parses s and applies it to a level previously passed in Options.Atomic.
func SetLevel(atomic zap.AtomicLevel, s string) error {
	level, err := parseLevel(s)
	if err != nil {
		return err
	}
	atomic.SetLevel(level)
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
