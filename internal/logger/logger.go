package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a sugared zap logger for the named service. Development mode
// logs in a human readable console format, anything else logs JSON.
func New(name string, level zapcore.Level, development bool) *zap.SugaredLogger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	l, err := cfg.Build()
	if err != nil {
		// only fails when the output sink cannot be opened
		l = zap.NewExample()
	}

	return l.Named(name).Sugar()
}
