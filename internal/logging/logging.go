package logging

import (
	"fmt"
	"strings"

	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. format is "json" (production encoder) or
// "console" (development encoder).
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.TrimSpace(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NSQLogger adapts a zap logger to go-nsq's SetLogger interface.
type NSQLogger struct {
	log *zap.Logger
}

func NewNSQLogger(log *zap.Logger) *NSQLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &NSQLogger{log: log.WithOptions(zap.AddCallerSkip(2))}
}

// Output implements the go-nsq logger interface. go-nsq prefixes each line
// with a three letter level ("INF", "WRN", "ERR", ...).
func (l *NSQLogger) Output(_ int, s string) error {
	s = strings.TrimSpace(s)
	level, msg := "", s
	if len(s) >= 3 {
		level, msg = s[:3], strings.TrimSpace(s[3:])
	}
	switch level {
	case "ERR":
		l.log.Error(msg)
	case "WRN":
		l.log.Warn(msg)
	case "DBG":
		l.log.Debug(msg)
	default:
		l.log.Info(msg)
	}
	return nil
}

// NSQLevel maps a zap level onto go-nsq's log levels.
func NSQLevel(log *zap.Logger) nsq.LogLevel {
	switch {
	case log == nil:
		return nsq.LogLevelError
	case log.Core().Enabled(zapcore.DebugLevel):
		return nsq.LogLevelDebug
	case log.Core().Enabled(zapcore.InfoLevel):
		return nsq.LogLevelInfo
	case log.Core().Enabled(zapcore.WarnLevel):
		return nsq.LogLevelWarning
	default:
		return nsq.LogLevelError
	}
}
