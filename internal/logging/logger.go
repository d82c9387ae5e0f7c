// Package logging builds the zap loggers used by the commands.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EntriesTotal counts written log entries by level.
var EntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nns_log_entries_total",
		Help: "Log entries written, by level",
	},
	[]string{"level"},
)

// Config selects the encoder, level and sink.
type Config struct {
	Format string              // "json" or "text"
	Level  string              // debug, info, warn, error
	Output zapcore.WriteSyncer // defaults to stderr
}

// New returns a logger for cfg. Every entry it writes also bumps
// EntriesTotal.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := cfg.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(ec)
	case "", "json":
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "ts"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	core := &countingCore{Core: zapcore.NewCore(enc, out, level)}
	return zap.New(core, zap.AddCaller()), nil
}

// ParseLevel accepts the usual level names; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if strings.EqualFold(s, "warning") {
		return zapcore.WarnLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// countingCore increments EntriesTotal for each entry it writes.
type countingCore struct {
	zapcore.Core
}

func (c *countingCore) With(fields []zapcore.Field) zapcore.Core {
	return &countingCore{Core: c.Core.With(fields)}
}

//nolint:gocritic // zapcore.Core takes Entry by value
func (c *countingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

//nolint:gocritic // zapcore.Core takes Entry by value
func (c *countingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	EntriesTotal.WithLabelValues(ent.Level.String()).Inc()
	return c.Core.Write(ent, fields)
}
