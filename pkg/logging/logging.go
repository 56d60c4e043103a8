// Package logging builds the zap loggers used across flowgraph.
//
// Debug output is enabled with the -debug flag or by setting FLOWGRAPH_DEBUG:
//
//	FLOWGRAPH_DEBUG=1 flowgraph -csv flows.csv
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEnvVar enables debug logging when set to a non-empty value other than 0/false.
const DebugEnvVar = "FLOWGRAPH_DEBUG"

// Options configures New.
type Options struct {
	Debug bool // force debug level
	JSON  bool // production JSON encoder instead of the console encoder
	File  string // log file path; empty logs to stderr
}

// DebugFromEnv reports whether FLOWGRAPH_DEBUG asks for debug logging.
func DebugFromEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(DebugEnvVar)))
	switch v {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// New builds a logger writing to stderr, or to opts.File when set.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if opts.File != "" {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		cfg.DisableStacktrace = true
	}

	level := zap.InfoLevel
	if opts.Debug || DebugFromEnv() {
		level = zap.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	out := "stderr"
	if opts.File != "" {
		out = opts.File
	}
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{out}

	return cfg.Build()
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger { return zap.NewNop() }

// RowWarning returns a warning handler that logs row-level problems at Warn
// and then calls next, if any.
func RowWarning(log *zap.Logger, stage string, next func(error)) func(error) {
	return func(err error) {
		log.Warn("skipping row", zap.String("stage", stage), zap.Error(err))
		if next != nil {
			next(err)
		}
	}
}
