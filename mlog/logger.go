package mlog

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, "debug" "info" "warn" "error". Default is "info".
	Level string `yaml:"level"`

	// File that logger will be written into. Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)
	lvl    = zap.NewAtomicLevelAt(zap.InfoLevel)
	root   atomic.Pointer[zap.Logger]
)

func init() {
	root.Store(zap.New(zapcore.NewCore(defaultEncoder(), stderr, lvl)))
}

// NewLogger builds a *zap.Logger from cfg. The returned logger is
// independent of the package-level logger, see SetL.
func NewLogger(cfg *LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if len(cfg.Level) > 0 {
		var ok bool
		level, ok = parseLevel(cfg.Level)
		if !ok {
			return nil, fmt.Errorf("invalid log level %s", cfg.Level)
		}
	}

	ws := zapcore.WriteSyncer(stderr)
	if len(cfg.File) > 0 {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		ws = zapcore.Lock(f)
	}

	var encoder zapcore.Encoder
	if cfg.Production {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encoder = defaultEncoder()
	}
	return zap.New(zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(level))), nil
}

func parseLevel(s string) (zapcore.Level, bool) {
	switch s {
	case "debug":
		return zap.DebugLevel, true
	case "", "info":
		return zap.InfoLevel, true
	case "warn":
		return zap.WarnLevel, true
	case "error":
		return zap.ErrorLevel, true
	}
	return 0, false
}

func defaultEncoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// L returns the package-level logger.
func L() *zap.Logger {
	return root.Load()
}

// SetL replaces the package-level logger.
func SetL(l *zap.Logger) {
	root.Store(l)
}

// S returns the package-level logger as a SugaredLogger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Lvl returns the level of the package-level logger.
func Lvl() zap.AtomicLevel {
	return lvl
}
