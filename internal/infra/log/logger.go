package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Option настраивает логгер.
type Option func(*options)

type options struct {
	file       string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

// WithFile дублирует логи в файл с ротацией.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithRotation задаёт параметры ротации файла.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// NewLogger создаёт настроенный zerolog.
func NewLogger(appEnv string, opts ...Option) zerolog.Logger {
	o := options{maxSizeMB: 50, maxBackups: 5, maxAgeDays: 14}
	for _, opt := range opts {
		opt(&o)
	}

	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stdout
	if o.file != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
			Compress:   true,
		})
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(out).With().Timestamp().Logger().Level(level)
}
