package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shohag/hookrelay/internal/config"
)

// New builds the process logger from cfg. The returned closer is non-nil only
// when file output is enabled and must be closed on shutdown.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	return newWithStdout(cfg, os.Stdout)
}

func newWithStdout(cfg config.LoggingConfig, stdout io.Writer) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: stdout}
	}

	var closer io.Closer
	if cfg.File.Path != "" {
		lj := fileWriter(cfg.File)
		// The file always gets JSON, even with console output.
		out = zerolog.MultiLevelWriter(out, lj)
		closer = lj
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer
}

func fileWriter(cfg config.FileConfig) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
	}
}
