// Package logging hands out per-component logrus loggers.
//
// Every component calls NewLogger once and keeps the entry. Configure, called
// by the CLI before anything logs, sets the level, the format and an optional
// rotating log file that every logger shares.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how loggers are built.
type Options struct {
	// Level is a logrus level name. BUTLERD_LOG_LEVEL overrides it.
	Level string

	// Format is "text", "json" or "" for text on a terminal and JSON
	// otherwise.
	Format string

	// File, when set, receives a copy of every log line. It is rotated by
	// size.
	File string

	// MaxSizeMB and MaxBackups bound the rotated file. Zero uses defaults.
	MaxSizeMB  int
	MaxBackups int
}

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	base    *logrus.Logger
	fileOut io.WriteCloser
)

// Configure rebuilds the shared logger from opts. Loggers handed out before
// the call pick up the new settings.
func Configure(opts Options) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	logger := baseLogger()

	levelStr := "info"
	if env := os.Getenv("BUTLERD_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if opts.Level != "" {
		levelStr = opts.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	switch strings.ToLower(opts.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		if interactive {
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
	}

	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}

	writers := []io.Writer{os.Stderr}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 50
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		fileOut = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		}
		writers = append(writers, fileOut)
	}

	if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else {
		logger.SetOutput(io.MultiWriter(writers...))
	}
}

// NewLogger returns the logger for component, creating it on first use.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	entry := baseLogger().WithField("component", component)
	loggers[component] = entry
	return entry
}

// SetOutput redirects every logger, mainly for tests.
func SetOutput(w io.Writer) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	baseLogger().SetOutput(w)
}

// baseLogger must be called with loggersMu held.
func baseLogger() *logrus.Logger {
	if base == nil {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		if env := os.Getenv("BUTLERD_LOG_LEVEL"); env != "" {
			if level, err := logrus.ParseLevel(env); err == nil {
				base.SetLevel(level)
			}
		}
	}
	return base
}
