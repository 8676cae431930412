// logger.go - Structured logging for the zsad node
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the log files and the audit logger. Console and file logging go
// through the global zerolog logger so library packages share them.
type Logger struct {
	files []*os.File
	audit *zerolog.Logger
}

// NewLogger configures the global logger from the level name and opens the log
// and audit files. Empty paths disable them.
func NewLogger(level, logFile, auditFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	l := &Logger{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}}
	if logFile != "" {
		f, err := openAppend(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	if auditFile != "" {
		f, err := openAppend(auditFile)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		audit := zerolog.New(f).With().Timestamp().Str("stream", "audit").Logger()
		l.audit = &audit
		log.Logger = log.Logger.Hook(warnToAudit{audit: l.audit})
	}
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// Audit records an audit event.
func (l *Logger) Audit(event string, details map[string]any) {
	if l.audit == nil {
		return
	}
	l.audit.Log().Str("event", event).Fields(details).Msg("audit")
}

// warnToAudit copies warnings and errors into the audit log.
type warnToAudit struct {
	audit *zerolog.Logger
}

func (h warnToAudit) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level >= zerolog.WarnLevel && level < zerolog.NoLevel {
		h.audit.WithLevel(level).Msg(msg)
	}
}
