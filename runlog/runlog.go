// Package runlog accumulates the human-readable log of one bot run.
//
// Every line is tagged ("[BOT]", "[BOT][AVISO]", "[BOT][ERRO]"), kept in
// order, pushed to an optional caller sink and mirrored to slog.
package runlog

import (
	"fmt"
	"log/slog"
	"sync"
)

// Tags prefixed to every line.
const (
	TagInfo  = "[BOT]"
	TagWarn  = "[BOT][AVISO]"
	TagError = "[BOT][ERRO]"
)

// Sink receives each line as soon as it is logged.
type Sink func(line string)

// Logger is safe for concurrent use: a caller may stream Lines while the run
// is still appending.
type Logger struct {
	mu    sync.Mutex
	lines []string
	sink  Sink
	slog  *slog.Logger
}

// New returns a Logger. sink and logger may be nil.
func New(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{sink: sink, slog: logger}
}

func (l *Logger) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.slog.Info(msg)
	l.append(TagInfo + " " + msg)
}

func (l *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.slog.Warn(msg)
	l.append(TagWarn + " " + msg)
}

func (l *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.slog.Error(msg)
	l.append(TagError + " " + msg)
}

// Raw appends an untagged line, such as a batch separator.
func (l *Logger) Raw(line string) {
	l.append(line)
}

func (l *Logger) append(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(line)
	}
}

// Lines returns a copy of the accumulated lines.
func (l *Logger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Slog returns the structured logger lines are mirrored to.
func (l *Logger) Slog() *slog.Logger { return l.slog }
