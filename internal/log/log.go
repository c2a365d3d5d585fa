// Package log provides the Logger{Name: ...} call shape used across the
// storage modules, backed by hclog rather than a hand-rolled writer.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	rootMu   sync.Mutex
	rootLog  hclog.Logger
)

func root() hclog.Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	if rootLog == nil {
		rootLog = hclog.New(&hclog.LoggerOptions{
			Name:   "localbox",
			Output: os.Stderr,
			Level:  hclog.Info,
		})
	}
	return rootLog
}

// Logger mirrors the teacher's framework/log.Logger{Name: ..., Debug: ...}
// struct-literal idiom: a named, optionally verbose logger handle that is
// cheap to construct and passed by value.
type Logger struct {
	Name  string
	Debug bool

	once sync.Once
	hl   hclog.Logger
}

func (l *Logger) hclog() hclog.Logger {
	l.once.Do(func() {
		l.hl = root().Named(l.Name)
		if l.Debug {
			l.hl.SetLevel(hclog.Debug)
		}
	})
	return l.hl
}

// Println logs an informational line, args alternating key/value the way
// hclog expects.
func (l *Logger) Println(args ...interface{}) {
	l.hclog().Info("", argsToKV("msg", args)...)
}

// Printf logs a formatted informational line.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.hclog().Info(sprintf(format, args...))
}

// Error logs an error-level message with context key/values.
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.hclog().Error(msg, kv...)
}

// Debugf logs at debug level only when this Logger has Debug set.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.Debug {
		return
	}
	l.hclog().Debug(sprintf(format, args...))
}

func argsToKV(key string, args []interface{}) []interface{} {
	return append([]interface{}{key}, args...)
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
