// Package log adapts a structured logger to other logging interfaces.
package log

import (
	stdlog "log"
	"strings"

	"github.com/hamba/pkg/log"
)

// Level is the log level lines are written at.
type Level int

// The log level constants.
const (
	Debug Level = iota
	Info
	Error
)

// Bridge writes standard logger lines to a structured logger.
type Bridge struct {
	log    log.Logger
	lvl    Level
	prefix string
}

// NewBridge returns a standard logger writing to l.
func NewBridge(l log.Logger, lvl Level, prefix string) *stdlog.Logger {
	return stdlog.New(&Bridge{
		log:    l,
		lvl:    lvl,
		prefix: prefix,
	}, "", 0)
}

// Write writes a log line.
func (b *Bridge) Write(p []byte) (n int, err error) {
	line := b.prefix + strings.TrimRight(string(p), "\n")

	switch b.lvl {
	case Debug:
		b.log.Debug(line)
	case Error:
		b.log.Error(line)
	default:
		b.log.Info(line)
	}

	return len(p), nil
}
