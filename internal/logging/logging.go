// Package logging provides the structured logger shared by every
// component of the node.
package logging

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the textual form of a level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger is a leveled, component-scoped logger wrapping the stdlib
// log.Logger.
type Logger struct {
	component string
	level     Level
	logger    *log.Logger
}

// New creates a logger for a named component.
func New(component string, level Level) *Logger {
	return &Logger{
		component: component,
		level:     level,
		logger:    log.New(os.Stdout, "", 0),
	}
}

func (l *Logger) shouldLog(level Level) bool {
	return level >= l.level
}

func (l *Logger) formatMessage(level Level, msg string, fields Fields) string {
	formatted := fmt.Sprintf("[%s] %s %s: %s",
		time.Now().Format(time.RFC3339), level.String(), l.component, msg)

	if len(fields) > 0 {
		formatted += " |"
		for k, v := range fields {
			formatted += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return formatted
}

func (l *Logger) log(level Level, msg string, fields ...Fields) {
	if !l.shouldLog(level) {
		return
	}
	var f Fields
	if len(fields) > 0 {
		f = fields[0]
	}
	l.logger.Println(l.formatMessage(level, msg, f))
	if level == LevelFatal {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Fields) { l.log(LevelFatal, msg, fields...) }

// With returns a child logger that always attaches the given fields.
func (l *Logger) With(fields Fields) *Context {
	return &Context{logger: l, fields: fields}
}

// Context is a Logger bound to a fixed set of fields.
type Context struct {
	logger *Logger
	fields Fields
}

func (c *Context) merge(extra Fields) Fields {
	merged := make(Fields, len(c.fields)+len(extra))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (c *Context) Debug(msg string, fields ...Fields) {
	var e Fields
	if len(fields) > 0 {
		e = fields[0]
	}
	c.logger.log(LevelDebug, msg, c.merge(e))
}

func (c *Context) Info(msg string, fields ...Fields) {
	var e Fields
	if len(fields) > 0 {
		e = fields[0]
	}
	c.logger.log(LevelInfo, msg, c.merge(e))
}

func (c *Context) Warn(msg string, fields ...Fields) {
	var e Fields
	if len(fields) > 0 {
		e = fields[0]
	}
	c.logger.log(LevelWarn, msg, c.merge(e))
}

func (c *Context) Error(msg string, fields ...Fields) {
	var e Fields
	if len(fields) > 0 {
		e = fields[0]
	}
	c.logger.log(LevelError, msg, c.merge(e))
}
