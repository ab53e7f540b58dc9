/*
 *   Copyright 2023 Martin Proffitt <mproffitt@choclab.net>
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */
// Package logging provides a small leveled logger that writes logfmt style
// key/value pairs through the standard library log package.
//
// The logger can be carried on a context.Context so that code deep in the
// call tree logs through whatever logger the command configured:
//
//	ctx = logging.WithLogger(ctx, logging.New(os.Stderr, logging.LevelDebug))
//	logging.Debug(ctx, "unlocked session", "email", email)
//
// Key material must never be passed as a pair value.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelQuiet
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "quiet"
}

func (l Level) prefix() string {
	var p string = "[" + l.String() + "] "
	switch l {
	case LevelDebug:
		return color.CyanString(p)
	case LevelInfo:
		return color.GreenString(p)
	case LevelWarn:
		return color.YellowString(p)
	}
	return color.RedString(p)
}

// Logger represents a structured leveled logger.
type Logger interface {
	Debug(msg string, pairs ...any)
	Info(msg string, pairs ...any)
	Warn(msg string, pairs ...any)
	Error(msg string, pairs ...any)
}

type logger struct {
	sync.Mutex
	*log.Logger
	level Level
}

// New creates a logger writing to w which discards anything below level.
func New(w io.Writer, level Level) Logger {
	return &logger{
		Logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// Wrap adapts an existing log.Logger
func Wrap(l *log.Logger, level Level) Logger {
	return &logger{Logger: l, level: level}
}

// Levels maps the debug and quiet command line switches to a level
func Levels(debug, quiet bool) Level {
	switch {
	case quiet:
		return LevelQuiet
	case debug:
		return LevelDebug
	}
	return LevelInfo
}

func (l *logger) log(level Level, msg string, pairs ...any) {
	if level < l.level {
		return
	}
	l.Lock()
	defer l.Unlock()

	if m := message(pairs...); m != "" {
		l.Println(level.prefix()+msg, m)
		return
	}
	l.Println(level.prefix() + msg)
}

func (l *logger) Debug(msg string, pairs ...any) { l.log(LevelDebug, msg, pairs...) }
func (l *logger) Info(msg string, pairs ...any)  { l.log(LevelInfo, msg, pairs...) }
func (l *logger) Warn(msg string, pairs ...any)  { l.log(LevelWarn, msg, pairs...) }
func (l *logger) Error(msg string, pairs ...any) { l.log(LevelError, msg, pairs...) }

// message renders pairs in logfmt. An uneven trailing value is appended as
// a plain string.
func message(pairs ...any) string {
	if len(pairs) == 1 {
		return fmt.Sprintf("%v", pairs[0])
	}

	var parts []string
	for i := 0; i < len(pairs); i += 2 {
		if len(pairs) == i+1 {
			parts = append(parts, fmt.Sprintf("%v", pairs[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%v", pairs[i], pairs[i+1]))
		}
	}
	return strings.Join(parts, " ")
}

type key int

const loggerKey key = iota

var (
	defaultLogger Logger = New(io.Discard, LevelQuiet)
	defaultLock          = &sync.RWMutex{}
)

// SetDefault replaces the logger used when a context carries none
func SetDefault(l Logger) {
	defaultLock.Lock()
	defer defaultLock.Unlock()
	defaultLogger = l
}

func Default() Logger {
	defaultLock.RLock()
	defer defaultLock.RUnlock()
	return defaultLogger
}

// WithLogger inserts a Logger into the provided context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the context logger or the default logger
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(Logger); ok {
			return l
		}
	}
	return Default()
}

func Debug(ctx context.Context, msg string, pairs ...any) { FromContext(ctx).Debug(msg, pairs...) }
func Info(ctx context.Context, msg string, pairs ...any)  { FromContext(ctx).Info(msg, pairs...) }
func Warn(ctx context.Context, msg string, pairs ...any)  { FromContext(ctx).Warn(msg, pairs...) }
func Error(ctx context.Context, msg string, pairs ...any) { FromContext(ctx).Error(msg, pairs...) }
