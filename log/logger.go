/*
 *
 * pausesim - playback interruption experiments driven through a browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package log

import (
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a logrus logger that tags every entry with a category and the
// time elapsed since the previous entry.
type Logger struct {
	logrus.FieldLogger

	mu             sync.Mutex
	lastLogCall    int64
	level          logrus.Level
	categoryFilter *regexp.Regexp
	fields         logrus.Fields
}

// New creates a new logger.
func New(logger *logrus.Logger, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{
		FieldLogger:    logger,
		level:          logger.GetLevel(),
		categoryFilter: categoryFilter,
	}
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(log, nil)
}

// Options configures a logger built by NewFromOptions.
type Options struct {
	Level          string
	CategoryFilter string
	// File, if set, additionally writes entries to a rotated log file.
	File string
	// Output is the console writer.
	Output io.Writer
}

// NewFromOptions builds a logger writing to opts.Output and, optionally, to
// a rotated file.
func NewFromOptions(opts Options) (*Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", opts.Level, err)
		}
		l.SetLevel(lvl)
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	if opts.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // MB
			MaxBackups: 3,
			Compress:   true,
		})
	}
	l.SetOutput(out)

	var filter *regexp.Regexp
	if opts.CategoryFilter != "" {
		var err error
		if filter, err = regexp.Compile(opts.CategoryFilter); err != nil {
			return nil, fmt.Errorf("compiling category filter %q: %w", opts.CategoryFilter, err)
		}
	}

	return New(l, filter), nil
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields logrus.Fields) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		FieldLogger:    l.FieldLogger,
		level:          l.level,
		categoryFilter: l.categoryFilter,
		fields:         merged,
	}
}

func (l *Logger) Tracef(category string, msg string, args ...interface{}) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...interface{}) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

// Logf logs msg at level, unless the level or the category is filtered out.
func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...interface{}) {
	if l == nil {
		return
	}
	// don't log if the current log level isn't in the required level.
	if l.level < level {
		return
	}
	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		return
	}

	l.mu.Lock()
	now := time.Now().UnixNano() / int64(time.Millisecond)
	elapsed := now - l.lastLogCall
	if l.lastLogCall == 0 {
		elapsed = 0
	}
	l.lastLogCall = now
	fields := make(logrus.Fields, len(l.fields)+2)
	for k, v := range l.fields {
		fields[k] = v
	}
	l.mu.Unlock()

	fields["category"] = category
	fields["elapsed"] = fmt.Sprintf("%d ms", elapsed)

	entry := l.WithFields(fields)
	switch level {
	case logrus.TraceLevel:
		entry.Tracef(msg, args...)
	case logrus.DebugLevel:
		entry.Debugf(msg, args...)
	case logrus.InfoLevel:
		entry.Infof(msg, args...)
	case logrus.WarnLevel:
		entry.Warnf(msg, args...)
	default:
		entry.Errorf(msg, args...)
	}
}

// DebugMode returns true if the logger level is set to Debug or higher.
func (l *Logger) DebugMode() bool {
	return l != nil && l.level >= logrus.DebugLevel
}
