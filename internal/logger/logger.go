// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides a simple logging interface
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
	With(key string, value interface{}) Logger
}

// Config selects level, format and an optional rotating log file
type Config struct {
	Level          string `yaml:"level"`  // debug|info|warn|error
	Format         string `yaml:"format"` // json|console
	File           string `yaml:"file"`   // "" disables the file writer
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
	FileCompress   bool   `yaml:"file_compress"`
}

type defaultLogger struct {
	z zerolog.Logger
}

// New creates a logger writing to stdout (and the configured file)
func New(prefix string, config Config) Logger {
	var writers []io.Writer
	if strings.ToLower(config.Format) == "console" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}
	if config.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    orDefault(config.FileMaxSizeMB, 50),
			MaxBackups: orDefault(config.FileMaxBackups, 3),
			MaxAge:     orDefault(config.FileMaxAgeDays, 7),
			Compress:   config.FileCompress,
		})
	}
	return NewWithWriter(prefix, config.Level, io.MultiWriter(writers...))
}

// NewWithWriter creates a JSON logger on w
func NewWithWriter(prefix, level string, w io.Writer) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Str("svc", prefix).Logger()
	return &defaultLogger{z: z}
}

// Nop discards everything
func Nop() Logger {
	return &defaultLogger{z: zerolog.Nop()}
}

func (l *defaultLogger) Info(format string, args ...interface{}) {
	l.z.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Warn(format string, args ...interface{}) {
	l.z.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Error(format string, args ...interface{}) {
	l.z.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(format string, args ...interface{}) {
	l.z.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *defaultLogger) With(key string, value interface{}) Logger {
	return &defaultLogger{z: l.z.With().Interface(key, value).Logger()}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
