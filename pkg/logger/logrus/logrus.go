/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package logrus

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/conf"
)

type Wrapper struct {
	entry *logrus.Entry
}

func NewLogrusWrapper(config *conf.LogConfig) (logger.Logger, error) {
	l := logrus.New()
	l.SetLevel(toLogrusLevel(config.Level))
	l.SetOutput(buildOutput(config))

	switch config.Format {
	case conf.JSONFormatter:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}
	return &Wrapper{entry: logrus.NewEntry(l)}, nil
}

func buildOutput(config *conf.LogConfig) io.Writer {
	if config.FilePath == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxFiles,
		MaxAge:     config.MaxAge,
		Compress:   true,
	})
}

func toLogrusLevel(level conf.Level) logrus.Level {
	switch level {
	case conf.TraceLevel:
		return logrus.TraceLevel
	case conf.DebugLevel:
		return logrus.DebugLevel
	case conf.InfoLevel:
		return logrus.InfoLevel
	case conf.WarnLevel:
		return logrus.WarnLevel
	case conf.ErrorLevel:
		return logrus.ErrorLevel
	case conf.FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func (w *Wrapper) Log(level conf.Level, v ...interface{}) {
	w.entry.Log(toLogrusLevel(level), v...)
}

func (w *Wrapper) Logf(level conf.Level, format string, v ...interface{}) {
	w.entry.Logf(toLogrusLevel(level), format, v...)
}

func (w *Wrapper) WithFields(fields logger.Fields) logger.Logger {
	return &Wrapper{entry: w.entry.WithFields(logrus.Fields(fields))}
}

func (w *Wrapper) WithField(key string, value interface{}) logger.Logger {
	return &Wrapper{entry: w.entry.WithField(key, value)}
}
