/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package conf

type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	FatalLevel Level = "fatal"
)

func IsValidLevel(l Level) bool {
	switch l {
	case TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel:
		return true
	}
	return false
}

type LogConfig struct {
	Level     Level
	Format    Formatter
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
	MaxAge    int
}

func DefaultConfig() *LogConfig {
	return &LogConfig{
		Level:     InfoLevel,
		Format:    TextFormatter,
		MaxSizeMB: 100,
		MaxFiles:  5,
		MaxAge:    14,
	}
}
