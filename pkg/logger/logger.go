/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package logger

import (
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/conf"
)

type Fields map[string]interface{}

type Logger interface {
	Log(level conf.Level, v ...interface{})
	Logf(level conf.Level, format string, v ...interface{})
	WithFields(fields Fields) Logger
	WithField(key string, value interface{}) Logger
}
