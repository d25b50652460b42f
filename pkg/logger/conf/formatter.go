/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package conf

type Formatter string

const (
	JSONFormatter Formatter = "json"
	TextFormatter Formatter = "text"
)

func IsValidFormatter(f Formatter) bool {
	return (f == JSONFormatter) ||
		(f == TextFormatter)
}
