// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"regexp"
	"strings"
)

// multicolorPatterns match captions and filenames that advertise a
// multi-material print. Case-insensitive; the digit form catches
// "4 color" and "2 colors".
var multicolorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)multi[\s_-]?color`),
	regexp.MustCompile(`(?i)multi[\s_-]?material`),
	regexp.MustCompile(`(?i)dual[\s_-]?color`),
	regexp.MustCompile(`(?i)\bmmu\b`),
	regexp.MustCompile(`(?i)\bams\b`),
	regexp.MustCompile(`(?i)\bidex\b`),
	regexp.MustCompile(`(?i)\b\d+\s?colors?\b`),
}

// LooksMulticolor reports whether the caption or any filename matches the
// multicolor keyword heuristic.
func LooksMulticolor(caption string, filenames []string) bool {
	hay := caption
	if len(filenames) > 0 {
		hay += " " + strings.Join(filenames, " ")
	}
	for _, re := range multicolorPatterns {
		if re.MatchString(hay) {
			return true
		}
	}
	return false
}
