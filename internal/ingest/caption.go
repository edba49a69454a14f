// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"regexp"
	"strings"
)

// UnknownDesigner is the canonical designer when no source supplies one.
const UnknownDesigner = "Unknown"

var (
	urlRe      = regexp.MustCompile(`https?://\S+`)
	tagStripRe = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	// designerRe catches "by SomeOne", "designer: SomeOne" and "@handle"
	// attributions in captions.
	designerRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bdesigner[:\s]+([\p{L}\p{N}_. -]{2,40})`),
		regexp.MustCompile(`(?i)\bby[:\s]+([\p{L}\p{N}_. -]{2,40})`),
		regexp.MustCompile(`@([\p{L}\p{N}_]{3,32})`),
	}
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// TitleFromCaption derives a design title from the first non-empty caption
// line, with URLs and hashtags removed. Falls back to the first filename's
// stem when the caption yields nothing.
func TitleFromCaption(caption string, filenames []string) string {
	for _, line := range strings.Split(caption, "\n") {
		line = urlRe.ReplaceAllString(line, "")
		line = tagStripRe.ReplaceAllString(line, "")
		line = strings.Trim(line, " \t-–—*_|:")
		line = multiSpaceRe.ReplaceAllString(line, " ")
		if len([]rune(line)) >= 3 {
			return truncate(line, 200)
		}
	}
	for _, f := range filenames {
		stem := f
		if i := strings.LastIndexByte(stem, '.'); i > 0 {
			stem = stem[:i]
		}
		stem = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(stem))
		if stem != "" {
			return truncate(stem, 200)
		}
	}
	return "Untitled"
}

// DesignerFromCaption applies the attribution heuristics to a caption,
// returning UnknownDesigner when none hit.
func DesignerFromCaption(caption string) string {
	for _, re := range designerRe {
		if m := re.FindStringSubmatch(caption); m != nil {
			d := strings.TrimSpace(strings.Trim(m[1], ".-"))
			if len([]rune(d)) >= 2 {
				return truncate(d, 100)
			}
		}
	}
	return UnknownDesigner
}

// CaptionIndicatesDesign reports whether a caption without candidate
// attachments still looks like a design post (a link to a file host or a
// model keyword).
func CaptionIndicatesDesign(caption string) bool {
	low := strings.ToLower(caption)
	for _, kw := range []string{".stl", ".3mf", "printable", "print file", "model download"} {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
