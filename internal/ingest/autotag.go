// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"regexp"
	"strings"
)

// maxTagsPerSource caps how many automatic tags one message may produce
// per extraction source.
const maxTagsPerSource = 10

var hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]{2,32})`)

// CaptionTags extracts #hashtag tokens from a caption, lowercased and
// deduplicated, capped at the per-source maximum.
func CaptionTags(caption string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range hashtagRe.FindAllStringSubmatch(caption, -1) {
		tag := strings.ToLower(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) >= maxTagsPerSource {
			break
		}
	}
	return out
}

var filenameSplitRe = regexp.MustCompile(`[_\s\-.]+`)

// stopWords are filename tokens too generic to be useful tags.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "final": true,
	"file": true, "files": true, "model": true, "models": true, "part": true,
	"parts": true, "print": true, "printable": true, "version": true,
	"stl": true, "3mf": true, "obj": true, "step": true, "zip": true,
	"rar": true, "new": true, "fixed": true, "repaired": true, "supported": true,
	"unsupported": true, "presupported": true,
}

var alnumOnlyRe = regexp.MustCompile(`^[a-z0-9]+$`)

// FilenameTags derives tags from filename tokens: split on separators,
// lowercased, alphanumeric only, at least three characters, stop words
// dropped, capped at the per-source maximum.
func FilenameTags(filenames []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range filenames {
		if i := strings.LastIndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
		for _, tok := range filenameSplitRe.Split(strings.ToLower(name), -1) {
			if len(tok) < 3 || seen[tok] || stopWords[tok] || !alnumOnlyRe.MatchString(tok) {
				continue
			}
			// pure numbers are noise
			if strings.IndexFunc(tok, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
			if len(out) >= maxTagsPerSource {
				return out
			}
		}
	}
	return out
}
