// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptionTags(t *testing.T) {
	t.Run("extracts and lowercases hashtags", func(t *testing.T) {
		got := CaptionTags("Dragon bust #Fantasy #dragon ready to print #Dragon")
		assert.Equal(t, []string{"fantasy", "dragon"}, got)
	})

	t.Run("ignores single-char tags", func(t *testing.T) {
		assert.Empty(t, CaptionTags("test #a"))
	})

	t.Run("caps at the per-source maximum", func(t *testing.T) {
		caption := "#t01 #t02 #t03 #t04 #t05 #t06 #t07 #t08 #t09 #t10 #t11 #t12"
		assert.Len(t, CaptionTags(caption), maxTagsPerSource)
	})

	t.Run("no hashtags", func(t *testing.T) {
		assert.Empty(t, CaptionTags("plain caption without tags"))
	})
}

func TestFilenameTags(t *testing.T) {
	t.Run("splits tokens and drops stop words", func(t *testing.T) {
		got := FilenameTags([]string{"ancient_dragon-supported.stl"})
		assert.Equal(t, []string{"ancient", "dragon"}, got)
	})

	t.Run("drops short and numeric tokens", func(t *testing.T) {
		got := FilenameTags([]string{"v2_01_castle.3mf"})
		assert.Equal(t, []string{"castle"}, got)
	})

	t.Run("deduplicates across files", func(t *testing.T) {
		got := FilenameTags([]string{"castle_tower.stl", "castle_gate.stl"})
		assert.Equal(t, []string{"castle", "tower", "gate"}, got)
	})
}

func TestLooksMulticolor(t *testing.T) {
	cases := []struct {
		name     string
		caption  string
		files    []string
		want     bool
	}{
		{"multi color caption", "A multi-color lizard", nil, true},
		{"mmu keyword", "works with MMU", nil, true},
		{"ams keyword", "sliced for AMS", nil, true},
		{"n colors", "comes in 4 colors", nil, true},
		{"filename hit", "lizard", []string{"lizard_multicolor.3mf"}, true},
		{"plain", "a gray lizard", []string{"lizard.stl"}, false},
		{"hams is not ams", "hams and eggs", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksMulticolor(tc.caption, tc.files))
		})
	}
}
