// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleFromCaption(t *testing.T) {
	t.Run("first meaningful line wins", func(t *testing.T) {
		got := TitleFromCaption("Ancient Dragon Bust\nsecond line", nil)
		assert.Equal(t, "Ancient Dragon Bust", got)
	})

	t.Run("urls and hashtags stripped", func(t *testing.T) {
		got := TitleFromCaption("Dragon Bust https://example.com/x #fantasy", nil)
		assert.Equal(t, "Dragon Bust", got)
	})

	t.Run("falls back to filename stem", func(t *testing.T) {
		got := TitleFromCaption("", []string{"ancient_dragon-bust.stl"})
		assert.Equal(t, "ancient dragon bust", got)
	})

	t.Run("untitled when nothing usable", func(t *testing.T) {
		assert.Equal(t, "Untitled", TitleFromCaption("", nil))
	})

	t.Run("long captions truncate", func(t *testing.T) {
		got := TitleFromCaption(strings.Repeat("a", 300), nil)
		assert.Len(t, got, 200)
	})
}

func TestDesignerFromCaption(t *testing.T) {
	cases := []struct {
		name    string
		caption string
		want    string
	}{
		{"by attribution", "Dragon bust by Loot Studios", "Loot Studios"},
		{"designer attribution", "designer: Fotis Mint", "Fotis Mint"},
		{"handle attribution", "new drop @printforge", "printforge"},
		{"no attribution", "just a dragon", UnknownDesigner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DesignerFromCaption(tc.caption))
		})
	}
}

func TestCaptionIndicatesDesign(t *testing.T) {
	assert.True(t, CaptionIndicatesDesign("grab the .STL from the usual place"))
	assert.True(t, CaptionIndicatesDesign("printable terrain set"))
	assert.False(t, CaptionIndicatesDesign("meeting at noon"))
}
