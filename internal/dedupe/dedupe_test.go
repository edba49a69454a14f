// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "Dragon Bust", "dragon bust"},
		{"separators collapse", "dragon_bust-v2.final", "dragon bust v2 final"},
		{"decorative prefix stripped", "NEW Dragon v2", "dragon v2"},
		{"stacked prefixes stripped", "FREE NEW Dragon", "dragon"},
		{"prefix inside word kept", "Newton Cradle", "newton cradle"},
		{"emoji and punctuation dropped", "🔥 Dragon!! (Bust)", "dragon bust"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeTitle(tc.title))
		})
	}
}
