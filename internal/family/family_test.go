// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package family

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposeTitle(t *testing.T) {
	cases := []struct {
		name    string
		title   string
		base    string
		variant string
	}{
		{"dash variant", "Ancient Dragon - Red", "Ancient Dragon", "Red"},
		{"parenthesised variant", "Ancient Dragon (Bust)", "Ancient Dragon", "Bust"},
		{"version suffix", "Ancient Dragon v2", "Ancient Dragon", "v2"},
		{"dotted version", "Ancient Dragon v.2", "Ancient Dragon", "v.2"},
		{"mark suffix", "Gauntlet MK2", "Gauntlet", "MK2"},
		{"part suffix", "Castle Part 3", "Castle", "Part 3"},
		{"remix suffix", "Benchy Remix", "Benchy", "Remix"},
		{"support suffix", "Ancient Dragon pre-supported", "Ancient Dragon", "pre-supported"},
		{"no suffix", "Ancient Dragon", "Ancient Dragon", ""},
		{"base too short is kept whole", "V2 v3", "V2 v3", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base, variant := DecomposeTitle(tc.title)
			assert.Equal(t, tc.base, base)
			assert.Equal(t, tc.variant, variant)
		})
	}
}

func TestVariantAgainst(t *testing.T) {
	t.Run("title equals family name", func(t *testing.T) {
		assert.Nil(t, variantAgainst("Ancient Dragon", "ancient dragon"))
	})

	t.Run("family name prefix strips to variant", func(t *testing.T) {
		v := variantAgainst("Ancient Dragon", "Ancient Dragon - Fire")
		require.NotNil(t, v)
		assert.Equal(t, "Fire", *v)
	})

	t.Run("unrelated title falls back to decomposition", func(t *testing.T) {
		v := variantAgainst("Ancient Dragon", "Young Wyvern v2")
		require.NotNil(t, v)
		assert.Equal(t, "v2", *v)
	})

	t.Run("no variant at all", func(t *testing.T) {
		assert.Nil(t, variantAgainst("Ancient Dragon", "Young Wyvern"))
	})
}
