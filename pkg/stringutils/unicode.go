// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeUnicode removes diacritics and decomposes ligatures.
// Examples:
//   - "café_orders" → "cafe_orders"
//   - "Übersicht" → "Ubersicht"
//   - "ﬁles" → "files"
func NormalizeUnicode(s string) string {
	// These are distinct letters in Nordic/Germanic scripts, not composed
	// characters, so NFKD leaves them alone.
	replacer := strings.NewReplacer(
		"æ", "ae", "Æ", "AE",
		"œ", "oe", "Œ", "OE",
		"ø", "o", "Ø", "O",
		"ß", "ss",
		"ð", "d", "Ð", "D",
		"þ", "th", "Þ", "TH",
	)
	s = replacer.Replace(s)

	// NFKD decomposes diacritics and compatibility ligatures. The chain is
	// built per call since transform.Chain is not safe for concurrent use.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// FoldIdentifier normalizes an identifier for approximate matching:
// diacritics removed, lower-cased, underscores stripped, surrounding space
// trimmed. "Café_Orders " → "cafeorders". Used for suggestion ranking, never
// for exact binding resolution.
func FoldIdentifier(s string) string {
	s = NormalizeUnicode(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return StripUnderscores(s)
}
