// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"
)

// ToPascalCase converts a snake_case identifier to PascalCase.
// Each underscore-separated segment gets its first rune upper-cased and the
// rest kept as-is, so acronyms survive: "user_profile" -> "UserProfile",
// "http_log" -> "HttpLog", "order_items2" -> "OrderItems2".
func ToPascalCase(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	upperNext := true
	for _, r := range s {
		if r == '_' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// StripUnderscores removes every underscore: "user_profile" -> "userprofile".
func StripUnderscores(s string) string {
	return strings.ReplaceAll(s, "_", "")
}

// IsExportedIdentifier reports whether s is usable as an exported binding
// name: it must start with an upper-case letter and contain only letters and
// digits.
func IsExportedIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
