// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pathutil

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizePathSegment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple name",
			input:    "acme",
			expected: "acme",
		},
		{
			name:     "qualified database name",
			input:    "async_billing_public",
			expected: "async_billing_public",
		},
		{
			name:     "strips illegal chars",
			input:    "ten<>:\"/\\|?*ant",
			expected: "tenant",
		},
		{
			name:     "strips path separators",
			input:    "../../etc",
			expected: "....etc",
		},
		{
			name:     "removes trailing dots",
			input:    "acme...",
			expected: "acme",
		},
		{
			name:     "removes trailing spaces",
			input:    "acme   ",
			expected: "acme",
		},
		{
			name:     "removes control characters",
			input:    "ac\x00\x1fme",
			expected: "acme",
		},
		{
			name:     "Windows reserved name CON",
			input:    "CON",
			expected: "_CON",
		},
		{
			name:     "Windows reserved name with extension",
			input:    "con.json",
			expected: "_con.json",
		},
		{
			name:     "empty becomes underscore",
			input:    "",
			expected: "_",
		},
		{
			name:     "only illegal chars becomes underscore",
			input:    "<>:*",
			expected: "_",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePathSegment(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizePathSegment(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJoinInside(t *testing.T) {
	root := filepath.Join("var", "lib", "bindings")

	got, err := JoinInside(root, "acme", "async_billing_public.json")
	if err != nil {
		t.Fatalf("JoinInside returned error: %v", err)
	}
	if !strings.HasPrefix(got, root+string(filepath.Separator)) {
		t.Errorf("JoinInside result %q not under root %q", got, root)
	}
	if !strings.HasSuffix(got, filepath.Join("acme", "async_billing_public.json")) {
		t.Errorf("JoinInside result %q missing joined segments", got)
	}
}

func TestJoinInsideNeutralizesTraversal(t *testing.T) {
	root := filepath.Join("var", "lib", "bindings")

	got, err := JoinInside(root, "..", "secrets")
	if err != nil {
		t.Fatalf("JoinInside returned error: %v", err)
	}
	if !strings.HasPrefix(got, root+string(filepath.Separator)) {
		t.Errorf("traversal segment escaped root: %q", got)
	}
}
