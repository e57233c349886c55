// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bindings

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/autobrr/tenantkit/pkg/stringutils"
)

// maxSuggestions caps how many near-misses Suggest reports.
const maxSuggestions = 3

// candidateNames returns the exposed-name spellings tried for a query, in
// strategy order: Pascal-cased, t_-prefixed, exact, underscore-stripped.
// The first exposed binding among these wins, so a table named user_profile
// resolves through "UserProfile" before a literal "user_profile" binding
// would be considered.
func candidateNames(name string) [4]string {
	return [4]string{
		stringutils.ToPascalCase(name),
		"t_" + name,
		name,
		stringutils.StripUnderscores(name),
	}
}

// Suggest returns up to three exposed names whose folded spelling is close
// to the query's. Resolution never uses this; it only feeds miss diagnostics.
func (s *DescriptorSet) Suggest(name string) []string {
	if len(s.folded) == 0 {
		return nil
	}

	folded := stringutils.FoldIdentifier(name)
	ranks := fuzzy.RankFindNormalizedFold(folded, s.folded)
	if len(ranks) == 0 {
		return nil
	}
	sort.Sort(ranks)

	seen := make(map[string]struct{}, maxSuggestions)
	out := make([]string, 0, maxSuggestions)
	for _, rank := range ranks {
		for _, exposed := range s.foldedIndex[rank.Target] {
			if _, dup := seen[exposed]; dup {
				continue
			}
			seen[exposed] = struct{}{}
			out = append(out, exposed)
			if len(out) == maxSuggestions {
				return out
			}
		}
	}
	return out
}
