package manifest

import (
	"sort"
	"strings"
)

// Rewrite substitutes every verbatim occurrence of a rewrite-map key in the
// manifest text with its mapped value. The rewrite is textual on purpose:
// comments, formatting and elements the parser does not model survive
// byte-for-byte outside the substituted spans.
//
// Keys are matched longest-first so a path that is a substring of another
// cannot corrupt the longer one, and all substitutions happen in a single
// left-to-right pass so replaced spans are never matched again.
func Rewrite(text string, rewrites map[string]string) string {
	if len(rewrites) == 0 {
		return text
	}

	keys := make([]string, 0, len(rewrites))
	for key := range rewrites {
		keys = append(keys, key)
	}

	// Longer keys first; ties broken lexicographically for determinism.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}

		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		pairs = append(pairs, key, rewrites[key])
	}

	return strings.NewReplacer(pairs...).Replace(text)
}
