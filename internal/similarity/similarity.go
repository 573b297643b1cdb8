// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package similarity scores approximate string matches for citation linking:
// normalised edit distance, containment and token-set overlap.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContainmentScore is the score given when one normalised string contains
// the other.
const ContainmentScore = 0.9

// Normalize folds diacritics, lower-cases, turns punctuation into spaces and
// collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Levenshtein returns the rune edit distance between a and b.
func Levenshtein(a, b string) int {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) > len(s2) {
		s1, s2 = s2, s1
	}
	m, n := len(s1), len(s2)
	if m == 0 {
		return n
	}

	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 0; i <= m; i++ {
		prev[i] = i
	}
	for j := 1; j <= n; j++ {
		curr[0] = j
		for i := 1; i <= m; i++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// Ratio returns 1 - distance/maxLen over the normalised strings. Two empty
// strings score 1.
func Ratio(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	maxLen := max(len([]rune(na)), len([]rune(nb)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(na, nb))/float64(maxLen)
}

// MatchScore compares two marker texts: 1.0 for an exact normalised match,
// ContainmentScore when one contains the other, else Ratio.
func MatchScore(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		if na == nb {
			return 1
		}
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return ContainmentScore
	}
	return Ratio(na, nb)
}

// Tokens returns the distinct normalised tokens of s in first-seen order.
func Tokens(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.Fields(Normalize(s)) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// TokenOverlap returns the Jaccard index of the normalised token sets of a
// and b. Two strings with no tokens score 0.
func TokenOverlap(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	for _, t := range tb {
		if set[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// ContainsFold reports whether needle occurs in haystack after normalisation.
func ContainsFold(haystack, needle string) bool {
	n := Normalize(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Normalize(haystack), n)
}
