// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package linker

import (
	"regexp"
	"strconv"
	"strings"
)

// Bounds for a single citation number; anything else is noise.
const (
	minCitationNumber = 1
	maxCitationNumber = 9999
)

var (
	rangeRe    = regexp.MustCompile(`^(\d{1,5})\s*[-–—]\s*(\d{1,5})$`)
	singleRe   = regexp.MustCompile(`^\d{1,5}$`)
	yearRe     = regexp.MustCompile(`\b((?:19|20)\d{2})[a-z]?\b`)
	surnameRe  = regexp.MustCompile(`\p{Lu}[\p{L}'’\-]+`)
	citePrefix = regexp.MustCompile(`(?i)^(?:e\.g\.|i\.e\.|see also|see|cf\.)(?:\s*,)?\s+`)
)

// ParseNumbers returns the citation numbers in text, in order and without
// duplicates. "[1,3-5,8]" yields 1 3 4 5 8. A range counts only when
// start <= end and end-start < maxRangeSpan; numbers outside 1..9999 are
// dropped.
func ParseNumbers(text string, maxRangeSpan int) []int {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "[]() ")
	if text == "" {
		return nil
	}

	seen := make(map[int]bool)
	var out []int
	add := func(n int) {
		if n < minCitationNumber || n > maxCitationNumber || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}

	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if m := rangeRe.FindStringSubmatch(part); m != nil {
			start, _ := strconv.Atoi(m[1])
			end, _ := strconv.Atoi(m[2])
			if start > end || end-start >= maxRangeSpan {
				continue
			}
			for n := start; n <= end; n++ {
				add(n)
			}
			continue
		}
		if singleRe.MatchString(part) {
			n, _ := strconv.Atoi(part)
			add(n)
		}
	}
	return out
}

// ParseAuthorYear extracts the first surname and year of an author-year
// citation such as "(Vaswani et al., 2017; Devlin et al., 2019)". Year is 0
// when absent. ok is false when no surname is found.
func ParseAuthorYear(text string) (surname string, year int, ok bool) {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "()[]"))
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	text = citePrefix.ReplaceAllString(strings.TrimSpace(text), "")

	if m := yearRe.FindStringSubmatch(text); m != nil {
		year, _ = strconv.Atoi(m[1])
	}
	for _, cand := range surnameRe.FindAllString(text, -1) {
		if strings.EqualFold(cand, "et") || strings.EqualFold(cand, "al") {
			continue
		}
		return cand, year, true
	}
	return "", year, false
}
