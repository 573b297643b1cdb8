// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citespan

import (
	"regexp"
	"strings"

	"github.com/pdiddy/paperstruct/pkg/types"
)

const (
	numList     = `\d{1,4}(?:\s*[-–,]\s*\d{1,4})*`
	yearToken   = `(?:19|20)\d{2}[a-z]?`
	authorToken = `[A-Z][\p{L}'’\-]+(?:\s+et\s+al\.?|\s+(?:and|&)\s+[A-Z][\p{L}'’\-]+)?`
	authorYear  = `(?:(?:e\.g\.|see|cf\.),?\s+)?` + authorToken + `,?\s+` + yearToken + `(?:\s*,\s*` + yearToken + `)*`
)

var (
	// Pattern pass: markers inside running text.
	numericRe    = regexp.MustCompile(`\[\s*` + numList + `\s*\]`)
	authorYearRe = regexp.MustCompile(`\(\s*` + authorYear + `(?:\s*;\s*` + authorYear + `)*\s*\)`)

	// Annotation pass: the whole text under a link. Link rectangles often
	// leave out the brackets, and author-year links often cover only the year.
	yearOnlyRe        = regexp.MustCompile(`^\(?\s*` + yearToken + `\s*\)?[,;]?$`)
	numericShapeRe    = regexp.MustCompile(`^[\[(]?\s*` + numList + `\s*[\])]?$`)
	authorYearShapeRe = regexp.MustCompile(`^\(?\s*` + authorYear + `(?:\s*;\s*` + authorYear + `)*\s*\)?[,;]?$`)
)

// Classify reports the citation style of text when it looks like a whole
// citation marker.
func Classify(text string) (types.CitationStyle, bool) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return types.StyleUnknown, false
	case yearOnlyRe.MatchString(text):
		return types.StyleAuthorYear, true
	case numericShapeRe.MatchString(text):
		return types.StyleNumeric, true
	case authorYearShapeRe.MatchString(text):
		return types.StyleAuthorYear, true
	}
	return types.StyleUnknown, false
}

// match is a marker found in running text, as byte offsets.
type match struct {
	start, end int
	style      types.CitationStyle
	confidence float64
}

// findMarkers returns numeric then author-year markers in text order.
func findMarkers(text string) []match {
	var out []match
	for _, loc := range numericRe.FindAllStringIndex(text, -1) {
		out = append(out, match{start: loc[0], end: loc[1], style: types.StyleNumeric, confidence: ConfidenceNumericPattern})
	}
	for _, loc := range authorYearRe.FindAllStringIndex(text, -1) {
		out = append(out, match{start: loc[0], end: loc[1], style: types.StyleAuthorYear, confidence: ConfidenceAuthorYearPattern})
	}
	return out
}
