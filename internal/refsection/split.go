// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refsection

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// yearRe matches a 4-digit year (19xx or 20xx).
var yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

// doiRe finds a DOI anywhere in an entry.
var doiRe = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[-._;()/:A-Z0-9]+`)

// doiStripRe removes a DOI with its usual prefix before segmentation.
var doiStripRe = regexp.MustCompile(`(?i)(?:https?://(?:dx\.)?doi\.org/|doi:?\s*)?\b10\.\d{4,9}/[-._;()/:A-Z0-9]+`)

// quotedTitleRe matches a title in straight or curly double quotes.
var quotedTitleRe = regexp.MustCompile(`["“]([^"”]{3,})["”]`)

// initialRe matches single-letter author initials like "A." or "B." so we
// can protect them from period-based splitting.
var initialRe = regexp.MustCompile(`\b([A-Z])\.`)

// abbreviationRe matches abbreviations protected from period splitting.
// "et al." is left out: followed by a space it closes the author block.
var abbreviationRe = regexp.MustCompile(`\b(?:e\.g|i\.e|pp|[Vv]ol|[Nn]o|Proc|Conf|Int|Intl|Trans|Comput|[Ee]ds?)\.`)

// SplitEntry splits a raw entry into authors, title, venue, year and DOI.
// Period segmentation is preferred: three or more segments give
// authors/title/venue, exactly two give authors/title. Failing that a quoted
// title splits the entry around it. Otherwise the whole text is the title.
func SplitEntry(raw string) types.BibliographyEntry {
	e := types.BibliographyEntry{RawText: raw}
	e.Year = ExtractYear(raw)
	e.DOI = ExtractDOI(raw)

	body := strings.TrimSpace(doiStripRe.ReplaceAllString(raw, ""))

	parts := splitOnPeriods(body)
	switch {
	case len(parts) >= 3:
		e.Authors = cleanAuthors(parts[0])
		e.Title = cleanTitle(parts[1])
		e.Venue = cleanVenue(strings.Join(parts[2:], ". "))
	case len(parts) == 2:
		e.Authors = cleanAuthors(parts[0])
		e.Title = cleanTitle(parts[1])
	default:
		if loc := quotedTitleRe.FindStringSubmatchIndex(body); loc != nil {
			e.Authors = cleanAuthors(body[:loc[0]])
			e.Title = cleanTitle(body[loc[2]:loc[3]])
			e.Venue = cleanVenue(strings.TrimPrefix(strings.TrimSpace(body[loc[1]:]), "in "))
		} else {
			e.Title = cleanTitle(body)
		}
	}
	if e.Authors == "" && e.Title == "" {
		e.Title = raw
	}
	return e
}

// ExtractYear returns the last 19xx/20xx token in text, or 0.
func ExtractYear(text string) int {
	all := yearRe.FindAllString(text, -1)
	if len(all) == 0 {
		return 0
	}
	y, _ := strconv.Atoi(all[len(all)-1])
	return y
}

// ExtractDOI returns the first DOI in text with trailing punctuation removed.
func ExtractDOI(text string) string {
	m := doiRe.FindString(text)
	return strings.TrimRight(m, ".,;)")
}

// splitOnPeriods splits a bibliography entry into segments at period
// boundaries, but avoids splitting on common abbreviations and single-letter
// initials (A., B., J.).
func splitOnPeriods(text string) []string {
	safe := abbreviationRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ".", "\x00")
	})
	safe = initialRe.ReplaceAllString(safe, "${1}\x00")

	var result []string
	for _, p := range strings.Split(safe, ". ") {
		p = strings.ReplaceAll(p, "\x00", ".")
		p = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(p), "."))
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func cleanAuthors(text string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), ",;:"))
}

func cleanTitle(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"“”'`)
	return strings.TrimSpace(strings.TrimRight(text, ",;:."))
}

// cleanVenue removes the year and trailing punctuation from a venue segment.
func cleanVenue(text string) string {
	text = strings.TrimSpace(text)
	text = yearRe.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	text = strings.TrimRight(text, "., ()")
	return strings.TrimSpace(text)
}
