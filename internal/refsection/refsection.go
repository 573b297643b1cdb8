// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package refsection locates the bibliography of a document from its page
// texts and segments it into numbered entries with best-effort field
// splitting. It is the heuristic input to the structure-engine fallbacks.
package refsection

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// DefaultTailPages is how many trailing pages are scanned for the header.
const DefaultTailPages = 15

// Result is the outcome of one parse.
type Result struct {
	// Found reports whether a bibliography header was located.
	Found bool

	// StartPage is the page carrying the header, 0 when not found.
	StartPage int

	Entries []types.BibliographyEntry

	// lines is the section body, header excluded, up to any stop header.
	lines []string
}

// SectionText returns the raw text of the located section, one line per
// source line. It is empty when no header was found.
func (r Result) SectionText() string {
	return strings.Join(r.lines, "\n")
}

// Parser segments reference sections.
type Parser struct {
	// TailPages bounds the header search to the last N pages.
	TailPages int
}

// New returns a parser scanning the last tailPages pages. Non-positive
// values use DefaultTailPages.
func New(tailPages int) *Parser {
	if tailPages <= 0 {
		tailPages = DefaultTailPages
	}
	return &Parser{TailPages: tailPages}
}

// Parse is shorthand for New(DefaultTailPages).Parse(pages).
func Parse(pages []types.PageText) Result {
	return New(DefaultTailPages).Parse(pages)
}

// Header patterns. Each is matched against a whole trimmed line.
var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:#{1,6}\s*)?(?:(?:\d{1,2}|[IVXLC]{1,6})\.?\s+)?(?:references|bibliography|works\s+cited|literature\s+cited|reference\s+list|cited\s+literature|references\s+cited)\s*:?$`),
	regexp.MustCompile(`(?i)^r\s+e\s+f\s+e\s+r\s+e\s+n\s+c\s+e\s+s$`),
	regexp.MustCompile(`(?i)^b\s+i\s+b\s+l\s+i\s+o\s+g\s+r\s+a\s+p\s+h\s+y$`),
}

// stopPattern ends the section at an appendix or supplementary header.
var stopPattern = regexp.MustCompile(`(?i)^(?:#{1,6}\s*)?(?:(?:[A-Z]|\d{1,2})\.?\s+)?(?:appendix|appendices|supplementary(?:\s+(?:material|materials|information))?|supplemental\s+material)\b.{0,60}$`)

// entryStyle names an entry-start marker shape.
type entryStyle int

const (
	styleNone entryStyle = iota
	styleBracket
	styleDot
	styleParen
	styleBare
)

// Entry-start patterns in priority order.
var entryPatterns = []struct {
	style entryStyle
	re    *regexp.Regexp
}{
	{styleBracket, regexp.MustCompile(`^\[(\d{1,4})\]\s*(.*)$`)},
	{styleDot, regexp.MustCompile(`^(\d{1,4})\.\s+(\S.*)$`)},
	{styleParen, regexp.MustCompile(`^\((\d{1,4})\)\s+(\S.*)$`)},
	{styleBare, regexp.MustCompile(`^(\d{1,4})\s+(\S.*)$`)},
}

var pageNumberLine = regexp.MustCompile(`^\d{1,4}$`)

// IsHeader reports whether line is a bibliography header.
func IsHeader(line string) bool {
	line = strings.TrimSpace(line)
	for _, re := range headerPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// entryStart tests line against the entry patterns. expected is the next
// entry number; locked is the style of the first entry, if any. Dot and bare
// markers must continue the sequence, since wrapped lines often begin with a
// year or page number.
func entryStart(line string, expected int, locked entryStyle) (n int, label, rest string, style entryStyle, ok bool) {
	for _, p := range entryPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if locked != styleNone && p.style != locked {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil || num < 1 {
			continue
		}
		if (p.style == styleDot || p.style == styleBare) && num != expected {
			continue
		}
		return num, markerLabel(p.style, m[1]), strings.TrimSpace(m[2]), p.style, true
	}
	return 0, "", "", styleNone, false
}

func markerLabel(style entryStyle, num string) string {
	switch style {
	case styleBracket:
		return "[" + num + "]"
	case styleDot:
		return num + "."
	case styleParen:
		return "(" + num + ")"
	default:
		return num
	}
}

type sourceLine struct {
	page int
	text string
}

// Parse locates the bibliography in the trailing pages and segments it.
func (p *Parser) Parse(pages []types.PageText) Result {
	sorted := make([]types.PageText, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageNum < sorted[j].PageNum })
	if len(sorted) > p.TailPages {
		sorted = sorted[len(sorted)-p.TailPages:]
	}

	var lines []sourceLine
	for _, pg := range sorted {
		for _, l := range strings.Split(pg.Text, "\n") {
			lines = append(lines, sourceLine{page: pg.PageNum, text: strings.TrimSpace(l)})
		}
	}

	start := -1
	for i, l := range lines {
		if IsHeader(l.text) {
			start = i
			break
		}
	}
	if start < 0 {
		return Result{}
	}

	res := Result{Found: true, StartPage: lines[start].page}
	var cur *entryBuilder
	locked := styleNone
	flush := func() {
		if cur != nil {
			res.Entries = append(res.Entries, cur.build(len(res.Entries)+1))
			cur = nil
		}
	}

	for _, l := range lines[start+1:] {
		if stopPattern.MatchString(l.text) {
			break
		}
		res.lines = append(res.lines, l.text)
		if l.text == "" || pageNumberLine.MatchString(l.text) {
			continue
		}

		if _, label, rest, style, ok := entryStart(l.text, len(res.Entries)+boolInt(cur != nil)+1, locked); ok {
			flush()
			locked = style
			cur = &entryBuilder{label: label, page: l.page}
			cur.add(rest)
			continue
		}
		if cur != nil {
			cur.add(l.text)
		}
	}
	flush()
	return res
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type entryBuilder struct {
	label string
	page  int
	text  strings.Builder
}

// add appends a line, rejoining words hyphenated across the break.
func (b *entryBuilder) add(line string) {
	if line == "" {
		return
	}
	cur := b.text.String()
	switch {
	case cur == "":
		b.text.WriteString(line)
	case strings.HasSuffix(cur, "-") && len(cur) > 1 && isLower(line):
		trimmed := strings.TrimSuffix(cur, "-")
		b.text.Reset()
		b.text.WriteString(trimmed)
		b.text.WriteString(line)
	default:
		b.text.WriteByte(' ')
		b.text.WriteString(line)
	}
}

func isLower(s string) bool {
	for _, r := range s {
		return r >= 'a' && r <= 'z'
	}
	return false
}

func (b *entryBuilder) build(number int) types.BibliographyEntry {
	raw := strings.Join(strings.Fields(b.text.String()), " ")
	e := SplitEntry(raw)
	e.Number = number
	e.Label = b.label
	e.PageNum = b.page
	return e
}
