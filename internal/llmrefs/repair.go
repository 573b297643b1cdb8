// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llmrefs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// flexString accepts a JSON string, an array of strings, or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '[' {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*f = flexString(strings.Join(parts, ", "))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexString(s)
	return nil
}

// flexInt accepts a JSON number, a numeric string, or null. Unparsable
// strings decode as 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, _ := strconv.Atoi(strings.TrimSpace(s))
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(int(n))
	return nil
}

// responseItem is one reference as returned by the model.
type responseItem struct {
	Number     flexInt    `json:"number"`
	RawText    flexString `json:"raw_text"`
	Authors    flexString `json:"authors"`
	Title      flexString `json:"title"`
	Venue      flexString `json:"venue"`
	Year       flexInt    `json:"year"`
	DOI        flexString `json:"doi"`
	Confidence *float64   `json:"confidence"`
}

type referencesWrapper struct {
	References *[]responseItem `json:"references"`
}

var (
	fenceRe       = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// DecodeResponse parses a model reply into items, repairing common damage
// in order: markdown fences, comments, trailing commas, then the bare array,
// a {"references": [...]} object, the first balanced object holding a
// references key, and the first balanced array. It returns an error wrapping
// types.ErrLLMParse when nothing parses.
func DecodeResponse(reply string) ([]responseItem, error) {
	s := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = htmlCommentRe.ReplaceAllString(s, "")
	s = stripLineComments(s)
	s = removeTrailingCommas(s)
	s = strings.TrimSpace(s)

	if items, ok := decodeArray(s); ok {
		return items, nil
	}
	if items, ok := decodeWrapper(s); ok {
		return items, nil
	}
	for _, obj := range balancedRuns(s, '{', '}') {
		if items, ok := decodeWrapper(obj); ok {
			return items, nil
		}
	}
	for _, arr := range balancedRuns(s, '[', ']') {
		if items, ok := decodeArray(arr); ok {
			return items, nil
		}
	}

	preview := s
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	return nil, fmt.Errorf("%w: no JSON reference list in reply %q", types.ErrLLMParse, preview)
}

func decodeArray(s string) ([]responseItem, bool) {
	if !strings.HasPrefix(s, "[") {
		return nil, false
	}
	var items []responseItem
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false
	}
	return items, true
}

func decodeWrapper(s string) ([]responseItem, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var w referencesWrapper
	if err := json.Unmarshal([]byte(s), &w); err != nil || w.References == nil {
		return nil, false
	}
	return *w.References, true
}

// scanJSON walks s calling visit for every byte outside string literals.
// visit returns how many bytes to skip after the current one.
func scanJSON(s string, visit func(i int) int) {
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		i += visit(i)
	}
}

// stripLineComments removes // and /* */ comments outside strings.
func stripLineComments(s string) string {
	var b strings.Builder
	last := 0
	scanJSON(s, func(i int) int {
		if s[i] != '/' || i+1 >= len(s) {
			return 0
		}
		var end int
		switch s[i+1] {
		case '/':
			end = strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s) - i
			}
		case '*':
			end = strings.Index(s[i+2:], "*/")
			if end < 0 {
				end = len(s) - i
			} else {
				end += 4
			}
		default:
			return 0
		}
		b.WriteString(s[last:i])
		last = i + end
		return end - 1
	})
	if last < len(s) {
		b.WriteString(s[last:])
	}
	return b.String()
}

// removeTrailingCommas drops commas that directly precede ] or }.
func removeTrailingCommas(s string) string {
	drop := map[int]bool{}
	scanJSON(s, func(i int) int {
		if s[i] != ',' {
			return 0
		}
		j := i + 1
		for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
			j++
		}
		if j < len(s) && (s[j] == ']' || s[j] == '}') {
			drop[i] = true
		}
		return 0
	})
	if len(drop) == 0 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if !drop[i] {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// balancedRuns returns every top-level balanced open...close run in s, in
// order, ignoring brackets inside strings.
func balancedRuns(s string, open, close byte) []string {
	var runs []string
	depth, start := 0, -1
	scanJSON(s, func(i int) int {
		switch s[i] {
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					runs = append(runs, s[start:i+1])
					start = -1
				}
			}
		}
		return 0
	})
	return runs
}
