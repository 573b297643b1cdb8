// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llmrefs

import (
	"regexp"
	"strings"
)

// entryMarkerRe matches a line that starts a numbered reference entry.
var entryMarkerRe = regexp.MustCompile(`^\s*(?:\[\d{1,4}\]|\(\d{1,4}\)\s|\d{1,4}\.\s)`)

// Chunk is a run of whole entries sent to the model in one call.
type Chunk struct {
	Text string

	// Offset is the number of entries in earlier chunks.
	Offset int
}

// CountEntries counts lines carrying a numbered-entry marker.
func CountEntries(text string) int {
	n := 0
	for _, l := range strings.Split(text, "\n") {
		if entryMarkerRe.MatchString(l) {
			n++
		}
	}
	return n
}

// SplitChunks groups text into chunks of size entries, cutting only at
// entry-start lines. Text before the first marker stays with the first
// chunk. Text with no markers is returned whole.
func SplitChunks(text string, size int) []Chunk {
	if size <= 0 {
		size = 20
	}
	lines := strings.Split(text, "\n")

	var chunks []Chunk
	var cur []string
	entries, inChunk := 0, 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(cur, "\n"), Offset: entries - inChunk})
		cur, inChunk = nil, 0
	}

	for _, l := range lines {
		if entryMarkerRe.MatchString(l) {
			if inChunk == size {
				flush()
			}
			entries++
			inChunk++
		}
		cur = append(cur, l)
	}
	flush()
	return chunks
}
