// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llmrefs

import (
	"bytes"
	"text/template"
)

// referencePromptTmpl is sent once per chunk. The rules keep the model from
// inventing or abbreviating fields.
var referencePromptTmpl = template.Must(template.New("references").Parse(`You are a bibliographic reference parser. The text below is the reference list (or the final pages) of an academic paper. It may have been extracted from a PDF and can contain broken line wraps, hyphenation and page furniture.

Return ONLY a JSON array. Each element describes one reference entry, in the order the entries appear, with these fields:
- number: the entry's position in the list, starting at 1
- raw_text: the complete entry text exactly as it appears, joined onto one line
- authors: the author list as printed, or null
- title: the work's title, or null
- venue: the journal, conference, publisher or other container, or null
- year: the four-digit publication year as a number, or null
- doi: the DOI (starting with "10."), or null
- confidence: a number between 0.0 and 1.0 for how sure you are of the field split

Rules:
- If the text is unreadable or contains no references, return [].
- Never truncate an entry and never insert ellipsis or placeholder text such as "..." or "et al." that is not in the source.
- Never invent, guess or complete a field. If a field is not present in the text, it must be null.
- Do not wrap the array in an object, do not add commentary and do not use markdown fences.

Reference text:
{{.Text}}
`))

func renderPrompt(text string) (string, error) {
	var buf bytes.Buffer
	if err := referencePromptTmpl.Execute(&buf, struct{ Text string }{Text: text}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
