// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pdftext

import (
	"strings"
	"unicode"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// Thresholds decide when extracted text is garbled.
type Thresholds struct {
	MaxControlRatio   float64
	MinLetterRatio    float64
	MinPrintableRatio float64
}

// ThresholdsFrom picks the garbled thresholds out of cfg.
func ThresholdsFrom(cfg types.ExtractionConfig) Thresholds {
	return Thresholds{
		MaxControlRatio:   cfg.MaxControlRatio,
		MinLetterRatio:    cfg.MinLetterRatio,
		MinPrintableRatio: cfg.MinPrintableRatio,
	}
}

// Assessment holds the character ratios of a candidate text.
type Assessment struct {
	ControlRatio   float64
	LetterRatio    float64
	PrintableRatio float64
	Garbled        bool
	Quality        float64
}

// commonPunct lists symbols that occur in ordinary academic text but are
// not classed as punctuation by unicode.IsPunct.
const commonPunct = "+=<>$^`|~±×°"

// Assess classifies text. It is pure: equal inputs give equal results.
// Newlines, carriage returns and tabs are line structure, not control noise.
// Empty text is garbled with quality 0.
func (t Thresholds) Assess(text string) Assessment {
	var total, control, letters, printable int
	for _, r := range text {
		total++
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			printable++
		case r < 0x20 || r == 0x7f:
			control++
		case r == 0xfffd || (r >= 0xe000 && r <= 0xf8ff):
			// replacement and private-use runes come from broken font maps
		case unicode.IsLetter(r):
			letters++
			printable++
		case unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r) || strings.ContainsRune(commonPunct, r):
			printable++
		}
	}
	if total == 0 {
		return Assessment{Garbled: true}
	}

	a := Assessment{
		ControlRatio:   float64(control) / float64(total),
		LetterRatio:    float64(letters) / float64(total),
		PrintableRatio: float64(printable) / float64(total),
	}
	a.Garbled = a.ControlRatio > t.MaxControlRatio ||
		a.LetterRatio < t.MinLetterRatio ||
		a.PrintableRatio < t.MinPrintableRatio
	a.Quality = min(max(a.LetterRatio, 0), 1)
	return a
}

// IsGarbled reports whether text fails any threshold.
func (t Thresholds) IsGarbled(text string) bool {
	return t.Assess(text).Garbled
}

// blank reports whether s has no visible characters.
func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
