// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdflayout reads positioned glyphs from PDF pages and assembles them
// into reading-order text. Page extraction uses it for the native text layer
// and citation span extraction uses it to map text matches back to page
// coordinates.
package pdflayout

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// Letter-size fallback used when a page has no readable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// Glyph is one text run as placed by the content stream. X and Y are the
// baseline origin in PDF user space.
type Glyph struct {
	S        string
	X, Y     float64
	W        float64
	FontSize float64
}

// Box returns the glyph's approximate extent on page.
func (g Glyph) Box(page int) types.BoundingBox {
	size := g.FontSize
	if size <= 0 {
		size = 10
	}
	w := g.W
	if w <= 0 {
		w = size * 0.5 * float64(len([]rune(g.S)))
	}
	return types.NewBoundingBox(page, g.X, g.Y-0.2*size, g.X+w, g.Y+0.8*size)
}

func (g Glyph) centre() (float64, float64) {
	size := g.FontSize
	if size <= 0 {
		size = 10
	}
	return g.X + g.W/2, g.Y + 0.3*size
}

// Page holds the glyphs of one page together with its size.
type Page struct {
	Number int
	Width  float64
	Height float64
	Glyphs []Glyph
}

// Document is an open PDF. Close releases the underlying file.
type Document struct {
	f *os.File
	r *pdf.Reader
}

// Open opens the PDF at path.
func Open(path string) (*Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Document{f: f, r: r}, nil
}

// Close closes the underlying file.
func (d *Document) Close() error {
	return d.f.Close()
}

// NumPages returns the page count.
func (d *Document) NumPages() int {
	return d.r.NumPage()
}

// Page reads the glyphs of the 1-based page num. Malformed content streams
// are reported as errors rather than panics.
func (d *Document) Page(num int) (pg Page, err error) {
	if num < 1 || num > d.r.NumPage() {
		return Page{}, fmt.Errorf("page %d out of range 1..%d", num, d.r.NumPage())
	}
	p := d.r.Page(num)
	if p.V.IsNull() {
		return Page{}, fmt.Errorf("page %d is null", num)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading page %d content: %v", num, r)
		}
	}()

	w, h := mediaBox(p)
	pg = Page{Number: num, Width: w, Height: h}
	for _, t := range p.Content().Text {
		if t.S == "" {
			continue
		}
		pg.Glyphs = append(pg.Glyphs, Glyph{S: t.S, X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize})
	}
	return pg, nil
}

// PageCount opens path just long enough to count its pages.
func PageCount(path string) (int, error) {
	d, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	return d.NumPages(), nil
}

// ReadPage opens path and reads a single page.
func ReadPage(path string, num int) (Page, error) {
	d, err := Open(path)
	if err != nil {
		return Page{}, err
	}
	defer d.Close()
	return d.Page(num)
}

func mediaBox(p pdf.Page) (float64, float64) {
	box := p.V.Key("MediaBox")
	if box.Len() != 4 {
		return defaultPageWidth, defaultPageHeight
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return w, h
}

// Line is a run of glyphs sharing a baseline, sorted left to right.
type Line struct {
	Y      float64
	Glyphs []Glyph
}

// Lines clusters glyphs into lines by baseline, top of page first.
func Lines(glyphs []Glyph) []Line {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]Glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	tol := baselineTolerance(sorted)
	var lines []Line
	for _, g := range sorted {
		n := len(lines)
		if n > 0 && math.Abs(lines[n-1].Y-g.Y) <= tol {
			lines[n-1].Glyphs = append(lines[n-1].Glyphs, g)
			continue
		}
		lines = append(lines, Line{Y: g.Y, Glyphs: []Glyph{g}})
	}
	for i := range lines {
		sort.SliceStable(lines[i].Glyphs, func(a, b int) bool {
			return lines[i].Glyphs[a].X < lines[i].Glyphs[b].X
		})
	}
	return lines
}

func baselineTolerance(glyphs []Glyph) float64 {
	sizes := make([]float64, 0, len(glyphs))
	for _, g := range glyphs {
		if g.FontSize > 0 {
			sizes = append(sizes, g.FontSize)
		}
	}
	if len(sizes) == 0 {
		return 2
	}
	sort.Float64s(sizes)
	return math.Max(2, sizes[len(sizes)/2]*0.4)
}

// Text joins the line's glyphs, inserting a space where the horizontal gap
// exceeds a fraction of the font size.
func (l Line) Text() string {
	s, _ := l.appendText(nil, nil)
	return string(s)
}

// appendText writes the line to buf and records, for every byte written,
// the index of the glyph in l.Glyphs that produced it (-1 for inserted
// spaces).
func (l Line) appendText(buf []byte, idx []int) ([]byte, []int) {
	for i, g := range l.Glyphs {
		if i > 0 {
			prev := l.Glyphs[i-1]
			gap := g.X - (prev.X + prev.W)
			size := math.Max(prev.FontSize, 1)
			if gap > 0.15*size && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(g.S, " ") {
				buf = append(buf, ' ')
				idx = append(idx, -1)
			}
		}
		buf = append(buf, g.S...)
		for range len(g.S) {
			idx = append(idx, i)
		}
	}
	return buf, idx
}

// Column split bounds as fractions of page width.
const (
	gutterMin = 0.35
	gutterMax = 0.65
)

// Gutter returns the x coordinate separating two text columns, or false
// when the page is laid out in a single column.
func (p Page) Gutter() (float64, bool) {
	lines := Lines(p.Glyphs)
	if len(lines) < 6 || p.Width <= 0 {
		return 0, false
	}

	const bin = 2.0
	nbins := int(p.Width/bin) + 1
	occupied := make([]int, nbins)
	for _, l := range lines {
		seen := make(map[int]bool)
		for _, g := range l.Glyphs {
			b := g.Box(p.Number)
			for x := int(b.X1 / bin); x <= int(b.X2/bin) && x < nbins; x++ {
				if x >= 0 && !seen[x] {
					seen[x] = true
					occupied[x]++
				}
			}
		}
	}

	limit := len(lines) / 10
	lo, hi := int(p.Width*gutterMin/bin), int(p.Width*gutterMax/bin)
	bestStart, bestLen := -1, 0
	for x := lo; x <= hi && x < nbins; {
		if occupied[x] > limit {
			x++
			continue
		}
		start := x
		for x <= hi && x < nbins && occupied[x] <= limit {
			x++
		}
		if x-start > bestLen {
			bestStart, bestLen = start, x-start
		}
	}
	if bestLen*int(bin) < 8 {
		return 0, false
	}
	split := (float64(bestStart) + float64(bestLen)/2) * bin

	var left, right int
	for _, g := range p.Glyphs {
		if g.X+g.W <= split {
			left++
		} else if g.X >= split {
			right++
		}
	}
	if left < len(p.Glyphs)*3/10 || right < len(p.Glyphs)*3/10 {
		return 0, false
	}
	return split, true
}

// ordered returns the page's lines in reading order: lines spanning the
// gutter above both columns, the left column, the right column, then any
// remaining spanning lines.
func (p Page) ordered() []Line {
	split, ok := p.Gutter()
	if !ok {
		return Lines(p.Glyphs)
	}

	var leftG, rightG []Glyph
	var spanning []Line
	for _, l := range Lines(p.Glyphs) {
		first, last := l.Glyphs[0], l.Glyphs[len(l.Glyphs)-1]
		crosses := first.X < split && last.X+last.W > split && crossesGutter(l, split)
		if crosses {
			spanning = append(spanning, l)
			continue
		}
		for _, g := range l.Glyphs {
			if cx, _ := g.centre(); cx < split {
				leftG = append(leftG, g)
			} else {
				rightG = append(rightG, g)
			}
		}
	}
	left, right := Lines(leftG), Lines(rightG)

	top := math.Inf(-1)
	for _, col := range [][]Line{left, right} {
		if len(col) > 0 {
			top = math.Max(top, col[0].Y)
		}
	}

	var out []Line
	var tail []Line
	for _, l := range spanning {
		if l.Y > top {
			out = append(out, l)
		} else {
			tail = append(tail, l)
		}
	}
	out = append(out, left...)
	out = append(out, right...)
	return append(out, tail...)
}

// crossesGutter reports whether any glyph of l covers the split point.
func crossesGutter(l Line, split float64) bool {
	for _, g := range l.Glyphs {
		if g.X <= split && g.X+g.W >= split {
			return true
		}
	}
	for i := 1; i < len(l.Glyphs); i++ {
		prev, g := l.Glyphs[i-1], l.Glyphs[i]
		if prev.X+prev.W < split && g.X > split && g.X-(prev.X+prev.W) < 0.6*math.Max(prev.FontSize, 1) {
			return true
		}
	}
	return false
}

// Text returns the page text in reading order, one line per row.
func (p Page) Text() string {
	return p.Positioned().Text
}

// Positioned is page text in reading order with a byte-to-glyph index.
type Positioned struct {
	Page   int
	Text   string
	glyphs []Glyph
	index  []int
}

// Positioned assembles the page text and keeps, for every byte, the glyph
// it came from so that matches can be located on the page.
func (p Page) Positioned() Positioned {
	out := Positioned{Page: p.Number}
	var buf []byte
	var index []int
	for i, l := range p.ordered() {
		if i > 0 {
			buf = append(buf, '\n')
			index = append(index, -1)
		}
		base := len(out.glyphs)
		out.glyphs = append(out.glyphs, l.Glyphs...)
		var lineIdx []int
		buf, lineIdx = l.appendText(buf, nil)
		for _, gi := range lineIdx {
			if gi >= 0 {
				gi += base
			}
			index = append(index, gi)
		}
	}
	out.Text = string(buf)
	out.index = index
	return out
}

// BoxOf returns the envelope of the glyphs behind Text[start:end]. It
// returns false when the range holds no glyph.
func (p Positioned) BoxOf(start, end int) (types.BoundingBox, bool) {
	if start < 0 {
		start = 0
	}
	if end > len(p.index) {
		end = len(p.index)
	}
	var boxes []types.BoundingBox
	last := -1
	for i := start; i < end; i++ {
		gi := p.index[i]
		if gi < 0 || gi == last {
			continue
		}
		last = gi
		boxes = append(boxes, p.glyphs[gi].Box(p.Page))
	}
	box, err := types.MergeBoxes(boxes)
	if err != nil {
		return types.BoundingBox{}, false
	}
	return box, true
}

// TextIn returns the text of glyphs whose centre lies inside box expanded
// by pad points, assembled line by line and joined with spaces.
func TextIn(glyphs []Glyph, box types.BoundingBox, pad float64) string {
	area := box.Expand(pad)
	var inside []Glyph
	for _, g := range glyphs {
		if area.Contains(g.centre()) {
			inside = append(inside, g)
		}
	}
	var parts []string
	for _, l := range Lines(inside) {
		if s := strings.TrimSpace(l.Text()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
