// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package grobid

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// ReferenceConfidence is assigned to every reference the engine returns.
const ReferenceConfidence = 0.9

// defaultPageHeight is used when the TEI lacks a surface for a page.
const defaultPageHeight = 792.0

type mixedText struct {
	Text     string      `xml:",chardata"`
	Children []mixedText `xml:",any"`
}

func (m mixedText) String() string {
	var b strings.Builder
	m.write(&b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func (m mixedText) write(b *strings.Builder) {
	b.WriteString(m.Text)
	for _, c := range m.Children {
		b.WriteByte(' ')
		c.write(b)
	}
}

type teiTitle struct {
	Level string `xml:"level,attr"`
	Type  string `xml:"type,attr"`
	mixedText
}

type teiPersName struct {
	Forenames []string `xml:"forename"`
	Surname   string   `xml:"surname"`
}

type teiAuthor struct {
	PersName teiPersName `xml:"persName"`
}

type teiIdno struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type teiDate struct {
	Type string `xml:"type,attr"`
	When string `xml:"when,attr"`
	Text string `xml:",chardata"`
}

type teiImprint struct {
	Publisher string    `xml:"publisher"`
	Dates     []teiDate `xml:"date"`
}

type teiAnalytic struct {
	Titles  []teiTitle  `xml:"title"`
	Authors []teiAuthor `xml:"author"`
	Idnos   []teiIdno   `xml:"idno"`
}

type teiMonogr struct {
	Titles  []teiTitle  `xml:"title"`
	Authors []teiAuthor `xml:"author"`
	Idnos   []teiIdno   `xml:"idno"`
	Imprint teiImprint  `xml:"imprint"`
}

type teiNote struct {
	Type string `xml:"type,attr"`
	mixedText
}

type teiBiblStruct struct {
	ID       string      `xml:"id,attr"`
	Coords   string      `xml:"coords,attr"`
	Analytic teiAnalytic `xml:"analytic"`
	Monogr   teiMonogr   `xml:"monogr"`
	Idnos    []teiIdno   `xml:"idno"`
	Notes    []teiNote   `xml:"note"`
}

type teiRef struct {
	Type   string `xml:"type,attr"`
	Target string `xml:"target,attr"`
	Coords string `xml:"coords,attr"`
	mixedText
}

type teiFigure struct {
	ID      string    `xml:"id,attr"`
	Type    string    `xml:"type,attr"`
	Coords  string    `xml:"coords,attr"`
	Head    mixedText `xml:"head"`
	Label   mixedText `xml:"label"`
	FigDesc mixedText `xml:"figDesc"`
}

type teiFormula struct {
	ID     string    `xml:"id,attr"`
	Coords string    `xml:"coords,attr"`
	Label  mixedText `xml:"label"`
	mixedText
}

// coordBox is one GROBID box: top-left origin, page 1-based.
type coordBox struct {
	page       int
	x, y, w, h float64
}

// pending holds engine items until page heights are known.
type pending struct {
	refs     []teiRef
	bibls    []teiBiblStruct
	figures  []teiFigure
	formulas []teiFormula
}

// ParseTEI reads a GROBID TEI document. Element coordinates are converted to
// PDF user space with page heights from the facsimile surfaces.
func ParseTEI(r io.Reader) (*types.StructuredDocument, error) {
	dec := xml.NewDecoder(r)
	doc := &types.StructuredDocument{PageHeights: map[int]float64{}}
	var p pending
	var stack []string
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parsing TEI: %w", types.ErrStructureEngine, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			consumed, err := p.start(dec, t, stack, doc)
			if err != nil {
				return nil, fmt.Errorf("%w: parsing TEI <%s>: %w", types.ErrStructureEngine, t.Name.Local, err)
			}
			if !consumed {
				stack = append(stack, t.Name.Local)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("%w: empty TEI response", types.ErrStructureEngine)
	}

	p.resolve(doc)
	return doc, nil
}

// start handles one start element. It returns true when the element was
// decoded whole, so its end tag will not reach the token loop.
func (p *pending) start(dec *xml.Decoder, t xml.StartElement, stack []string, doc *types.StructuredDocument) (bool, error) {
	switch t.Name.Local {
	case "surface":
		n, height := surfaceSize(t.Attr)
		if n > 0 && height > 0 {
			doc.PageHeights[n] = height
		}
		return false, nil

	case "title":
		if inside(stack, "titleStmt") && doc.Header.Title == "" {
			var title teiTitle
			if err := dec.DecodeElement(&title, &t); err != nil {
				return true, err
			}
			if title.Type == "" || title.Type == "main" {
				doc.Header.Title = title.String()
			}
			return true, nil
		}

	case "date":
		if inside(stack, "publicationStmt") && doc.Header.Year == 0 {
			var d teiDate
			if err := dec.DecodeElement(&d, &t); err != nil {
				return true, err
			}
			doc.Header.Year = yearOf([]teiDate{d})
			return true, nil
		}

	case "biblStruct":
		var b teiBiblStruct
		switch {
		case inside(stack, "listBibl"):
			if err := dec.DecodeElement(&b, &t); err != nil {
				return true, err
			}
			p.bibls = append(p.bibls, b)
			return true, nil
		case inside(stack, "sourceDesc"):
			if err := dec.DecodeElement(&b, &t); err != nil {
				return true, err
			}
			applyHeader(&doc.Header, b)
			return true, nil
		}

	case "ref":
		if inside(stack, "body") && attr(t.Attr, "type") == "bibr" {
			var ref teiRef
			if err := dec.DecodeElement(&ref, &t); err != nil {
				return true, err
			}
			p.refs = append(p.refs, ref)
			return true, nil
		}

	case "figure":
		if inside(stack, "text") {
			var f teiFigure
			if err := dec.DecodeElement(&f, &t); err != nil {
				return true, err
			}
			p.figures = append(p.figures, f)
			return true, nil
		}

	case "formula":
		if inside(stack, "body") {
			var f teiFormula
			if err := dec.DecodeElement(&f, &t); err != nil {
				return true, err
			}
			p.formulas = append(p.formulas, f)
			return true, nil
		}
	}
	return false, nil
}

// resolve converts the collected items now that every surface is known.
func (p *pending) resolve(doc *types.StructuredDocument) {
	heights := doc.PageHeights

	for _, r := range p.refs {
		boxes := parseCoords(r.Coords)
		if len(boxes) == 0 {
			continue
		}
		bbox := firstPageBox(boxes, heights)
		doc.Citations = append(doc.Citations, types.EngineCitation{
			Page:   bbox.Page,
			BBox:   bbox,
			Text:   r.String(),
			Target: strings.TrimPrefix(strings.TrimSpace(r.Target), "#"),
		})
	}

	for _, f := range p.figures {
		label := f.Head.String()
		if label == "" {
			label = f.Label.String()
		}
		doc.Elements = append(doc.Elements, types.BodyElement{
			Kind:  types.ElementFigure,
			ID:    f.ID,
			Label: label,
			Text:  f.FigDesc.String(),
			BBox:  optionalBox(f.Coords, heights),
		})
	}
	for _, f := range p.formulas {
		doc.Elements = append(doc.Elements, types.BodyElement{
			Kind:  types.ElementFormula,
			ID:    f.ID,
			Label: f.Label.String(),
			Text:  f.String(),
			BBox:  optionalBox(f.Coords, heights),
		})
	}

	for i, b := range p.bibls {
		ref := referenceFrom(b)
		ref.Number = i + 1
		if box := optionalBox(b.Coords, heights); box != nil {
			ref.BBox = box
			ref.PageNum = box.Page
		}
		doc.References = append(doc.References, ref)
	}
}

func referenceFrom(b teiBiblStruct) types.StructuredReference {
	ref := types.StructuredReference{
		ExternalRefID: b.ID,
		Confidence:    ReferenceConfidence,
		Provenance:    types.ProvenanceStructureEngine,
	}

	analyticTitle := pickTitle(b.Analytic.Titles)
	monogrTitle := pickTitle(b.Monogr.Titles)
	if analyticTitle != "" {
		ref.Title = analyticTitle
		ref.Venue = monogrTitle
	} else {
		ref.Title = monogrTitle
	}
	if ref.Venue == "" && analyticTitle != "" {
		ref.Venue = strings.TrimSpace(b.Monogr.Imprint.Publisher)
	}

	authors := b.Analytic.Authors
	if len(authors) == 0 {
		authors = b.Monogr.Authors
	}
	ref.Authors = joinAuthors(authors)
	ref.Year = yearOf(b.Monogr.Imprint.Dates)
	ref.DOI = findDOI(b.Analytic.Idnos, b.Monogr.Idnos, b.Idnos)

	for _, n := range b.Notes {
		if n.Type == "raw_reference" {
			ref.RawText = n.String()
			break
		}
	}
	if ref.RawText == "" {
		ref.RawText = synthesizeRaw(ref)
	}
	return ref
}

func applyHeader(h *types.DocumentHeader, b teiBiblStruct) {
	authors := b.Analytic.Authors
	if len(authors) == 0 {
		authors = b.Monogr.Authors
	}
	for _, a := range authors {
		if name := personName(a.PersName); name != "" {
			h.Authors = append(h.Authors, name)
		}
	}
	if h.DOI == "" {
		h.DOI = findDOI(b.Analytic.Idnos, b.Monogr.Idnos, b.Idnos)
	}
	if y := yearOf(b.Monogr.Imprint.Dates); y != 0 {
		h.Year = y
	}
	if h.Title == "" {
		h.Title = pickTitle(b.Analytic.Titles)
	}
}

func pickTitle(titles []teiTitle) string {
	for _, t := range titles {
		if t.Type == "main" {
			return t.String()
		}
	}
	for _, t := range titles {
		if s := t.String(); s != "" {
			return s
		}
	}
	return ""
}

func personName(p teiPersName) string {
	parts := make([]string, 0, len(p.Forenames)+1)
	for _, f := range p.Forenames {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	if s := strings.TrimSpace(p.Surname); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

func joinAuthors(authors []teiAuthor) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if n := personName(a.PersName); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}

var yearRe = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)

// yearOf prefers the published date, then any date with a parsable year.
func yearOf(dates []teiDate) int {
	ordered := make([]teiDate, 0, len(dates))
	for _, d := range dates {
		if d.Type == "published" {
			ordered = append(ordered, d)
		}
	}
	ordered = append(ordered, dates...)
	for _, d := range ordered {
		for _, s := range []string{d.When, d.Text} {
			if m := yearRe.FindString(s); m != "" {
				y, _ := strconv.Atoi(m)
				return y
			}
		}
	}
	return 0
}

func findDOI(groups ...[]teiIdno) string {
	for _, g := range groups {
		for _, id := range g {
			if strings.EqualFold(id.Type, "DOI") {
				if v := strings.TrimSpace(id.Value); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func synthesizeRaw(ref types.StructuredReference) string {
	var parts []string
	for _, s := range []string{ref.Authors, ref.Title, ref.Venue} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if ref.Year != 0 {
		parts = append(parts, strconv.Itoa(ref.Year))
	}
	return strings.Join(parts, ". ")
}

// parseCoords parses "page,x,y,w,h;page,x,y,w,h". Malformed boxes are skipped.
func parseCoords(s string) []coordBox {
	var out []coordBox
	for _, part := range strings.Split(s, ";") {
		fields := strings.Split(strings.TrimSpace(part), ",")
		if len(fields) != 5 {
			continue
		}
		page, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || page < 1 {
			continue
		}
		var v [4]float64
		ok := true
		for i := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				ok = false
				break
			}
			v[i] = f
		}
		if ok {
			out = append(out, coordBox{page: page, x: v[0], y: v[1], w: v[2], h: v[3]})
		}
	}
	return out
}

// toPDF flips a top-left box into PDF user space.
func (c coordBox) toPDF(heights map[int]float64) types.BoundingBox {
	h, ok := heights[c.page]
	if !ok || h <= 0 {
		h = defaultPageHeight
	}
	return types.NewBoundingBox(c.page, c.x, h-(c.y+c.h), c.x+c.w, h-c.y)
}

// firstPageBox merges every box that lies on the first box's page.
func firstPageBox(boxes []coordBox, heights map[int]float64) types.BoundingBox {
	page := boxes[0].page
	var same []types.BoundingBox
	for _, b := range boxes {
		if b.page == page {
			same = append(same, b.toPDF(heights))
		}
	}
	merged, _ := types.MergeBoxes(same)
	return merged
}

func optionalBox(coords string, heights map[int]float64) *types.BoundingBox {
	boxes := parseCoords(coords)
	if len(boxes) == 0 {
		return nil
	}
	b := firstPageBox(boxes, heights)
	return &b
}

func surfaceSize(attrs []xml.Attr) (int, float64) {
	n, _ := strconv.Atoi(attr(attrs, "n"))
	uly, _ := strconv.ParseFloat(attr(attrs, "uly"), 64)
	lry, _ := strconv.ParseFloat(attr(attrs, "lry"), 64)
	return n, lry - uly
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func inside(stack []string, name string) bool {
	for _, s := range stack {
		if s == name {
			return true
		}
	}
	return false
}
