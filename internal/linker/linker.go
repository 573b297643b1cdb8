// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package linker ties citation spans to bibliography references. Each span
// is offered to an ordered list of strategies and the first one that
// produces links wins. Linking never fails: an unmatched span has no links.
package linker

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/internal/similarity"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// Link confidences by strategy. Empirically tuned.
const (
	ConfidenceStructureTarget   = 0.98
	ConfidenceAnnotationGoto    = 0.95
	ConfidenceAnnotationInPage  = 0.92
	ConfidenceAnnotationOutside = 0.75
	ConfidencePageOnlyExact     = 0.6
	ConfidencePageOnlyWidened   = 0.5
	ConfidenceNumeric           = 0.95

	authorYearBase       = 0.5
	authorYearFirstBonus = 0.25
	authorYearAnyBonus   = 0.15
	authorYearYearBonus  = 0.2
	authorYearCap        = 0.85

	// minOverlapScore is the least metadata agreement accepted when an
	// engine target must be matched to a reference by content.
	minOverlapScore = 0.5
)

var targetNumberRe = regexp.MustCompile(`(\d+)$`)

// Input is everything the linker needs for one document.
type Input struct {
	Spans               []types.CitationSpan
	References          []types.StructuredReference
	ReferencesStartPage int

	// Engine data is optional.
	EngineCitations  []types.EngineCitation
	EngineReferences []types.StructuredReference
}

// strategy returns the links for one span, or nil to pass.
type strategy struct {
	name types.LinkMethod
	fn   func(l *Linker, ix *index, s types.CitationSpan) []types.CitationLink
}

// strategies in priority order.
var strategies = []strategy{
	{types.LinkStructureTarget, (*Linker).structureTarget},
	{types.LinkAnnotationGoto, (*Linker).annotationDestination},
	{types.LinkNumeric, (*Linker).numeric},
	{types.LinkAuthorYearFuzzy, (*Linker).authorYear},
}

// Linker links spans to references.
type Linker struct {
	cfg    types.LinkConfig
	logger *zap.Logger
}

// New returns a Linker. Zero config fields take the defaults.
func New(cfg types.LinkConfig, logger *zap.Logger) *Linker {
	def := types.DefaultLinkConfig()
	if cfg.MaxRangeSpan <= 0 {
		cfg.MaxRangeSpan = def.MaxRangeSpan
	}
	if cfg.StructureMatchThreshold <= 0 {
		cfg.StructureMatchThreshold = def.StructureMatchThreshold
	}
	if cfg.DestYTolerance <= 0 {
		cfg.DestYTolerance = def.DestYTolerance
	}
	return &Linker{cfg: cfg, logger: logging.OrNop(logger)}
}

// Link returns the links of every span, in span order. Spans printed on or
// after the references start page are not linked.
func (l *Linker) Link(in Input) []types.CitationLink {
	ix := newIndex(in)
	var links []types.CitationLink
	counts := make(map[types.LinkMethod]int)
	unlinked := 0
	for _, s := range in.Spans {
		if in.ReferencesStartPage > 0 && s.PageNum >= in.ReferencesStartPage {
			unlinked++
			continue
		}
		found := l.linkSpan(ix, s)
		if len(found) == 0 {
			unlinked++
			continue
		}
		for _, lk := range found {
			counts[lk.Method]++
		}
		links = append(links, found...)
	}

	fields := []zap.Field{zap.Int("spans", len(in.Spans)), zap.Int("links", len(links)), zap.Int("unlinked", unlinked)}
	for m, n := range counts {
		fields = append(fields, zap.Int(string(m), n))
	}
	l.logger.Debug("citations linked", fields...)
	return links
}

func (l *Linker) linkSpan(ix *index, s types.CitationSpan) []types.CitationLink {
	for _, st := range strategies {
		if links := dedupe(st.fn(l, ix, s)); len(links) > 0 {
			return links
		}
	}
	return nil
}

// structureTarget matches the span to an engine citation on the same page
// and follows that citation's bibliographic target. A span carrying a single
// number only matches engine citations with exactly that number. Spans with
// several numbers pass, since an engine citation targets one entry and the
// numeric strategies fan out. Textual markers need exact text, or contained
// text on an overlapping box.
func (l *Linker) structureTarget(ix *index, s types.CitationSpan) []types.CitationLink {
	cands := ix.engineByPage[s.PageNum]
	if len(cands) == 0 {
		return nil
	}
	nums := ParseNumbers(s.RawText, l.cfg.MaxRangeSpan)
	if len(nums) > 1 {
		return nil
	}

	best, bestScore, bestDist := -1, 0.0, math.Inf(1)
	sx, sy := s.BBox.Center()
	for i, c := range cands {
		score := l.targetScore(s, nums, c)
		if score <= l.cfg.StructureMatchThreshold {
			continue
		}
		cx, cy := c.BBox.Center()
		dist := math.Hypot(sx-cx, sy-cy)
		if score > bestScore || (score == bestScore && dist < bestDist) {
			best, bestScore, bestDist = i, score, dist
		}
	}
	if best < 0 || cands[best].Target == "" {
		return nil
	}

	ref, ok := ix.resolveTarget(cands[best].Target)
	if !ok {
		return nil
	}
	return []types.CitationLink{newLink(s, ref, types.LinkStructureTarget, ConfidenceStructureTarget)}
}

// targetScore rates how well engine citation c matches span s. nums holds
// the span's citation number when it has exactly one.
func (l *Linker) targetScore(s types.CitationSpan, nums []int, c types.EngineCitation) float64 {
	if len(nums) == 1 {
		cn := ParseNumbers(c.Text, l.cfg.MaxRangeSpan)
		if len(cn) == 1 && cn[0] == nums[0] {
			return 1
		}
		return 0
	}
	score := similarity.MatchScore(s.RawText, c.Text)
	if score < 1 && !s.BBox.Overlaps(c.BBox) {
		return 0
	}
	return score
}

// annotationDestination uses the page (and y) an annotation jumps to.
func (l *Linker) annotationDestination(ix *index, s types.CitationSpan) []types.CitationLink {
	if !s.HasDestination() {
		return nil
	}
	page := *s.DestPage

	cands := ix.byPage[page]
	widened := false
	if len(cands) == 0 {
		cands = append(append([]types.StructuredReference{}, ix.byPage[page-1]...), ix.byPage[page+1]...)
		widened = true
	}

	switch len(cands) {
	case 0:
		if refs := ix.numbered(s, l.cfg.MaxRangeSpan); len(refs) > 0 {
			return linksTo(s, refs, types.LinkAnnotationNumeric, ConfidenceAnnotationOutside)
		}
		return nil
	case 1:
		return linksTo(s, cands, types.LinkAnnotationGoto, ConfidenceAnnotationGoto)
	}

	if s.DestY != nil {
		if ref, ok := closestTop(cands, *s.DestY, l.cfg.DestYTolerance); ok {
			return []types.CitationLink{newLink(s, ref, types.LinkAnnotationGoto, ConfidenceAnnotationGoto)}
		}
	}

	if refs := ix.numbered(s, l.cfg.MaxRangeSpan); len(refs) > 0 {
		conf := ConfidenceAnnotationInPage
		if !allIn(refs, cands) {
			conf = ConfidenceAnnotationOutside
		}
		return linksTo(s, refs, types.LinkAnnotationNumeric, conf)
	}

	conf := ConfidencePageOnlyExact
	if widened {
		conf = ConfidencePageOnlyWidened
	}
	return linksTo(s, cands, types.LinkAnnotationPageOnly, conf)
}

// numeric resolves each number in the span against reference numbers.
func (l *Linker) numeric(ix *index, s types.CitationSpan) []types.CitationLink {
	if s.Style == types.StyleAuthorYear {
		return nil
	}
	return linksTo(s, ix.numbered(s, l.cfg.MaxRangeSpan), types.LinkNumeric, ConfidenceNumeric)
}

// authorYear links to the single best reference by surname and year.
func (l *Linker) authorYear(ix *index, s types.CitationSpan) []types.CitationLink {
	if s.Style == types.StyleNumeric {
		return nil
	}
	surname, year, ok := ParseAuthorYear(s.RawText)
	if !ok {
		return nil
	}

	var best types.StructuredReference
	bestScore := 0.0
	for _, r := range ix.refs {
		if !similarity.ContainsFold(r.Authors, surname) {
			continue
		}
		if year != 0 && r.Year != year {
			continue
		}
		if score := AuthorYearScore(r, surname, year); score > bestScore {
			best, bestScore = r, score
		}
	}
	if bestScore == 0 {
		return nil
	}
	return []types.CitationLink{newLink(s, best, types.LinkAuthorYearFuzzy, bestScore)}
}

// AuthorYearScore scores how well ref matches a surname and optional year:
// 0.5 base, +0.25 when the surname is the first author (else +0.15 when it
// appears anywhere), +0.2 for a matching year, capped at 0.85. It returns 0
// when the surname is absent.
func AuthorYearScore(ref types.StructuredReference, surname string, year int) float64 {
	if surname == "" || !similarity.ContainsFold(ref.Authors, surname) {
		return 0
	}
	score := authorYearBase
	if similarity.ContainsFold(firstAuthor(ref.Authors), surname) {
		score += authorYearFirstBonus
	} else {
		score += authorYearAnyBonus
	}
	if year != 0 && ref.Year == year {
		score += authorYearYearBonus
	}
	return math.Min(score, authorYearCap)
}

// firstAuthor returns the leading name of an author list in either
// "Surname, I., ..." or "First Last, ..." form.
func firstAuthor(authors string) string {
	a := strings.TrimSpace(authors)
	for _, sep := range []string{";", " and ", " & ", ","} {
		if i := strings.Index(a, sep); i > 0 {
			a = a[:i]
		}
	}
	return a
}

// index holds the lookups shared by all strategies for one document.
type index struct {
	refs         []types.StructuredReference
	byNumber     map[int]types.StructuredReference
	byPage       map[int][]types.StructuredReference
	byExternal   map[string]types.StructuredReference
	engineRefs   map[string]types.StructuredReference
	engineByPage map[int][]types.EngineCitation
}

func newIndex(in Input) *index {
	ix := &index{
		refs:         in.References,
		byNumber:     make(map[int]types.StructuredReference),
		byPage:       make(map[int][]types.StructuredReference),
		byExternal:   make(map[string]types.StructuredReference),
		engineRefs:   make(map[string]types.StructuredReference),
		engineByPage: make(map[int][]types.EngineCitation),
	}
	for _, r := range in.References {
		if r.Number > 0 {
			if _, dup := ix.byNumber[r.Number]; !dup {
				ix.byNumber[r.Number] = r
			}
		}
		if r.PageNum > 0 {
			ix.byPage[r.PageNum] = append(ix.byPage[r.PageNum], r)
		}
		if r.ExternalRefID != "" {
			ix.byExternal[r.ExternalRefID] = r
		}
	}
	for _, r := range in.EngineReferences {
		if r.ExternalRefID != "" {
			ix.engineRefs[r.ExternalRefID] = r
		}
	}
	for _, c := range in.EngineCitations {
		ix.engineByPage[c.Page] = append(ix.engineByPage[c.Page], c)
	}
	return ix
}

// numbered resolves the span's citation numbers to references.
func (ix *index) numbered(s types.CitationSpan, maxRangeSpan int) []types.StructuredReference {
	var out []types.StructuredReference
	for _, n := range ParseNumbers(s.RawText, maxRangeSpan) {
		if r, ok := ix.byNumber[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

// resolveTarget maps an engine target id to a reference: by external id,
// then by the number in the id (engine ids count from 0), then by metadata
// agreement with the engine's own entry.
func (ix *index) resolveTarget(target string) (types.StructuredReference, bool) {
	target = strings.TrimPrefix(target, "#")
	if r, ok := ix.byExternal[target]; ok {
		return r, true
	}
	if m := targetNumberRe.FindStringSubmatch(target); m != nil {
		n, _ := strconv.Atoi(m[1])
		if r, ok := ix.byNumber[n+1]; ok {
			if eng, known := ix.engineRefs[target]; !known || overlapScore(eng, r) >= minOverlapScore {
				return r, true
			}
		}
	}
	eng, ok := ix.engineRefs[target]
	if !ok {
		return types.StructuredReference{}, false
	}
	var best types.StructuredReference
	bestScore := 0.0
	for _, r := range ix.refs {
		if score := overlapScore(eng, r); score > bestScore {
			best, bestScore = r, score
		}
	}
	return best, bestScore >= minOverlapScore
}

// overlapScore compares two references by title tokens, first-author
// surname and year.
func overlapScore(a, b types.StructuredReference) float64 {
	var score, weight float64
	if a.Title != "" && b.Title != "" {
		score += 0.6 * similarity.TokenOverlap(a.Title, b.Title)
		weight += 0.6
	}
	if sa := similarity.Tokens(firstAuthor(a.Authors)); len(sa) > 0 && b.Authors != "" {
		if similarity.ContainsFold(b.Authors, sa[len(sa)-1]) || similarity.ContainsFold(b.Authors, sa[0]) {
			score += 0.25
		}
		weight += 0.25
	}
	if a.Year != 0 && b.Year != 0 {
		if a.Year == b.Year {
			score += 0.15
		}
		weight += 0.15
	}
	if weight == 0 {
		return similarity.TokenOverlap(a.RawText, b.RawText)
	}
	return score / weight
}

// closestTop returns the candidate whose box top is nearest y, within tol.
func closestTop(cands []types.StructuredReference, y, tol float64) (types.StructuredReference, bool) {
	var best types.StructuredReference
	bestDist := math.Inf(1)
	for _, r := range cands {
		if r.BBox == nil {
			continue
		}
		if d := math.Abs(r.BBox.Y2 - y); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best, bestDist <= tol
}

func allIn(refs, set []types.StructuredReference) bool {
	ids := make(map[string]bool, len(set))
	for _, r := range set {
		ids[r.ID] = true
	}
	for _, r := range refs {
		if !ids[r.ID] {
			return false
		}
	}
	return true
}

func newLink(s types.CitationSpan, r types.StructuredReference, m types.LinkMethod, conf float64) types.CitationLink {
	return types.CitationLink{CitationSpanID: s.ID, ReferenceID: r.ID, Method: m, Confidence: conf}
}

func linksTo(s types.CitationSpan, refs []types.StructuredReference, m types.LinkMethod, conf float64) []types.CitationLink {
	out := make([]types.CitationLink, 0, len(refs))
	for _, r := range refs {
		out = append(out, newLink(s, r, m, conf))
	}
	return out
}

// dedupe drops repeated references within one span's links.
func dedupe(links []types.CitationLink) []types.CitationLink {
	if len(links) < 2 {
		return links
	}
	seen := make(map[string]bool, len(links))
	out := links[:0]
	for _, lk := range links {
		if seen[lk.ReferenceID] {
			continue
		}
		seen[lk.ReferenceID] = true
		out = append(out, lk)
	}
	return out
}
