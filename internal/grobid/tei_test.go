// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package grobid

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperstruct/pkg/types"
)

func loadSample(t *testing.T) *types.StructuredDocument {
	t.Helper()
	f, err := os.Open("testdata/fulltext.tei.xml")
	require.NoError(t, err)
	defer f.Close()

	doc, err := ParseTEI(f)
	require.NoError(t, err)
	return doc
}

func TestParseTEI_Header(t *testing.T) {
	doc := loadSample(t)

	assert.Equal(t, "Attention Is All You Need", doc.Header.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, doc.Header.Authors)
	assert.Equal(t, "10.5555/3295222.3295349", doc.Header.DOI)
	assert.Equal(t, 2017, doc.Header.Year)
	assert.Equal(t, map[int]float64{1: 792, 2: 792}, doc.PageHeights)
}

func TestParseTEI_Citations(t *testing.T) {
	doc := loadSample(t)

	// The figure ref and the ref without coords are dropped.
	require.Len(t, doc.Citations, 2)

	first := doc.Citations[0]
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, "[1]", first.Text)
	assert.Equal(t, "b0", first.Target)
	assert.Equal(t, types.BoundingBox{Page: 1, X1: 100, Y1: 584, X2: 110, Y2: 592}, first.BBox)

	// Two boxes on the same page merge into their envelope.
	second := doc.Citations[1]
	assert.Equal(t, "b1", second.Target)
	assert.Equal(t, types.BoundingBox{Page: 1, X1: 50, Y1: 572, X2: 160, Y2: 592}, second.BBox)
}

func TestParseTEI_Elements(t *testing.T) {
	doc := loadSample(t)
	require.Len(t, doc.Elements, 2)

	fig := doc.Elements[0]
	assert.Equal(t, types.ElementFigure, fig.Kind)
	assert.Equal(t, "fig_0", fig.ID)
	assert.Equal(t, "Figure 1: The Transformer.", fig.Label)
	assert.Equal(t, "Model architecture.", fig.Text)
	require.NotNil(t, fig.BBox)
	assert.Equal(t, types.BoundingBox{Page: 1, X1: 72, Y1: 242, X2: 272, Y2: 392}, *fig.BBox)

	formula := doc.Elements[1]
	assert.Equal(t, types.ElementFormula, formula.Kind)
	assert.Equal(t, "formula_0", formula.ID)
	assert.Equal(t, "(1)", formula.Label)
	assert.Equal(t, "E = mc^2", formula.Text)
}

func TestParseTEI_References(t *testing.T) {
	doc := loadSample(t)
	require.Len(t, doc.References, 2)

	b0 := doc.References[0]
	assert.Equal(t, 1, b0.Number)
	assert.Equal(t, "b0", b0.ExternalRefID)
	assert.Equal(t, "Long short-term memory", b0.Title)
	assert.Equal(t, "Neural Computation", b0.Venue)
	assert.Equal(t, "Sepp Hochreiter, Jürgen Schmidhuber", b0.Authors)
	assert.Equal(t, 1997, b0.Year)
	assert.Equal(t, "10.1162/neco.1997.9.8.1735", b0.DOI)
	assert.True(t, strings.HasPrefix(b0.RawText, "S. Hochreiter and J. Schmidhuber."))
	assert.Equal(t, 2, b0.PageNum)
	require.NotNil(t, b0.BBox)
	assert.Equal(t, types.BoundingBox{Page: 2, X1: 72, Y1: 672, X2: 292, Y2: 692}, *b0.BBox)
	assert.Equal(t, ReferenceConfidence, b0.Confidence)
	assert.Equal(t, types.ProvenanceStructureEngine, b0.Provenance)

	b1 := doc.References[1]
	assert.Equal(t, 2, b1.Number)
	assert.Equal(t, "Deep Learning", b1.Title)
	assert.Empty(t, b1.Venue)
	assert.Equal(t, "Ian Goodfellow", b1.Authors)
	assert.Equal(t, 2016, b1.Year)
	assert.Equal(t, "Ian Goodfellow. Deep Learning. 2016", b1.RawText)
	assert.Zero(t, b1.PageNum)
	assert.Nil(t, b1.BBox)

	assert.Equal(t, 2, doc.ReferencesStartPage())
}

func TestParseTEI_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unclosed", "<TEI><text><body>"},
		{"not xml", "Internal Server Error"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTEI(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, types.ErrStructureEngine)
		})
	}
}

func TestParseCoords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []coordBox
	}{
		{"single", "3,1.5,2,3,4", []coordBox{{page: 3, x: 1.5, y: 2, w: 3, h: 4}}},
		{"multiple", "1,0,0,1,1;2,5,5,1,1", []coordBox{{1, 0, 0, 1, 1}, {2, 5, 5, 1, 1}}},
		{"malformed skipped", "1,0,0;x,1,1,1,1;2,1,1,1,1", []coordBox{{2, 1, 1, 1, 1}}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCoords(tt.input))
		})
	}
}

func TestCoordBoxToPDF_UnknownPageHeight(t *testing.T) {
	b := coordBox{page: 4, x: 10, y: 20, w: 30, h: 10}.toPDF(map[int]float64{})
	assert.Equal(t, types.BoundingBox{Page: 4, X1: 10, Y1: 762, X2: 40, Y2: 772}, b)
}
