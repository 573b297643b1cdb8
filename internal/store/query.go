// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// DocumentSummary is one row of ListDocuments.
type DocumentSummary struct {
	ID         string                 `json:"id" yaml:"id"`
	Status     types.ProcessingStatus `json:"status" yaml:"status"`
	Strategy   types.Strategy         `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	References int                    `json:"references" yaml:"references"`
	Spans      int                    `json:"spans" yaml:"spans"`
	Links      int                    `json:"links" yaml:"links"`
	UpdatedAt  time.Time              `json:"updated_at" yaml:"updated_at"`
}

// GetStatus returns the stored status, StatusNone for unknown documents.
func (s *Store) GetStatus(ctx context.Context, documentID string) (types.ProcessingStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StatusNone, nil
	}
	if err != nil {
		return types.StatusNone, fmt.Errorf("querying status of %s: %w", documentID, err)
	}
	return types.ProcessingStatus(status), nil
}

// GetReferences returns the document's references ordered by number.
func (s *Store) GetReferences(ctx context.Context, documentID string) ([]types.StructuredReference, error) {
	return s.queryReferences(ctx,
		`SELECT id, document_id, number, external_ref_id, raw_text, authors, title, venue, year, doi,
			page_num, bbox, confidence, provenance
		 FROM references_ WHERE document_id = ? ORDER BY number, rowid`, documentID)
}

// GetEngineData returns the structure engine's in-text citations and the
// references it produced. Both are empty when the engine did not succeed.
func (s *Store) GetEngineData(ctx context.Context, documentID string) ([]types.EngineCitation, []types.StructuredReference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page, x1, y1, x2, y2, text, target FROM engine_citations
		 WHERE document_id = ? ORDER BY seq`, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying engine citations: %w", err)
	}
	defer rows.Close()

	var cites []types.EngineCitation
	for rows.Next() {
		var (
			c            types.EngineCitation
			text, target sql.NullString
		)
		if err := rows.Scan(&c.Page, &c.BBox.X1, &c.BBox.Y1, &c.BBox.X2, &c.BBox.Y2, &text, &target); err != nil {
			return nil, nil, fmt.Errorf("scanning engine citation: %w", err)
		}
		c.BBox.Page = c.Page
		c.Text = text.String
		c.Target = target.String
		cites = append(cites, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	refs, err := s.queryReferences(ctx,
		`SELECT id, document_id, number, external_ref_id, raw_text, authors, title, venue, year, doi,
			page_num, bbox, confidence, provenance
		 FROM references_ WHERE document_id = ? AND provenance = ? ORDER BY number, rowid`,
		documentID, string(types.ProvenanceStructureEngine))
	if err != nil {
		return nil, nil, err
	}
	return cites, refs, nil
}

// GetSpans returns the document's citation spans in reading order.
func (s *Store) GetSpans(ctx context.Context, documentID string) ([]types.CitationSpan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, page_num, x1, y1, x2, y2, raw_text, style, provenance, confidence,
			dest_page, dest_y
		 FROM citation_spans WHERE document_id = ? ORDER BY page_num, y2 DESC, x1, rowid`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying spans: %w", err)
	}
	defer rows.Close()

	var spans []types.CitationSpan
	for rows.Next() {
		var (
			sp          types.CitationSpan
			style, prov string
			destPage    sql.NullInt64
			destY       sql.NullFloat64
		)
		if err := rows.Scan(&sp.ID, &sp.DocumentID, &sp.PageNum, &sp.BBox.X1, &sp.BBox.Y1, &sp.BBox.X2, &sp.BBox.Y2,
			&sp.RawText, &style, &prov, &sp.Confidence, &destPage, &destY); err != nil {
			return nil, fmt.Errorf("scanning span: %w", err)
		}
		sp.BBox.Page = sp.PageNum
		sp.Style = types.CitationStyle(style)
		sp.Provenance = types.SpanProvenance(prov)
		if destPage.Valid {
			p := int(destPage.Int64)
			sp.DestPage = &p
		}
		if destY.Valid {
			y := destY.Float64
			sp.DestY = &y
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// GetLinks returns the document's citation links.
func (s *Store) GetLinks(ctx context.Context, documentID string) ([]types.CitationLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.citation_span_id, l.reference_id, l.method, l.confidence
		 FROM citation_links l
		 JOIN citation_spans s ON s.id = l.citation_span_id
		 WHERE l.document_id = ?
		 ORDER BY s.page_num, s.y2 DESC, s.x1, l.rowid`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []types.CitationLink
	for rows.Next() {
		var (
			l      types.CitationLink
			method string
		)
		if err := rows.Scan(&l.CitationSpanID, &l.ReferenceID, &method, &l.Confidence); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		l.Method = types.LinkMethod(method)
		links = append(links, l)
	}
	return links, rows.Err()
}

// GetPageTexts returns the stored page texts ordered by page.
func (s *Store) GetPageTexts(ctx context.Context, documentID string) ([]types.PageText, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_num, text, method, is_garbled, quality_score, ocr_confidence
		 FROM page_texts WHERE document_id = ? ORDER BY page_num`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying page texts: %w", err)
	}
	defer rows.Close()

	var pages []types.PageText
	for rows.Next() {
		var (
			p      types.PageText
			method string
			ocr    sql.NullFloat64
		)
		if err := rows.Scan(&p.PageNum, &p.Text, &method, &p.IsGarbled, &p.QualityScore, &ocr); err != nil {
			return nil, fmt.Errorf("scanning page text: %w", err)
		}
		p.DocumentID = documentID
		p.Method = types.ExtractionMethod(method)
		if ocr.Valid {
			v := ocr.Float64
			p.OCRConfidence = &v
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// LoadResult reassembles a stored ProcessingResult. It returns ErrNotFound
// for documents that were never saved.
func (s *Store) LoadResult(ctx context.Context, documentID string) (*types.ProcessingResult, error) {
	var (
		status, updated          string
		strategy, source, method sql.NullString
		attempts                 sql.NullString
		totalPages               sql.NullInt64
		quality                  sql.NullFloat64
		alternate                bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, strategy, source_path, total_pages, overall_method, average_quality,
			alternate_source, attempts, updated_at
		 FROM documents WHERE id = ?`, documentID).
		Scan(&status, &strategy, &source, &totalPages, &method, &quality, &alternate, &attempts, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", documentID, err)
	}

	result := &types.ProcessingResult{
		DocumentID: documentID,
		Status:     types.ProcessingStatus(status),
		Strategy:   types.Strategy(strategy.String),
		SourcePath: source.String,
		Text: types.DocumentText{
			TotalPages:      int(totalPages.Int64),
			OverallMethod:   types.ExtractionMethod(method.String),
			AverageQuality:  quality.Float64,
			SourcePath:      source.String,
			AlternateSource: alternate,
		},
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		result.UpdatedAt = t
	}
	if attempts.Valid && attempts.String != "" && attempts.String != "null" {
		if err := json.Unmarshal([]byte(attempts.String), &result.Attempts); err != nil {
			return nil, fmt.Errorf("decoding attempts of %s: %w", documentID, err)
		}
	}

	if result.Text.Pages, err = s.GetPageTexts(ctx, documentID); err != nil {
		return nil, err
	}
	if result.References, err = s.GetReferences(ctx, documentID); err != nil {
		return nil, err
	}
	if result.EngineCitations, _, err = s.GetEngineData(ctx, documentID); err != nil {
		return nil, err
	}
	if result.Spans, err = s.GetSpans(ctx, documentID); err != nil {
		return nil, err
	}
	if result.Links, err = s.GetLinks(ctx, documentID); err != nil {
		return nil, err
	}
	return result, nil
}

// ListDocuments returns a summary per stored document, most recent first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.status, d.strategy, d.updated_at,
			(SELECT count(*) FROM references_ r WHERE r.document_id = d.id),
			(SELECT count(*) FROM citation_spans s WHERE s.document_id = d.id),
			(SELECT count(*) FROM citation_links l WHERE l.document_id = d.id)
		 FROM documents d ORDER BY d.updated_at DESC, d.id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var (
			d               DocumentSummary
			status, updated string
			strategy        sql.NullString
		)
		if err := rows.Scan(&d.ID, &status, &strategy, &updated, &d.References, &d.Spans, &d.Links); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Status = types.ProcessingStatus(status)
		d.Strategy = types.Strategy(strategy.String)
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			d.UpdatedAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) queryReferences(ctx context.Context, query string, args ...any) ([]types.StructuredReference, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()

	var refs []types.StructuredReference
	for rows.Next() {
		var (
			r                                      types.StructuredReference
			extID, authors, title, venue, doi, box sql.NullString
			number, year, page                     sql.NullInt64
			prov                                   string
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &number, &extID, &r.RawText, &authors, &title, &venue,
			&year, &doi, &page, &box, &r.Confidence, &prov); err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		r.Number = int(number.Int64)
		r.ExternalRefID = extID.String
		r.Authors = authors.String
		r.Title = title.String
		r.Venue = venue.String
		r.Year = int(year.Int64)
		r.DOI = doi.String
		r.PageNum = int(page.Int64)
		r.Provenance = types.Provenance(prov)
		if box.Valid && box.String != "" {
			var b types.BoundingBox
			if err := json.Unmarshal([]byte(box.String), &b); err != nil {
				return nil, fmt.Errorf("decoding bbox of reference %s: %w", r.ID, err)
			}
			r.BBox = &b
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
