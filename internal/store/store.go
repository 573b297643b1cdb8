// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists processing results in SQLite. Every write for a
// document replaces all of that document's rows inside one transaction, so
// an abandoned run never leaves partial data merged with a later one.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// ErrNotFound is returned when a document has never been saved.
var ErrNotFound = errors.New("document not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at cfg.Path and ensures the schema.
func Open(cfg types.StoreConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = types.DefaultPipelineConfig().Store.Path
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			strategy TEXT,
			source_path TEXT,
			total_pages INTEGER,
			overall_method TEXT,
			average_quality REAL,
			alternate_source INTEGER NOT NULL DEFAULT 0,
			attempts TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS page_texts (
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			page_num INTEGER NOT NULL,
			text TEXT NOT NULL,
			method TEXT NOT NULL,
			is_garbled INTEGER NOT NULL,
			quality_score REAL NOT NULL,
			ocr_confidence REAL,
			PRIMARY KEY (document_id, page_num)
		)`,
		`CREATE TABLE IF NOT EXISTS references_ (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			number INTEGER,
			external_ref_id TEXT,
			raw_text TEXT NOT NULL,
			authors TEXT,
			title TEXT,
			venue TEXT,
			year INTEGER,
			doi TEXT,
			page_num INTEGER,
			bbox TEXT,
			confidence REAL NOT NULL,
			provenance TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_references_document ON references_(document_id)`,
		`CREATE TABLE IF NOT EXISTS citation_spans (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			page_num INTEGER NOT NULL,
			x1 REAL, y1 REAL, x2 REAL, y2 REAL,
			raw_text TEXT NOT NULL,
			style TEXT NOT NULL,
			provenance TEXT NOT NULL,
			confidence REAL NOT NULL,
			dest_page INTEGER,
			dest_y REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_document ON citation_spans(document_id)`,
		`CREATE TABLE IF NOT EXISTS citation_links (
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			citation_span_id TEXT NOT NULL REFERENCES citation_spans(id) ON DELETE CASCADE,
			reference_id TEXT NOT NULL REFERENCES references_(id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			confidence REAL NOT NULL,
			PRIMARY KEY (citation_span_id, reference_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_document ON citation_links(document_id)`,
		`CREATE TABLE IF NOT EXISTS engine_citations (
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			page INTEGER NOT NULL,
			x1 REAL, y1 REAL, x2 REAL, y2 REAL,
			text TEXT,
			target TEXT,
			PRIMARY KEY (document_id, seq)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveResult replaces everything stored for result.DocumentID with result.
func (s *Store) SaveResult(ctx context.Context, result *types.ProcessingResult) error {
	if result == nil || result.DocumentID == "" {
		return errors.New("saving result: missing document id")
	}
	if result.UpdatedAt.IsZero() {
		result.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteDocument(ctx, tx, result.DocumentID); err != nil {
		return err
	}

	attempts, err := json.Marshal(result.Attempts)
	if err != nil {
		return fmt.Errorf("encoding attempts: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, status, strategy, source_path, total_pages, overall_method,
			average_quality, alternate_source, attempts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.DocumentID, string(result.Status), string(result.Strategy), result.SourcePath,
		result.Text.TotalPages, string(result.Text.OverallMethod), result.Text.AverageQuality,
		result.Text.AlternateSource, string(attempts), result.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	if err := insertPages(ctx, tx, result.DocumentID, result.Text.Pages); err != nil {
		return err
	}
	if err := insertReferences(ctx, tx, result.DocumentID, result.References); err != nil {
		return err
	}
	if err := insertEngineCitations(ctx, tx, result.DocumentID, result.EngineCitations); err != nil {
		return err
	}
	if err := insertSpans(ctx, tx, result.DocumentID, result.Spans, result.Links); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplaceSpans swaps the stored spans and links of an existing document.
func (s *Store) ReplaceSpans(ctx context.Context, documentID string, spans []types.CitationSpan, links []types.CitationLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE id = ?`, documentID).Scan(&exists); err != nil {
		return fmt.Errorf("checking document: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("replacing spans of %s: %w", documentID, ErrNotFound)
	}

	for _, stmt := range []string{
		`DELETE FROM citation_links WHERE document_id = ?`,
		`DELETE FROM citation_spans WHERE document_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, documentID); err != nil {
			return fmt.Errorf("deleting spans: %w", err)
		}
	}
	if err := insertSpans(ctx, tx, documentID, spans, links); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteDocument removes a document and all of its rows.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteDocument(ctx, tx, documentID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteDocument(ctx context.Context, tx *sql.Tx, documentID string) error {
	for _, stmt := range []string{
		`DELETE FROM citation_links WHERE document_id = ?`,
		`DELETE FROM citation_spans WHERE document_id = ?`,
		`DELETE FROM engine_citations WHERE document_id = ?`,
		`DELETE FROM references_ WHERE document_id = ?`,
		`DELETE FROM page_texts WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, documentID); err != nil {
			return fmt.Errorf("deleting rows of %s: %w", documentID, err)
		}
	}
	return nil
}

func insertPages(ctx context.Context, tx *sql.Tx, documentID string, pages []types.PageText) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_texts (document_id, page_num, text, method, is_garbled, quality_score, ocr_confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing page insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pages {
		if _, err := stmt.ExecContext(ctx, documentID, p.PageNum, p.Text, string(p.Method),
			p.IsGarbled, p.QualityScore, nullFloat(p.OCRConfidence)); err != nil {
			return fmt.Errorf("inserting page %d: %w", p.PageNum, err)
		}
	}
	return nil
}

func insertReferences(ctx context.Context, tx *sql.Tx, documentID string, refs []types.StructuredReference) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO references_ (id, document_id, number, external_ref_id, raw_text, authors, title,
			venue, year, doi, page_num, bbox, confidence, provenance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing reference insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range refs {
		var bbox sql.NullString
		if r.BBox != nil {
			data, err := json.Marshal(r.BBox)
			if err != nil {
				return fmt.Errorf("encoding bbox of reference %s: %w", r.ID, err)
			}
			bbox = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ID, documentID, r.Number, r.ExternalRefID, r.RawText,
			r.Authors, r.Title, r.Venue, r.Year, r.DOI, r.PageNum, bbox, r.Confidence,
			string(r.Provenance)); err != nil {
			return fmt.Errorf("inserting reference %s: %w", r.ID, err)
		}
	}
	return nil
}

func insertEngineCitations(ctx context.Context, tx *sql.Tx, documentID string, cites []types.EngineCitation) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO engine_citations (document_id, seq, page, x1, y1, x2, y2, text, target)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing engine citation insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range cites {
		if _, err := stmt.ExecContext(ctx, documentID, i, c.Page, c.BBox.X1, c.BBox.Y1, c.BBox.X2, c.BBox.Y2,
			c.Text, c.Target); err != nil {
			return fmt.Errorf("inserting engine citation %d: %w", i, err)
		}
	}
	return nil
}

func insertSpans(ctx context.Context, tx *sql.Tx, documentID string, spans []types.CitationSpan, links []types.CitationLink) error {
	spanStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO citation_spans (id, document_id, page_num, x1, y1, x2, y2, raw_text, style,
			provenance, confidence, dest_page, dest_y)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing span insert: %w", err)
	}
	defer spanStmt.Close()

	for _, sp := range spans {
		var destPage sql.NullInt64
		if sp.DestPage != nil {
			destPage = sql.NullInt64{Int64: int64(*sp.DestPage), Valid: true}
		}
		if _, err := spanStmt.ExecContext(ctx, sp.ID, documentID, sp.PageNum,
			sp.BBox.X1, sp.BBox.Y1, sp.BBox.X2, sp.BBox.Y2, sp.RawText, string(sp.Style),
			string(sp.Provenance), sp.Confidence, destPage, nullFloat(sp.DestY)); err != nil {
			return fmt.Errorf("inserting span %s: %w", sp.ID, err)
		}
	}

	linkStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO citation_links (document_id, citation_span_id, reference_id, method, confidence)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing link insert: %w", err)
	}
	defer linkStmt.Close()

	for _, l := range links {
		if _, err := linkStmt.ExecContext(ctx, documentID, l.CitationSpanID, l.ReferenceID,
			string(l.Method), l.Confidence); err != nil {
			return fmt.Errorf("inserting link %s -> %s: %w", l.CitationSpanID, l.ReferenceID, err)
		}
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
