package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// candidatesQuery mirrors the priority contract in SQL: rows without detect
// code sort first, insertion order breaks ties.
const candidatesQuery = `SELECT id, label, url_pattern, detect_code, extract_code
FROM scrapers
ORDER BY (detect_code IS NULL OR detect_code = '') DESC, rowid`

// SQLRegistry reads scraper records from the scrapers table.
type SQLRegistry struct {
	db *sql.DB
}

// NewSQLRegistry wraps an open database that has the scrapers table.
func NewSQLRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

// CandidatesFor returns all scrapers in priority order.
func (r *SQLRegistry) CandidatesFor(ctx context.Context, _ string) ([]Record, error) {
	return r.List(ctx)
}

// List returns all scrapers in priority order.
func (r *SQLRegistry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, candidatesQuery)
	if err != nil {
		return nil, fmt.Errorf("registry: query scrapers: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			pattern sql.NullString
			detect  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Label, &pattern, &detect, &rec.ExtractCode); err != nil {
			return nil, fmt.Errorf("registry: scan scraper: %w", err)
		}
		rec.URLPattern = pattern.String
		rec.DetectCode = detect.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate scrapers: %w", err)
	}
	return out, nil
}

// Put inserts or replaces a scraper. A replaced scraper keeps its position.
func (r *SQLRegistry) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("registry: scraper id is required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO scrapers (id, label, url_pattern, detect_code, extract_code)
VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
ON CONFLICT(id) DO UPDATE SET
	label = excluded.label,
	url_pattern = excluded.url_pattern,
	detect_code = excluded.detect_code,
	extract_code = excluded.extract_code`,
		rec.ID, rec.Label, rec.URLPattern, rec.DetectCode, rec.ExtractCode)
	if err != nil {
		return fmt.Errorf("registry: put scraper %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a scraper by id. Deleting an unknown id is not an error.
func (r *SQLRegistry) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scrapers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("registry: delete scraper %s: %w", id, err)
	}
	return nil
}
