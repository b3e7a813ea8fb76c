// Package registry looks up scraper definitions for a document.
//
// Every Registry returns candidates in priority order: records without
// detect code come first (cheap pattern-only checks), followed by records
// that carry detect code. Order within each group is the storage order.
// The matcher relies on this and never re-sorts.
package registry

import (
	"context"
	"sort"
)

// Record describes one extraction strategy. An empty URLPattern or
// DetectCode means the field is absent.
type Record struct {
	ID          string `yaml:"id" json:"id"`
	Label       string `yaml:"label" json:"label"`
	URLPattern  string `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	DetectCode  string `yaml:"detect_code,omitempty" json:"detect_code,omitempty"`
	ExtractCode string `yaml:"extract_code" json:"extract_code"`
}

// HasPattern reports whether the record carries a URL pattern.
func (r Record) HasPattern() bool { return r.URLPattern != "" }

// HasDetect reports whether the record carries detect code.
func (r Record) HasDetect() bool { return r.DetectCode != "" }

// Registry returns the ordered candidate list for a document URL.
type Registry interface {
	CandidatesFor(ctx context.Context, documentURL string) ([]Record, error)
}

// Order returns a copy of records with detect-less records first.
// The partition is stable.
func Order(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return !out[i].HasDetect() && out[j].HasDetect()
	})
	return out
}

// Static is an in-memory Registry.
type Static struct {
	records []Record
}

// NewStatic builds a Static registry; records are put in priority order once.
func NewStatic(records ...Record) *Static {
	return &Static{records: Order(records)}
}

// CandidatesFor returns every record. The document URL is not used to
// prefilter; matching is the matcher's job.
func (s *Static) CandidatesFor(_ context.Context, _ string) ([]Record, error) {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// List returns every record in priority order.
func (s *Static) List(ctx context.Context) ([]Record, error) {
	return s.CandidatesFor(ctx, "")
}
