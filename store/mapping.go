package store

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dublin Core predicate prefix used by the bundled scrapers.
const PrefixDC = "http://purl.org/dc/elements/1.1/"

// Transform names understood by FieldRule.
const (
	TransformVerbatim       = "verbatim"
	TransformAfterLastSpace = "after_last_space"
	TransformDropPrefix     = "drop_prefix"
	TransformSplitName      = "split_name"
)

// FieldCreator is the pseudo-field that attaches the primary creator.
const FieldCreator = "creator"

// FieldRule copies one predicate of a subject into one item field.
type FieldRule struct {
	Field     string `yaml:"field"`
	Predicate string `yaml:"predicate"`
	Transform string `yaml:"transform,omitempty"`
	// Count is the number of leading characters dropped by drop_prefix.
	Count int `yaml:"count,omitempty"`
}

// FieldMapping is the table applied to each subject of a data model.
type FieldMapping []FieldRule

// DefaultMapping is the bibliographic mapping used when no table is configured.
func DefaultMapping() FieldMapping {
	return FieldMapping{
		{Field: "title", Predicate: PrefixDC + "title"},
		{Field: "publisher", Predicate: PrefixDC + "publisher"},
		{Field: "date", Predicate: PrefixDC + "year", Transform: TransformAfterLastSpace},
		{Field: "edition", Predicate: PrefixDC + "edition"},
		{Field: "ISBN", Predicate: PrefixDC + "identifier", Transform: TransformDropPrefix, Count: 5},
		{Field: FieldCreator, Predicate: PrefixDC + "creator", Transform: TransformSplitName},
	}
}

// LoadMapping reads a YAML list of field rules.
func LoadMapping(path string) (FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read mapping %s: %w", path, err)
	}
	var m FieldMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("store: parse mapping %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("store: mapping %s: %w", path, err)
	}
	return m, nil
}

// Validate checks that every rule names a field, a predicate and a known transform.
func (m FieldMapping) Validate() error {
	for i, r := range m {
		if r.Field == "" || r.Predicate == "" {
			return fmt.Errorf("rule %d: field and predicate are required", i)
		}
		switch r.Transform {
		case "", TransformVerbatim, TransformAfterLastSpace, TransformSplitName:
		case TransformDropPrefix:
			if r.Count < 0 {
				return fmt.Errorf("rule %d: negative count", i)
			}
		default:
			return fmt.Errorf("rule %d: unknown transform %q", i, r.Transform)
		}
		if r.Field == FieldCreator && r.Transform != TransformSplitName {
			return fmt.Errorf("rule %d: creator requires the %s transform", i, TransformSplitName)
		}
	}
	return nil
}

// Apply builds an unsaved item for one subject and its predicates.
// Empty values count as absent; scripts passing null or undefined to
// addStatement store "".
func (m FieldMapping) Apply(subject string, preds map[string]string) Item {
	item := Item{Source: subject, Fields: make(map[string]string)}
	for _, r := range m {
		raw := preds[r.Predicate]
		if raw == "" {
			continue
		}
		switch r.Transform {
		case TransformSplitName:
			first, last := SplitName(raw)
			item.Creators = append(item.Creators, Creator{FirstName: first, LastName: last})
		case TransformAfterLastSpace:
			item.Fields[r.Field] = AfterLastSpace(raw)
		case TransformDropPrefix:
			item.Fields[r.Field] = DropPrefix(raw, r.Count)
		default:
			item.Fields[r.Field] = raw
		}
	}
	return item
}

// AfterLastSpace returns the part of s after its last space, or s when it has none.
func AfterLastSpace(s string) string {
	return s[strings.LastIndex(s, " ")+1:]
}

// DropPrefix drops the first n characters of s.
func DropPrefix(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return ""
	}
	return string(r[n:])
}

// SplitName splits a full name at its last space. Without a space the
// whole value is the last name.
func SplitName(s string) (first, last string) {
	i := strings.LastIndex(s, " ")
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+1:]
}
