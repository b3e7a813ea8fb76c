// Package datamodel holds the statements a scraper collects while it runs.
//
// A Model maps subject URIs to predicate URIs to a single literal value.
// Writing an existing (subject, predicate) pair replaces the prior value.
// Subjects iterate in first-insertion order so materialized output is stable.
package datamodel

import (
	"log/slog"
	"sync"
)

// Model is an append/overwrite triple store. It is safe for concurrent use,
// although a Model is normally owned by a single ingestion session.
type Model struct {
	mu       sync.RWMutex
	subjects []string
	data     map[string]map[string]string
}

// New returns an empty Model.
func New() *Model {
	return &Model{data: make(map[string]map[string]string)}
}

// AddStatement records value for (subject, predicate), overwriting any
// previous value. No validation is applied to either URI.
func (m *Model) AddStatement(subject, predicate, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	preds, ok := m.data[subject]
	if !ok {
		preds = make(map[string]string)
		m.data[subject] = preds
		m.subjects = append(m.subjects, subject)
	}
	preds[predicate] = value
	slog.Debug("datamodel: statement added", "subject", subject, "predicate", predicate, "value", value)
}

// Get returns the value stored for (subject, predicate).
func (m *Model) Get(subject, predicate string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[subject][predicate]
	return v, ok
}

// Subjects returns the subject URIs in insertion order.
func (m *Model) Subjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.subjects))
	copy(out, m.subjects)
	return out
}

// Predicates returns a copy of the predicate→value map for subject.
func (m *Model) Predicates(subject string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	preds := m.data[subject]
	out := make(map[string]string, len(preds))
	for k, v := range preds {
		out[k] = v
	}
	return out
}

// Len returns the number of subjects.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subjects)
}

// Legacy scraper scripts call these; they are accepted and ignored.

func (m *Model) AddTag(args ...any) {}

func (m *Model) GetRepository(args ...any) any { return nil }

func (m *Model) DetachRepository(args ...any) {}
