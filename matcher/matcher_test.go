package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/models"
	"github.com/use-agent/ingester/registry"
)

// scriptedDetector answers detect code from a table and records calls.
type scriptedDetector struct {
	verdicts map[string]bool
	failures map[string]error
	calls    []string
}

func (d *scriptedDetector) Detect(code string) (bool, error) {
	d.calls = append(d.calls, code)
	if err, ok := d.failures[code]; ok {
		return false, err
	}
	return d.verdicts[code], nil
}

func testDoc(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.Parse("https://www.Amazon.com/dp/0201633612", "<html></html>")
	require.NoError(t, err)
	return doc
}

func TestSelect_FirstAcceptingWins(t *testing.T) {
	det := &scriptedDetector{verdicts: map[string]bool{"yes": true}}
	m := New(det, nil)

	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "none", Label: "none"},
		{ID: "other", Label: "other", URLPattern: `^https?://example\.org/`},
		{ID: "amazon", Label: "amazon", URLPattern: `amazon\.com/dp/`},
		{ID: "later", Label: "later", DetectCode: "yes"},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "amazon", got.ID)
	assert.Empty(t, det.calls)
}

func TestSelect_PatternIsCaseInsensitive(t *testing.T) {
	m := New(&scriptedDetector{}, nil)
	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "a", Label: "a", URLPattern: `WWW\.AMAZON\.COM`},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSelect_DetectIsAuthoritative(t *testing.T) {
	det := &scriptedDetector{verdicts: map[string]bool{"no": false, "yes": true}}
	m := New(det, nil)

	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "refused", Label: "refused", URLPattern: "amazon", DetectCode: "no"},
		{ID: "accepted", Label: "accepted", DetectCode: "yes"},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "accepted", got.ID)
	assert.Equal(t, []string{"no", "yes"}, det.calls)
}

func TestSelect_DetectSkippedWhenPatternFails(t *testing.T) {
	det := &scriptedDetector{verdicts: map[string]bool{"yes": true}}
	m := New(det, nil)

	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "x", Label: "x", URLPattern: "example.org", DetectCode: "yes"},
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, det.calls)
}

func TestSelect_NoCandidatesMatch(t *testing.T) {
	m := New(&scriptedDetector{}, nil)
	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{{ID: "empty", Label: "empty"}})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSelect_DetectFailureAbortsWithLabel(t *testing.T) {
	det := &scriptedDetector{
		failures: map[string]error{"boom": errors.New("ReferenceError: x is not defined")},
		verdicts: map[string]bool{"yes": true},
	}
	m := New(det, nil)

	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "broken", Label: "Broken Scraper", DetectCode: "boom"},
		{ID: "fine", Label: "fine", DetectCode: "yes"},
	})
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeDetectScript))
	assert.Contains(t, err.Error(), "Broken Scraper")
	assert.Equal(t, []string{"boom"}, det.calls)
}

func TestSelect_InvalidPattern(t *testing.T) {
	m := New(&scriptedDetector{}, nil)
	_, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "bad", Label: "bad", URLPattern: "amazon.com/(dp"},
	})
	assert.True(t, models.IsCode(err, models.ErrCodeInvalidPattern))
}

func TestSelect_ECMAScriptPatterns(t *testing.T) {
	m := New(&scriptedDetector{}, nil)
	got, err := m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "lookahead", Label: "lookahead", URLPattern: `amazon\.com/(?!gp/)dp/`},
		{ID: "plain", Label: "plain", URLPattern: `amazon\.com/dp/`},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lookahead", got.ID)

	got, err = m.Select(context.Background(), testDoc(t), []registry.Record{
		{ID: "excluded", Label: "excluded", URLPattern: `amazon\.com/(?=gp/)`},
		{ID: "backref", Label: "backref", URLPattern: `(w)\1\1\.amazon`},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "backref", got.ID)
}

func TestPatterns_SharedAcrossMatchers(t *testing.T) {
	patterns := NewPatterns(8)
	rec := []registry.Record{{ID: "a", Label: "a", URLPattern: `amazon`}}

	for i := 0; i < 2; i++ {
		got, err := New(&scriptedDetector{}, patterns).Select(context.Background(), testDoc(t), rec)
		require.NoError(t, err)
		require.NotNil(t, got)
	}
	assert.Equal(t, 1, patterns.compiled.Len())
}

func TestSelect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&scriptedDetector{}, nil).Select(ctx, testDoc(t), []registry.Record{{ID: "a", URLPattern: "amazon"}})
	assert.ErrorIs(t, err, context.Canceled)
}
