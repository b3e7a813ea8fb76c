package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropPrefix(t *testing.T) {
	assert.Equal(t, "1234567890", DropPrefix("ISBN1234567890", 5))
	assert.Equal(t, "", DropPrefix("ISBN", 5))
	assert.Equal(t, "abc", DropPrefix("abc", 0))
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Jane Q Public", "Jane Q", "Public"},
		{"Cher", "", "Cher"},
		{"Ada Lovelace", "Ada", "Lovelace"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			first, last := SplitName(tt.in)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestAfterLastSpace(t *testing.T) {
	assert.Equal(t, "1979", AfterLastSpace("c. 1979"))
	assert.Equal(t, "1979", AfterLastSpace("1979"))
}

func TestDefaultMapping_Apply(t *testing.T) {
	item := DefaultMapping().Apply("http://catalog.example/rec/7", map[string]string{
		PrefixDC + "title":      "Gödel, Escher, Bach",
		PrefixDC + "publisher":  "Basic Books",
		PrefixDC + "year":       "New York 1979",
		PrefixDC + "identifier": "ISBN0465026567",
		PrefixDC + "creator":    "Douglas R Hofstadter",
		PrefixDC + "subject":    "ignored",
	})

	assert.Equal(t, "http://catalog.example/rec/7", item.Source)
	assert.Equal(t, map[string]string{
		"title":     "Gödel, Escher, Bach",
		"publisher": "Basic Books",
		"date":      "1979",
		"ISBN":      "0465026567",
	}, item.Fields)
	require.Len(t, item.Creators, 1)
	assert.Equal(t, Creator{FirstName: "Douglas R", LastName: "Hofstadter"}, item.Creators[0])
}

func TestDefaultMapping_ApplySkipsEmptyValues(t *testing.T) {
	item := DefaultMapping().Apply("http://catalog.example/rec/8", map[string]string{
		PrefixDC + "title":     "",
		PrefixDC + "publisher": "",
		PrefixDC + "edition":   "",
		PrefixDC + "creator":   "",
		PrefixDC + "year":      "1994",
	})

	assert.Equal(t, map[string]string{"date": "1994"}, item.Fields)
	assert.Empty(t, item.Creators)
}

func TestLoadMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- field: title
  predicate: http://purl.org/dc/elements/1.1/title
- field: ISBN
  predicate: http://purl.org/dc/elements/1.1/identifier
  transform: drop_prefix
  count: 5
`), 0o644))

	m, err := LoadMapping(path)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, 5, m[1].Count)
}

func TestMapping_Validate(t *testing.T) {
	assert.NoError(t, DefaultMapping().Validate())
	assert.Error(t, FieldMapping{{Field: "x", Predicate: "p", Transform: "shout"}}.Validate())
	assert.Error(t, FieldMapping{{Field: "", Predicate: "p"}}.Validate())
	assert.Error(t, FieldMapping{{Field: FieldCreator, Predicate: "p"}}.Validate())
}
