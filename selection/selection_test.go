package selection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabfab/recollect/results"
)

func TestPeelIsIdempotent(t *testing.T) {
	b := NewBuffer()

	assert.True(t, b.Peel(Entry{ID: "a", Title: "A"}))
	assert.False(t, b.Peel(Entry{ID: "a", Title: "A again"}))
	assert.Equal(t, 1, b.Count())
	assert.Equal(t, "A", b.Entries()[0].Title)
}

func TestRemoveAndClear(t *testing.T) {
	b := NewBuffer()
	b.Peel(Entry{ID: "a"})
	b.Peel(Entry{ID: "b"})
	b.Peel(Entry{ID: "c"})

	assert.True(t, b.Remove("b"))
	assert.False(t, b.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, ids(b.Entries()))

	b.Clear()
	assert.Equal(t, 0, b.Count())
	assert.False(t, b.Contains("a"))
}

func TestNeedsEnrichmentUsesThreshold(t *testing.T) {
	b := NewBuffer()
	b.Peel(Entry{ID: "short", Text: "tiny"})
	b.Peel(Entry{ID: "edge", Text: strings.Repeat("x", 100)})
	b.Peel(Entry{ID: "long", Text: strings.Repeat("y", 150)})

	assert.Equal(t, []string{"short"}, ids(b.NeedsEnrichment(100)))

	assert.True(t, b.SetText("short", strings.Repeat("z", 120)))
	assert.Empty(t, b.NeedsEnrichment(100))
}

func TestShortTextCountsRunes(t *testing.T) {
	assert.False(t, ShortText("ééé", 3))
	assert.True(t, ShortText("éé", 3))
}

func TestFromDocument(t *testing.T) {
	doc := results.Document{
		ID:         "n1",
		Title:      "2024-05-01",
		DocType:    results.TypeNote,
		DocSubtype: "note_card",
		Sentences:  []results.Sentence{{Text: "one"}, {Text: "two"}},
	}

	e := FromDocument(doc, Position{X: 10, Y: 20})
	assert.Equal(t, "Daily Note", e.Title)
	assert.Equal(t, "one\ntwo", e.Text)
	assert.Equal(t, Position{X: 10, Y: 20}, e.Position)
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
