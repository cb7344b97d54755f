package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetKeepsFirstDuplicate(t *testing.T) {
	set := NewSet("stack-1", []Document{
		{ID: "a", Title: "T1"},
		{ID: "b", Title: "B"},
		{ID: "a", Title: "T2"},
	})

	require.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"a", "b"}, set.IDs())

	doc, ok := set.Get("a")
	require.True(t, ok)
	assert.Equal(t, "T1", doc.Title)
	assert.Equal(t, "stack-1", set.StackID())
}

func TestEmptySetIsValid(t *testing.T) {
	set := NewSet("stack-2", nil)

	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.Documents())
	assert.Equal(t, "stack-2", set.StackID())
}

func TestManagerReplaceAndRemove(t *testing.T) {
	m := NewManager()
	m.Replace("s1", []Document{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	removed, ok := m.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, []string{"a", "c"}, m.Current().IDs())

	_, ok = m.Remove("b")
	assert.False(t, ok)

	m.Replace("s2", []Document{{ID: "z"}})
	assert.Equal(t, []string{"z"}, m.Current().IDs())
	assert.Equal(t, "s2", m.Current().StackID())
}

func TestDocumentsReturnsCopy(t *testing.T) {
	set := NewSet("", []Document{{ID: "a", Title: "original"}})

	docs := set.Documents()
	docs[0].Title = "changed"

	doc, _ := set.Get("a")
	assert.Equal(t, "original", doc.Title)
}

func TestParagraphText(t *testing.T) {
	doc := Document{
		DocType: TypeWeb,
		Sentences: []Sentence{
			{Text: "Second para starts.", ParagraphNumber: 2},
			{Text: "Intro sentence.", ParagraphNumber: 1},
			{Text: "Second para ends.", ParagraphNumber: 2},
			{Text: "More intro.", ParagraphNumber: 1},
		},
	}

	assert.Equal(t, "Intro sentence. More intro.\n\nSecond para starts. Second para ends.", doc.ParagraphText())
}

func TestParagraphTextUsesFirstTweet(t *testing.T) {
	doc := Document{
		DocType: TypeTwitter,
		Tweets: []Tweet{
			{Sentences: []Sentence{{Text: "gm", ParagraphNumber: 0}, {Text: "ship it", ParagraphNumber: 1}}},
			{Sentences: []Sentence{{Text: "ignored reply", ParagraphNumber: 0}}},
		},
	}

	assert.Equal(t, "gm\n\nship it", doc.ParagraphText())
	assert.Equal(t, "gm\nship it", doc.Snippet())
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "Daily Note", Document{Title: "2024-06-01", DocSubtype: "note_card"}.DisplayTitle())
	assert.Equal(t, "Vannevar Bush", Document{Title: "Vannevar Bush"}.DisplayTitle())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "hi", Truncate("hi", 300))
	assert.Equal(t, "", Truncate("hi", 0))
}
