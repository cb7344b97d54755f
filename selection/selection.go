// Package selection holds the documents peeled out of the result list for
// synthesis.
package selection

import (
	"unicode/utf8"

	"github.com/fabfab/recollect/results"
)

// Position is where the peeled card sits on screen. The core only carries it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Entry struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	URL           string   `json:"url,omitempty"`
	Text          string   `json:"text"`
	IsScreenshot  bool     `json:"is_screenshot,omitempty"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	Position      Position `json:"position"`
}

// FromDocument builds an entry showing the same text as the result card.
func FromDocument(doc results.Document, pos Position) Entry {
	return Entry{
		ID:            doc.ID,
		Title:         doc.DisplayTitle(),
		URL:           doc.URL,
		Text:          doc.Snippet(),
		IsScreenshot:  doc.IsScreenshot,
		ThumbnailPath: doc.ThumbnailPath,
		Position:      pos,
	}
}

// Buffer is an ordered, id-unique list of entries. Not safe for concurrent use.
type Buffer struct {
	entries []Entry
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Peel appends entry and reports whether it was added. A second peel of the
// same id leaves the buffer unchanged.
func (b *Buffer) Peel(entry Entry) bool {
	if b.index(entry.ID) >= 0 {
		return false
	}
	b.entries = append(b.entries, entry)
	return true
}

func (b *Buffer) Remove(id string) bool {
	i := b.index(id)
	if i < 0 {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return true
}

func (b *Buffer) Clear() {
	b.entries = nil
}

func (b *Buffer) Count() int {
	return len(b.entries)
}

func (b *Buffer) Contains(id string) bool {
	return b.index(id) >= 0
}

// Entries returns a copy in peel order.
func (b *Buffer) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// SetText replaces the display text of id, typically with enriched text.
func (b *Buffer) SetText(id, text string) bool {
	i := b.index(id)
	if i < 0 {
		return false
	}
	b.entries[i].Text = text
	return true
}

// NeedsEnrichment returns the entries whose text is shorter than threshold characters.
func (b *Buffer) NeedsEnrichment(threshold int) []Entry {
	var out []Entry
	for _, e := range b.entries {
		if ShortText(e.Text, threshold) {
			out = append(out, e)
		}
	}
	return out
}

// ShortText reports whether text has fewer than threshold characters.
func ShortText(text string, threshold int) bool {
	return utf8.RuneCountInString(text) < threshold
}

func (b *Buffer) index(id string) int {
	for i, e := range b.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
