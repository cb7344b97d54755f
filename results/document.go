package results

import (
	"sort"
	"strings"
)

// Document types as reported by the search backend.
const (
	TypeWeb     = "web"
	TypePDF     = "pdf"
	TypeNote    = "recollect"
	TypeVideo   = "video_transcription"
	TypeTwitter = "twitter"
	TypeNative  = "native"

	subtypeNoteCard = "note_card"
)

type Sentence struct {
	Text            string `json:"text"`
	ParagraphNumber int    `json:"paragraph_number"`
}

type Tweet struct {
	Sentences   []Sentence `json:"sentences"`
	DisplayName string     `json:"display_name"`
	UserName    string     `json:"user_name"`
}

// Document is one search hit, or the full record returned by a document fetch.
type Document struct {
	ID            string     `json:"doc_id"`
	Title         string     `json:"title"`
	URL           string     `json:"url,omitempty"`
	Sentences     []Sentence `json:"sentences,omitempty"`
	Tweets        []Tweet    `json:"tweets,omitempty"`
	DocType       string     `json:"doc_type"`
	DocSubtype    string     `json:"doc_subtype,omitempty"`
	IsScreenshot  bool       `json:"is_screenshot,omitempty"`
	ThumbnailPath string     `json:"thumbnail_s3_path,omitempty"`
}

// DisplayTitle is the card title; daily note cards share one label.
func (d Document) DisplayTitle() string {
	if d.DocSubtype == subtypeNoteCard {
		return "Daily Note"
	}
	return d.Title
}

// Snippet is the text shown on a result card: the matched sentences, one per
// line. Tweet threads show the first tweet.
func (d Document) Snippet() string {
	return joinTexts(d.fragments(), "\n")
}

// ParagraphText rebuilds the document body from its sentence fragments:
// fragments are grouped by paragraph number in ascending order, joined with
// single spaces inside a paragraph and separated by a blank line.
func (d Document) ParagraphText() string {
	fragments := d.fragments()
	if len(fragments) == 0 {
		return ""
	}

	grouped := make(map[int][]string)
	numbers := make([]int, 0)
	for _, s := range fragments {
		if _, ok := grouped[s.ParagraphNumber]; !ok {
			numbers = append(numbers, s.ParagraphNumber)
		}
		grouped[s.ParagraphNumber] = append(grouped[s.ParagraphNumber], s.Text)
	}
	sort.Ints(numbers)

	paragraphs := make([]string, 0, len(numbers))
	for _, n := range numbers {
		paragraphs = append(paragraphs, strings.Join(grouped[n], " "))
	}
	return strings.Join(paragraphs, "\n\n")
}

func (d Document) fragments() []Sentence {
	if d.DocType == TypeTwitter && len(d.Tweets) > 0 {
		return d.Tweets[0].Sentences
	}
	return d.Sentences
}

func joinTexts(sentences []Sentence, sep string) string {
	texts := make([]string, len(sentences))
	for i, s := range sentences {
		texts[i] = s.Text
	}
	return strings.Join(texts, sep)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
