package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"unicode/utf8"

	"github.com/fabfab/recollect/errs"
)

const gistPath = "/gist"

type gistStreamer struct {
	api   StreamPoster
	model string
	buf   int
}

type gistPayload struct {
	SearchQuery  string   `json:"search_query"`
	ArtifactIDs  []string `json:"artifact_ids"`
	Titles       []string `json:"titles"`
	Highlights   []string `json:"highlights"`
	SystemPrompt string   `json:"system_prompt"`
	Prompt       string   `json:"prompt"`
}

// NewGistStreamer streams from the recollect /gist endpoint, which answers
// with raw UTF-8 text chunks.
func NewGistStreamer(api StreamPoster, opts Options) Streamer {
	return &gistStreamer{api: api, model: opts.Model, buf: 4096}
}

func (g *gistStreamer) Model() string { return g.model }

func (g *gistStreamer) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := g.api.PostStream(ctx, gistPath, gistPayload{
			SearchQuery:  req.Query,
			ArtifactIDs:  req.IDs,
			Titles:       req.Titles,
			Highlights:   req.Highlights,
			SystemPrompt: req.SystemPrompt,
			Prompt:       req.Prompt,
		})
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		readTextChunks(body, g.buf, "gist stream", yield)
	}
}

// readTextChunks yields each read as one fragment. A multi-byte rune split
// across reads is held back until it is complete.
func readTextChunks(r io.Reader, size int, op string, yield func(string, error) bool) {
	buf := make([]byte, size)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completePrefix(pending)
			if cut > 0 {
				fragment := string(pending[:cut])
				pending = append(pending[:0], pending[cut:]...)
				if !yield(fragment, nil) {
					return
				}
			}
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				yield(string(pending), nil)
			}
			return
		}
		if err != nil {
			yield("", errs.Transport(op, fmt.Errorf("read: %w", err)))
			return
		}
	}
}

// completePrefix returns the length of b without a trailing partial rune.
func completePrefix(b []byte) int {
	for back := 1; back <= utf8.UTFMax && back <= len(b); back++ {
		i := len(b) - back
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
