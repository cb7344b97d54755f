package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/errs"
)

type stubPoster struct {
	path string
	body any
	resp io.ReadCloser
	err  error
}

func (s *stubPoster) PostStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	s.path = path
	s.body = body
	return s.resp, s.err
}

var _ StreamPoster = (*stubPoster)(nil)

// chunkReader returns one chunk per Read call, then err.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

func TestNewStreamerDefaultsToGist(t *testing.T) {
	streamer, err := NewStreamer(config.LLMConfig{Provider: config.ProviderGist, Model: "m"}, &stubPoster{})
	require.NoError(t, err)
	assert.Equal(t, "m", streamer.Model())
}

func TestNewStreamerOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewStreamer(config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}, nil)
	assert.Error(t, err)
}

func TestNewStreamerUnknownProvider(t *testing.T) {
	_, err := NewStreamer(config.LLMConfig{Provider: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

func TestGistStreamYieldsChunksInOrder(t *testing.T) {
	poster := &stubPoster{resp: &chunkReader{chunks: [][]byte{[]byte("Hel"), []byte("lo, "), []byte("world")}}}
	streamer := NewGistStreamer(poster, Options{})

	var fragments []string
	for fragment, err := range streamer.Stream(context.Background(), Request{
		Query:      "q",
		IDs:        []string{"a"},
		Titles:     []string{"A"},
		Highlights: []string{"h"},
		Prompt:     "p",
	}) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}

	assert.Equal(t, []string{"Hel", "lo, ", "world"}, fragments)
	assert.Equal(t, "/gist", poster.path)

	payload, ok := poster.body.(gistPayload)
	require.True(t, ok)
	assert.Equal(t, "q", payload.SearchQuery)
	assert.Equal(t, []string{"a"}, payload.ArtifactIDs)
}

func TestGistStreamHoldsSplitRune(t *testing.T) {
	euro := []byte("€")
	poster := &stubPoster{resp: &chunkReader{chunks: [][]byte{
		append([]byte("5"), euro[:1]...),
		euro[1:],
		[]byte(" total"),
	}}}

	var fragments []string
	for fragment, err := range NewGistStreamer(poster, Options{}).Stream(context.Background(), Request{}) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}

	assert.Equal(t, []string{"5", "€", " total"}, fragments)
}

func TestGistStreamMidStreamError(t *testing.T) {
	poster := &stubPoster{resp: &chunkReader{
		chunks: [][]byte{[]byte("partial ")},
		err:    errors.New("connection reset"),
	}}

	text, err := Collect(NewGistStreamer(poster, Options{}).Stream(context.Background(), Request{}))
	assert.Equal(t, "partial ", text)
	require.Error(t, err)
	assert.Equal(t, errs.KindTransport, errs.KindOf(err))
}

func TestGistStreamOpenFailure(t *testing.T) {
	poster := &stubPoster{err: errs.Status("stream gist", http.StatusUnauthorized, "")}

	text, err := Collect(NewGistStreamer(poster, Options{}).Stream(context.Background(), Request{}))
	assert.Empty(t, text)
	assert.Equal(t, errs.KindTransport, errs.KindOf(err))
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		for _, part := range []string{"Hello", ", ", "world"} {
			_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaChatMessage{Role: RoleAssistant, Content: part}})
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
	}))
	defer srv.Close()

	streamer := NewOllamaStreamer(Options{OllamaHost: srv.URL + "/", Model: "llama3.1:8b"})
	text, err := Collect(streamer.Stream(context.Background(), Request{SystemPrompt: "s", Prompt: "p"}))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
}

func TestOllamaStreamErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaChatMessage{Content: "par"}})
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Error: "model unloaded"})
	}))
	defer srv.Close()

	text, err := Collect(NewOllamaStreamer(Options{OllamaHost: srv.URL}).Stream(context.Background(), Request{}))
	assert.Equal(t, "par", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unloaded")
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	streamer := NewOpenAIStreamer(Options{OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1", Model: "gpt-4o"})
	text, err := Collect(streamer.Stream(context.Background(), Request{SystemPrompt: "s", Prompt: "p"}))
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestCollectStopsAtFirstError(t *testing.T) {
	seq := func(yield func(string, error) bool) {
		if !yield("a", nil) {
			return
		}
		if !yield("", errors.New("x")) {
			return
		}
		yield("never", nil)
	}
	text, err := Collect(seq)
	assert.Equal(t, "a", text)
	assert.Error(t, err)
	assert.False(t, strings.Contains(text, "never"))
}
