// Package llm streams synthesis text from a generation backend.
package llm

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/fabfab/recollect/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Request is one synthesis over the selected documents. IDs, Titles and
// Highlights are index-aligned.
type Request struct {
	Query        string
	IDs          []string
	Titles       []string
	Highlights   []string
	SystemPrompt string
	Prompt       string
}

// Messages is the chat form of the prompts for chat-style providers.
func (r Request) Messages() []Message {
	return []Message{
		{Role: RoleSystem, Content: r.SystemPrompt},
		{Role: RoleUser, Content: r.Prompt},
	}
}

// Streamer yields text fragments in output order. Iteration ends after the
// final fragment, or after a single non-nil error.
type Streamer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
	Model() string
}

// StreamPoster opens an authenticated streaming POST against the recollect API.
type StreamPoster interface {
	PostStream(ctx context.Context, path string, body any) (io.ReadCloser, error)
}

type Options struct {
	Provider    string
	Model       string
	Temperature float64

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func OptionsFrom(cfg config.LLMConfig) Options {
	return Options{
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

// NewStreamer picks the provider named in cfg. The gist provider needs api,
// the others talk to their own endpoints.
func NewStreamer(cfg config.LLMConfig, api StreamPoster) (Streamer, error) {
	opts := OptionsFrom(cfg)

	switch opts.Provider {
	case config.ProviderGist, "":
		if api == nil {
			return nil, fmt.Errorf("gist provider needs a backend client")
		}
		return NewGistStreamer(api, opts), nil
	case config.ProviderOllama:
		return NewOllamaStreamer(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIStreamer(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

// Collect drains a stream into one string. It returns the text gathered so
// far together with the first error.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var text string
	for fragment, err := range seq {
		if err != nil {
			return text, err
		}
		text += fragment
	}
	return text, nil
}
