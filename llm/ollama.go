package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/fabfab/recollect/errs"
)

type ollamaStreamer struct {
	host        string
	model       string
	temperature float64
	client      *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

// NewOllamaStreamer streams from a local Ollama /api/chat endpoint.
func NewOllamaStreamer(opts Options) Streamer {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaStreamer{
		host:        host,
		model:       opts.Model,
		temperature: opts.Temperature,
		client:      &http.Client{},
	}
}

func (c *ollamaStreamer) Model() string { return c.model }

func (c *ollamaStreamer) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		payload := ollamaChatRequest{
			Model:    c.model,
			Messages: toOllamaMessages(req.Messages()),
			Stream:   true,
			Options:  map[string]any{"temperature": c.temperature},
		}

		body, err := json.Marshal(payload)
		if err != nil {
			yield("", fmt.Errorf("marshal ollama stream request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("create ollama stream request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			yield("", errs.Transport("ollama chat", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			yield("", errs.Status("ollama chat", resp.StatusCode, strings.TrimSpace(string(data))))
			return
		}

		dec := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChatResponse
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctx.Err() != nil {
					yield("", errs.Transport("ollama chat", ctx.Err()))
					return
				}
				yield("", errs.Decode("ollama chat", err))
				return
			}

			if chunk.Error != "" {
				yield("", errs.Transport("ollama chat", errors.New(chunk.Error)))
				return
			}

			if chunk.Message.Content != "" {
				if !yield(chunk.Message.Content, nil) {
					return
				}
			}

			if chunk.Done {
				return
			}
		}
	}
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i := range messages {
		converted[i] = ollamaChatMessage(messages[i])
	}
	return converted
}
