package llm

import (
	"context"
	"errors"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/recollect/errs"
)

type openAIStreamer struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIStreamer streams chat completions from any OpenAI-compatible API.
func NewOpenAIStreamer(opts Options) Streamer {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIStreamer{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
	}
}

func (c *openAIStreamer) Model() string { return c.model }

func (c *openAIStreamer) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		chatReq := openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: c.temperature,
			Stream:      true,
		}

		messages := req.Messages()
		chatReq.Messages = make([]openai.ChatCompletionMessage, len(messages))
		for i, msg := range messages {
			chatReq.Messages[i] = openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			}
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			yield("", errs.Transport("openai chat stream", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", errs.Transport("openai chat stream", err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(resp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
