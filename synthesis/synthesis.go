// Package synthesis turns a set of selected documents into one streamed
// summary.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/llm"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/session"
	"github.com/fabfab/recollect/tracing"
)

// ErrIdleTimeout is the cause when no fragment arrives within the idle window.
var ErrIdleTimeout = errors.New("synthesis stream idle")

// Request describes what to synthesize. IDs, Titles and Highlights must have
// the same length; URLs is optional.
type Request struct {
	Query      string
	StackID    string
	IDs        []string
	Titles     []string
	URLs       []string
	Highlights []string
}

// Validate checks the request shape. It never touches the network.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errs.Validation("query", "must not be empty")
	}
	if len(r.IDs) == 0 {
		return errs.Validation("artifact_ids", "no documents selected")
	}
	if len(r.Titles) != len(r.IDs) || len(r.Highlights) != len(r.IDs) {
		return errs.Validation("artifact_ids", fmt.Sprintf(
			"ids (%d), titles (%d) and highlights (%d) must have equal length",
			len(r.IDs), len(r.Titles), len(r.Highlights)))
	}
	if len(r.URLs) != 0 && len(r.URLs) != len(r.IDs) {
		return errs.Validation("urls", "must be empty or match ids")
	}
	return nil
}

// ModelParameters records how a synthesis was generated.
type ModelParameters struct {
	Prompt       string  `json:"Prompt"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
	ModelName    string  `json:"model_name"`
}

// Result accumulates streamed text. Text only ever grows; a failed stream
// keeps what arrived before the failure. Safe for concurrent readers.
type Result struct {
	Query   string
	StackID string
	IDs     []string
	Model   ModelParameters

	mu       sync.RWMutex
	text     strings.Builder
	complete bool
	err      error
}

func (r *Result) append(fragment string) {
	r.mu.Lock()
	r.text.WriteString(fragment)
	r.mu.Unlock()
}

func (r *Result) finish(err error) {
	r.mu.Lock()
	r.complete = err == nil
	r.err = err
	r.mu.Unlock()
}

func (r *Result) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.text.String()
}

// Complete reports whether the stream ended without error.
func (r *Result) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.complete
}

func (r *Result) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Empty reports a completed stream that produced no text.
func (r *Result) Empty() bool {
	return r.Complete() && strings.TrimSpace(r.Text()) == ""
}

type Requester struct {
	streamer    llm.Streamer
	tokens      session.Provider
	idleTimeout time.Duration
	temperature float64
	logger      *zap.Logger
}

// NewRequester wires a streamer. tokens may be nil when the streamer does
// not talk to the recollect API.
func NewRequester(streamer llm.Streamer, tokens session.Provider, idleTimeout time.Duration, temperature float64, logger *zap.Logger) *Requester {
	return &Requester{
		streamer:    streamer,
		tokens:      tokens,
		idleTimeout: idleTimeout,
		temperature: temperature,
		logger:      logging.OrNop(logger).Named("synthesis"),
	}
}

// Synthesize validates req, streams the answer and hands every fragment to
// onFragment in arrival order. The returned Result is non-nil whenever the
// stream was opened, including on failure.
func (s *Requester) Synthesize(ctx context.Context, req Request, onFragment func(string)) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.tokens != nil {
		if _, err := s.tokens.Token(ctx); err != nil {
			return nil, errs.Session(err)
		}
	}

	prompts := BuildPrompts(req.Query, req.Titles, req.URLs, req.Highlights)
	result := &Result{
		Query:   req.Query,
		StackID: req.StackID,
		IDs:     append([]string(nil), req.IDs...),
		Model: ModelParameters{
			Prompt:       prompts.User,
			SystemPrompt: prompts.System,
			Temperature:  s.temperature,
			ModelName:    s.streamer.Model(),
		},
	}

	ctx, span := tracing.Tracer().Start(ctx, "synthesis.stream")
	span.SetAttributes(attribute.Int("synthesis.documents", len(req.IDs)))
	defer span.End()

	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() { cancel(ErrIdleTimeout) })
		defer idle.Stop()
	}

	llmReq := llm.Request{
		Query:        req.Query,
		IDs:          req.IDs,
		Titles:       req.Titles,
		Highlights:   req.Highlights,
		SystemPrompt: prompts.System,
		Prompt:       prompts.User,
	}

	fragments := 0
	for fragment, err := range s.streamer.Stream(streamCtx, llmReq) {
		if err != nil {
			err = s.streamError(streamCtx, err)
			result.finish(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Warn("synthesis stream failed",
				zap.Int("fragments", fragments),
				zap.Int("chars", len(result.Text())),
				zap.Error(err),
			)
			return result, err
		}
		if idle != nil {
			idle.Reset(s.idleTimeout)
		}
		fragments++
		result.append(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}

	result.finish(nil)
	span.SetAttributes(attribute.Int("synthesis.fragments", fragments))
	s.logger.Info("synthesis completed", zap.Int("fragments", fragments), zap.Int("chars", len(result.Text())))
	return result, nil
}

func (s *Requester) streamError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrIdleTimeout) {
		return errs.Transport("synthesis stream", fmt.Errorf("no fragment for %s: %w", s.idleTimeout, ErrIdleTimeout))
	}
	if errs.KindOf(err) == errs.KindUnknown {
		return errs.Transport("synthesis stream", err)
	}
	return err
}
