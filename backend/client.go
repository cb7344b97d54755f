// Package backend is the authenticated HTTP client for the recollect API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/session"
	"github.com/fabfab/recollect/tracing"
)

const maxErrorBody = 4 << 10

type Client struct {
	baseURL         string
	source          string
	timeout         time.Duration
	artifactTimeout time.Duration
	search          config.SearchConfig
	visitBatch      int
	notesBatch      int

	tokens session.Provider
	http   *http.Client
	logger *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the transport. The client must not set an overall
// Timeout if it is used for streaming.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(cfg config.Config, tokens session.Provider, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(cfg.API.BaseURL, "/"),
		source:          cfg.API.Source,
		timeout:         cfg.API.Timeout,
		artifactTimeout: cfg.Artifact.Timeout,
		search:          cfg.Search,
		visitBatch:      cfg.Collector.VisitBatchSize,
		notesBatch:      cfg.Collector.NotesBatchSize,
		tokens:          tokens,
		http:            &http.Client{},
		logger:          logging.OrNop(logger).Named("backend"),
	}
	if c.source == "" {
		c.source = "mac-app"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Source() string { return c.source }

// do fetches a fresh token and sends one request. The caller owns the
// response body. Session failures happen before anything is sent.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, errs.Session(err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Transport(op, err)
	}
	c.logger.Debug("backend call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// expectStatus drains and closes the body when the status is not accepted.
// No accepted codes means any 2xx.
func expectStatus(op string, resp *http.Response, accepted ...int) error {
	if statusAccepted(resp.StatusCode, accepted) {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return errs.Status(op, resp.StatusCode, strings.TrimSpace(string(data)))
}

func statusAccepted(status int, accepted []int) bool {
	if len(accepted) == 0 {
		return status >= 200 && status < 300
	}
	for _, code := range accepted {
		if status == code {
			return true
		}
	}
	return false
}

func decodeJSON(op string, r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return errs.Decode(op, err)
	}
	return nil
}

// doJSON sends body and decodes the response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out any, accepted ...int) error {
	resp, err := c.do(ctx, op, method, path, query, body)
	if err != nil {
		return err
	}
	if err := expectStatus(op, resp, accepted...); err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeJSON(op, resp.Body, out)
}

func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, "backend."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", string(errs.KindOf(err))))
	}
	span.End()
}
