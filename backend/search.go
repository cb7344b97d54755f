package backend

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/results"
)

// SearchRequest carries one query. Zero numeric fields fall back to the
// configured defaults.
type SearchRequest struct {
	Query              string
	NumConnections     int
	MinScore           float64
	HybridSearchFactor float64
	Filters            filters.Filters
}

type searchPayload struct {
	Query              string          `json:"query"`
	NumConnections     int             `json:"num_connections"`
	MinScore           float64         `json:"min_score"`
	Source             string          `json:"source"`
	HybridSearchFactor float64         `json:"hybrid_search_factor"`
	Engine             string          `json:"engine"`
	FilterBy           filters.Filters `json:"filter_by"`
}

type searchResponse struct {
	Results []results.Document `json:"results"`
	StackID string             `json:"stack_id"`
}

// SearchOutcome is either a page of documents or an empty result. An empty
// result is a normal outcome, not an error.
type SearchOutcome struct {
	StackID   string
	Documents []results.Document
	Empty     bool
}

// Search posts the query to /connections.
func (c *Client) Search(ctx context.Context, req SearchRequest) (outcome SearchOutcome, err error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SearchOutcome{}, errs.Validation("query", "must not be empty")
	}
	// over-long input is cut at the limit, the way the search field caps typing
	if limit := c.search.MaxQueryLength; limit > 0 && utf8.RuneCountInString(query) > limit {
		query = strings.TrimSpace(results.Truncate(query, limit))
	}

	payload := searchPayload{
		Query:              query,
		NumConnections:     orInt(req.NumConnections, c.search.NumConnections),
		MinScore:           orFloat(req.MinScore, c.search.MinScore),
		Source:             c.source,
		HybridSearchFactor: orFloat(req.HybridSearchFactor, c.search.HybridSearchFactor),
		Engine:             c.search.Engine,
		FilterBy:           req.Filters,
	}

	ctx, span := startSpan(ctx, "search",
		attribute.Int("search.num_connections", payload.NumConnections),
		attribute.String("search.doc_type", req.Filters.DocType),
	)
	defer func() { endSpan(span, err) }()

	ctx, cancel := c.withTimeout(ctx, c.search.Timeout)
	defer cancel()

	var resp searchResponse
	if err := c.doJSON(ctx, "search", http.MethodPost, "/connections", nil, payload, &resp); err != nil {
		return SearchOutcome{}, err
	}

	span.SetAttributes(attribute.Int("search.results", len(resp.Results)))
	c.logger.Info("search completed",
		zap.Int("results", len(resp.Results)),
		zap.String("stack_id", resp.StackID),
	)
	if len(resp.Results) == 0 {
		return SearchOutcome{StackID: resp.StackID, Empty: true}, nil
	}
	return SearchOutcome{StackID: resp.StackID, Documents: resp.Results}, nil
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
