// Package enrich replaces short selection snippets with fuller document text
// before synthesis.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/results"
	"github.com/fabfab/recollect/selection"
)

// DocumentSource fetches one full document by id.
type DocumentSource interface {
	FetchDocument(ctx context.Context, id string) (results.Document, error)
}

// FullText is an enriched document body. Highlight is the prefix used as
// synthesis input; Text is kept for the expanded view.
type FullText struct {
	ID        string
	Text      string
	Highlight string
}

type Fetcher struct {
	source         DocumentSource
	minLength      int
	highlightChars int
	concurrency    int
	timeout        time.Duration
	logger         *zap.Logger
}

func NewFetcher(source DocumentSource, cfg config.EnrichConfig, logger *zap.Logger) *Fetcher {
	f := &Fetcher{
		source:         source,
		minLength:      cfg.MinLength,
		highlightChars: cfg.HighlightChars,
		concurrency:    cfg.Concurrency,
		timeout:        cfg.Timeout,
		logger:         logging.OrNop(logger).Named("enrich"),
	}
	if f.highlightChars <= 0 {
		f.highlightChars = 300
	}
	if f.concurrency <= 0 {
		f.concurrency = 8
	}
	return f
}

// MinLength is the snippet length below which entries get enriched.
func (f *Fetcher) MinLength() int { return f.minLength }

// Enrich fetches id and rebuilds its paragraph text.
func (f *Fetcher) Enrich(ctx context.Context, id string) (FullText, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	doc, err := f.source.FetchDocument(ctx, id)
	if err != nil {
		return FullText{}, err
	}
	text := doc.ParagraphText()
	return FullText{
		ID:        id,
		Text:      text,
		Highlight: results.Truncate(text, f.highlightChars),
	}, nil
}

// Outcome is the settled state of one entry after EnrichAll.
type Outcome struct {
	ID       string
	Enriched bool
	Text     string
	Err      error
}

// EnrichAll enriches every entry whose text is shorter than the threshold and
// waits until all of them have settled. Entries that fail, or whose fetched
// text is empty, keep their original text. The returned entries keep the
// input order.
func (f *Fetcher) EnrichAll(ctx context.Context, entries []selection.Entry) ([]selection.Entry, []Outcome) {
	out := make([]selection.Entry, len(entries))
	copy(out, entries)

	outcomes := make([]Outcome, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, entry := range out {
		outcomes[i] = Outcome{ID: entry.ID, Text: entry.Text}
		if !selection.ShortText(entry.Text, f.minLength) {
			continue
		}
		g.Go(func() error {
			full, err := f.Enrich(gctx, entry.ID)
			switch {
			case err != nil:
				f.logger.Warn("enrichment failed, keeping snippet", zap.String("id", entry.ID), zap.Error(err))
				outcomes[i].Err = err
			case full.Highlight == "":
				f.logger.Debug("enrichment returned no text", zap.String("id", entry.ID))
			default:
				out[i].Text = full.Highlight
				outcomes[i].Text = full.Highlight
				outcomes[i].Enriched = true
			}
			// failures stay on the entry; the group itself never fails
			return nil
		})
	}
	_ = g.Wait()
	return out, outcomes
}
