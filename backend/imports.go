package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/errs"
)

// URLVisit is one browser history entry as the indexer accepts it.
type URLVisit struct {
	Timestamp      string `json:"timestamp"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	TransitionType string `json:"transition_type"`
}

type visitsPayload struct {
	URLVisits []URLVisit `json:"url_visits"`
	Source    string     `json:"source"`
}

// UploadVisits posts visits to /user-data in fixed-size batches. A failed
// batch is logged and skipped; the returned count covers accepted visits.
func (c *Client) UploadVisits(ctx context.Context, visits []URLVisit) (uploaded int, err error) {
	ctx, span := startSpan(ctx, "upload_visits", attribute.Int("visits", len(visits)))
	defer func() { endSpan(span, err) }()

	var failures []error
	for _, batch := range chunk(visits, c.visitBatch) {
		callCtx, cancel := c.withTimeout(ctx, c.timeout)
		batchErr := c.doJSON(callCtx, "upload visits", http.MethodPost, "/user-data", nil,
			visitsPayload{URLVisits: batch, Source: c.source}, nil)
		cancel()
		if batchErr != nil {
			if errs.KindOf(batchErr) == errs.KindSession || ctx.Err() != nil {
				return uploaded, batchErr
			}
			c.logger.Warn("visit batch rejected", zap.Int("size", len(batch)), zap.Error(batchErr))
			failures = append(failures, batchErr)
			continue
		}
		uploaded += len(batch)
	}
	return uploaded, errors.Join(failures...)
}

// Note is one exported note.
type Note struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	CreatedDate  string `json:"created_date"`
	ModifiedDate string `json:"modified_date"`
}

type RecurringImportSettings struct {
	Enabled   bool   `json:"enabled"`
	AccountID string `json:"account_id,omitempty"`
}

// RecurringImport is the server-side registration that note uploads attach to.
type RecurringImport struct {
	ID       string                  `json:"id"`
	Settings RecurringImportSettings `json:"settings"`
}

type recurringImportList struct {
	Count int               `json:"count"`
	Items []RecurringImport `json:"items"`
}

const recurringImportsPath = "/v2/recurring-imports/apple-notes"

// RecurringImport returns the existing notes import, or nil when none is
// registered yet.
func (c *Client) RecurringImport(ctx context.Context) (ri *RecurringImport, err error) {
	ctx, span := startSpan(ctx, "get_recurring_import")
	defer func() { endSpan(span, err) }()

	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	var list recurringImportList
	if err := c.doJSON(ctx, "get recurring import", http.MethodGet, recurringImportsPath, nil, nil, &list, http.StatusOK); err != nil {
		return nil, err
	}
	if list.Count == 0 || len(list.Items) == 0 {
		return nil, nil
	}
	return &list.Items[0], nil
}

// CreateRecurringImport registers an enabled notes import.
func (c *Client) CreateRecurringImport(ctx context.Context) (ri RecurringImport, err error) {
	ctx, span := startSpan(ctx, "create_recurring_import")
	defer func() { endSpan(span, err) }()

	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	body := RecurringImportSettings{Enabled: true}
	if err := c.doJSON(ctx, "create recurring import", http.MethodPost, recurringImportsPath, nil, body, &ri, http.StatusCreated); err != nil {
		return RecurringImport{}, err
	}
	if ri.ID == "" {
		return RecurringImport{}, errs.Decode("create recurring import", errors.New("response has no id"))
	}
	return ri, nil
}

// EnsureRecurringImport fetches the notes import id, creating the import on
// first use.
func (c *Client) EnsureRecurringImport(ctx context.Context) (string, error) {
	existing, err := c.RecurringImport(ctx)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.ID != "" {
		return existing.ID, nil
	}
	created, err := c.CreateRecurringImport(ctx)
	if err != nil {
		return "", err
	}
	c.logger.Info("created recurring import", zap.String("id", created.ID))
	return created.ID, nil
}

type notesPayload struct {
	Notes             []Note `json:"notes"`
	RecurringImportID string `json:"recurring_import_id"`
	Source            string `json:"source"`
}

// SyncNotes uploads notes against importID. Notes are only split into
// batches when there are more than one batch worth; the first rejected batch
// stops the sync.
func (c *Client) SyncNotes(ctx context.Context, importID string, notes []Note) (synced int, err error) {
	if importID == "" {
		return 0, errs.Validation("recurring_import_id", "must not be empty")
	}
	if len(notes) == 0 {
		return 0, nil
	}

	ctx, span := startSpan(ctx, "sync_notes", attribute.Int("notes", len(notes)))
	defer func() { endSpan(span, err) }()

	batches := [][]Note{notes}
	if len(notes) > c.notesBatch {
		batches = chunk(notes, c.notesBatch)
	}

	for i, batch := range batches {
		callCtx, cancel := c.withTimeout(ctx, c.timeout)
		batchErr := c.doJSON(callCtx, "sync notes", http.MethodPost, "/v2/apple-notes/sync", nil,
			notesPayload{Notes: batch, RecurringImportID: importID, Source: c.source}, nil,
			http.StatusOK, http.StatusCreated)
		cancel()
		if batchErr != nil {
			return synced, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), batchErr)
		}
		synced += len(batch)
	}
	return synced, nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
