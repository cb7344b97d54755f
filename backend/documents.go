package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/results"
)

// FetchDocument loads the full record of one document from /user-data.
func (c *Client) FetchDocument(ctx context.Context, id string) (doc results.Document, err error) {
	if strings.TrimSpace(id) == "" {
		return results.Document{}, errs.Validation("doc_id", "must not be empty")
	}

	ctx, span := startSpan(ctx, "fetch_document", attribute.String("doc.id", id))
	defer func() { endSpan(span, err) }()

	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	err = c.doJSON(ctx, "fetch document", http.MethodGet, "/user-data", url.Values{"doc_id": {id}}, nil, &doc)
	return doc, err
}

// Thumbnail is raw image data with the content type the backend reported.
type Thumbnail struct {
	Data        []byte
	ContentType string
}

// FetchThumbnail downloads the screenshot thumbnail stored at path.
func (c *Client) FetchThumbnail(ctx context.Context, path string) (thumb Thumbnail, err error) {
	if strings.TrimSpace(path) == "" {
		return Thumbnail{}, errs.Validation("s3_path", "must not be empty")
	}

	ctx, span := startSpan(ctx, "fetch_thumbnail")
	defer func() { endSpan(span, err) }()

	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, "fetch thumbnail", http.MethodGet, "/v2/thumbnail/", url.Values{"s3_path": {path}}, nil)
	if err != nil {
		return Thumbnail{}, err
	}
	if err := expectStatus("fetch thumbnail", resp); err != nil {
		return Thumbnail{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Thumbnail{}, errs.Transport("fetch thumbnail", fmt.Errorf("read body: %w", err))
	}
	span.SetAttributes(attribute.Int("thumbnail.bytes", len(data)))
	return Thumbnail{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// SaveArtifact posts a generated artifact. Only a 200 counts as saved; the
// response body is returned as the confirmation.
func (c *Client) SaveArtifact(ctx context.Context, payload any) (confirmation string, err error) {
	ctx, span := startSpan(ctx, "save_artifact")
	defer func() { endSpan(span, err) }()

	ctx, cancel := c.withTimeout(ctx, c.artifactTimeout)
	defer cancel()

	resp, err := c.do(ctx, "save artifact", http.MethodPost, "/generated-artifact/save", nil, payload)
	if err != nil {
		return "", err
	}
	if err := expectStatus("save artifact", resp, http.StatusOK); err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Transport("save artifact", fmt.Errorf("read body: %w", err))
	}
	return strings.TrimSpace(string(data)), nil
}

// PostStream posts body and hands back the open response body of a
// streaming endpoint. There is no overall deadline; the caller bounds the
// stream through ctx.
func (c *Client) PostStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	op := "stream " + strings.TrimPrefix(path, "/")
	resp, err := c.do(ctx, op, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(op, resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}
