package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/session"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	return New(cfg, session.NewStatic("test-token"), nil)
}

func TestSearchSendsPayload(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/connections", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"stack_id":"stk-1","results":[{"doc_id":"a","title":"A","doc_type":"web"}]}`))
	}))

	outcome, err := client.Search(context.Background(), SearchRequest{
		Query:   "  machine learning  ",
		Filters: filters.Filters{DocType: "web", Domain: "example.com"},
	})
	require.NoError(t, err)

	assert.False(t, outcome.Empty)
	assert.Equal(t, "stk-1", outcome.StackID)
	require.Len(t, outcome.Documents, 1)
	assert.Equal(t, "a", outcome.Documents[0].ID)

	assert.Equal(t, "machine learning", got["query"])
	assert.EqualValues(t, 40, got["num_connections"])
	assert.EqualValues(t, 0.5, got["min_score"])
	assert.EqualValues(t, 1.0, got["hybrid_search_factor"])
	assert.Equal(t, "mac-app", got["source"])
	assert.Equal(t, "paragraph-embedding-v2", got["engine"])
	assert.Equal(t, map[string]any{"doc_type": "web", "domain": "example.com"}, got["filter_by"])
}

func TestSearchEmptyIsNotAnError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"stack_id":"stk-2","results":[]}`))
	}))

	outcome, err := client.Search(context.Background(), SearchRequest{Query: "nothing"})
	require.NoError(t, err)
	assert.True(t, outcome.Empty)
	assert.Empty(t, outcome.Documents)
}

func TestSearchFailureIsTransportError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := client.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)

	var te *errs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.Status)
	assert.Equal(t, "upstream down", te.Body)
}

func TestSearchMalformedBodyIsDecodeError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": "nope"}`))
	}))

	_, err := client.Search(context.Background(), SearchRequest{Query: "q"})
	assert.Equal(t, errs.KindDecode, errs.KindOf(err))
}

func TestSearchValidatesBeforeIO(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := client.Search(context.Background(), SearchRequest{Query: "   "})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestSearchCutsLongQueryAtLimit(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"stack_id":"stk-1","results":[]}`))
	}))

	long := strings.Repeat("é", 149) + " trailing words"
	_, err := client.Search(context.Background(), SearchRequest{Query: long})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 149), got["query"])
}

func TestSessionFailureSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	client := New(cfg, session.New(config.SessionConfig{}), nil)

	_, err := client.Search(context.Background(), SearchRequest{Query: "q"})
	assert.Equal(t, errs.KindSession, errs.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestFetchDocument(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user-data", r.URL.Path)
		assert.Equal(t, "doc 1", r.URL.Query().Get("doc_id"))
		_, _ = w.Write([]byte(`{"doc_id":"doc 1","title":"T","doc_type":"pdf","sentences":[{"text":"x","paragraph_number":1}]}`))
	}))

	doc, err := client.FetchDocument(context.Background(), "doc 1")
	require.NoError(t, err)
	assert.Equal(t, "T", doc.Title)
	assert.Equal(t, "x", doc.ParagraphText())
}

func TestFetchThumbnailEncodesPath(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/thumbnail/", r.URL.Path)
		assert.Equal(t, "shots/a b&c.png", r.URL.Query().Get("s3_path"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))

	thumb, err := client.FetchThumbnail(context.Background(), "shots/a b&c.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", thumb.ContentType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, thumb.Data)
}

func TestSaveArtifactRequires200(t *testing.T) {
	status := http.StatusOK
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generated-artifact/save", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("artifact-123\n"))
	}))

	confirmation, err := client.SaveArtifact(context.Background(), map[string]string{"kind": "recall"})
	require.NoError(t, err)
	assert.Equal(t, "artifact-123", confirmation)

	status = http.StatusCreated
	_, err = client.SaveArtifact(context.Background(), map[string]string{"kind": "recall"})
	assert.Equal(t, errs.KindTransport, errs.KindOf(err))
}

func TestPostStreamReturnsBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("streamed"))
	}))

	body, err := client.PostStream(context.Background(), "/gist", map[string]string{})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestUploadVisitsBatches(t *testing.T) {
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload visitsPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "mac-app", payload.Source)
		sizes = append(sizes, len(payload.URLVisits))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.Collector.VisitBatchSize = 2
	client := New(cfg, session.NewStatic("t"), nil)

	visits := make([]URLVisit, 5)
	uploaded, err := client.UploadVisits(context.Background(), visits)
	require.NoError(t, err)
	assert.Equal(t, 5, uploaded)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestEnsureRecurringImportCreatesWhenMissing(t *testing.T) {
	var created atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, recurringImportsPath, r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"count":0,"items":[]}`))
		case http.MethodPost:
			created.Add(1)
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["enabled"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ri-9","settings":{"enabled":true}}`))
		}
	}))

	id, err := client.EnsureRecurringImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ri-9", id)
	assert.Equal(t, int32(1), created.Load())
}

func TestEnsureRecurringImportReusesExisting(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"count":1,"items":[{"id":"ri-1","settings":{"enabled":true,"account_id":"acc"}}]}`))
	}))

	id, err := client.EnsureRecurringImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ri-1", id)
}

func TestSyncNotesStopsOnFirstFailure(t *testing.T) {
	var batches atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := batches.Add(1)
		var payload notesPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ri-1", payload.RecurringImportID)
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	notes := make([]Note, 25)
	synced, err := client.SyncNotes(context.Background(), "ri-1", notes)
	require.Error(t, err)
	assert.Equal(t, 10, synced)
	assert.Equal(t, int32(2), batches.Load())
	assert.Equal(t, errs.KindTransport, errs.KindOf(err))
}

func TestSyncNotesSmallSetIsOneRequest(t *testing.T) {
	var sizes []int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload notesPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		sizes = append(sizes, len(payload.Notes))
	}))

	synced, err := client.SyncNotes(context.Background(), "ri-1", make([]Note, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, synced)
	assert.Equal(t, []int{10}, sizes)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2}, {3}}, chunk([]int{1, 2, 3}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, chunk([]int{1, 2, 3}, 0))
}
