package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/recall"
	"github.com/fabfab/recollect/results"
	"github.com/fabfab/recollect/selection"
)

type fakeRecall struct {
	lastQuery   string
	lastFilters filters.Filters
	searchErr   error
	selected    []selection.Entry
	fragments   []string
	synthErr    error
}

func (f *fakeRecall) Search(ctx context.Context, query string, fl filters.Filters) (recall.SearchOutcome, error) {
	f.lastQuery = query
	f.lastFilters = fl
	if f.searchErr != nil {
		return recall.SearchOutcome{}, f.searchErr
	}
	return recall.SearchOutcome{
		Generation: 1,
		Query:      query,
		StackID:    "stk-1",
		Documents:  []results.Document{{ID: "a", Title: "A", DocType: results.TypeWeb}},
	}, nil
}

func (f *fakeRecall) Results() recall.SearchOutcome {
	return recall.SearchOutcome{Query: f.lastQuery, Empty: true}
}

func (f *fakeRecall) Peel(id string, pos selection.Position) (selection.Entry, bool, error) {
	if id != "a" {
		return selection.Entry{}, false, errs.Validation("doc_id", "not in results")
	}
	for _, e := range f.selected {
		if e.ID == id {
			return e, false, nil
		}
	}
	entry := selection.Entry{ID: id, Title: "A", Position: pos}
	f.selected = append(f.selected, entry)
	return entry, true, nil
}

func (f *fakeRecall) Discard(id string) (bool, error) {
	for i, e := range f.selected {
		if e.ID == id {
			f.selected = append(f.selected[:i], f.selected[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRecall) Selection() []selection.Entry { return f.selected }

func (f *fakeRecall) State() recall.State { return recall.StateIdle }

func (f *fakeRecall) Synthesize(ctx context.Context, onFragment func(string)) (*recall.SynthesisOutcome, error) {
	for _, fragment := range f.fragments {
		onFragment(fragment)
	}
	if f.synthErr != nil {
		return &recall.SynthesisOutcome{State: recall.StateFailed}, f.synthErr
	}
	return &recall.SynthesisOutcome{State: recall.StatePersisted, ArtifactID: "art-1"}, nil
}

type fakeThumbnails struct{}

func (fakeThumbnails) Get(ctx context.Context, path string) (backend.Thumbnail, error) {
	if path == "missing.png" {
		return backend.Thumbnail{}, errs.Status("thumbnail", http.StatusNotFound, "no such object")
	}
	return backend.Thumbnail{Data: []byte("png-bytes"), ContentType: "image/png"}, nil
}

func newTestServer(t *testing.T, rc *fakeRecall) *httptest.Server {
	t.Helper()
	s := New(rc, fakeThumbnails{}, nil, nil)
	s.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{})

	resp, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"ok"}`, string(body))

	resp, body = do(t, srv, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/v1/synthesize")
}

func TestSearchBuildsFilters(t *testing.T) {
	rc := &fakeRecall{}
	srv := newTestServer(t, rc)

	resp, body := do(t, srv, http.MethodPost, "/v1/search",
		`{"query":"machine learning","filters":{"type":"Article","slider":25,"domain":"go.dev"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	assert.Equal(t, "machine learning", rc.lastQuery)
	assert.Equal(t, filters.Filters{
		DocType:   results.TypeWeb,
		StartTime: "2024-03-13T00:00:00.000Z",
		Domain:    "go.dev",
	}, rc.lastFilters)

	var outcome recall.SearchOutcome
	require.NoError(t, json.Unmarshal(body, &outcome))
	assert.Equal(t, "stk-1", outcome.StackID)
}

func TestSearchErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", errs.Validation("query", "too long"), http.StatusBadRequest},
		{"session", errs.Session(errors.New("no token")), http.StatusUnauthorized},
		{"transport", errs.Status("search", http.StatusInternalServerError, "boom"), http.StatusBadGateway},
		{"superseded", recall.ErrSuperseded, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeRecall{searchErr: tc.err})
			resp, _ := do(t, srv, http.MethodPost, "/v1/search", `{"query":"q"}`)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestSearchRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{})
	resp, _ := do(t, srv, http.MethodPost, "/v1/search", `{"query":"q","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPeelAndDiscard(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{})

	resp, _ := do(t, srv, http.MethodPost, "/v1/selection", `{"doc_id":"a","x":4,"y":5}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/v1/selection", `{"doc_id":"a"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/v1/selection", `{"doc_id":"zzz"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/v1/selection", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sel selectionResponse
	require.NoError(t, json.Unmarshal(body, &sel))
	assert.Equal(t, 1, sel.Count)
	assert.Equal(t, selection.Position{X: 4, Y: 5}, sel.Entries[0].Position)

	resp, _ = do(t, srv, http.MethodDelete, "/v1/selection/a", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodDelete, "/v1/selection/a", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSynthesizeStreamsFragments(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{fragments: []string{"Hello, ", "world."}})
	resp, body := do(t, srv, http.MethodPost, "/v1/synthesize", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Hello, world.", string(body))
}

func TestSynthesizeFailureBeforeFirstByte(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{synthErr: errs.Validation("selection", "no documents peeled")})
	resp, body := do(t, srv, http.MethodPost, "/v1/synthesize", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"validation"`)
}

func TestSynthesizeFailureAfterFirstByteKeepsStatus(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{
		fragments: []string{"partial"},
		synthErr:  errs.Transport("gist stream", errors.New("reset")),
	})
	resp, body := do(t, srv, http.MethodPost, "/v1/synthesize", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial", string(body))
}

func TestSynthesizeEmptyIsNoContent(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{})
	resp, _ := do(t, srv, http.MethodPost, "/v1/synthesize", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestThumbnail(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{})

	resp, body := do(t, srv, http.MethodGet, "/v1/thumbnail?path=shots%2F1.png", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png-bytes", string(body))

	resp, _ = do(t, srv, http.MethodGet, "/v1/thumbnail?path=missing.png", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/v1/thumbnail", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTimeRange(t *testing.T) {
	srv := newTestServer(t, &fakeRecall{})

	resp, body := do(t, srv, http.MethodGet, "/v1/filters/timerange?value=25", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr timeRangeResponse
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.Equal(t, timeRangeResponse{
		Unit:      filters.UnitDays,
		Count:     7,
		Label:     "In the last 7 days",
		StartTime: "2024-03-13T00:00:00.000Z",
	}, tr)

	resp, _ = do(t, srv, http.MethodGet, "/v1/filters/timerange?value=101", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/v1/filters/timerange?value=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
