// Package api serves the local HTTP bridge the desktop UI talks to.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/events"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/recall"
	"github.com/fabfab/recollect/selection"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

// Recall is the session surface the bridge drives.
type Recall interface {
	Search(ctx context.Context, query string, f filters.Filters) (recall.SearchOutcome, error)
	Results() recall.SearchOutcome
	Peel(id string, pos selection.Position) (selection.Entry, bool, error)
	Discard(id string) (bool, error)
	Selection() []selection.Entry
	State() recall.State
	Synthesize(ctx context.Context, onFragment func(string)) (*recall.SynthesisOutcome, error)
}

type Thumbnails interface {
	Get(ctx context.Context, path string) (backend.Thumbnail, error)
}

// Server exposes the recall session over HTTP.
type Server struct {
	recall     Recall
	thumbnails Thumbnails
	bus        *events.Bus
	logger     *zap.Logger
	now        func() time.Time
	handler    http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type searchRequest struct {
	Query   string        `json:"query"`
	Filters filters.Input `json:"filters"`
}

type peelRequest struct {
	DocID string  `json:"doc_id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type peelResponse struct {
	Entry selection.Entry `json:"entry"`
	Added bool            `json:"added"`
}

type selectionResponse struct {
	Entries []selection.Entry `json:"entries"`
	Count   int               `json:"count"`
	State   recall.State      `json:"state"`
}

type timeRangeResponse struct {
	Unit      filters.Unit `json:"unit"`
	Count     int          `json:"count"`
	Label     string       `json:"label"`
	StartTime string       `json:"start_time,omitempty"`
}

// New builds the router. bus may be nil, in which case /v1/events is not
// served.
func New(sess Recall, thumbnails Thumbnails, bus *events.Bus, logger *zap.Logger) *Server {
	s := &Server{
		recall:     sess,
		thumbnails: thumbnails,
		bus:        bus,
		logger:     logging.OrNop(logger).Named("api"),
		now:        time.Now,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/results", s.handleResults)

		r.Get("/selection", s.handleSelection)
		r.Post("/selection", s.handlePeel)
		r.Delete("/selection/{id}", s.handleDiscard)

		r.Post("/synthesize", s.handleSynthesize)
		r.Get("/thumbnail", s.handleThumbnail)
		r.Get("/filters/timerange", s.handleTimeRange)

		if s.bus != nil {
			r.Get("/events", s.handleEvents)
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	f, err := filters.Build(req.Filters, s.now())
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	outcome, err := s.recall.Search(r.Context(), req.Query, f)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.recall.Results())
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	entries := s.recall.Selection()
	s.writeJSON(w, http.StatusOK, selectionResponse{
		Entries: entries,
		Count:   len(entries),
		State:   s.recall.State(),
	})
}

func (s *Server) handlePeel(w http.ResponseWriter, r *http.Request) {
	var req peelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.DocID) == "" {
		s.writeFailure(w, errs.Validation("doc_id", "is required"))
		return
	}

	entry, added, err := s.recall.Peel(req.DocID, selection.Position{X: req.X, Y: req.Y})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, peelResponse{Entry: entry, Added: added})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.recall.Discard(id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%q is not selected", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSynthesize streams fragments as plain text in arrival order. Once
// the first byte is out the status is fixed, so later failures are only
// logged.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	flusher, _ := w.(http.Flusher)
	started := false

	outcome, err := s.recall.Synthesize(r.Context(), func(fragment string) {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			s.logger.Debug("write fragment", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	})

	if started {
		if err != nil {
			state := recall.StateFailed
			if outcome != nil {
				state = outcome.State
			}
			s.logger.Warn("synthesis ended after streaming began",
				zap.String("state", string(state)),
				zap.Error(err),
			)
		}
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		s.writeFailure(w, errs.Validation("path", "is required"))
		return
	}
	if s.thumbnails == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("thumbnails unavailable"))
		return
	}

	thumb, err := s.thumbnails.Get(r.Context(), path)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	contentType := thumb.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(thumb.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=1800")
	w.Header().Set("Content-Length", strconv.Itoa(len(thumb.Data)))
	_, _ = w.Write(thumb.Data)
}

func (s *Server) handleTimeRange(w http.ResponseWriter, r *http.Request) {
	value, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		s.writeFailure(w, errs.Validation("value", "must be a number between 0 and 100"))
		return
	}
	tr, err := filters.RangeFromSlider(value)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, timeRangeResponse{
		Unit:      tr.Unit,
		Count:     tr.Count,
		Label:     tr.Label(),
		StartTime: tr.StartTime(s.now()),
	})
}

// handleEvents relays bus events as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	stream, err := s.bus.Subscribe(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range stream {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recall.ErrSuperseded), errors.Is(err, recall.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, recall.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindSession:
		return http.StatusUnauthorized
	case errs.KindTransport, errs.KindDecode:
		var te *errs.TransportError
		if errors.As(err, &te) && te.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(errs.KindOf(err))})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Info("api error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
