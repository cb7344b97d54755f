// Package recall owns one user's search session: the current result set,
// the peeled selection and the synthesis lifecycle built on top of them.
package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/enrich"
	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/events"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/results"
	"github.com/fabfab/recollect/selection"
	"github.com/fabfab/recollect/snapshot"
	"github.com/fabfab/recollect/synthesis"
)

var (
	// ErrSuperseded is returned to a search whose results arrived after a
	// newer search was submitted. Its results are dropped.
	ErrSuperseded = errors.New("search superseded by a newer query")
	ErrClosed     = errors.New("recall session closed")
	ErrBusy       = errors.New("a synthesis is already running")
)

type Searcher interface {
	Search(ctx context.Context, req backend.SearchRequest) (backend.SearchOutcome, error)
}

type Enricher interface {
	EnrichAll(ctx context.Context, entries []selection.Entry) ([]selection.Entry, []enrich.Outcome)
	MinLength() int
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request, onFragment func(string)) (*synthesis.Result, error)
}

type Persister interface {
	Save(ctx context.Context, result *synthesis.Result) (string, error)
}

// Deps are the collaborators a Session drives. Bus and Snapshots are optional.
type Deps struct {
	Searcher    Searcher
	Enricher    Enricher
	Synthesizer Synthesizer
	Persister   Persister
	Bus         *events.Bus
	Snapshots   *snapshot.Store
	Logger      *zap.Logger
}

// SearchOutcome is what the session applied for one search.
type SearchOutcome struct {
	Generation uint64             `json:"generation"`
	Query      string             `json:"query"`
	StackID    string             `json:"stack_id"`
	Documents  []results.Document `json:"documents"`
	Empty      bool               `json:"empty"`
}

// SynthesisOutcome reports how a synthesis ended. Result holds whatever text
// streamed, even when the stream failed.
type SynthesisOutcome struct {
	State      State
	Result     *synthesis.Result
	ArtifactID string
	Enrichment []enrich.Outcome
}

// core is the state owned by the session goroutine.
type core struct {
	results      *results.Manager
	buffer       *selection.Buffer
	query        string
	generation   uint64
	cancelSearch context.CancelFunc
	state        State
}

// Session serialises every mutation of results and selection through one
// goroutine. Network calls run outside it; only their outcomes are applied
// inside.
type Session struct {
	deps   Deps
	logger *zap.Logger

	mailbox   chan func(*core)
	closed    chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func New(deps Deps) *Session {
	s := &Session{
		deps:    deps,
		logger:  logging.OrNop(deps.Logger).Named("recall"),
		mailbox: make(chan func(*core)),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run(&core{
		results: results.NewManager(),
		buffer:  selection.NewBuffer(),
		state:   StateIdle,
	})
	return s
}

func (s *Session) run(c *core) {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.mailbox:
			fn(c)
		case <-s.closed:
			if c.cancelSearch != nil {
				c.cancelSearch()
			}
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func(*core)) error {
	done := make(chan struct{})
	select {
	case s.mailbox <- func(c *core) { fn(c); close(done) }:
	case <-s.closed:
		return ErrClosed
	}
	<-done
	return nil
}

// Close stops the session and cancels any in-flight search.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	<-s.stopped
}

// Search submits query. Any search still in flight is cancelled, and its
// late results are discarded with ErrSuperseded. Documents already peeled
// into the selection are left out of the new result set.
func (s *Session) Search(ctx context.Context, query string, f filters.Filters) (SearchOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchOutcome{}, errs.Validation("query", "must not be empty")
	}

	var (
		gen       uint64
		searchCtx context.Context
	)
	if err := s.do(func(c *core) {
		if c.cancelSearch != nil {
			c.cancelSearch()
		}
		c.generation++
		gen = c.generation
		searchCtx, c.cancelSearch = context.WithCancel(ctx)
	}); err != nil {
		return SearchOutcome{}, err
	}

	s.publish(events.Event{Type: events.SearchStarted, Generation: gen, Query: query})
	found, searchErr := s.deps.Searcher.Search(searchCtx, backend.SearchRequest{Query: query, Filters: f})

	var (
		applied SearchOutcome
		stale   bool
		refs    []snapshot.ResultRef
		entries []selection.Entry
	)
	if err := s.do(func(c *core) {
		if gen != c.generation {
			stale = true
			return
		}
		c.cancelSearch()
		c.cancelSearch = nil
		if searchErr != nil {
			return
		}

		docs := make([]results.Document, 0, len(found.Documents))
		for _, doc := range found.Documents {
			if !c.buffer.Contains(doc.ID) {
				docs = append(docs, doc)
			}
		}
		set := c.results.Replace(found.StackID, docs)
		c.query = query
		applied = SearchOutcome{
			Generation: gen,
			Query:      query,
			StackID:    set.StackID(),
			Documents:  set.Documents(),
			Empty:      set.Len() == 0,
		}
		refs = resultRefs(applied.Documents)
		entries = c.buffer.Entries()
	}); err != nil {
		return SearchOutcome{}, err
	}

	if stale {
		s.logger.Debug("dropping superseded search", zap.Uint64("generation", gen))
		return SearchOutcome{Generation: gen, Query: query}, ErrSuperseded
	}
	if searchErr != nil {
		s.logger.Warn("search failed", zap.Uint64("generation", gen), zap.Error(searchErr))
		s.publish(events.Event{
			Type:       events.SearchFailed,
			Generation: gen,
			Query:      query,
			Error:      searchErr.Error(),
			ErrorKind:  string(errs.KindOf(searchErr)),
		})
		return SearchOutcome{Generation: gen, Query: query}, searchErr
	}

	evtType := events.SearchCompleted
	if applied.Empty {
		evtType = events.SearchEmpty
	}
	s.publish(events.Event{Type: evtType, Generation: gen, Query: query, Count: len(applied.Documents)})
	s.saveSnapshot(func(snap *snapshot.Snapshot) {
		snap.Query = query
		snap.StackID = applied.StackID
		snap.Results = refs
		snap.Selection = entries
	})
	return applied, nil
}

// Peel moves id from the result set into the selection. Peeling an id that
// is already selected changes nothing and reports added == false.
func (s *Session) Peel(id string, pos selection.Position) (entry selection.Entry, added bool, err error) {
	var missing bool
	if err := s.do(func(c *core) {
		if c.buffer.Contains(id) {
			for _, e := range c.buffer.Entries() {
				if e.ID == id {
					entry = e
				}
			}
			return
		}
		doc, ok := c.results.Remove(id)
		if !ok {
			missing = true
			return
		}
		entry = selection.FromDocument(doc, pos)
		added = c.buffer.Peel(entry)
	}); err != nil {
		return selection.Entry{}, false, err
	}
	if missing {
		return selection.Entry{}, false, errs.Validation("doc_id", fmt.Sprintf("%q is not in the current results", id))
	}
	if added {
		s.publish(events.Event{Type: events.Peeled, DocID: id, Text: entry.Text})
	}
	return entry, added, nil
}

// Discard drops id from the selection. The document does not return to the
// result list.
func (s *Session) Discard(id string) (bool, error) {
	var removed bool
	if err := s.do(func(c *core) { removed = c.buffer.Remove(id) }); err != nil {
		return false, err
	}
	if removed {
		s.publish(events.Event{Type: events.Discarded, DocID: id})
	}
	return removed, nil
}

func (s *Session) Selection() []selection.Entry {
	var out []selection.Entry
	_ = s.do(func(c *core) { out = c.buffer.Entries() })
	return out
}

// Results returns the current result set.
func (s *Session) Results() SearchOutcome {
	var out SearchOutcome
	_ = s.do(func(c *core) {
		set := c.results.Current()
		out = SearchOutcome{
			Generation: c.generation,
			Query:      c.query,
			StackID:    set.StackID(),
			Documents:  set.Documents(),
			Empty:      set.Len() == 0,
		}
	})
	return out
}

func (s *Session) State() State {
	state := StateIdle
	_ = s.do(func(c *core) { state = c.state })
	return state
}

// Synthesize runs one synthesis over the current selection: validate,
// enrich short entries, dispatch, stream, then persist once on success.
// onFragment sees every streamed fragment in order.
//
// The synthesized entries leave the selection only once the request has gone
// out. A failure before that, such as an expired session, keeps them selected
// with any enriched text written back.
//
// The returned outcome is non-nil once the lifecycle has started. A failed
// save comes back as a PersistenceError next to a completed Result.
func (s *Session) Synthesize(ctx context.Context, onFragment func(string)) (*SynthesisOutcome, error) {
	var (
		entries []selection.Entry
		query   string
		stackID string
		short   []selection.Entry
		busy    bool
	)
	threshold := 0
	if s.deps.Enricher != nil {
		threshold = s.deps.Enricher.MinLength()
	}
	if err := s.do(func(c *core) {
		if !c.state.Terminal() {
			busy = true
			return
		}
		entries = c.buffer.Entries()
		short = c.buffer.NeedsEnrichment(threshold)
		query = c.query
		stackID = c.results.Current().StackID()
		c.state = StateValidating
	}); err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrBusy
	}
	s.publishState(StateValidating)

	outcome := &SynthesisOutcome{State: StateValidating}
	fail := func(err error) (*SynthesisOutcome, error) {
		outcome.State = StateFailed
		s.transition(StateFailed)
		s.publish(events.Event{
			Type:      events.SynthesisFailed,
			Query:     query,
			Error:     err.Error(),
			ErrorKind: string(errs.KindOf(err)),
		})
		return outcome, err
	}

	if len(entries) == 0 {
		return fail(errs.Validation("selection", "no documents peeled"))
	}
	if err := requestFor(query, stackID, entries).Validate(); err != nil {
		return fail(err)
	}

	if len(short) > 0 {
		s.transition(StateEnriching)
		var settled []enrich.Outcome
		entries, settled = s.deps.Enricher.EnrichAll(ctx, entries)
		outcome.Enrichment = settled
		enriched := s.applyEnrichment(settled)
		s.publish(events.Event{Type: events.Enriched, Query: query, Count: enriched})
	}

	req := requestFor(query, stackID, entries)
	if err := req.Validate(); err != nil {
		return fail(err)
	}

	s.transition(StateRequesting)

	// A nil result means the synthesizer failed before opening the stream.
	var dispatched, streaming sync.Once
	dispatch := func() { dispatched.Do(func() { s.dispatch(entries) }) }
	result, err := s.deps.Synthesizer.Synthesize(ctx, req, func(fragment string) {
		dispatch()
		streaming.Do(func() { s.transition(StateStreaming) })
		s.publish(events.Event{Type: events.Fragment, Text: fragment})
		if onFragment != nil {
			onFragment(fragment)
		}
	})
	outcome.Result = result
	if result != nil {
		dispatch()
	}
	if err != nil {
		s.recordSynthesis(result, StateFailed, "", err)
		return fail(err)
	}

	outcome.State = StateCompleted
	if result.Empty() || s.deps.Persister == nil {
		s.transition(StateCompleted)
	} else {
		// no gap between the two where a second synthesis could start
		s.transition(StateCompleted, StatePersisting)
		outcome.State = StatePersisting
	}

	if result.Empty() {
		s.publish(events.Event{Type: events.SynthesisEmpty, Query: query})
		s.recordSynthesis(result, StateCompleted, "", nil)
		return outcome, nil
	}
	s.publish(events.Event{Type: events.SynthesisCompleted, Query: query, Text: result.Text()})

	if s.deps.Persister == nil {
		s.recordSynthesis(result, StateCompleted, "", nil)
		return outcome, nil
	}

	artifactID, err := s.deps.Persister.Save(context.WithoutCancel(ctx), result)
	if err != nil {
		outcome.State = StatePersistFailed
		s.transition(StatePersistFailed)
		s.publish(events.Event{
			Type:      events.PersistFailed,
			Query:     query,
			Error:     err.Error(),
			ErrorKind: string(errs.KindOf(err)),
		})
		s.recordSynthesis(result, StatePersistFailed, "", err)
		return outcome, err
	}

	outcome.State = StatePersisted
	outcome.ArtifactID = artifactID
	s.transition(StatePersisted)
	s.publish(events.Event{Type: events.Persisted, Query: query, ArtifactID: artifactID})
	s.recordSynthesis(result, StatePersisted, artifactID, nil)
	return outcome, nil
}

// transition applies steps in order within one turn of the session goroutine.
func (s *Session) transition(steps ...State) {
	var from State
	_ = s.do(func(c *core) {
		from = c.state
		c.state = steps[len(steps)-1]
	})
	for _, to := range steps {
		if !canTransition(from, to) {
			s.logger.Warn("unexpected synthesis transition", zap.String("from", string(from)), zap.String("to", string(to)))
		}
		s.publishState(to)
		from = to
	}
}

// applyEnrichment writes fetched text back to entries still selected and
// returns how many were enriched.
func (s *Session) applyEnrichment(settled []enrich.Outcome) int {
	enriched := 0
	_ = s.do(func(c *core) {
		for _, o := range settled {
			if o.Enriched && c.buffer.SetText(o.ID, o.Text) {
				enriched++
			}
		}
	})
	return enriched
}

// dispatch removes the entries being synthesized from the selection.
// Entries peeled after the synthesis started stay.
func (s *Session) dispatch(entries []selection.Entry) {
	_ = s.do(func(c *core) {
		for _, e := range entries {
			c.buffer.Remove(e.ID)
		}
	})
}

func (s *Session) recordSynthesis(result *synthesis.Result, state State, artifactID string, err error) {
	if result == nil {
		return
	}
	entry := snapshot.Synthesis{
		Query:      result.Query,
		StackID:    result.StackID,
		IDs:        result.IDs,
		Text:       result.Text(),
		State:      string(state),
		ArtifactID: artifactID,
		At:         time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	selected := s.Selection()
	s.saveSnapshot(func(snap *snapshot.Snapshot) {
		snap.AddSynthesis(entry, s.deps.Snapshots.MaxHistory())
		snap.Selection = selected
	})
}

func (s *Session) saveSnapshot(fn func(*snapshot.Snapshot)) {
	if s.deps.Snapshots == nil {
		return
	}
	if err := s.deps.Snapshots.Update(fn); err != nil {
		s.logger.Warn("write snapshot", zap.Error(err))
	}
}

func (s *Session) publish(evt events.Event) {
	if err := s.deps.Bus.Publish(evt); err != nil {
		s.logger.Debug("publish event", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

func (s *Session) publishState(state State) {
	s.publish(events.Event{Type: events.StateChanged, State: string(state)})
}

func requestFor(query, stackID string, entries []selection.Entry) synthesis.Request {
	req := synthesis.Request{Query: query, StackID: stackID}
	for _, e := range entries {
		req.IDs = append(req.IDs, e.ID)
		req.Titles = append(req.Titles, e.Title)
		req.URLs = append(req.URLs, e.URL)
		req.Highlights = append(req.Highlights, e.Text)
	}
	return req
}

func resultRefs(docs []results.Document) []snapshot.ResultRef {
	refs := make([]snapshot.ResultRef, len(docs))
	for i, d := range docs {
		refs[i] = snapshot.ResultRef{ID: d.ID, Title: d.DisplayTitle(), URL: d.URL}
	}
	return refs
}
