// Package session ties an edit store to a backend that can load and save the
// funnel it edits.
//
// A Session is owned by one goroutine (the TUI update loop, or a CLI
// command). Prepare and Apply must run on that goroutine; Persist is safe to
// run elsewhere because it only touches the captured request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pluqqy/funnelkit/pkg/builder"
	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/reconcile"
)

// DefaultSeedWindow is how young an empty funnel must be to get starter steps.
const DefaultSeedWindow = 60 * time.Second

// Backend loads and saves funnel trees.
type Backend interface {
	Load(ctx context.Context, funnelID string) (*models.Funnel, error)
	Save(ctx context.Context, req models.SaveRequest) (*models.Remap, error)
}

type SaveStatus int

const (
	SaveOK SaveStatus = iota
	SaveFailed
	SaveSuperseded
)

func (s SaveStatus) String() string {
	switch s {
	case SaveOK:
		return "ok"
	case SaveFailed:
		return "failed"
	case SaveSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("SaveStatus(%d)", int(s))
	}
}

// Pending is a save captured from the live state.
type Pending struct {
	Request  models.SaveRequest
	Revision uint64

	// remapSeq is the number of remaps recorded when the request was captured.
	remapSeq int
}

// SaveResult is the outcome of Persist.
type SaveResult struct {
	Status    SaveStatus
	Revision  uint64
	Remap     *models.Remap
	Err       error
	Retryable bool
}

type Option func(*config)

type config struct {
	now        func() time.Time
	seedWindow time.Duration
	newID      idgen.Generator
	logger     *slog.Logger
	serializer *reconcile.Serializer
	storeOpts  []builder.Option
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithSeedWindow sets how long after creation an empty funnel is seeded.
func WithSeedWindow(d time.Duration) Option {
	return func(c *config) { c.seedWindow = d }
}

// WithIDGenerator sets the generator for client ids, both for seeded steps
// and for the edit store.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(c *config) { c.newID = gen }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithSerializer shares a save serializer between sessions.
func WithSerializer(s *reconcile.Serializer) Option {
	return func(c *config) { c.serializer = s }
}

// WithStoreOptions passes extra options to the edit store.
func WithStoreOptions(opts ...builder.Option) Option {
	return func(c *config) { c.storeOpts = append(c.storeOpts, opts...) }
}

// Session is one editing session on one funnel.
type Session struct {
	backend    Backend
	serializer *reconcile.Serializer
	logger     *slog.Logger

	funnel *models.Funnel
	store  *builder.Store

	savedRevision uint64
	seeded        bool
	inFlight      int
	lastErr       error

	remaps remapLog
}

// remapLog records the remaps of saves that committed while other saves were
// still outstanding. A queued request was captured before those remaps
// reached the live state, so it is rewritten through them before it runs.
type remapLog struct {
	mu      sync.Mutex
	base    int
	entries []*models.Remap
}

func (l *remapLog) seq() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base + len(l.entries)
}

func (l *remapLog) since(seq int) []*models.Remap {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < l.base {
		seq = l.base
	}
	return append([]*models.Remap(nil), l.entries[seq-l.base:]...)
}

func (l *remapLog) add(r *models.Remap) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, r)
}

// reset drops every entry. Only safe once no captured request is outstanding.
func (l *remapLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base += len(l.entries)
	l.entries = nil
}

// Open loads funnelID and builds an edit store over it. A funnel with no
// steps that was created within the seed window starts with two client-side
// steps, which are unsaved until the first successful save.
func Open(ctx context.Context, backend Backend, funnelID string, opts ...Option) (*Session, error) {
	cfg := config{
		now:        time.Now,
		seedWindow: DefaultSeedWindow,
		newID:      idgen.Temp(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.serializer == nil {
		cfg.serializer = reconcile.NewSerializer()
	}

	f, err := backend.Load(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load funnel %s: %w", funnelID, err)
	}

	snap := models.SnapshotFromTree(f.Steps)
	seeded := false
	if len(snap.Steps) == 0 && cfg.now().Sub(f.CreatedAt) < cfg.seedWindow {
		snap = seedSnapshot(cfg.newID)
		seeded = true
		cfg.logger.Info("seeded new funnel", "funnel_id", funnelID, "steps", len(snap.Steps))
	}

	storeOpts := append([]builder.Option{
		builder.WithIDGenerator(cfg.newID),
		builder.WithLogger(cfg.logger),
	}, cfg.storeOpts...)
	store := builder.NewStore(f.ID, snap, storeOpts...)

	return &Session{
		backend:       backend,
		serializer:    cfg.serializer,
		logger:        cfg.logger,
		funnel:        f,
		store:         store,
		savedRevision: store.Revision(),
		seeded:        seeded,
	}, nil
}

func seedSnapshot(newID idgen.Generator) models.Snapshot {
	snap := models.Snapshot{ComponentsByStep: map[string][]models.Component{}}
	for i := range 2 {
		step := models.Step{ID: newID(), Title: fmt.Sprintf("Step %d", i+1), Order: i}
		snap.Steps = append(snap.Steps, step)
		snap.ComponentsByStep[step.ID] = []models.Component{}
	}
	return snap
}

// Store is the live edit store.
func (s *Session) Store() *builder.Store { return s.store }

func (s *Session) FunnelID() string { return s.funnel.ID }

func (s *Session) Name() string { return s.funnel.Name }

func (s *Session) Theme() json.RawMessage { return s.funnel.Theme }

// Dirty reports whether the live state has edits no save has confirmed.
func (s *Session) Dirty() bool {
	return s.seeded || s.store.Revision() != s.savedRevision
}

// Saving reports whether a Prepare has not been matched by an Apply yet.
func (s *Session) Saving() bool { return s.inFlight > 0 }

// LastError is the error of the most recent failed save, cleared by a
// successful one.
func (s *Session) LastError() error { return s.lastErr }

// SaveRequest captures the live state as a save request.
func (s *Session) SaveRequest() models.SaveRequest {
	snap := s.store.Snapshot()
	return models.SaveRequest{
		FunnelID:         s.funnel.ID,
		Steps:            snap.Steps,
		ComponentsByStep: snap.ComponentsByStep,
		ThemeConfig:      append(json.RawMessage(nil), s.funnel.Theme...),
	}
}

// Prepare captures a save of the live state. Every Prepare must be followed
// by an Apply of the matching result.
func (s *Session) Prepare() Pending {
	s.inFlight++
	return Pending{Request: s.SaveRequest(), Revision: s.store.Revision(), remapSeq: s.remaps.seq()}
}

// Persist sends p to the backend. Saves for the same funnel never overlap;
// a save that is overtaken while waiting reports SaveSuperseded. Client ids
// that an earlier save of this session already persisted are sent as their
// persisted ids, and the returned remap still covers the ids p was captured
// with.
func (s *Session) Persist(ctx context.Context, p Pending) SaveResult {
	remap, err := s.serializer.Do(ctx, p.Request.FunnelID, func(ctx context.Context) (*models.Remap, error) {
		earlier := s.remaps.since(p.remapSeq)
		req := p.Request
		var carried *models.Remap
		if len(earlier) > 0 {
			req = rebase(req, earlier)
			for _, r := range earlier {
				carried = carried.Then(r)
			}
			s.logger.Debug("queued save rebased", "funnel_id", req.FunnelID, "remaps", len(earlier))
		}
		remap, err := s.backend.Save(ctx, req)
		if err != nil {
			return nil, err
		}
		s.remaps.add(remap)
		if carried != nil {
			remap = carried.Then(remap)
		}
		return remap, nil
	})
	switch {
	case err == nil:
		return SaveResult{Status: SaveOK, Revision: p.Revision, Remap: remap}
	case errors.Is(err, reconcile.ErrSuperseded):
		return SaveResult{Status: SaveSuperseded, Revision: p.Revision, Err: err}
	default:
		return SaveResult{Status: SaveFailed, Revision: p.Revision, Err: err, Retryable: reconcile.IsRetryable(err)}
	}
}

// Apply folds a save result back into the live state. Failed saves leave the
// local state as it is.
func (s *Session) Apply(res SaveResult) {
	if s.inFlight > 0 {
		s.inFlight--
	}
	if s.inFlight == 0 {
		s.remaps.reset()
	}
	switch res.Status {
	case SaveOK:
		s.store.ApplyRemap(res.Remap)
		if res.Revision >= s.savedRevision {
			s.savedRevision = res.Revision
		}
		s.seeded = false
		s.lastErr = nil
		s.logger.Info("save applied", "funnel_id", s.funnel.ID, "revision", res.Revision, "dirty", s.Dirty())
	case SaveSuperseded:
		s.logger.Debug("save superseded", "funnel_id", s.funnel.ID, "revision", res.Revision)
	case SaveFailed:
		s.lastErr = res.Err
		s.logger.Warn("save failed, changes kept locally", "funnel_id", s.funnel.ID, "retryable", res.Retryable, "error", res.Err)
	}
}

// rebase rewrites a captured request through remaps that committed after it
// was captured. The request is copied first; the caller's copy is unchanged.
func rebase(req models.SaveRequest, remaps []*models.Remap) models.SaveRequest {
	snap := models.Snapshot{Steps: req.Steps, ComponentsByStep: req.ComponentsByStep}.Clone()
	for _, r := range remaps {
		snap = r.ApplySnapshot(snap)
	}
	req.Steps, req.ComponentsByStep = snap.Steps, snap.ComponentsByStep
	return req
}

// Save runs a whole save on the calling goroutine.
func (s *Session) Save(ctx context.Context) SaveResult {
	res := s.Persist(ctx, s.Prepare())
	s.Apply(res)
	return res
}
