// Package reconcile persists an editor's steps and components against the
// stored funnel tree and returns the table mapping client ids to persisted
// ids.
//
// One save is one storage transaction with a fixed sequence:
//
//  1. load the persisted tree and split steps into removed, existing and new
//  2. delete removed steps (and their components) before anything is written
//  3. phase one, sequential in client order: update existing steps and
//     create new ones, recording every id mapping including identities
//  4. phase two, parallel per step: delete, update and create components,
//     rewriting every embedded step reference through the finished table
//  5. touch the funnel (theme, updated_at) and commit
//
// Any failure, including the save timeout, rolls the whole save back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/storage"
)

const (
	DefaultTimeout     = 20 * time.Second
	DefaultParallelism = 4
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTimeout bounds each save.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithParallelism bounds concurrent per-step component writes.
func WithParallelism(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler saves and loads funnel trees through a storage.Repository.
type Reconciler struct {
	repo        storage.Repository
	timeout     time.Duration
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

// New returns a Reconciler over repo.
func New(repo storage.Repository, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:        repo,
		timeout:     DefaultTimeout,
		parallelism: DefaultParallelism,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load returns the persisted funnel tree.
func (r *Reconciler) Load(ctx context.Context, funnelID string) (*models.Funnel, error) {
	f, err := r.repo.LoadFunnel(ctx, funnelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFunnelNotFound, funnelID)
	}
	return f, err
}

type saveStats struct {
	stepsCreated, stepsUpdated, stepsDeleted                int
	componentsCreated, componentsUpdated, componentsDeleted int
}

func (s *saveStats) add(o saveStats) {
	s.componentsCreated += o.componentsCreated
	s.componentsUpdated += o.componentsUpdated
	s.componentsDeleted += o.componentsDeleted
}

// Save reconciles req against the stored tree. On success every client id in
// req appears in the returned remap. On failure nothing was written and the
// error is a *SaveError.
func (r *Reconciler) Save(ctx context.Context, req models.SaveRequest) (*models.Remap, error) {
	if err := validate(req); err != nil {
		return nil, &SaveError{Op: "validate", FunnelID: req.FunnelID, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := r.now()

	op := "begin"
	var remap *models.Remap
	var stats saveStats
	err := r.repo.Update(ctx, func(tx storage.Tx) error {
		var err error
		remap, stats, err = r.apply(ctx, tx, req, &op)
		return err
	})
	if err == nil {
		r.logger.Info("funnel saved",
			"funnel_id", req.FunnelID,
			"steps_created", stats.stepsCreated,
			"steps_updated", stats.stepsUpdated,
			"steps_deleted", stats.stepsDeleted,
			"components_created", stats.componentsCreated,
			"components_updated", stats.componentsUpdated,
			"components_deleted", stats.componentsDeleted,
			"duration", r.now().Sub(started))
		return remap, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, r.timeout, err)
	}
	r.logger.Warn("funnel save failed", "funnel_id", req.FunnelID, "op", op, "error", err)
	return nil, &SaveError{Op: op, FunnelID: req.FunnelID, Err: err}
}

func (r *Reconciler) apply(ctx context.Context, tx storage.Tx, req models.SaveRequest, op *string) (*models.Remap, saveStats, error) {
	var stats saveStats

	*op = "load"
	exists, err := tx.FunnelExists(ctx, req.FunnelID)
	if err != nil {
		return nil, stats, err
	}
	if !exists {
		return nil, stats, fmt.Errorf("%w: %s", ErrFunnelNotFound, req.FunnelID)
	}
	persisted, err := tx.LoadTree(ctx, req.FunnelID)
	if err != nil {
		return nil, stats, err
	}

	prior := make(map[string]models.StepTree, len(persisted))
	for _, st := range persisted {
		prior[st.ID] = st
	}
	inClient := make(map[string]bool, len(req.Steps))
	for _, step := range req.Steps {
		inClient[step.ID] = true
	}

	*op = "delete steps"
	for _, st := range persisted {
		if inClient[st.ID] {
			continue
		}
		if err := tx.DeleteStep(ctx, st.ID); err != nil {
			return nil, stats, err
		}
		delete(prior, st.ID)
		stats.stepsDeleted++
	}

	*op = "upsert steps"
	remap := models.NewRemap()
	if err := r.upsertSteps(ctx, tx, req, prior, remap, &stats); err != nil {
		return nil, stats, err
	}

	*op = "upsert components"
	if err := r.upsertComponents(ctx, tx, req, prior, remap, &stats); err != nil {
		return nil, stats, err
	}

	*op = "touch funnel"
	if err := tx.TouchFunnel(ctx, req.FunnelID, req.ThemeConfig, r.now()); err != nil {
		return nil, stats, err
	}
	return remap, stats, nil
}

// upsertSteps is phase one. It runs strictly in client order so that the
// remap is complete before any component data is written.
func (r *Reconciler) upsertSteps(ctx context.Context, tx storage.Tx, req models.SaveRequest, prior map[string]models.StepTree, remap *models.Remap, stats *saveStats) error {
	if len(prior) > 0 {
		if err := tx.ParkSteps(ctx, req.FunnelID); err != nil {
			return err
		}
	}

	for i, step := range req.Steps {
		step.Order = i
		if _, ok := prior[step.ID]; ok {
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			remap.Steps[step.ID] = step.ID
			stats.stepsUpdated++
			continue
		}
		id, err := tx.CreateStep(ctx, req.FunnelID, step)
		if err != nil {
			return err
		}
		remap.Steps[step.ID] = id
		stats.stepsCreated++
	}
	return nil
}

type stepResult struct {
	ids   map[string]string
	stats saveStats
}

// upsertComponents is phase two. Steps are independent once the step remap
// is final, so they are written concurrently.
func (r *Reconciler) upsertComponents(ctx context.Context, tx storage.Tx, req models.SaveRequest, prior map[string]models.StepTree, remap *models.Remap, stats *saveStats) error {
	resolve := func(stepID string) string {
		// References to steps that no longer exist are cleared.
		return remap.Steps[stepID]
	}

	results := make([]stepResult, len(req.Steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, step := range req.Steps {
		g.Go(func() error {
			res, err := syncStep(gctx, tx, remap.Steps[step.ID], prior[step.ID].Components, req.ComponentsByStep[step.ID], resolve)
			if err != nil {
				return fmt.Errorf("step %s: %w", step.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		for from, to := range res.ids {
			remap.Components[from] = to
		}
		stats.add(res.stats)
	}
	return nil
}

func syncStep(ctx context.Context, tx storage.Tx, stepID string, prior, current []models.Component, resolve func(string) string) (stepResult, error) {
	res := stepResult{ids: make(map[string]string, len(current))}

	known := make(map[string]bool, len(prior))
	for _, c := range prior {
		known[c.ID] = true
	}
	kept := make(map[string]bool, len(current))
	for _, c := range current {
		if known[c.ID] {
			kept[c.ID] = true
		}
	}

	for _, c := range prior {
		if kept[c.ID] {
			continue
		}
		if err := tx.DeleteComponent(ctx, c.ID); err != nil {
			return res, err
		}
		res.stats.componentsDeleted++
	}
	if len(kept) > 0 {
		if err := tx.ParkComponents(ctx, stepID); err != nil {
			return res, err
		}
	}

	for i, c := range current {
		c.Order = i
		c.Data = models.RewriteStepRefs(c.Data, resolve)
		if kept[c.ID] {
			if err := tx.UpdateComponent(ctx, stepID, c); err != nil {
				return res, err
			}
			res.ids[c.ID] = c.ID
			res.stats.componentsUpdated++
			continue
		}
		id, err := tx.CreateComponent(ctx, stepID, c)
		if err != nil {
			return res, err
		}
		res.ids[c.ID] = id
		res.stats.componentsCreated++
	}
	return res, nil
}

func validate(req models.SaveRequest) error {
	if req.FunnelID == "" {
		return fmt.Errorf("%w: missing funnel id", ErrInvalidRequest)
	}
	steps := make(map[string]bool, len(req.Steps))
	for _, step := range req.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step without id", ErrInvalidRequest)
		}
		if steps[step.ID] {
			return fmt.Errorf("%w: duplicate step id %s", ErrInvalidRequest, step.ID)
		}
		steps[step.ID] = true
	}

	components := map[string]bool{}
	for _, step := range req.Steps {
		for _, c := range req.ComponentsByStep[step.ID] {
			switch {
			case c.ID == "":
				return fmt.Errorf("%w: component without id in step %s", ErrInvalidRequest, step.ID)
			case components[c.ID]:
				return fmt.Errorf("%w: duplicate component id %s", ErrInvalidRequest, c.ID)
			case !c.Type.Valid():
				return fmt.Errorf("%w: component %s has unknown type %q", ErrInvalidRequest, c.ID, c.Type)
			case c.Data == nil || c.Data.Type() != c.Type:
				return fmt.Errorf("%w: component %s data does not match type %s", ErrInvalidRequest, c.ID, c.Type)
			}
			components[c.ID] = true
		}
	}
	return nil
}
