// Package memstore is an in-process storage.Repository. Transactions work on
// a private copy of the whole dataset which replaces the committed copy only
// when the transaction callback succeeds. It enforces the same ordering
// constraints as the SQLite repository.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/storage"
)

type funnelRow struct {
	id        string
	name      string
	theme     json.RawMessage
	createdAt time.Time
	updatedAt time.Time
}

type stepRow struct {
	id       string
	funnelID string
	title    string
	position int
}

type componentRow struct {
	id       string
	stepID   string
	typ      models.ComponentType
	position int
	data     json.RawMessage
}

type dataset struct {
	funnels    map[string]funnelRow
	steps      map[string]stepRow
	components map[string]componentRow
}

func (d *dataset) clone() *dataset {
	out := &dataset{
		funnels:    make(map[string]funnelRow, len(d.funnels)),
		steps:      make(map[string]stepRow, len(d.steps)),
		components: make(map[string]componentRow, len(d.components)),
	}
	for k, v := range d.funnels {
		out.funnels[k] = v
	}
	for k, v := range d.steps {
		out.steps[k] = v
	}
	for k, v := range d.components {
		out.components[k] = v
	}
	return out
}

// Option configures a Repository.
type Option func(*Repository)

// WithIDGenerator sets the generator for persisted ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(r *Repository) { r.newID = gen }
}

// WithClock sets the time source for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// Repository is a transactional in-memory funnel store.
type Repository struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	data  *dataset
	newID idgen.Generator
	now   func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// New returns an empty repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		data: &dataset{
			funnels:    map[string]funnelRow{},
			steps:      map[string]stepRow{},
			components: map[string]componentRow{},
		},
		newID: idgen.Persisted,
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repository) CreateFunnel(ctx context.Context, name string, theme json.RawMessage) (*models.Funnel, error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	row := funnelRow{id: r.newID(), name: name, theme: theme, createdAt: now, updatedAt: now}
	r.data.funnels[row.id] = row
	return &models.Funnel{ID: row.id, Name: name, Theme: theme, CreatedAt: now, UpdatedAt: now, Steps: []models.StepTree{}}, nil
}

func (r *Repository) ListFunnels(ctx context.Context) ([]models.FunnelSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[string]int{}
	for _, s := range r.data.steps {
		counts[s.funnelID]++
	}
	out := make([]models.FunnelSummary, 0, len(r.data.funnels))
	for _, f := range r.data.funnels {
		out = append(out, models.FunnelSummary{
			ID: f.id, Name: f.name, Steps: counts[f.id], CreatedAt: f.createdAt, UpdatedAt: f.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) LoadFunnel(ctx context.Context, funnelID string) (*models.Funnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.data.funnels[funnelID]
	if !ok {
		return nil, fmt.Errorf("funnel %s: %w", funnelID, storage.ErrNotFound)
	}
	tree, err := loadTree(r.data, funnelID)
	if err != nil {
		return nil, err
	}
	return &models.Funnel{
		ID: f.id, Name: f.name, Theme: f.theme,
		CreatedAt: f.createdAt, UpdatedAt: f.updatedAt, Steps: tree,
	}, nil
}

// Update runs fn against a private copy and publishes it on success.
// Transactions are serialized.
func (r *Repository) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	work := r.data.clone()
	r.mu.RUnlock()

	tx := &tx{repo: r, data: work}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.data = work
	r.mu.Unlock()
	return nil
}

func (r *Repository) Close() error { return nil }

type tx struct {
	repo *Repository
	mu   sync.Mutex
	data *dataset
}

func (t *tx) FunnelExists(ctx context.Context, funnelID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.data.funnels[funnelID]
	return ok, nil
}

func (t *tx) LoadTree(ctx context.Context, funnelID string) ([]models.StepTree, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return loadTree(t.data, funnelID)
}

func (t *tx) DeleteStep(ctx context.Context, stepID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.data.steps[stepID]; !ok {
		return fmt.Errorf("step %s: %w", stepID, storage.ErrNotFound)
	}
	delete(t.data.steps, stepID)
	for id, c := range t.data.components {
		if c.stepID == stepID {
			delete(t.data.components, id)
		}
	}
	return nil
}

func (t *tx) ParkSteps(ctx context.Context, funnelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, s := range t.data.steps {
		if s.funnelID == funnelID {
			s.position = -s.position - 1
			t.data.steps[id] = s
		}
	}
	return nil
}

func (t *tx) CreateStep(ctx context.Context, funnelID string, step models.Step) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.data.funnels[funnelID]; !ok {
		return "", fmt.Errorf("funnel %s: %w", funnelID, storage.ErrNotFound)
	}
	row := stepRow{id: t.repo.newID(), funnelID: funnelID, title: step.Title, position: step.Order}
	if err := t.checkStepSlot(row); err != nil {
		return "", err
	}
	t.data.steps[row.id] = row
	return row.id, nil
}

func (t *tx) UpdateStep(ctx context.Context, step models.Step) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.data.steps[step.ID]
	if !ok {
		return fmt.Errorf("step %s: %w", step.ID, storage.ErrNotFound)
	}
	row.title = step.Title
	row.position = step.Order
	if err := t.checkStepSlot(row); err != nil {
		return err
	}
	t.data.steps[row.id] = row
	return nil
}

func (t *tx) checkStepSlot(row stepRow) error {
	for _, s := range t.data.steps {
		if s.id != row.id && s.funnelID == row.funnelID && s.position == row.position {
			return fmt.Errorf("step order %d in funnel %s: %w", row.position, row.funnelID, storage.ErrConflict)
		}
	}
	return nil
}

func (t *tx) DeleteComponent(ctx context.Context, componentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.data.components[componentID]; !ok {
		return fmt.Errorf("component %s: %w", componentID, storage.ErrNotFound)
	}
	delete(t.data.components, componentID)
	return nil
}

func (t *tx) ParkComponents(ctx context.Context, stepID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, c := range t.data.components {
		if c.stepID == stepID {
			c.position = -c.position - 1
			t.data.components[id] = c
		}
	}
	return nil
}

func (t *tx) CreateComponent(ctx context.Context, stepID string, c models.Component) (string, error) {
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return "", fmt.Errorf("encode component data: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.data.steps[stepID]; !ok {
		return "", fmt.Errorf("step %s: %w", stepID, storage.ErrNotFound)
	}
	row := componentRow{id: t.repo.newID(), stepID: stepID, typ: c.Type, position: c.Order, data: raw}
	if err := t.checkComponentSlot(row); err != nil {
		return "", err
	}
	t.data.components[row.id] = row
	return row.id, nil
}

func (t *tx) UpdateComponent(ctx context.Context, stepID string, c models.Component) error {
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("encode component data: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.data.components[c.ID]
	if !ok {
		return fmt.Errorf("component %s: %w", c.ID, storage.ErrNotFound)
	}
	row.stepID = stepID
	row.typ = c.Type
	row.position = c.Order
	row.data = raw
	if err := t.checkComponentSlot(row); err != nil {
		return err
	}
	t.data.components[row.id] = row
	return nil
}

func (t *tx) checkComponentSlot(row componentRow) error {
	for _, c := range t.data.components {
		if c.id != row.id && c.stepID == row.stepID && c.position == row.position {
			return fmt.Errorf("component order %d in step %s: %w", row.position, row.stepID, storage.ErrConflict)
		}
	}
	return nil
}

func (t *tx) TouchFunnel(ctx context.Context, funnelID string, theme json.RawMessage, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.data.funnels[funnelID]
	if !ok {
		return fmt.Errorf("funnel %s: %w", funnelID, storage.ErrNotFound)
	}
	if theme != nil {
		f.theme = append(json.RawMessage(nil), theme...)
	}
	f.updatedAt = at.UTC()
	t.data.funnels[funnelID] = f
	return nil
}

func loadTree(d *dataset, funnelID string) ([]models.StepTree, error) {
	var steps []stepRow
	for _, s := range d.steps {
		if s.funnelID == funnelID {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].position < steps[j].position })

	byStep := map[string][]componentRow{}
	for _, c := range d.components {
		byStep[c.stepID] = append(byStep[c.stepID], c)
	}

	out := make([]models.StepTree, 0, len(steps))
	for _, s := range steps {
		rows := byStep[s.id]
		sort.Slice(rows, func(i, j int) bool { return rows[i].position < rows[j].position })

		tree := models.StepTree{
			Step:       models.Step{ID: s.id, Title: s.title, Order: s.position},
			Components: make([]models.Component, 0, len(rows)),
		}
		for _, c := range rows {
			data, err := models.DecodeData(c.typ, c.data)
			if err != nil {
				return nil, fmt.Errorf("component %s: %w", c.id, err)
			}
			tree.Components = append(tree.Components, models.Component{ID: c.id, Type: c.typ, Order: c.position, Data: data})
		}
		out = append(out, tree)
	}
	return out, nil
}
