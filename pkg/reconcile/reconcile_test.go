package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/storage"
	"github.com/pluqqy/funnelkit/pkg/storage/memstore"
	"github.com/pluqqy/funnelkit/pkg/storage/sqlitestore"
	"github.com/pluqqy/funnelkit/pkg/storage/storagetest"
)

func forEachRepo(t *testing.T, fn func(t *testing.T, repo storage.Repository)) {
	t.Run("memstore", func(t *testing.T) { fn(t, memstore.New()) })
	t.Run("sqlite", func(t *testing.T) {
		repo, err := sqlitestore.Open(filepath.Join(t.TempDir(), "funnels.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		fn(t, repo)
	})
}

func seedFunnel(t *testing.T, repo storage.Repository, tree []models.StepTree) (string, []models.StepTree) {
	t.Helper()
	f, err := repo.CreateFunnel(context.Background(), "Quiz", nil)
	require.NoError(t, err)
	return f.ID, storagetest.Seed(t, repo, f.ID, tree)
}

func options(targets ...string) models.Component {
	d := &models.OptionsData{Question: "Pick one"}
	for i, target := range targets {
		d.Options = append(d.Options, models.Option{ID: string(rune('a' + i)), Label: "Option", TargetStepID: target})
	}
	return models.Component{Type: models.ComponentTypeOptions, Data: d}
}

func text(id, content string) models.Component {
	return models.Component{ID: id, Type: models.ComponentTypeText, Data: &models.TextData{Content: content}}
}

func load(t *testing.T, repo storage.Repository, funnelID string) *models.Funnel {
	t.Helper()
	f, err := repo.LoadFunnel(context.Background(), funnelID)
	require.NoError(t, err)
	return f
}

func TestSaveRemapsNewIDsAndRewritesReferences(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		funnelID, tree := seedFunnel(t, repo, []models.StepTree{
			{Step: models.Step{Title: "Intro"}, Components: []models.Component{options("")}},
		})
		p1, c1 := tree[0].ID, tree[0].Components[0]
		c1.Data.(*models.OptionsData).Options[0].TargetStepID = "tmp-2"

		req := models.SaveRequest{
			FunnelID: funnelID,
			Steps:    []models.Step{{ID: p1, Title: "Intro"}, {ID: "tmp-2", Title: "Pricing"}},
			ComponentsByStep: map[string][]models.Component{
				p1:      {c1},
				"tmp-2": {text("tmp-c", "Plans")},
			},
		}
		remap, err := New(repo).Save(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, p1, remap.Steps[p1])
		newStep := remap.Steps["tmp-2"]
		require.NotEmpty(t, newStep)
		assert.NotEqual(t, "tmp-2", newStep)
		assert.Equal(t, c1.ID, remap.Components[c1.ID])
		require.NotEmpty(t, remap.Components["tmp-c"])

		f := load(t, repo, funnelID)
		require.Len(t, f.Steps, 2)
		assert.Equal(t, newStep, f.Steps[1].ID)
		assert.Equal(t, "Pricing", f.Steps[1].Title)
		assert.Equal(t, newStep, f.Steps[0].Components[0].Data.(*models.OptionsData).Options[0].TargetStepID)
		assert.Equal(t, remap.Components["tmp-c"], f.Steps[1].Components[0].ID)
	})
}

func TestSaveClearsDanglingReferences(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		funnelID, tree := seedFunnel(t, repo, []models.StepTree{
			{Step: models.Step{Title: "A"}},
			{Step: models.Step{Title: "B"}},
		})
		a, b := tree[0].ID, tree[1].ID

		pricing := models.Component{ID: "tmp-p", Type: models.ComponentTypePricing, Data: &models.PricingData{Title: "Pro", TargetStepID: b}}
		opts := options("tmp-gone", a)
		opts.ID = "tmp-o"

		req := models.SaveRequest{
			FunnelID:         funnelID,
			Steps:            []models.Step{{ID: a, Title: "A"}},
			ComponentsByStep: map[string][]models.Component{a: {pricing, opts}},
		}
		_, err := New(repo).Save(context.Background(), req)
		require.NoError(t, err)

		f := load(t, repo, funnelID)
		require.Len(t, f.Steps, 1)
		comps := f.Steps[0].Components
		require.Len(t, comps, 2)
		assert.Empty(t, comps[0].Data.(*models.PricingData).TargetStepID)
		got := comps[1].Data.(*models.OptionsData).Options
		assert.Empty(t, got[0].TargetStepID)
		assert.Equal(t, a, got[1].TargetStepID)
	})
}

func TestSaveDeletesAndReordersWithoutConflicts(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		funnelID, tree := seedFunnel(t, repo, []models.StepTree{
			{Step: models.Step{Title: "A"}, Components: []models.Component{text("", "a1"), text("", "a2")}},
			{Step: models.Step{Title: "B"}, Components: []models.Component{text("", "b1")}},
			{Step: models.Step{Title: "C"}},
		})
		a, b, c := tree[0], tree[1], tree[2]
		moved := a.Components[0]

		req := models.SaveRequest{
			FunnelID: funnelID,
			Steps: []models.Step{
				{ID: "tmp-new", Title: "New"},
				{ID: c.ID, Title: "C"},
				{ID: a.ID, Title: "A"},
			},
			ComponentsByStep: map[string][]models.Component{
				"tmp-new": {text("tmp-x", "x")},
				c.ID:      {moved},
				a.ID:      {a.Components[1]},
			},
		}
		remap, err := New(repo).Save(context.Background(), req)
		require.NoError(t, err)

		f := load(t, repo, funnelID)
		titles := []string{}
		for _, st := range f.Steps {
			titles = append(titles, st.Title)
		}
		assert.Equal(t, []string{"New", "C", "A"}, titles)
		for i, st := range f.Steps {
			assert.Equal(t, i, st.Order)
		}
		_, stillThere := remap.Steps[b.ID]
		assert.False(t, stillThere)

		// A component moved to another step is recreated there.
		require.Len(t, f.Steps[1].Components, 1)
		assert.Equal(t, "a1", f.Steps[1].Components[0].Data.(*models.TextData).Content)
		assert.Equal(t, remap.Components[moved.ID], f.Steps[1].Components[0].ID)
		require.Len(t, f.Steps[2].Components, 1)
		assert.Equal(t, a.Components[1].ID, f.Steps[2].Components[0].ID)
		assert.Equal(t, 0, f.Steps[2].Components[0].Order)
	})
}

func TestSaveRecordsIdentityMappings(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		funnelID, tree := seedFunnel(t, repo, []models.StepTree{
			{Step: models.Step{Title: "A"}, Components: []models.Component{text("", "x")}},
		})
		req := models.SaveRequest{
			FunnelID:         funnelID,
			Steps:            []models.Step{tree[0].Step},
			ComponentsByStep: map[string][]models.Component{tree[0].ID: tree[0].Components},
			ThemeConfig:      []byte(`{"accent":"teal"}`),
		}
		remap, err := New(repo).Save(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{tree[0].ID: tree[0].ID}, remap.Steps)
		assert.Equal(t, map[string]string{tree[0].Components[0].ID: tree[0].Components[0].ID}, remap.Components)
		assert.JSONEq(t, `{"accent":"teal"}`, string(load(t, repo, funnelID).Theme))
	})
}

func TestSaveUnknownFunnel(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		_, err := New(repo).Save(context.Background(), models.SaveRequest{
			FunnelID: "missing",
			Steps:    []models.Step{{ID: "tmp-1", Title: "A"}},
		})
		require.ErrorIs(t, err, ErrFunnelNotFound)
		assert.False(t, IsRetryable(err))

		var se *SaveError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "missing", se.FunnelID)
	})
}

func TestSaveRejectsMalformedRequests(t *testing.T) {
	r := New(memstore.New())
	cases := map[string]models.SaveRequest{
		"no funnel": {Steps: []models.Step{{ID: "a"}}},
		"duplicate step": {
			FunnelID: "f",
			Steps:    []models.Step{{ID: "a"}, {ID: "a"}},
		},
		"duplicate component": {
			FunnelID:         "f",
			Steps:            []models.Step{{ID: "a"}, {ID: "b"}},
			ComponentsByStep: map[string][]models.Component{"a": {text("c", "")}, "b": {text("c", "")}},
		},
		"mismatched data": {
			FunnelID: "f",
			Steps:    []models.Step{{ID: "a"}},
			ComponentsByStep: map[string][]models.Component{"a": {
				{ID: "c", Type: models.ComponentTypePoll, Data: &models.TextData{}},
			}},
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Save(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.False(t, IsRetryable(err))
		})
	}
}

// faultRepo fails one transaction operation on demand.
type faultRepo struct {
	storage.Repository
	failOn string
	block  bool
}

var errInjected = errors.New("injected failure")

func (r *faultRepo) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.Repository.Update(ctx, func(tx storage.Tx) error {
		return fn(&faultTx{Tx: tx, repo: r})
	})
}

type faultTx struct {
	storage.Tx
	repo *faultRepo
}

func (t *faultTx) fail(ctx context.Context, op string) error {
	if t.repo.failOn != op {
		return nil
	}
	if t.repo.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return errInjected
}

func (t *faultTx) CreateStep(ctx context.Context, funnelID string, step models.Step) (string, error) {
	if err := t.fail(ctx, "CreateStep"); err != nil {
		return "", err
	}
	return t.Tx.CreateStep(ctx, funnelID, step)
}

func (t *faultTx) CreateComponent(ctx context.Context, stepID string, c models.Component) (string, error) {
	if err := t.fail(ctx, "CreateComponent"); err != nil {
		return "", err
	}
	return t.Tx.CreateComponent(ctx, stepID, c)
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		funnelID, tree := seedFunnel(t, repo, []models.StepTree{
			{Step: models.Step{Title: "A"}, Components: []models.Component{text("", "keep")}},
			{Step: models.Step{Title: "B"}},
		})
		faulty := &faultRepo{Repository: repo, failOn: "CreateComponent"}

		req := models.SaveRequest{
			FunnelID: funnelID,
			Steps:    []models.Step{{ID: "tmp-1", Title: "Fresh"}, {ID: tree[0].ID, Title: "A renamed"}},
			ComponentsByStep: map[string][]models.Component{
				"tmp-1": {text("tmp-c", "new")},
			},
		}
		_, err := New(faulty).Save(context.Background(), req)
		require.ErrorIs(t, err, errInjected)
		assert.True(t, IsRetryable(err))

		var se *SaveError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "upsert components", se.Op)

		f := load(t, repo, funnelID)
		require.Len(t, f.Steps, 2)
		assert.Equal(t, "A", f.Steps[0].Title)
		assert.Equal(t, "B", f.Steps[1].Title)
		require.Len(t, f.Steps[0].Components, 1)
	})
}

func TestSaveTimeoutIsRetryable(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo storage.Repository) {
		funnelID, _ := seedFunnel(t, repo, nil)
		slow := &faultRepo{Repository: repo, failOn: "CreateStep", block: true}

		_, err := New(slow, WithTimeout(20*time.Millisecond)).Save(context.Background(), models.SaveRequest{
			FunnelID: funnelID,
			Steps:    []models.Step{{ID: "tmp-1", Title: "A"}},
		})
		require.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "timeout hides the storage error")
		assert.True(t, IsRetryable(err))
		assert.Empty(t, load(t, repo, funnelID).Steps)
	})
}

func TestLoadUnknownFunnel(t *testing.T) {
	_, err := New(memstore.New()).Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrFunnelNotFound)
}
