// Package storagetest holds behaviour tests shared by every
// storage.Repository implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/storage"
)

// Factory returns a fresh, empty repository.
type Factory func(t *testing.T) storage.Repository

// Run exercises the repository contract.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, newRepo(t)) })
	t.Run("TreeWrites", func(t *testing.T) { testTreeWrites(t, newRepo(t)) })
	t.Run("OrderConflict", func(t *testing.T) { testOrderConflict(t, newRepo(t)) })
	t.Run("ParkFreesSlots", func(t *testing.T) { testParkFreesSlots(t, newRepo(t)) })
	t.Run("DeleteStepCascades", func(t *testing.T) { testDeleteStepCascades(t, newRepo(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newRepo(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newRepo(t)) })
}

// Seed writes steps (with their components) into a funnel in one transaction
// and returns the persisted tree.
func Seed(t *testing.T, repo storage.Repository, funnelID string, tree []models.StepTree) []models.StepTree {
	t.Helper()
	ctx := context.Background()
	err := repo.Update(ctx, func(tx storage.Tx) error {
		for i, st := range tree {
			st.Order = i
			stepID, err := tx.CreateStep(ctx, funnelID, st.Step)
			if err != nil {
				return err
			}
			for j, c := range st.Components {
				c.Order = j
				if _, err := tx.CreateComponent(ctx, stepID, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)

	f, err := repo.LoadFunnel(ctx, funnelID)
	require.NoError(t, err)
	return f.Steps
}

func text(s string) models.Component {
	return models.Component{Type: models.ComponentTypeText, Data: &models.TextData{Content: s}}
}

func testCreateAndLoad(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	theme := json.RawMessage(`{"primary":"#ff0066"}`)

	f, err := repo.CreateFunnel(ctx, "Lead quiz", theme)
	require.NoError(t, err)
	require.NotEmpty(t, f.ID)

	loaded, err := repo.LoadFunnel(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lead quiz", loaded.Name)
	assert.JSONEq(t, string(theme), string(loaded.Theme))
	assert.Empty(t, loaded.Steps)
	assert.WithinDuration(t, f.CreatedAt, loaded.CreatedAt, time.Millisecond)

	_, err = repo.CreateFunnel(ctx, "Second", nil)
	require.NoError(t, err)
	list, err := repo.ListFunnels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func testTreeWrites(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	f, err := repo.CreateFunnel(ctx, "Tree", nil)
	require.NoError(t, err)

	tree := Seed(t, repo, f.ID, []models.StepTree{
		{Step: models.Step{Title: "Intro"}, Components: []models.Component{text("a"), text("b")}},
		{Step: models.Step{Title: "Outro"}},
	})
	require.Len(t, tree, 2)
	assert.Equal(t, "Intro", tree[0].Title)
	assert.Equal(t, 0, tree[0].Order)
	assert.Equal(t, 1, tree[1].Order)
	require.Len(t, tree[0].Components, 2)
	assert.Equal(t, "a", tree[0].Components[0].Data.(*models.TextData).Content)
	assert.Equal(t, 1, tree[0].Components[1].Order)
	assert.NotNil(t, tree[1].Components)

	list, err := repo.ListFunnels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Steps)

	at := time.Now().Add(time.Hour).UTC()
	err = repo.Update(ctx, func(tx storage.Tx) error {
		updated := tree[0].Components[0]
		updated.Data = &models.TextData{Content: "changed"}
		if err := tx.UpdateComponent(ctx, tree[0].ID, updated); err != nil {
			return err
		}
		if err := tx.UpdateStep(ctx, models.Step{ID: tree[1].ID, Title: "Thanks", Order: 1}); err != nil {
			return err
		}
		return tx.TouchFunnel(ctx, f.ID, json.RawMessage(`{"dark":true}`), at)
	})
	require.NoError(t, err)

	loaded, err := repo.LoadFunnel(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", loaded.Steps[0].Components[0].Data.(*models.TextData).Content)
	assert.Equal(t, "Thanks", loaded.Steps[1].Title)
	assert.JSONEq(t, `{"dark":true}`, string(loaded.Theme))
	assert.WithinDuration(t, at, loaded.UpdatedAt, time.Millisecond)
}

func testOrderConflict(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	f, err := repo.CreateFunnel(ctx, "Conflict", nil)
	require.NoError(t, err)
	Seed(t, repo, f.ID, []models.StepTree{{Step: models.Step{Title: "One"}}})

	err = repo.Update(ctx, func(tx storage.Tx) error {
		_, err := tx.CreateStep(ctx, f.ID, models.Step{Title: "Clash", Order: 0})
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict), "expected ErrConflict, got %v", err)
}

func testParkFreesSlots(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	f, err := repo.CreateFunnel(ctx, "Park", nil)
	require.NoError(t, err)
	tree := Seed(t, repo, f.ID, []models.StepTree{
		{Step: models.Step{Title: "A"}, Components: []models.Component{text("x"), text("y")}},
		{Step: models.Step{Title: "B"}},
	})

	err = repo.Update(ctx, func(tx storage.Tx) error {
		if err := tx.ParkSteps(ctx, f.ID); err != nil {
			return err
		}
		if err := tx.UpdateStep(ctx, models.Step{ID: tree[1].ID, Title: "B", Order: 0}); err != nil {
			return err
		}
		if err := tx.UpdateStep(ctx, models.Step{ID: tree[0].ID, Title: "A", Order: 1}); err != nil {
			return err
		}
		if err := tx.ParkComponents(ctx, tree[0].ID); err != nil {
			return err
		}
		x, y := tree[0].Components[0], tree[0].Components[1]
		x.Order, y.Order = 1, 0
		if err := tx.UpdateComponent(ctx, tree[0].ID, y); err != nil {
			return err
		}
		return tx.UpdateComponent(ctx, tree[0].ID, x)
	})
	require.NoError(t, err)

	loaded, err := repo.LoadFunnel(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", loaded.Steps[0].Title)
	assert.Equal(t, "A", loaded.Steps[1].Title)
	assert.Equal(t, "y", loaded.Steps[1].Components[0].Data.(*models.TextData).Content)
}

func testDeleteStepCascades(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	f, err := repo.CreateFunnel(ctx, "Cascade", nil)
	require.NoError(t, err)
	tree := Seed(t, repo, f.ID, []models.StepTree{
		{Step: models.Step{Title: "A"}, Components: []models.Component{text("x")}},
		{Step: models.Step{Title: "B"}},
	})

	err = repo.Update(ctx, func(tx storage.Tx) error {
		return tx.DeleteStep(ctx, tree[0].ID)
	})
	require.NoError(t, err)

	err = repo.Update(ctx, func(tx storage.Tx) error {
		err := tx.DeleteComponent(ctx, tree[0].Components[0].ID)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "component survived its step: %v", err)

		loaded, err := tx.LoadTree(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "B", loaded[0].Title)
		return nil
	})
	require.NoError(t, err)
}

func testRollbackOnError(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	f, err := repo.CreateFunnel(ctx, "Rollback", nil)
	require.NoError(t, err)
	Seed(t, repo, f.ID, []models.StepTree{{Step: models.Step{Title: "Keep"}}})

	boom := errors.New("boom")
	err = repo.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.CreateStep(ctx, f.ID, models.Step{Title: "Lost", Order: 1}); err != nil {
			return err
		}
		if err := tx.TouchFunnel(ctx, f.ID, json.RawMessage(`{"lost":true}`), time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := repo.LoadFunnel(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "Keep", loaded.Steps[0].Title)
	assert.Empty(t, loaded.Theme)
}

func testNotFound(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	_, err := repo.LoadFunnel(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)

	err = repo.Update(ctx, func(tx storage.Tx) error {
		ok, err := tx.FunnelExists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.UpdateStep(ctx, models.Step{ID: "missing", Title: "x"})
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}
