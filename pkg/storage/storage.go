// Package storage defines the contract between the reconciliation protocol
// and the persisted funnel tree.
//
// A Repository owns funnels, their steps and components. All writes of one
// save go through a single Tx inside Repository.Update, which commits only
// when the callback returns nil. Steps are unique by (funnel, order) and
// components by (step, order); implementations must reject collisions with
// ErrConflict so that callers cannot rely on lenient ordering.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pluqqy/funnelkit/pkg/models"
)

var (
	// ErrNotFound is returned when a funnel, step or component does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates an ordering or identity constraint.
	ErrConflict = errors.New("constraint violation")
)

// Repository is the persisted funnel store.
type Repository interface {
	CreateFunnel(ctx context.Context, name string, theme json.RawMessage) (*models.Funnel, error)
	ListFunnels(ctx context.Context) ([]models.FunnelSummary, error)
	LoadFunnel(ctx context.Context, funnelID string) (*models.Funnel, error)

	// Update runs fn inside one transaction. Any error from fn, or a context
	// cancelled before commit, discards every write fn made.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the write surface of one transaction. Implementations must allow
// concurrent calls from multiple goroutines.
type Tx interface {
	FunnelExists(ctx context.Context, funnelID string) (bool, error)

	// LoadTree returns the persisted steps of a funnel in order, each with
	// its components in order.
	LoadTree(ctx context.Context, funnelID string) ([]models.StepTree, error)

	// DeleteStep removes a step and all of its components.
	DeleteStep(ctx context.Context, stepID string) error

	// ParkSteps moves every step of a funnel to a negative order so that
	// later writes can claim any non-negative slot.
	ParkSteps(ctx context.Context, funnelID string) error

	// CreateStep inserts a step and returns its persisted id.
	CreateStep(ctx context.Context, funnelID string, step models.Step) (string, error)

	UpdateStep(ctx context.Context, step models.Step) error

	DeleteComponent(ctx context.Context, componentID string) error

	// ParkComponents is ParkSteps for the components of one step.
	ParkComponents(ctx context.Context, stepID string) error

	// CreateComponent inserts a component and returns its persisted id.
	CreateComponent(ctx context.Context, stepID string, c models.Component) (string, error)

	UpdateComponent(ctx context.Context, stepID string, c models.Component) error

	// TouchFunnel records a save. A nil theme keeps the stored one.
	TouchFunnel(ctx context.Context, funnelID string, theme json.RawMessage, at time.Time) error
}
