package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pluqqy/funnelkit/internal/logging"
	"github.com/pluqqy/funnelkit/pkg/api"
	"github.com/pluqqy/funnelkit/pkg/files"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/reconcile"
	"github.com/pluqqy/funnelkit/pkg/session"
	"github.com/pluqqy/funnelkit/pkg/storage"
	"github.com/pluqqy/funnelkit/pkg/storage/sqlitestore"
)

// CommandContext manages project validation and common command context
type CommandContext struct {
	ProjectPath string
	Settings    *models.Settings
	validated   bool
}

// NewCommandContext creates a new command context
func NewCommandContext() (*CommandContext, error) {
	return &CommandContext{
		ProjectPath: files.FunnelkitDir,
	}, nil
}

// ValidateProject ensures the project is initialized. Commands running
// against a remote server do not need a local project.
func (c *CommandContext) ValidateProject() error {
	if c.validated || c.remote() != "" {
		return nil
	}

	if _, err := os.Stat(c.ProjectPath); os.IsNotExist(err) {
		return fmt.Errorf("no %s directory found. Run 'funnelkit init' first", files.FunnelkitDir)
	}

	c.validated = true
	return nil
}

// LoadSettings reads settings.yaml once per command.
func (c *CommandContext) LoadSettings() (*models.Settings, error) {
	if c.Settings != nil {
		return c.Settings, nil
	}
	settings, err := files.ReadSettings()
	if err != nil {
		return nil, err
	}
	c.Settings = settings
	return settings, nil
}

func (c *CommandContext) remote() string {
	if remoteURL != "" {
		return remoteURL
	}
	if c.Settings != nil {
		return c.Settings.Server.Remote
	}
	return ""
}

// Catalog lists and creates funnels. Both the local repository and the API
// client provide it.
type Catalog interface {
	ListFunnels(ctx context.Context) ([]models.FunnelSummary, error)
	CreateFunnel(ctx context.Context, name string, theme json.RawMessage) (*models.Funnel, error)
}

// Workspace is what a command works against: a catalog of funnels and a
// backend to load and save them.
type Workspace struct {
	Catalog Catalog
	Backend session.Backend
	Logger  *slog.Logger
	Remote  string

	repo storage.Repository
}

// Close releases the local database, if one was opened.
func (w *Workspace) Close() error {
	if w.repo == nil {
		return nil
	}
	return w.repo.Close()
}

// Repository is the local repository, or nil for a remote workspace.
func (w *Workspace) Repository() storage.Repository { return w.repo }

// OpenWorkspace connects to the remote server when one is configured and
// otherwise opens the project database.
func (c *CommandContext) OpenWorkspace(logger *slog.Logger) (*Workspace, error) {
	settings, err := c.LoadSettings()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	if remote := c.remote(); remote != "" {
		client, err := api.NewClient(remote, nil)
		if err != nil {
			return nil, err
		}
		return &Workspace{Catalog: client, Backend: client, Logger: logger, Remote: remote}, nil
	}

	repo, err := sqlitestore.Open(settings.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open funnel database: %w", err)
	}
	return &Workspace{
		Catalog: repo,
		Backend: NewReconciler(repo, settings, logger),
		Logger:  logger,
		repo:    repo,
	}, nil
}

// NewReconciler builds a reconciler configured from settings.
func NewReconciler(repo storage.Repository, settings *models.Settings, logger *slog.Logger) *reconcile.Reconciler {
	return reconcile.New(repo,
		reconcile.WithTimeout(settings.Save.Timeout),
		reconcile.WithParallelism(settings.Save.Parallelism),
		reconcile.WithLogger(logger),
	)
}

// ResolveFunnel finds a funnel by full id, unique id prefix, or exact name.
func ResolveFunnel(ctx context.Context, catalog Catalog, ref string) (models.FunnelSummary, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.FunnelSummary{}, fmt.Errorf("funnel reference cannot be empty")
	}
	list, err := catalog.ListFunnels(ctx)
	if err != nil {
		return models.FunnelSummary{}, fmt.Errorf("list funnels: %w", err)
	}

	var byPrefix, byName []models.FunnelSummary
	for _, f := range list {
		switch {
		case f.ID == ref:
			return f, nil
		case strings.HasPrefix(f.ID, ref):
			byPrefix = append(byPrefix, f)
		}
		if f.Name == ref {
			byName = append(byName, f)
		}
	}

	for _, matches := range [][]models.FunnelSummary{byPrefix, byName} {
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			return models.FunnelSummary{}, fmt.Errorf("'%s' matches %d funnels; use a longer id", ref, len(matches))
		}
	}
	return models.FunnelSummary{}, fmt.Errorf("funnel '%s' not found. Run 'funnelkit list' to see available funnels", ref)
}
