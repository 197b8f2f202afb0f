package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/internal/logging"
	"github.com/pluqqy/funnelkit/pkg/api"
	"github.com/pluqqy/funnelkit/pkg/storage/sqlitestore"
)

var serveAddr string

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the funnel API over HTTP",
		Long: `Serve load and save of funnel trees over HTTP, backed by the project
database. Other machines can then edit with --remote http://host:port.

Requests are logged to stderr. Stop the server with Ctrl+C.

Examples:
  # Serve on the configured address (server.addr)
  funnelkit serve

  # Serve on another port
  funnelkit serve --addr :9000`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := cli.NewCommandContext()
			if err != nil {
				return err
			}
			cli.SetRemote("")
			return ctx.ValidateProject()
		},
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, err := cli.NewCommandContext()
	if err != nil {
		return err
	}
	settings, err := ctx.LoadSettings()
	if err != nil {
		return err
	}
	if settings.Server.Remote != "" {
		return fmt.Errorf("server.remote is set to %s; serve runs against the local database", settings.Server.Remote)
	}

	logger, err := logging.New(settings.Log)
	if err != nil {
		return err
	}

	repo, err := sqlitestore.Open(settings.Storage.Path)
	if err != nil {
		return fmt.Errorf("open funnel database: %w", err)
	}
	defer repo.Close()

	addr := settings.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(repo, cli.NewReconciler(repo, settings, logger), logger)
	cli.PrintInfo("Serving funnels from %s on %s", settings.Storage.Path, addr)
	return server.ListenAndServe(sigCtx, addr)
}
