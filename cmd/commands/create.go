package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
)

// NewCreateCommand creates the create command
func NewCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new funnel",
		Long: `Create a new, empty funnel.

A funnel opened with 'funnelkit edit' shortly after it was created starts
with two steps.

Examples:
  # Create a funnel
  funnelkit create "Lead magnet"

  # Create and print only the id
  funnelkit create "Webinar signup" -q`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateProject(cmd, args); err != nil {
				return err
			}
			return cli.ValidateFunnelName(args[0])
		},
		RunE: runCreate,
	}

	return cmd
}

func runCreate(cmd *cobra.Command, args []string) error {
	ws, _, done, err := openWorkspace()
	if err != nil {
		return err
	}
	defer done()

	f, err := ws.Catalog.CreateFunnel(cmd.Context(), args[0], nil)
	if err != nil {
		return fmt.Errorf("failed to create funnel: %w", err)
	}

	if cli.Quiet() {
		fmt.Fprintln(cmd.OutOrStdout(), f.ID)
		return nil
	}
	cli.PrintSuccess("Created funnel '%s' (%s)", f.Name, f.ID)
	cli.PrintInfo("Run 'funnelkit edit %s' to start building", cli.ShortID(f.ID))
	return nil
}
