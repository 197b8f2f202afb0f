package commands

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/builder"
	"github.com/pluqqy/funnelkit/pkg/session"
	"github.com/pluqqy/funnelkit/pkg/tui"
)

// NewEditCommand creates the edit command
func NewEditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <funnel>",
		Short: "Open a funnel in the builder",
		Long: `Open the interactive funnel builder.

Steps are listed on the left, the components of the current step in the
middle, and a live preview on the right. Edits are saved in the background
when save.autosave is on, or with 's'. Quitting waits for a running save.

Examples:
  # Edit a funnel by name
  funnelkit edit "Lead magnet"

  # Edit without colors
  funnelkit edit "Lead magnet" --no-color

  # Edit a funnel on a remote server
  funnelkit edit 0193a1b2 --remote http://localhost:8088`,
		Args:    cobra.ExactArgs(1),
		PreRunE: validateProject,
		RunE:    runEdit,
	}

	return cmd
}

func runEdit(cmd *cobra.Command, args []string) error {
	ws, settings, done, err := openWorkspace()
	if err != nil {
		return err
	}
	defer done()

	summary, err := cli.ResolveFunnel(cmd.Context(), ws.Catalog, args[0])
	if err != nil {
		return err
	}

	sess, err := session.Open(cmd.Context(), ws.Backend, summary.ID,
		session.WithSeedWindow(settings.Editor.SeedWindow),
		session.WithLogger(ws.Logger),
		session.WithStoreOptions(builder.WithHistoryDepth(settings.Editor.HistoryDepth)),
	)
	if err != nil {
		return err
	}

	applyColorMode()
	p := tea.NewProgram(tui.NewBuilderModel(sess, settings), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to start the terminal user interface: %w", err)
	}

	if sess.Dirty() {
		cli.PrintWarning("Some edits to '%s' were not saved", sess.Name())
		if err := sess.LastError(); err != nil {
			cli.PrintWarning("Last save error: %v", err)
		}
		return nil
	}
	cli.PrintSuccess("Saved '%s'", sess.Name())
	return nil
}
