package commands

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/composer"
)

var copyPreview bool

// writeClipboard is replaced in tests.
var writeClipboard = func(text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard is not available on this system")
	}
	return clipboard.WriteAll(text)
}

// NewCopyIDCommand creates the copy-id command
func NewCopyIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy-id <funnel>",
		Short: "Copy a funnel's id to the clipboard",
		Long: `Copy the full id of a funnel to the system clipboard, ready to paste
into an API call or another command.

Examples:
  # Copy the id of a funnel found by name
  funnelkit copy-id "Lead magnet"

  # Copy the composed preview instead
  funnelkit copy-id "Lead magnet" --preview`,
		Args:    cobra.ExactArgs(1),
		Aliases: []string{"clip", "copy"},
		PreRunE: validateProject,
		RunE:    runCopyID,
	}

	cmd.Flags().BoolVar(&copyPreview, "preview", false, "Copy the composed preview instead of the id")

	return cmd
}

func runCopyID(cmd *cobra.Command, args []string) error {
	ws, settings, done, err := openWorkspace()
	if err != nil {
		return err
	}
	defer done()

	summary, err := cli.ResolveFunnel(cmd.Context(), ws.Catalog, args[0])
	if err != nil {
		return err
	}

	content, what := summary.ID, "id"
	if copyPreview {
		f, err := ws.Backend.Load(cmd.Context(), summary.ID)
		if err != nil {
			return fmt.Errorf("failed to load funnel: %w", err)
		}
		if content, err = composer.ComposeFunnelWithSettings(f, settings); err != nil {
			return err
		}
		what = "preview"
	}

	if err := writeClipboard(content); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}

	cli.PrintSuccess("Copied %s of '%s' to clipboard", what, summary.Name)
	return nil
}
