package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/files"
)

// NewExportCommand creates the export command
func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <funnel> [file]",
		Short: "Export a funnel to YAML",
		Long: `Write a funnel's steps and components to a YAML document that
'funnelkit import' can read back.

Without a file argument the document goes to .funnelkit/exports/<name>.yaml.
Use "-" to write to stdout.

Examples:
  # Export to the default location
  funnelkit export "Lead magnet"

  # Export to a chosen file
  funnelkit export 0193a1b2 lead-magnet.yaml

  # Print the document
  funnelkit export "Lead magnet" -`,
		Args:    cobra.RangeArgs(1, 2),
		PreRunE: validateProject,
		RunE:    runExport,
	}

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	ws, _, done, err := openWorkspace()
	if err != nil {
		return err
	}
	defer done()

	summary, err := cli.ResolveFunnel(cmd.Context(), ws.Catalog, args[0])
	if err != nil {
		return err
	}
	f, err := ws.Backend.Load(cmd.Context(), summary.ID)
	if err != nil {
		return fmt.Errorf("failed to load funnel: %w", err)
	}
	doc := files.NewFunnelDocument(f)

	path := filepath.Join(files.FunnelkitDir, files.ExportsDir, files.ExportFileName(f.Name))
	if len(args) == 2 {
		path = args[1]
	}

	if path == "-" {
		content, err := files.MarshalFunnelDocument(doc)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(content)
		return err
	}

	if err := files.WriteFunnelDocument(path, doc); err != nil {
		return err
	}
	cli.PrintSuccess("Exported '%s' (%d steps) to %s", f.Name, len(f.Steps), path)
	return nil
}
