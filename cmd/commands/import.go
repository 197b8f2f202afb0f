package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/files"
	"github.com/pluqqy/funnelkit/pkg/idgen"
)

var importName string

// NewImportCommand creates the import command
func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a funnel from an exported YAML document",
		Long: `Create a new funnel from a document written by 'funnelkit export'.

Every step and component gets a fresh id. Component links to other steps
in the document are kept; links to steps outside it are dropped. Importing
under a name that is already taken asks first; --yes skips the question.

Examples:
  # Import a funnel
  funnelkit import lead-magnet.yaml

  # Import under another name
  funnelkit import lead-magnet.yaml --name "Lead magnet v2"`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateProject(cmd, args); err != nil {
				return err
			}
			if importName != "" {
				if err := cli.ValidateFunnelName(importName); err != nil {
					return err
				}
			}
			return cli.ValidateFilePath(args[0])
		},
		RunE: runImport,
	}

	cmd.Flags().StringVar(&importName, "name", "", "Name for the new funnel (default: the document's name)")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	doc, err := files.ReadFunnelDocument(args[0])
	if err != nil {
		return err
	}
	name := doc.Name
	if importName != "" {
		name = importName
	}

	ws, _, done, err := openWorkspace()
	if err != nil {
		return err
	}
	defer done()

	existing, err := ws.Catalog.ListFunnels(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list funnels: %w", err)
	}
	for _, other := range existing {
		if other.Name != name {
			continue
		}
		ok, err := cli.Confirm(fmt.Sprintf("A funnel named '%s' already exists (%s). Import anyway?", name, other.ID), false)
		if err != nil {
			return err
		}
		if !ok {
			cli.PrintInfo("Import cancelled")
			return nil
		}
		break
	}

	f, err := ws.Catalog.CreateFunnel(cmd.Context(), name, doc.ThemeConfig())
	if err != nil {
		return fmt.Errorf("failed to create funnel: %w", err)
	}

	remap, err := ws.Backend.Save(cmd.Context(), doc.SaveRequest(f.ID, idgen.Temp()))
	if err != nil {
		return fmt.Errorf("funnel '%s' was created as %s but its steps were not saved: %w", name, f.ID, err)
	}

	if cli.Quiet() {
		fmt.Fprintln(cmd.OutOrStdout(), f.ID)
		return nil
	}
	cli.PrintSuccess("Imported '%s' as %s (%d steps, %d components)", name, f.ID, len(remap.Steps), len(remap.Components))
	return nil
}
