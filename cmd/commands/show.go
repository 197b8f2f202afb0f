package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/composer"
	"github.com/pluqqy/funnelkit/pkg/models"
)

var (
	showOutputFile string
	showType       string
)

// NewShowCommand creates the show command
func NewShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <funnel>",
		Short: "Show a funnel's composed preview",
		Long: `Render a funnel as a Markdown outline of its steps and components.

The funnel can be given by id, id prefix, or exact name. Lines are wrapped
to ui.wrap_width.

Examples:
  # Show a funnel
  funnelkit show "Lead magnet"

  # Only show the pricing cards
  funnelkit show "Lead magnet" --type pricing

  # Write the preview to a file instead
  funnelkit show 0193a1b2 --output-file FUNNEL.md`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateProject(cmd, args); err != nil {
				return err
			}
			if showType != "" {
				if _, err := cli.ParseComponentType(showType); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: runShow,
	}

	cmd.Flags().StringVar(&showOutputFile, "output-file", "", "Write the preview to a file (e.g. FUNNEL.md)")
	cmd.Flags().StringVarP(&showType, "type", "t", "", "Only show components of this type (e.g. pricing, social-share)")

	return cmd
}

func runShow(cmd *cobra.Command, args []string) error {
	ws, settings, done, err := openWorkspace()
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
	if showType != "" {
		ct, err := cli.ParseComponentType(showType)
		if err != nil {
			return err
		}
		keepComponents(f, ct)
	}

	preview, err := composer.ComposeFunnelWithSettings(f, settings)
	if err != nil {
		return err
	}

	if showOutputFile == "" {
		fmt.Fprint(cmd.OutOrStdout(), preview)
		return nil
	}
	if err := composer.WritePreviewFile(preview, showOutputFile); err != nil {
		return err
	}
	cli.PrintSuccess("Wrote preview of '%s' to %s", f.Name, showOutputFile)
	return nil
}

// keepComponents drops every component of f whose type is not ct. Steps are
// kept so the outline still shows where each component sits.
func keepComponents(f *models.Funnel, ct models.ComponentType) {
	for i := range f.Steps {
		kept := f.Steps[i].Components[:0]
		for _, c := range f.Steps[i].Components {
			if c.Type == ct {
				kept = append(kept, c)
			}
		}
		f.Steps[i].Components = kept
	}
}
