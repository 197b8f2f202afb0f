package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/models"
)

// ListResult represents the output structure for list command
type ListResult struct {
	Funnels []models.FunnelSummary `json:"funnels" yaml:"funnels"`
	Count   int                    `json:"count" yaml:"count"`
}

var listOutput string

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List funnels",
		Long: `List every funnel with its step count and last update.

Examples:
  # List funnels
  funnelkit list

  # List funnels as JSON
  funnelkit list -o json`,
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateProject(cmd, args); err != nil {
				return err
			}
			return cli.ValidateOutputFormat(listOutput)
		},
		RunE: runList,
	}

	cmd.Flags().StringVarP(&listOutput, "output", "o", "text", "Output format (text, json, yaml)")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	ws, _, done, err := openWorkspace()
	if err != nil {
		return err
	}
	defer done()

	funnels, err := ws.Catalog.ListFunnels(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list funnels: %w", err)
	}

	result := ListResult{Funnels: funnels, Count: len(funnels)}
	if listOutput != string(cli.FormatText) {
		return cli.OutputResults(cmd.OutOrStdout(), listOutput, result)
	}
	return outputListText(cmd, result)
}

func outputListText(cmd *cobra.Command, result ListResult) error {
	out := cmd.OutOrStdout()
	if result.Count == 0 {
		fmt.Fprintln(out, "No funnels yet. Run 'funnelkit create <name>' to make one.")
		return nil
	}

	now := time.Now()
	table := cli.NewTableFormatter(out)
	table.Header("ID", "NAME", "STEPS", "UPDATED")
	for _, f := range result.Funnels {
		table.Row(cli.ShortID(f.ID), cli.TruncateString(f.Name, 40), strconv.Itoa(f.Steps), cli.FormatAge(f.UpdatedAt, now))
	}
	table.Flush()

	if !cli.Quiet() {
		fmt.Fprintf(out, "\n%d funnel(s)\n", result.Count)
	}
	return nil
}
