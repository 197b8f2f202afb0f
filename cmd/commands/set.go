package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/files"
)

// NewSetCommand creates the set command
func NewSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting in settings.yaml",
		Long: `Change one setting in .funnelkit/settings.yaml.

Keys use the dotted form of the YAML file, for example save.timeout or
ui.wrap_width. The new value is checked before the file is written.

Keys:
  ` + strings.Join(files.SettingKeys(), "\n  ") + `

Examples:
  # Wait longer for saves
  funnelkit set save.timeout 45s

  # Turn off autosave in the editor
  funnelkit set save.autosave false`,
		Args: cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !files.ProjectExists() {
				return fmt.Errorf("no %s directory found. Run 'funnelkit init' first", files.FunnelkitDir)
			}
			return nil
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return files.SettingKeys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: runSet,
	}

	return cmd
}

func runSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	settings, err := files.ReadSettings()
	if err != nil {
		return err
	}
	if err := files.SetSetting(settings, key, value); err != nil {
		return err
	}
	if err := files.WriteSettings(settings); err != nil {
		return err
	}

	cli.PrintSuccess("Set %s = %s", key, value)
	return nil
}
