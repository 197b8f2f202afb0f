package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/cmd/commands"
	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/pkg/files"
	"github.com/pluqqy/funnelkit/pkg/models"
)

// Version is set during build with -ldflags
var version = "dev"

var (
	quiet       bool
	noColor     bool
	skipConfirm bool
	remote      string
)

var rootCmd = &cobra.Command{
	Use:   "funnelkit",
	Short: "Build multi-step funnels from the terminal",
	Long: `Funnelkit builds multi-step funnels: ordered steps holding typed
components such as options, pricing cards and inputs. Funnels are stored in
a local SQLite database under .funnelkit/, or on a remote funnelkit server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cli.SetGlobalFlags(quiet, noColor, skipConfirm)
		cli.SetRemote(remote)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new funnelkit project",
	Long:  `Creates the .funnelkit folder with default settings in the current directory`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine current directory: %w", err)
		}

		cli.PrintInfo("Initializing funnelkit project in %s...", cwd)

		if err := files.InitProjectStructure(); err != nil {
			return fmt.Errorf("failed to initialize project structure: %w", err)
		}
		if _, err := os.Stat(files.SettingsPath()); os.IsNotExist(err) {
			if err := files.WriteSettings(models.DefaultSettings()); err != nil {
				return err
			}
		}

		cli.PrintSuccess("Created %s folder structure", files.FunnelkitDir)
		cli.PrintInfo("Run 'funnelkit create <name>' to start a funnel.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of funnelkit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "funnelkit version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print essential output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable symbols and color in messages")
	rootCmd.PersistentFlags().BoolVarP(&skipConfirm, "yes", "y", false, "Answer yes to every prompt")
	rootCmd.PersistentFlags().StringVar(&remote, "remote", "", "Use the funnelkit server at this URL instead of the local database")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(commands.NewCreateCommand())
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewShowCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewImportCommand())
	rootCmd.AddCommand(commands.NewEditCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewSetCommand())
	rootCmd.AddCommand(commands.NewCopyIDCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
