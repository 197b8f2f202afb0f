package commands

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/pluqqy/funnelkit/internal/cli"
	"github.com/pluqqy/funnelkit/internal/logging"
	"github.com/pluqqy/funnelkit/pkg/models"
)

// validateProject is the PreRunE shared by commands that need a project or
// a remote server.
func validateProject(cmd *cobra.Command, args []string) error {
	ctx, err := cli.NewCommandContext()
	if err != nil {
		return err
	}
	return ctx.ValidateProject()
}

// openWorkspace loads settings, opens the log file and connects to the
// funnel store. The returned func releases all of them.
func openWorkspace() (*cli.Workspace, *models.Settings, func(), error) {
	ctx, err := cli.NewCommandContext()
	if err != nil {
		return nil, nil, nil, err
	}
	settings, err := ctx.LoadSettings()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, logFile, err := logging.NewFile(settings.Log)
	if err != nil {
		cli.PrintWarning("Logging disabled: %v", err)
		logger, logFile = logging.Discard(), io.NopCloser(nil)
	}

	ws, err := ctx.OpenWorkspace(logger)
	if err != nil {
		logFile.Close()
		return nil, nil, nil, err
	}
	return ws, settings, func() {
		ws.Close()
		logFile.Close()
	}, nil
}

// applyColorMode turns off styled output for --no-color.
func applyColorMode() {
	if cli.NoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
