package composer

import (
	"fmt"
	"strings"

	"github.com/pluqqy/funnelkit/pkg/files"
	"github.com/pluqqy/funnelkit/pkg/models"
)

// ComposeFunnel renders a funnel as markdown, one section per step in order.
func ComposeFunnel(funnel *models.Funnel) (string, error) {
	if funnel == nil {
		return "", fmt.Errorf("funnel is nil")
	}
	return ComposeTree(funnel.Name, funnel.Steps), nil
}

// ComposeTree renders a named step tree. The TUI uses it on live editor
// state, before anything is saved.
func ComposeTree(name string, steps []models.StepTree) string {
	var output strings.Builder
	output.WriteString(fmt.Sprintf("# Funnel: %s\n\n", name))

	if len(steps) == 0 {
		output.WriteString("_No steps yet._\n")
		return output.String()
	}

	targets := stepLabels(steps)
	for i, step := range steps {
		output.WriteString(fmt.Sprintf("## %d. %s\n\n", i+1, displayTitle(step.Title)))

		if len(step.Components) == 0 {
			output.WriteString("_Empty step._\n\n")
			continue
		}
		for j, c := range step.Components {
			output.WriteString(ComposeComponent(c, targets))
			if j < len(step.Components)-1 {
				output.WriteString("\n")
			}
		}
		output.WriteString("\n")
	}
	return output.String()
}

// stepLabels maps step ids to the label used when a component points at them.
func stepLabels(steps []models.StepTree) map[string]string {
	labels := make(map[string]string, len(steps))
	for i, step := range steps {
		labels[step.ID] = fmt.Sprintf("step %d (%s)", i+1, displayTitle(step.Title))
	}
	return labels
}

func displayTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Untitled"
	}
	return title
}

// WritePreviewFile writes a composed preview to outputPath
func WritePreviewFile(content string, outputPath string) error {
	if outputPath == "" {
		outputPath = files.DefaultPreviewFile
	}

	if err := files.WriteFile(outputPath, content); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}

	return nil
}
