package composer

import (
	"fmt"

	"github.com/muesli/reflow/wordwrap"

	"github.com/pluqqy/funnelkit/pkg/models"
)

// ComposeFunnelWithSettings composes a funnel and wraps it to the configured
// width. A width of zero leaves lines as they are.
func ComposeFunnelWithSettings(funnel *models.Funnel, settings *models.Settings) (string, error) {
	if funnel == nil {
		return "", fmt.Errorf("cannot compose funnel: nil funnel provided")
	}
	if settings == nil {
		settings = models.DefaultSettings()
	}
	return Wrap(ComposeTree(funnel.Name, funnel.Steps), settings.UI.WrapWidth), nil
}

// Wrap word-wraps composed output at width.
func Wrap(content string, width int) string {
	if width <= 0 {
		return content
	}
	return wordwrap.String(content, width)
}
