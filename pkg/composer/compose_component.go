package composer

import (
	"fmt"
	"strings"

	"github.com/pluqqy/funnelkit/pkg/models"
)

// ComposeComponent renders one component. targets maps step ids to labels;
// a reference missing from it reads as the next step.
func ComposeComponent(c models.Component, targets map[string]string) string {
	var output strings.Builder

	switch d := c.Data.(type) {
	case *models.OptionsData:
		output.WriteString(fmt.Sprintf("**%s**\n", d.Question))
		box := "( )"
		if d.Multiple {
			box = "[ ]"
		}
		for _, o := range d.Options {
			output.WriteString(fmt.Sprintf("- %s %s%s\n", box, o.Label, arrow(o.TargetStepID, targets)))
		}
	case *models.TextData:
		output.WriteString(strings.TrimSpace(d.Content))
		output.WriteString("\n")
	case *models.PricingData:
		price := strings.TrimSpace(d.Price + " " + d.Currency)
		if d.Period != "" {
			price += " / " + d.Period
		}
		output.WriteString(fmt.Sprintf("**%s**: %s\n", d.Title, price))
		for _, f := range d.Features {
			output.WriteString(fmt.Sprintf("- %s\n", f))
		}
		output.WriteString(fmt.Sprintf("[%s]%s\n", d.CTA, arrow(d.TargetStepID, targets)))
	case *models.InputData:
		label := d.Label
		if d.Required {
			label += " *"
		}
		output.WriteString(fmt.Sprintf("%s: ________", label))
		if d.Placeholder != "" {
			output.WriteString(fmt.Sprintf(" (%s)", d.Placeholder))
		}
		output.WriteString("\n")
	case *models.PollData:
		output.WriteString(fmt.Sprintf("**Poll: %s**\n", d.Question))
		for _, o := range d.Options {
			output.WriteString(fmt.Sprintf("- %s%s\n", o.Label, arrow(o.TargetStepID, targets)))
		}
	case *models.AudioData:
		output.WriteString(media("Audio", d.MediaData))
	case *models.VideoData:
		output.WriteString(media("Video", d.MediaData))
	case *models.SocialShareData:
		output.WriteString(fmt.Sprintf("Share: %s", d.Message))
		if len(d.Networks) > 0 {
			output.WriteString(fmt.Sprintf(" [%s]", strings.Join(d.Networks, ", ")))
		}
		output.WriteString("\n")
	case *models.NotificationData:
		output.WriteString(fmt.Sprintf("> %s: %s\n", strings.ToUpper(d.Variant), d.Message))
	case *models.ConfettiData:
		output.WriteString(fmt.Sprintf("* confetti: %d particles, %dms *\n", d.Particles, d.DurationMS))
	default:
		output.WriteString(fmt.Sprintf("<!-- %s component without data -->\n", c.Type))
	}

	return output.String()
}

func arrow(target string, targets map[string]string) string {
	if label, ok := targets[target]; ok && target != "" {
		return " → " + label
	}
	return " → next step"
}

func media(kind string, m models.MediaData) string {
	out := fmt.Sprintf("%s: %s", kind, m.URL)
	if m.Caption != "" {
		out += fmt.Sprintf(" (%s)", m.Caption)
	}
	if m.Autoplay {
		out += " [autoplay]"
	}
	return out + "\n"
}
