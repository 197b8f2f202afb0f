package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/pluqqy/funnelkit/pkg/composer"
	"github.com/pluqqy/funnelkit/pkg/models"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	minPreviewW   = 30
)

func (m *BuilderModel) View() string {
	width, height := m.width, m.height
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}

	// header, input/help and status take five lines
	bodyHeight := max(height-7, 5)

	colWidth := max(width/4, 20)
	previewWidth := width - 2*colWidth - 6
	showPreview := m.settings.UI.ShowPreview && previewWidth >= minPreviewW

	columns := []string{
		m.box(m.active == stepsColumn && m.mode != moveMode, colWidth, bodyHeight, m.renderSteps(colWidth-2)),
		m.box(m.active == componentsColumn || m.mode == moveMode, colWidth, bodyHeight, m.renderComponents(colWidth-2)),
	}
	if showPreview {
		columns = append(columns, m.box(false, previewWidth, bodyHeight, m.renderPreview(previewWidth-2, bodyHeight)))
	}

	parts := []string{
		m.renderHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top, columns...),
	}
	if m.mode == renameMode || m.mode == editMode {
		parts = append(parts, InputStyle.Render(m.input.View()))
	} else {
		parts = append(parts, DescriptionStyle.Render(m.helpLine()))
	}
	if m.statusMsg != "" {
		style := StatusBarStyle
		if m.statusErr {
			style = ErrorStyle
		}
		parts = append(parts, style.Render(m.statusMsg))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *BuilderModel) box(active bool, width, height int, content string) string {
	style := InactiveBorderStyle
	if active {
		style = ActiveBorderStyle
	}
	return style.Width(width).Height(height).Render(content)
}

func (m *BuilderModel) renderHeader() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Funnel: " + m.session.Name()))
	if m.session.Dirty() {
		b.WriteString(DescriptionStyle.Render(" • unsaved"))
	}
	if m.session.Saving() {
		b.WriteString("  " + m.spinner.View() + " Saving...")
	}
	b.WriteString(DescriptionStyle.Render(fmt.Sprintf("   palette: %s", m.paletteType())))
	return b.String()
}

func (m *BuilderModel) renderSteps(width int) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("STEPS") + "\n\n")

	steps := m.store.Steps()
	if len(steps) == 0 {
		b.WriteString(EmptyStyle.Render("No steps. Press a to add one."))
		return b.String()
	}
	for i, st := range steps {
		line := truncate.StringWithTail(fmt.Sprintf("%d. %s", i+1, st.Title), uint(width), "…")
		if st.ID == m.store.CurrentStepID() {
			b.WriteString(SelectedStyle.Render("▸ "+line) + "\n")
		} else {
			b.WriteString(NormalStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}

func (m *BuilderModel) renderComponents(width int) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("COMPONENTS") + "\n\n")

	list := m.store.CurrentComponents()
	if len(list) == 0 {
		b.WriteString(EmptyStyle.Render("Empty step. Press enter to add a " + string(m.paletteType()) + "."))
		return b.String()
	}
	for i, c := range list {
		line := truncate.StringWithTail(fmt.Sprintf("[%s] %s", c.Type, models.Summary(c.Data)), uint(width), "…")
		switch {
		case m.mode == moveMode && i == m.moveTarget:
			b.WriteString(DropTargetStyle.Render("→ "+line) + "\n")
		case c.ID == m.store.SelectedComponentID():
			b.WriteString(SelectedStyle.Render("▸ "+line) + "\n")
		default:
			b.WriteString(NormalStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}

func (m *BuilderModel) renderPreview(width, height int) string {
	preview := composer.Wrap(composer.ComposeTree(m.session.Name(), m.store.Snapshot().Tree()), width)
	lines := strings.Split(preview, "\n")
	if len(lines) > height {
		lines = append(lines[:height-1], "…")
	}
	return strings.Join(lines, "\n")
}

func (m *BuilderModel) helpLine() string {
	if m.mode == moveMode {
		return "↑/↓ choose slot • enter drop • esc cancel"
	}
	return "a add step • D dup • x delete • r rename • c/enter add component • d dup • ⌫ delete • e edit • m move • u/ctrl+r undo/redo • s save • y copy id • tab switch • q quit"
}
