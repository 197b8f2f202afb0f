package tui

import (
	"encoding/json"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pluqqy/funnelkit/pkg/builder"
	"github.com/pluqqy/funnelkit/pkg/models"
)

func (m *BuilderModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch m.mode {
	case renameMode, editMode:
		return m.handleInputKey(msg)
	case moveMode:
		before := m.store.Revision()
		m.handleMoveKey(msg)
		return m.afterEdit(before)
	}

	key := msg.String()
	if key != "q" && key != "ctrl+c" {
		m.discardArmed = false
	}
	m.statusMsg = ""

	before := m.store.Revision()
	switch key {
	case "q", "ctrl+c":
		return m.quit()

	case "tab":
		if m.active == stepsColumn {
			m.active = componentsColumn
			if m.store.SelectedComponentID() == "" {
				m.selectComponentAt(0)
			}
		} else {
			m.active = stepsColumn
		}

	case "up", "k":
		m.moveCursor(-1)

	case "down", "j":
		m.moveCursor(1)

	case "a":
		m.store.AddStep()
		m.active = stepsColumn

	case "D":
		if id := m.store.DuplicateStep(m.store.CurrentStepID()); id != "" {
			m.setStatus("Duplicated step")
		}

	case "x":
		if err := m.store.DeleteStep(m.store.CurrentStepID()); errors.Is(err, builder.ErrLastStep) {
			m.setError("Cannot delete the last step")
		}

	case "r":
		step, ok := m.store.Step(m.store.CurrentStepID())
		if !ok {
			return nil
		}
		m.mode = renameMode
		m.input.Placeholder = "Step title"
		m.input.SetValue(step.Title)
		m.input.CursorEnd()
		return m.input.Focus()

	case "c":
		m.palette = (m.palette + 1) % len(models.ComponentTypes)
		m.setStatus("Palette: %s (enter to add)", m.paletteType())

	case "enter":
		if m.drag.Start(builder.DragSource{PaletteType: m.paletteType()}) &&
			m.drag.Drop(builder.DropTarget{Canvas: true}) {
			m.active = componentsColumn
		}

	case "d":
		if id := m.store.SelectedComponentID(); id != "" {
			m.store.DuplicateComponent(id)
		}

	case "backspace", "delete":
		if id := m.store.SelectedComponentID(); id != "" {
			m.store.DeleteComponent(id)
			m.selectComponentAt(0)
		}

	case "e":
		return m.startEdit()

	case "m":
		id := m.store.SelectedComponentID()
		if id == "" || !m.drag.Start(builder.DragSource{ComponentID: id}) {
			return nil
		}
		m.mode = moveMode
		m.moveTarget = m.componentIndex(id)
		m.setStatus("Moving component: ↑/↓ to choose a slot, enter to drop, esc to cancel")

	case "u":
		if !m.store.Undo() {
			m.setStatus("Nothing to undo")
		}

	case "ctrl+r":
		if !m.store.Redo() {
			m.setStatus("Nothing to redo")
		}

	case "s":
		return m.requestSave()

	case "y":
		id := m.store.CurrentStepID()
		if id == "" {
			return nil
		}
		if err := m.copyText(id); err != nil {
			m.setError("Failed to copy: %v", err)
		} else {
			m.setStatus("✓ Copied step id %s", id)
		}
	}

	return m.afterEdit(before)
}

func (m *BuilderModel) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.endInput()
		return nil

	case "enter":
		before := m.store.Revision()
		value := m.input.Value()
		switch m.mode {
		case renameMode:
			m.store.UpdateStepTitle(m.store.CurrentStepID(), value)
		case editMode:
			m.store.UpdateComponent(m.store.SelectedComponentID(), map[string]any{m.editField: value})
		}
		m.endInput()
		return m.afterEdit(before)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *BuilderModel) endInput() {
	m.mode = browseMode
	m.editField = ""
	m.input.Blur()
	m.input.SetValue("")
}

func (m *BuilderModel) handleMoveKey(msg tea.KeyMsg) {
	last := len(m.store.CurrentComponents()) - 1
	switch msg.String() {
	case "up", "k":
		m.moveTarget = max(m.moveTarget-1, 0)
	case "down", "j":
		m.moveTarget = min(m.moveTarget+1, last)
	case "enter":
		list := m.store.CurrentComponents()
		target := builder.DropTarget{Canvas: true}
		if m.moveTarget >= 0 && m.moveTarget < len(list) {
			target.ComponentID = list[m.moveTarget].ID
		}
		m.drag.Drop(target)
		m.mode = browseMode
		m.statusMsg = ""
	case "esc":
		m.drag.Cancel()
		m.mode = browseMode
		m.statusMsg = ""
	}
}

func (m *BuilderModel) startEdit() tea.Cmd {
	c, _, ok := m.store.Component(m.store.SelectedComponentID())
	if !ok {
		return nil
	}
	field, value := primaryText(c)
	if field == "" {
		m.setError("%s has no text to edit", c.Type)
		return nil
	}
	m.mode = editMode
	m.editField = field
	m.input.Placeholder = field
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m.input.Focus()
}

// primaryText returns the inline-editable field of c and its current value.
func primaryText(c models.Component) (string, string) {
	field := models.PrimaryField(c.Type)
	if field == "" || c.Data == nil {
		return field, ""
	}
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return field, ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return field, ""
	}
	value, _ := fields[field].(string)
	return field, value
}

func (m *BuilderModel) moveCursor(delta int) {
	if m.active == stepsColumn {
		steps := m.store.Steps()
		i := stepIndex(steps, m.store.CurrentStepID()) + delta
		if i >= 0 && i < len(steps) {
			m.store.SetCurrentStep(steps[i].ID)
		}
		return
	}
	i := m.componentIndex(m.store.SelectedComponentID())
	if i < 0 {
		m.selectComponentAt(0)
		return
	}
	m.selectComponentAt(i + delta)
}

func (m *BuilderModel) selectComponentAt(i int) {
	list := m.store.CurrentComponents()
	if i >= 0 && i < len(list) {
		m.store.SelectComponent(list[i].ID)
	}
}

func (m *BuilderModel) componentIndex(id string) int {
	for i, c := range m.store.CurrentComponents() {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func stepIndex(steps []models.Step, id string) int {
	for i, s := range steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *BuilderModel) paletteType() models.ComponentType {
	return models.ComponentTypes[m.palette]
}
