package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pluqqy/funnelkit/pkg/session"
)

// afterEdit schedules an autosave when the store changed since before.
func (m *BuilderModel) afterEdit(before uint64) tea.Cmd {
	if m.store.Revision() == before || !m.settings.Save.Autosave {
		return nil
	}
	return m.scheduleAutosave()
}

// scheduleAutosave restarts the debounce. Only the newest tick saves.
func (m *BuilderModel) scheduleAutosave() tea.Cmd {
	m.autosaveToken++
	token := m.autosaveToken
	return tea.Tick(m.settings.Save.AutosaveDebounce, func(time.Time) tea.Msg {
		return autosaveMsg{token: token}
	})
}

// requestSave starts a save, or queues one behind the save in flight so that
// saves from this model never overlap.
func (m *BuilderModel) requestSave() tea.Cmd {
	if m.session.Saving() {
		m.saveQueued = true
		return nil
	}
	return m.save()
}

// save captures the live state on the update loop and persists it off it.
func (m *BuilderModel) save() tea.Cmd {
	pending := m.session.Prepare()
	sess := m.session
	persist := func() tea.Msg {
		return saveResultMsg{result: sess.Persist(context.Background(), pending)}
	}
	return tea.Batch(m.spinner.Tick, persist)
}

func (m *BuilderModel) handleSaveResult(res session.SaveResult) tea.Cmd {
	m.session.Apply(res)

	switch res.Status {
	case session.SaveOK:
		if !m.session.Saving() {
			m.setStatus("✓ Saved")
		}
	case session.SaveFailed:
		m.setError("Save failed, changes kept locally: %v", res.Err)
		if m.quitting {
			m.quitting = false
			m.discardArmed = true
			m.statusMsg += " (press q again to quit without saving)"
		}
		m.saveQueued = false
		return nil
	}

	if m.session.Saving() {
		return nil
	}
	queued := m.saveQueued
	m.saveQueued = false
	if m.quitting {
		if m.session.Dirty() {
			return m.save()
		}
		return tea.Quit
	}
	if queued && m.session.Dirty() {
		return m.save()
	}
	return nil
}

// quit leaves once nothing is in flight. Unsaved edits are saved first; if
// that save fails a second q discards them.
func (m *BuilderModel) quit() tea.Cmd {
	if m.discardArmed {
		return tea.Quit
	}
	if m.session.Saving() {
		m.quitting = true
		m.setStatus("Waiting for save to finish...")
		return nil
	}
	if m.session.Dirty() {
		m.quitting = true
		m.setStatus("Saving before quit...")
		return m.save()
	}
	return tea.Quit
}
