package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
	"github.com/pluqqy/funnelkit/pkg/reconcile"
	"github.com/pluqqy/funnelkit/pkg/session"
	"github.com/pluqqy/funnelkit/pkg/storage/memstore"
)

type failingBackend struct {
	session.Backend
}

func (failingBackend) Save(ctx context.Context, req models.SaveRequest) (*models.Remap, error) {
	return nil, errors.New("database is locked")
}

func newTestBuilder(t *testing.T, wrap func(session.Backend) session.Backend) *BuilderModel {
	t.Helper()
	repo := memstore.New()
	f, err := repo.CreateFunnel(context.Background(), "Lead magnet", nil)
	if err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}
	var backend session.Backend = reconcile.New(repo)
	if wrap != nil {
		backend = wrap(backend)
	}
	sess, err := session.Open(context.Background(), backend, f.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	settings := models.DefaultSettings()
	settings.Save.Autosave = false
	m := NewBuilderModel(sess, settings)
	m.SetSize(120, 40)
	return m
}

func key(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

func press(m *BuilderModel, keys ...string) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		_, cmd = m.Update(key(k))
	}
	return cmd
}

// runSave executes the commands returned by a save and feeds the result
// back into the model.
func runSave(t *testing.T, m *BuilderModel, cmd tea.Cmd) tea.Cmd {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a save command")
	}
	var cmds []tea.Cmd
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		cmds = msg
	case saveResultMsg:
		_, next := m.Update(msg)
		return next
	default:
		t.Fatalf("unexpected message %T", msg)
	}
	for _, c := range cmds {
		if c == nil {
			continue
		}
		if msg, ok := c().(saveResultMsg); ok {
			_, next := m.Update(msg)
			return next
		}
	}
	t.Fatal("save command produced no result")
	return nil
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestBuilderStepEditing(t *testing.T) {
	m := newTestBuilder(t, nil)
	if got := len(m.store.Steps()); got != 2 {
		t.Fatalf("expected 2 seeded steps, got %d", got)
	}

	press(m, "a")
	steps := m.store.Steps()
	if len(steps) != 3 || m.store.CurrentStepID() != steps[2].ID {
		t.Fatalf("expected a third, current step; got %d steps", len(steps))
	}

	press(m, "D")
	steps = m.store.Steps()
	if len(steps) != 4 || steps[3].Title != "Step 3 (Copy)" {
		t.Errorf("unexpected steps after duplicate: %+v", steps)
	}

	press(m, "x", "x", "x")
	if got := len(m.store.Steps()); got != 1 {
		t.Fatalf("expected 1 step, got %d", got)
	}
	press(m, "x")
	if got := len(m.store.Steps()); got != 1 {
		t.Errorf("last step was deleted")
	}
	if m.statusMsg != "× Cannot delete the last step" {
		t.Errorf("status = %q", m.statusMsg)
	}
}

func TestBuilderRenameCommitsOnEnter(t *testing.T) {
	m := newTestBuilder(t, nil)
	before := m.store.Revision()

	press(m, "r")
	if m.mode != renameMode {
		t.Fatalf("expected rename mode")
	}
	if m.input.Value() != "Step 1" {
		t.Errorf("input prefilled with %q", m.input.Value())
	}
	m.input.SetValue("")
	press(m, "W", "e", "l", "c", "o", "m", "e")
	if m.store.Revision() != before {
		t.Error("typing changed the store before commit")
	}

	press(m, "enter")
	if got := m.store.Steps()[0].Title; got != "Welcome" {
		t.Errorf("title = %q", got)
	}
	if m.store.Revision() != before+1 {
		t.Errorf("rename should be one history entry")
	}

	press(m, "r")
	m.input.SetValue("Discarded")
	press(m, "esc")
	if got := m.store.Steps()[0].Title; got != "Welcome" {
		t.Errorf("esc committed the title: %q", got)
	}
}

func TestBuilderPaletteAndComponentEditing(t *testing.T) {
	m := newTestBuilder(t, nil)

	press(m, "c", "enter")
	comps := m.store.CurrentComponents()
	if len(comps) != 1 || comps[0].Type != models.ComponentTypeText {
		t.Fatalf("expected one text component, got %+v", comps)
	}
	if m.store.SelectedComponentID() != comps[0].ID {
		t.Errorf("new component should be selected")
	}

	press(m, "e")
	if m.mode != editMode || m.editField != "content" {
		t.Fatalf("expected to edit content, mode=%v field=%q", m.mode, m.editField)
	}
	m.input.SetValue("Welcome aboard")
	press(m, "enter")
	c, _, _ := m.store.Component(m.store.SelectedComponentID())
	if got := c.Data.(*models.TextData).Content; got != "Welcome aboard" {
		t.Errorf("content = %q", got)
	}

	press(m, "d")
	if got := len(m.store.CurrentComponents()); got != 2 {
		t.Fatalf("expected duplicate, got %d components", got)
	}
	press(m, "backspace")
	if got := len(m.store.CurrentComponents()); got != 1 {
		t.Errorf("expected delete, got %d components", got)
	}

	for range len(models.ComponentTypes) - 2 {
		press(m, "c")
	}
	if m.paletteType() != models.ComponentTypeConfetti {
		t.Fatalf("palette = %s", m.paletteType())
	}
	press(m, "enter", "e")
	if m.mode != browseMode || !m.statusErr {
		t.Errorf("confetti should not be editable: mode=%v status=%q", m.mode, m.statusMsg)
	}
}

func TestBuilderMoveComponent(t *testing.T) {
	m := newTestBuilder(t, nil)
	press(m, "enter") // options
	press(m, "c", "enter")
	first := m.store.CurrentComponents()[0].ID

	press(m, "up")
	if m.store.SelectedComponentID() != first {
		t.Fatalf("expected first component selected")
	}

	press(m, "m")
	if m.mode != moveMode || !m.store.IsDragging() {
		t.Fatalf("expected an active drag")
	}
	press(m, "down", "enter")
	if m.mode != browseMode || m.store.IsDragging() {
		t.Errorf("drop should end the drag")
	}
	comps := m.store.CurrentComponents()
	if comps[1].ID != first || comps[0].Type != models.ComponentTypeText {
		t.Errorf("unexpected order: %+v", comps)
	}

	rev := m.store.Revision()
	press(m, "m", "up", "esc")
	if m.store.Revision() != rev {
		t.Error("cancelled move changed the store")
	}
}

func TestBuilderUndoRedo(t *testing.T) {
	m := newTestBuilder(t, nil)
	press(m, "a")
	press(m, "u")
	if got := len(m.store.Steps()); got != 2 {
		t.Fatalf("undo: expected 2 steps, got %d", got)
	}
	press(m, "ctrl+r")
	if got := len(m.store.Steps()); got != 3 {
		t.Fatalf("redo: expected 3 steps, got %d", got)
	}
	press(m, "ctrl+r")
	if m.statusMsg != "Nothing to redo" {
		t.Errorf("status = %q", m.statusMsg)
	}
}

func TestBuilderSave(t *testing.T) {
	m := newTestBuilder(t, nil)
	press(m, "enter")

	cmd := press(m, "s")
	if !m.session.Saving() {
		t.Fatal("expected a save in flight")
	}
	runSave(t, m, cmd)

	if m.session.Dirty() || m.session.Saving() {
		t.Errorf("dirty=%v saving=%v after save", m.session.Dirty(), m.session.Saving())
	}
	for _, st := range m.store.Steps() {
		if idgen.IsTemp(st.ID) {
			t.Errorf("step %s kept its client id", st.ID)
		}
	}
	if m.statusMsg != "✓ Saved" {
		t.Errorf("status = %q", m.statusMsg)
	}
}

func TestBuilderSaveFailureKeepsEdits(t *testing.T) {
	m := newTestBuilder(t, func(b session.Backend) session.Backend { return failingBackend{b} })
	press(m, "a")
	before := m.store.Snapshot()

	runSave(t, m, press(m, "s"))

	if !strings.HasPrefix(m.statusMsg, "× Save failed, changes kept locally: ") {
		t.Errorf("status = %q", m.statusMsg)
	}
	if got := m.store.Snapshot(); len(got.Steps) != len(before.Steps) {
		t.Errorf("local state changed after failed save")
	}
	if !m.session.Dirty() {
		t.Error("failed save should leave the session dirty")
	}
}

func TestBuilderSaveDuringSaveIsQueued(t *testing.T) {
	m := newTestBuilder(t, nil)
	first := press(m, "s")
	press(m, "a")

	if cmd := press(m, "s"); cmd != nil {
		t.Fatal("second save started while the first was in flight")
	}
	m.autosaveToken++
	if _, cmd := m.Update(autosaveMsg{token: m.autosaveToken}); cmd != nil {
		t.Fatal("autosave started while a save was in flight")
	}

	queued := runSave(t, m, first)
	if !m.session.Saving() {
		t.Fatal("expected the queued save to start once the first finished")
	}
	if next := runSave(t, m, queued); next != nil {
		t.Error("expected nothing after the queued save")
	}

	if m.session.Dirty() || m.session.Saving() {
		t.Errorf("dirty=%v saving=%v after queued save", m.session.Dirty(), m.session.Saving())
	}
	if got := len(m.store.Steps()); got != 3 {
		t.Fatalf("expected 3 steps, got %d", got)
	}
	for _, st := range m.store.Steps() {
		if idgen.IsTemp(st.ID) {
			t.Errorf("step %s kept its client id", st.ID)
		}
	}
}

func TestBuilderQueuedSaveSkippedWhenClean(t *testing.T) {
	m := newTestBuilder(t, nil)
	first := press(m, "s")
	press(m, "s")

	if next := runSave(t, m, first); next != nil {
		t.Error("queued save ran with nothing left to save")
	}
	if m.statusMsg != "✓ Saved" {
		t.Errorf("status = %q", m.statusMsg)
	}
}

func TestBuilderQuitWaitsForSave(t *testing.T) {
	m := newTestBuilder(t, nil)
	saveCmd := press(m, "s")

	if isQuit(press(m, "q")) {
		t.Fatal("quit while a save was in flight")
	}
	if !m.quitting {
		t.Fatal("expected quitting state")
	}
	if !isQuit(runSave(t, m, saveCmd)) {
		t.Error("expected quit once the save finished")
	}
}

func TestBuilderQuitAfterFailedSave(t *testing.T) {
	m := newTestBuilder(t, func(b session.Backend) session.Backend { return failingBackend{b} })

	next := runSave(t, m, press(m, "q"))
	if isQuit(next) {
		t.Fatal("quit after a failed save")
	}
	if !strings.Contains(m.statusMsg, "press q again") {
		t.Errorf("status = %q", m.statusMsg)
	}
	if !isQuit(press(m, "q")) {
		t.Error("second q should quit")
	}
}

func TestBuilderAutosaveDebounce(t *testing.T) {
	m := newTestBuilder(t, nil)
	m.settings.Save.Autosave = true

	if press(m, "a") == nil {
		t.Fatal("expected an autosave tick")
	}
	press(m, "a")

	if _, cmd := m.Update(autosaveMsg{token: m.autosaveToken - 1}); cmd != nil {
		t.Error("stale autosave tick should be ignored")
	}
	_, cmd := m.Update(autosaveMsg{token: m.autosaveToken})
	runSave(t, m, cmd)
	if m.session.Dirty() {
		t.Error("autosave did not save")
	}
}

func TestBuilderCopyStepID(t *testing.T) {
	m := newTestBuilder(t, nil)
	var copied string
	m.copyText = func(s string) error { copied = s; return nil }

	press(m, "y")
	if copied != m.store.CurrentStepID() {
		t.Errorf("copied %q, want %q", copied, m.store.CurrentStepID())
	}

	m.copyText = func(string) error { return errors.New("no clipboard") }
	press(m, "y")
	if !m.statusErr {
		t.Errorf("status = %q", m.statusMsg)
	}
}

func TestBuilderView(t *testing.T) {
	m := newTestBuilder(t, nil)
	press(m, "enter")
	view := m.View()

	for _, want := range []string{"Funnel: Lead magnet", "Step 1", "Step 2", "[options]", "# Funnel: Lead magnet"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
