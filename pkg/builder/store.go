// Package builder holds the funnel editor's in-memory state machine: the
// ordered steps, their ordered components, the selection cursor, the drag
// flag and the undo/redo timeline.
//
// A Store is owned by one editor session and is not safe for concurrent use.
// Every operation is synchronous and either fully applied or not applied at
// all. Mutations push exactly one history entry; selection changes push none.
// Operations addressing an unknown id are logged no-ops.
package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/pluqqy/funnelkit/pkg/history"
	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
)

// ErrLastStep is returned when deleting the only remaining step.
var ErrLastStep = errors.New("cannot delete the last step")

// Selection is the state of the selection cursor.
type Selection int

const (
	NoSelection Selection = iota
	StepSelected
	ComponentSelected
)

func (s Selection) String() string {
	switch s {
	case StepSelected:
		return "step"
	case ComponentSelected:
		return "component"
	default:
		return "none"
	}
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for client-space ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger used for no-op diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithHistoryDepth bounds the undo timeline.
func WithHistoryDepth(depth int) Option {
	return func(s *Store) { s.history = history.New(depth) }
}

// Store is the single source of truth for one funnel being edited.
type Store struct {
	funnelID            string
	steps               []models.Step
	components          map[string][]models.Component
	currentStepID       string
	selectedComponentID string
	dragging            bool
	revision            uint64

	history *history.Manager
	newID   idgen.Generator
	logger  *slog.Logger
}

// NewStore creates a store for funnelID seeded with initial. The initial
// state becomes the first history entry and the first step is selected.
func NewStore(funnelID string, initial models.Snapshot, opts ...Option) *Store {
	s := &Store{
		funnelID: funnelID,
		history:  history.New(history.DefaultDepth),
		newID:    idgen.Temp(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}

	snap := initial.Clone()
	s.steps = snap.Steps
	s.components = snap.ComponentsByStep
	for _, step := range s.steps {
		if s.components[step.ID] == nil {
			s.components[step.ID] = []models.Component{}
		}
	}
	renumberSteps(s.steps)
	for id := range s.components {
		renumberComponents(s.components[id])
	}
	if len(s.steps) > 0 {
		s.currentStepID = s.steps[0].ID
	}
	s.history.Reset(s.snapshot())
	return s
}

func (s *Store) FunnelID() string { return s.funnelID }

// Revision increases on every change to editorial state, including undo
// and redo. Selection changes and id remapping leave it untouched.
func (s *Store) Revision() uint64 { return s.revision }

func (s *Store) CurrentStepID() string { return s.currentStepID }

func (s *Store) SelectedComponentID() string { return s.selectedComponentID }

func (s *Store) IsDragging() bool { return s.dragging }

func (s *Store) CanUndo() bool { return s.history.CanUndo() }

func (s *Store) CanRedo() bool { return s.history.CanRedo() }

// Selection reports the state of the selection cursor.
func (s *Store) Selection() Selection {
	switch {
	case s.selectedComponentID != "":
		return ComponentSelected
	case s.currentStepID != "":
		return StepSelected
	default:
		return NoSelection
	}
}

// Steps returns a copy of the ordered steps.
func (s *Store) Steps() []models.Step {
	return append([]models.Step(nil), s.steps...)
}

// Step returns the step with the given id.
func (s *Store) Step(id string) (models.Step, bool) {
	if i := s.stepIndex(id); i >= 0 {
		return s.steps[i], true
	}
	return models.Step{}, false
}

// Components returns a deep copy of the components of a step.
func (s *Store) Components(stepID string) []models.Component {
	list := s.components[stepID]
	out := make([]models.Component, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

// CurrentComponents returns the components of the current step.
func (s *Store) CurrentComponents() []models.Component {
	return s.Components(s.currentStepID)
}

// Component returns a copy of a component and the id of its step.
func (s *Store) Component(id string) (models.Component, string, bool) {
	stepID, i := s.componentIndex(id)
	if i < 0 {
		return models.Component{}, "", false
	}
	return s.components[stepID][i].Clone(), stepID, true
}

// Snapshot returns a deep copy of the editorial state.
func (s *Store) Snapshot() models.Snapshot {
	return s.snapshot()
}

func (s *Store) snapshot() models.Snapshot {
	return models.Snapshot{Steps: s.steps, ComponentsByStep: s.components}.Clone()
}

func (s *Store) commit(op string) {
	s.revision++
	s.history.Push(s.snapshot())
	s.logger.Debug("edit applied", "op", op, "revision", s.revision, "history", s.history.Len())
}

func (s *Store) skip(op, reason string, args ...any) {
	s.logger.Debug("edit skipped", append([]any{"op", op, "reason", reason}, args...)...)
}

// AddStep appends a new step and selects it.
func (s *Store) AddStep() string {
	id := s.newID()
	s.steps = append(s.steps, models.Step{
		ID:    id,
		Title: fmt.Sprintf("Step %d", len(s.steps)+1),
		Order: len(s.steps),
	})
	s.components[id] = []models.Component{}
	s.currentStepID = id
	s.selectedComponentID = ""
	s.commit("addStep")
	return id
}

// UpdateStepTitle renames a step. Each call is one history entry, so callers
// editing free text should call it on commit rather than per keystroke.
func (s *Store) UpdateStepTitle(id, title string) bool {
	i := s.stepIndex(id)
	if i < 0 {
		s.skip("updateStepTitle", "step not found", "step_id", id)
		return false
	}
	if s.steps[i].Title == title {
		return false
	}
	s.steps[i].Title = title
	s.commit("updateStepTitle")
	return true
}

// DuplicateStep inserts a copy of a step right after it. Components are
// deep-copied with fresh ids. The copy becomes the current step.
func (s *Store) DuplicateStep(id string) string {
	i := s.stepIndex(id)
	if i < 0 {
		s.skip("duplicateStep", "step not found", "step_id", id)
		return ""
	}

	src := s.steps[i]
	dup := models.Step{ID: s.newID(), Title: src.Title + " (Copy)"}
	s.steps = insertAt(s.steps, i+1, dup)
	renumberSteps(s.steps)

	comps := make([]models.Component, 0, len(s.components[id]))
	for _, c := range s.components[id] {
		comps = append(comps, s.cloneComponent(c))
	}
	s.components[dup.ID] = comps

	s.currentStepID = dup.ID
	s.selectedComponentID = ""
	s.commit("duplicateStep")
	return dup.ID
}

// DeleteStep removes a step and its components. The sole remaining step
// cannot be deleted.
func (s *Store) DeleteStep(id string) error {
	i := s.stepIndex(id)
	if i < 0 {
		s.skip("deleteStep", "step not found", "step_id", id)
		return nil
	}
	if len(s.steps) == 1 {
		s.skip("deleteStep", "last step", "step_id", id)
		return ErrLastStep
	}

	s.steps = append(s.steps[:i:i], s.steps[i+1:]...)
	renumberSteps(s.steps)
	delete(s.components, id)

	if s.currentStepID == id {
		s.selectedComponentID = ""
		s.currentStepID = ""
		if len(s.steps) > 0 {
			s.currentStepID = s.steps[0].ID
		}
	}
	s.commit("deleteStep")
	return nil
}

// ReorderSteps replaces the step list with steps, renumbering orders by
// position. The caller guarantees steps is a permutation of the current list.
func (s *Store) ReorderSteps(steps []models.Step) bool {
	next := append([]models.Step(nil), steps...)
	renumberSteps(next)
	if reflect.DeepEqual(next, s.steps) {
		return false
	}

	s.steps = next
	for _, step := range s.steps {
		if s.components[step.ID] == nil {
			s.components[step.ID] = []models.Component{}
		}
	}
	if s.stepIndex(s.currentStepID) < 0 {
		s.selectedComponentID = ""
		s.currentStepID = ""
		if len(s.steps) > 0 {
			s.currentStepID = s.steps[0].ID
		}
	}
	s.commit("reorderSteps")
	return true
}

// SetCurrentStep selects a step and clears the component selection.
func (s *Store) SetCurrentStep(id string) bool {
	if s.stepIndex(id) < 0 {
		s.skip("setCurrentStep", "step not found", "step_id", id)
		return false
	}
	s.currentStepID = id
	s.selectedComponentID = ""
	return true
}

// SelectComponent selects a component of the current step. An empty id
// clears the component selection.
func (s *Store) SelectComponent(id string) bool {
	if id == "" {
		s.selectedComponentID = ""
		return true
	}
	stepID, i := s.componentIndex(id)
	if i < 0 || stepID != s.currentStepID {
		s.skip("selectComponent", "component not in current step", "component_id", id)
		return false
	}
	s.selectedComponentID = id
	return true
}

// AddComponent appends a component of type t to the current step.
func (s *Store) AddComponent(t models.ComponentType) string {
	return s.AddComponentAt(t, -1)
}

// AddComponentAt inserts a component of type t with default data at index
// within the current step. Out-of-range indexes append. The new component
// becomes the selection.
func (s *Store) AddComponentAt(t models.ComponentType, index int) string {
	if s.currentStepID == "" {
		s.skip("addComponent", "no current step")
		return ""
	}
	data, err := models.DefaultData(t, s.newID)
	if err != nil {
		s.skip("addComponent", err.Error())
		return ""
	}

	c := models.Component{ID: s.newID(), Type: t, Data: data}
	list := s.components[s.currentStepID]
	if index < 0 || index > len(list) {
		index = len(list)
	}
	list = insertAt(list, index, c)
	renumberComponents(list)
	s.components[s.currentStepID] = list
	s.selectedComponentID = c.ID
	s.commit("addComponent")
	return c.ID
}

// UpdateComponent shallow-merges patch into a component's data: each key
// replaces the whole top-level field of the same JSON name. Nested values are
// not merged, so changing one option means passing the whole options list.
func (s *Store) UpdateComponent(id string, patch map[string]any) bool {
	stepID, i := s.componentIndex(id)
	if i < 0 {
		s.skip("updateComponent", "component not found", "component_id", id)
		return false
	}
	current := s.components[stepID][i]

	merged, err := mergeData(current, patch)
	if err != nil {
		s.skip("updateComponent", err.Error(), "component_id", id)
		return false
	}
	if reflect.DeepEqual(merged, current.Data) {
		return false
	}
	s.components[stepID][i].Data = merged
	s.commit("updateComponent")
	return true
}

func mergeData(c models.Component, patch map[string]any) (models.Data, error) {
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	for key, value := range patch {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", key, err)
		}
		fields[key] = b
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode merged data: %w", err)
	}
	return models.DecodeData(c.Type, raw)
}

// DuplicateComponent inserts a deep copy of a component right after it.
func (s *Store) DuplicateComponent(id string) string {
	stepID, i := s.componentIndex(id)
	if i < 0 {
		s.skip("duplicateComponent", "component not found", "component_id", id)
		return ""
	}

	dup := s.cloneComponent(s.components[stepID][i])
	list := insertAt(s.components[stepID], i+1, dup)
	renumberComponents(list)
	s.components[stepID] = list
	if stepID == s.currentStepID {
		s.selectedComponentID = dup.ID
	}
	s.commit("duplicateComponent")
	return dup.ID
}

// DeleteComponent removes a component and renumbers its siblings.
func (s *Store) DeleteComponent(id string) bool {
	stepID, i := s.componentIndex(id)
	if i < 0 {
		s.skip("deleteComponent", "component not found", "component_id", id)
		return false
	}

	list := s.components[stepID]
	list = append(list[:i:i], list[i+1:]...)
	renumberComponents(list)
	s.components[stepID] = list
	if s.selectedComponentID == id {
		s.selectedComponentID = ""
	}
	s.commit("deleteComponent")
	return true
}

// ReorderComponents replaces the current step's component list. The caller
// guarantees list is a permutation of the current components.
func (s *Store) ReorderComponents(list []models.Component) bool {
	if s.currentStepID == "" {
		s.skip("reorderComponents", "no current step")
		return false
	}
	next := make([]models.Component, len(list))
	for i, c := range list {
		next[i] = c.Clone()
	}
	renumberComponents(next)
	if reflect.DeepEqual(next, s.components[s.currentStepID]) {
		return false
	}

	s.components[s.currentStepID] = next
	if s.selectedComponentID != "" {
		if _, i := s.componentIndex(s.selectedComponentID); i < 0 {
			s.selectedComponentID = ""
		}
	}
	s.commit("reorderComponents")
	return true
}

// Undo restores the previous history entry.
func (s *Store) Undo() bool {
	snap, ok := s.history.Undo()
	if !ok {
		return false
	}
	s.restore(snap)
	return true
}

// Redo restores the next history entry.
func (s *Store) Redo() bool {
	snap, ok := s.history.Redo()
	if !ok {
		return false
	}
	s.restore(snap)
	return true
}

func (s *Store) restore(snap models.Snapshot) {
	s.steps = snap.Steps
	s.components = snap.ComponentsByStep
	s.revision++

	if s.stepIndex(s.currentStepID) < 0 {
		s.currentStepID = ""
		if len(s.steps) > 0 {
			s.currentStepID = s.steps[0].ID
		}
	}
	if stepID, i := s.componentIndex(s.selectedComponentID); i < 0 || stepID != s.currentStepID {
		s.selectedComponentID = ""
	}
}

// ApplyRemap rewrites live ids and embedded step references through a save
// result. Ids the table does not know are kept, since they belong to edits
// made after the save started. History entries are rewritten the same way so
// that undo never brings back a client id the backend has already replaced.
// The revision is left alone.
func (s *Store) ApplyRemap(r *models.Remap) {
	if r == nil {
		return
	}
	live := r.ApplySnapshot(models.Snapshot{Steps: s.steps, ComponentsByStep: s.components})
	s.steps, s.components = live.Steps, live.ComponentsByStep
	s.history.Rewrite(r.ApplySnapshot)

	if s.currentStepID != "" {
		if mapped, ok := r.Step(s.currentStepID); ok {
			s.currentStepID = mapped
		}
	}
	if s.selectedComponentID != "" {
		s.selectedComponentID = r.Component(s.selectedComponentID)
	}
}

// BeginDrag marks a drag gesture in progress.
func (s *Store) BeginDrag() { s.dragging = true }

// EndDrag clears the drag flag.
func (s *Store) EndDrag() { s.dragging = false }

func (s *Store) cloneComponent(c models.Component) models.Component {
	dup := c.Clone()
	dup.ID = s.newID()
	models.RegenerateSubIDs(dup.Data, s.newID)
	return dup
}

func (s *Store) stepIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, step := range s.steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) componentIndex(id string) (string, int) {
	if id == "" {
		return "", -1
	}
	// Current step first; it is where nearly every edit lands.
	for i, c := range s.components[s.currentStepID] {
		if c.ID == id {
			return s.currentStepID, i
		}
	}
	for stepID, list := range s.components {
		for i, c := range list {
			if c.ID == id {
				return stepID, i
			}
		}
	}
	return "", -1
}

func renumberSteps(steps []models.Step) {
	for i := range steps {
		steps[i].Order = i
	}
}

func renumberComponents(list []models.Component) {
	for i := range list {
		list[i].Order = i
	}
}

func insertAt[T any](list []T, index int, item T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, item)
	return append(out, list[index:]...)
}

// Move returns a copy of list with the element at from moved to to.
func Move[T any](list []T, from, to int) []T {
	out := append([]T(nil), list...)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) || from == to {
		return out
	}
	item := out[from]
	out = append(out[:from], out[from+1:]...)
	return insertAt(out, to, item)
}
