package builder

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/pluqqy/funnelkit/pkg/idgen"
	"github.com/pluqqy/funnelkit/pkg/models"
)

func newTestStore(t *testing.T, steps ...string) *Store {
	t.Helper()
	snap := models.Snapshot{ComponentsByStep: map[string][]models.Component{}}
	for i, id := range steps {
		snap.Steps = append(snap.Steps, models.Step{ID: id, Title: fmt.Sprintf("Step %d", i+1)})
	}
	return NewStore("f1", snap, WithIDGenerator(idgen.Sequence("tmp-")))
}

func assertContiguous(t *testing.T, s *Store) {
	t.Helper()
	for i, step := range s.Steps() {
		if step.Order != i {
			t.Errorf("step %s: expected order %d, got %d", step.ID, i, step.Order)
		}
		for j, c := range s.Components(step.ID) {
			if c.Order != j {
				t.Errorf("component %s in %s: expected order %d, got %d", c.ID, step.ID, j, c.Order)
			}
		}
	}
}

func ids[T any](list []T, id func(T) string) []string {
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = id(item)
	}
	return out
}

func stepIDs(s *Store) []string {
	return ids(s.Steps(), func(st models.Step) string { return st.ID })
}

func componentIDs(s *Store) []string {
	return ids(s.CurrentComponents(), func(c models.Component) string { return c.ID })
}

func TestNewStoreSelectsFirstStep(t *testing.T) {
	s := newTestStore(t, "p1", "p2")
	if s.CurrentStepID() != "p1" {
		t.Errorf("Expected current step p1, got %q", s.CurrentStepID())
	}
	if s.Selection() != StepSelected {
		t.Errorf("Expected step selection, got %s", s.Selection())
	}
	if s.CanUndo() {
		t.Error("Fresh store should have nothing to undo")
	}

	empty := newTestStore(t)
	if empty.Selection() != NoSelection {
		t.Errorf("Expected no selection on empty store, got %s", empty.Selection())
	}
}

func TestAddStep(t *testing.T) {
	s := newTestStore(t, "p1")
	id := s.AddStep()

	step, ok := s.Step(id)
	if !ok {
		t.Fatalf("Added step %q not found", id)
	}
	if step.Title != "Step 2" || step.Order != 1 {
		t.Errorf("Expected 'Step 2' at order 1, got %q at %d", step.Title, step.Order)
	}
	if comps := s.Components(id); comps == nil || len(comps) != 0 {
		t.Errorf("Expected empty component list, got %v", comps)
	}
	if s.CurrentStepID() != id {
		t.Errorf("Expected new step to be current")
	}
	if !s.CanUndo() {
		t.Error("AddStep should push history")
	}
}

func TestDeleteStep(t *testing.T) {
	tests := []struct {
		name        string
		steps       []string
		current     string
		delete      string
		wantErr     error
		wantSteps   []string
		wantCurrent string
	}{
		{
			name:        "last step is protected",
			steps:       []string{"p1"},
			current:     "p1",
			delete:      "p1",
			wantErr:     ErrLastStep,
			wantSteps:   []string{"p1"},
			wantCurrent: "p1",
		},
		{
			name:        "deleting current falls back to first",
			steps:       []string{"p1", "p2", "p3"},
			current:     "p2",
			delete:      "p2",
			wantSteps:   []string{"p1", "p3"},
			wantCurrent: "p1",
		},
		{
			name:        "deleting another keeps selection",
			steps:       []string{"p1", "p2", "p3"},
			current:     "p3",
			delete:      "p1",
			wantSteps:   []string{"p2", "p3"},
			wantCurrent: "p3",
		},
		{
			name:        "unknown id is a no-op",
			steps:       []string{"p1", "p2"},
			current:     "p1",
			delete:      "nope",
			wantSteps:   []string{"p1", "p2"},
			wantCurrent: "p1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.steps...)
			s.SetCurrentStep(tt.current)
			before := s.Revision()

			err := s.DeleteStep(tt.delete)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got := stepIDs(s); !reflect.DeepEqual(got, tt.wantSteps) {
				t.Errorf("Expected steps %v, got %v", tt.wantSteps, got)
			}
			if s.CurrentStepID() != tt.wantCurrent {
				t.Errorf("Expected current %q, got %q", tt.wantCurrent, s.CurrentStepID())
			}
			changed := len(tt.wantSteps) != len(tt.steps)
			if s.CanUndo() != changed || (s.Revision() != before) != changed {
				t.Errorf("History pushed=%v revision changed=%v, want %v", s.CanUndo(), s.Revision() != before, changed)
			}
			assertContiguous(t, s)
		})
	}
}

func TestDeleteStepCascadesComponents(t *testing.T) {
	s := newTestStore(t, "p1", "p2")
	s.SetCurrentStep("p2")
	cid := s.AddComponent(models.ComponentTypeText)

	if err := s.DeleteStep("p2"); err != nil {
		t.Fatalf("DeleteStep failed: %v", err)
	}
	if _, _, ok := s.Component(cid); ok {
		t.Error("Component of deleted step still present")
	}
	if s.Selection() != StepSelected {
		t.Errorf("Expected step selection, got %s", s.Selection())
	}
}

func TestDuplicateStepIsolation(t *testing.T) {
	s := newTestStore(t, "p1", "p2")
	orig := s.AddComponent(models.ComponentTypeOptions)

	dupStep := s.DuplicateStep("p1")
	if got := stepIDs(s); !reflect.DeepEqual(got, []string{"p1", dupStep, "p2"}) {
		t.Fatalf("Expected copy right after source, got %v", got)
	}
	step, _ := s.Step(dupStep)
	if step.Title != "Step 1 (Copy)" {
		t.Errorf("Expected copy title, got %q", step.Title)
	}

	dupComps := s.Components(dupStep)
	if len(dupComps) != 1 {
		t.Fatalf("Expected 1 copied component, got %d", len(dupComps))
	}
	dup := dupComps[0]
	if dup.ID == orig {
		t.Fatal("Copied component reuses the original id")
	}

	origComp, _, _ := s.Component(orig)
	origOpts := origComp.Data.(*models.OptionsData).Options
	dupOpts := append([]models.Option(nil), dup.Data.(*models.OptionsData).Options...)
	if dupOpts[0].ID == origOpts[0].ID {
		t.Error("Copied options share sub-ids with the original")
	}

	dupOpts[0].Label = "Changed on copy"
	if !s.UpdateComponent(dup.ID, map[string]any{"options": dupOpts}) {
		t.Fatal("UpdateComponent on copy reported no change")
	}
	origComp, _, _ = s.Component(orig)
	if label := origComp.Data.(*models.OptionsData).Options[0].Label; label != "Option 1" {
		t.Errorf("Original label changed through the copy: %q", label)
	}
	assertContiguous(t, s)
}

func TestReorderSteps(t *testing.T) {
	s := newTestStore(t, "p1", "p2", "p3")
	steps := s.Steps()

	if !s.ReorderSteps([]models.Step{steps[2], steps[0], steps[1]}) {
		t.Fatal("ReorderSteps reported no change")
	}
	if got := stepIDs(s); !reflect.DeepEqual(got, []string{"p3", "p1", "p2"}) {
		t.Errorf("Unexpected order %v", got)
	}
	assertContiguous(t, s)

	depth := s.history.Len()
	if s.ReorderSteps(s.Steps()) {
		t.Error("Reordering to the same order should be a no-op")
	}
	if s.history.Len() != depth {
		t.Error("No-op reorder pushed history")
	}
}

func TestSetCurrentStepIsIdempotent(t *testing.T) {
	s := newTestStore(t, "p1", "p2")
	s.AddComponent(models.ComponentTypeText)
	if s.Selection() != ComponentSelected {
		t.Fatalf("Expected component selection after add, got %s", s.Selection())
	}

	s.SetCurrentStep("p2")
	first := []string{s.CurrentStepID(), s.SelectedComponentID(), s.Selection().String()}
	s.SetCurrentStep("p2")
	second := []string{s.CurrentStepID(), s.SelectedComponentID(), s.Selection().String()}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected %v, got %v", first, second)
	}
	if first[1] != "" {
		t.Error("Selecting a step should clear component selection")
	}
	if s.history.Len() != 2 {
		t.Errorf("Selection pushed history: %d entries", s.history.Len())
	}
}

func TestAddComponentAt(t *testing.T) {
	s := newTestStore(t, "p1")
	a := s.AddComponent(models.ComponentTypeText)
	b := s.AddComponent(models.ComponentTypeInput)
	c := s.AddComponentAt(models.ComponentTypePoll, 1)
	d := s.AddComponentAt(models.ComponentTypeConfetti, 99)

	if got := componentIDs(s); !reflect.DeepEqual(got, []string{a, c, b, d}) {
		t.Errorf("Unexpected order %v", got)
	}
	if s.SelectedComponentID() != d {
		t.Errorf("Expected last added component selected")
	}
	assertContiguous(t, s)

	if id := s.AddComponent("hologram"); id != "" {
		t.Error("Unknown type should be rejected")
	}
}

func TestAddComponentDefaults(t *testing.T) {
	s := newTestStore(t, "p1")
	id := s.AddComponent(models.ComponentTypeOptions)
	c, _, _ := s.Component(id)
	opts := c.Data.(*models.OptionsData).Options
	if len(opts) != 2 {
		t.Fatalf("Expected 2 placeholder options, got %d", len(opts))
	}
	for _, o := range opts {
		if o.ID == "" {
			t.Error("Placeholder option without sub-id")
		}
		if o.TargetStepID != "" {
			t.Errorf("Placeholder option should advance to next step, got %q", o.TargetStepID)
		}
	}
}

func TestUpdateComponentShallowMerge(t *testing.T) {
	s := newTestStore(t, "p1")
	id := s.AddComponent(models.ComponentTypePricing)

	if !s.UpdateComponent(id, map[string]any{"price": "49", "targetStepId": "p1"}) {
		t.Fatal("UpdateComponent reported no change")
	}
	c, _, _ := s.Component(id)
	p := c.Data.(*models.PricingData)
	if p.Price != "49" || p.TargetStepID != "p1" {
		t.Errorf("Patch not applied: %+v", p)
	}
	if p.Title != "Pro" || len(p.Features) != 2 {
		t.Errorf("Untouched fields changed: %+v", p)
	}

	if !s.UpdateComponent(id, map[string]any{"features": []string{"Only"}}) {
		t.Fatal("UpdateComponent reported no change")
	}
	c, _, _ = s.Component(id)
	if got := c.Data.(*models.PricingData).Features; !reflect.DeepEqual(got, []string{"Only"}) {
		t.Errorf("Nested value should be replaced wholesale, got %v", got)
	}

	depth := s.history.Len()
	if s.UpdateComponent(id, map[string]any{"price": "49"}) {
		t.Error("Unchanged value should be a no-op")
	}
	if s.UpdateComponent(id, map[string]any{"price": 12}) {
		t.Error("Ill-typed patch should be rejected")
	}
	if s.UpdateComponent("nope", map[string]any{"price": "1"}) {
		t.Error("Unknown id should be a no-op")
	}
	if s.history.Len() != depth {
		t.Error("Rejected updates pushed history")
	}
}

func TestDuplicateComponent(t *testing.T) {
	s := newTestStore(t, "p1")
	a := s.AddComponent(models.ComponentTypePoll)
	b := s.AddComponent(models.ComponentTypeText)

	dup := s.DuplicateComponent(a)
	if got := componentIDs(s); !reflect.DeepEqual(got, []string{a, dup, b}) {
		t.Fatalf("Expected copy right after source, got %v", got)
	}
	assertContiguous(t, s)

	c, _, _ := s.Component(dup)
	opts := append([]models.PollOption(nil), c.Data.(*models.PollData).Options...)
	opts[0].Label = "Maybe"
	s.UpdateComponent(dup, map[string]any{"options": opts})

	orig, _, _ := s.Component(a)
	if orig.Data.(*models.PollData).Options[0].Label != "Yes" {
		t.Error("Original poll changed through the copy")
	}
}

func TestDeleteComponent(t *testing.T) {
	s := newTestStore(t, "p1")
	a := s.AddComponent(models.ComponentTypeText)
	b := s.AddComponent(models.ComponentTypeText)
	c := s.AddComponent(models.ComponentTypeText)

	s.SelectComponent(b)
	if !s.DeleteComponent(b) {
		t.Fatal("DeleteComponent reported no change")
	}
	if got := componentIDs(s); !reflect.DeepEqual(got, []string{a, c}) {
		t.Errorf("Unexpected components %v", got)
	}
	if s.Selection() != StepSelected {
		t.Errorf("Expected step selection after deleting selected component, got %s", s.Selection())
	}
	assertContiguous(t, s)

	s.SelectComponent(a)
	s.DeleteComponent(c)
	if s.SelectedComponentID() != a {
		t.Error("Deleting another component cleared the selection")
	}
}

func TestReorderComponents(t *testing.T) {
	s := newTestStore(t, "p1")
	a := s.AddComponent(models.ComponentTypeText)
	b := s.AddComponent(models.ComponentTypeText)
	list := s.CurrentComponents()

	if !s.ReorderComponents([]models.Component{list[1], list[0]}) {
		t.Fatal("ReorderComponents reported no change")
	}
	if got := componentIDs(s); !reflect.DeepEqual(got, []string{b, a}) {
		t.Errorf("Unexpected order %v", got)
	}
	assertContiguous(t, s)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := newTestStore(t, "p1")
	before := s.Snapshot()

	ops := []func(){
		func() { s.AddStep() },
		func() { s.AddComponent(models.ComponentTypeOptions) },
		func() { s.DuplicateStep(s.CurrentStepID()) },
		func() { s.UpdateStepTitle("p1", "Welcome") },
		func() { s.DuplicateComponent(s.CurrentComponents()[0].ID) },
		func() { s.DeleteStep("p1") },
		func() {
			steps := s.Steps()
			s.ReorderSteps(Move(steps, 0, len(steps)-1))
		},
	}
	for _, op := range ops {
		op()
	}
	after := s.Snapshot()

	for range ops {
		if !s.Undo() {
			t.Fatal("Undo unavailable before reaching the start")
		}
	}
	if !reflect.DeepEqual(s.Snapshot(), before) {
		t.Errorf("Undo did not restore initial state:\n%+v\n%+v", s.Snapshot(), before)
	}
	if s.Undo() {
		t.Error("Undo past the start should be a no-op")
	}

	for range ops {
		if !s.Redo() {
			t.Fatal("Redo unavailable before reaching the end")
		}
	}
	if !reflect.DeepEqual(s.Snapshot(), after) {
		t.Error("Redo did not restore final state")
	}
	assertContiguous(t, s)
}

func TestNewMutationDiscardsRedo(t *testing.T) {
	s := newTestStore(t, "p1")
	s.AddStep()
	s.AddStep()
	s.Undo()
	s.Undo()
	if !s.CanRedo() {
		t.Fatal("Expected redo after undo")
	}

	s.AddComponent(models.ComponentTypeText)
	if s.CanRedo() {
		t.Error("Redo should be discarded by a new mutation")
	}
}

func TestUndoRepairsSelection(t *testing.T) {
	s := newTestStore(t, "p1")
	id := s.AddStep()
	s.AddComponent(models.ComponentTypeText)

	s.Undo()
	if s.Selection() != StepSelected || s.CurrentStepID() != id {
		t.Errorf("Expected step %s selected without component, got %s/%q", id, s.Selection(), s.SelectedComponentID())
	}
	s.Undo()
	if s.CurrentStepID() != "p1" {
		t.Errorf("Expected selection to fall back to p1, got %q", s.CurrentStepID())
	}
}

func TestApplyRemap(t *testing.T) {
	s := newTestStore(t, "p1")
	newStep := s.AddStep()
	s.SetCurrentStep("p1")
	cid := s.AddComponent(models.ComponentTypeOptions)
	c, _, _ := s.Component(cid)
	opts := c.Data.(*models.OptionsData).Options
	opts[0].TargetStepID = newStep
	opts[1].TargetStepID = "tmp-unsaved"
	s.UpdateComponent(cid, map[string]any{"options": opts})
	historyLen, canUndo := s.history.Len(), s.CanUndo()
	rev := s.Revision()

	remap := models.NewRemap()
	remap.Steps["p1"] = "p1"
	remap.Steps[newStep] = "p2"
	remap.Components[cid] = "pc1"
	s.ApplyRemap(remap)

	if got := stepIDs(s); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Errorf("Unexpected step ids %v", got)
	}
	if s.SelectedComponentID() != "pc1" {
		t.Errorf("Expected selection remapped to pc1, got %q", s.SelectedComponentID())
	}
	remapped, stepID, ok := s.Component("pc1")
	if !ok || stepID != "p1" {
		t.Fatalf("Remapped component not found under p1")
	}
	got := remapped.Data.(*models.OptionsData).Options
	if got[0].TargetStepID != "p2" || got[1].TargetStepID != "tmp-unsaved" {
		t.Errorf("Unexpected targets %q, %q", got[0].TargetStepID, got[1].TargetStepID)
	}
	if _, ok := s.components[newStep]; ok {
		t.Error("Component list still keyed by the client id")
	}
	if _, ok := s.components["p2"]; !ok {
		t.Error("Component list not rekeyed to the persisted id")
	}
	if s.history.Len() != historyLen || s.CanUndo() != canUndo || s.Revision() != rev {
		t.Error("ApplyRemap touched history or revision")
	}
}

func TestUndoRedoAfterRemapKeepsPersistedIDs(t *testing.T) {
	s := newTestStore(t, "p1")
	newStep := s.AddStep()
	cid := s.AddComponent(models.ComponentTypeText)

	remap := models.NewRemap()
	remap.Steps["p1"] = "p1"
	remap.Steps[newStep] = "p2"
	remap.Components[cid] = "pc1"
	s.ApplyRemap(remap)

	s.UpdateStepTitle("p2", "Renamed")

	if !s.Undo() {
		t.Fatal("Undo unavailable after rename")
	}
	if got := stepIDs(s); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Errorf("Undo restored client step ids: %v", got)
	}
	if _, stepID, ok := s.Component("pc1"); !ok || stepID != "p2" {
		t.Errorf("Undo restored client component id: %v", componentIDs(s))
	}
	if s.CurrentStepID() != "p2" {
		t.Errorf("Expected current step p2, got %q", s.CurrentStepID())
	}

	// Back past the save: the component did not exist yet.
	s.Undo()
	if got := stepIDs(s); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Errorf("Undo restored client step ids: %v", got)
	}
	if len(s.Components("p2")) != 0 {
		t.Errorf("Expected no components before AddComponent, got %v", s.Components("p2"))
	}

	s.Redo()
	s.Redo()
	step, _ := s.Step("p2")
	if step.Title != "Renamed" {
		t.Errorf("Redo lost the rename: %q", step.Title)
	}
	if _, _, ok := s.Component("pc1"); !ok {
		t.Error("Redo restored a client component id")
	}
}

func TestMove(t *testing.T) {
	tests := []struct {
		from, to int
		want     []string
	}{
		{0, 2, []string{"b", "c", "a"}},
		{2, 0, []string{"c", "a", "b"}},
		{1, 1, []string{"a", "b", "c"}},
		{5, 0, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		in := []string{"a", "b", "c"}
		got := Move(in, tt.from, tt.to)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Move(%d, %d): expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
		if !reflect.DeepEqual(in, []string{"a", "b", "c"}) {
			t.Errorf("Move modified its input: %v", in)
		}
	}
}
