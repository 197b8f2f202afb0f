package models

import (
	"encoding/json"
	"time"
)

// Step is one ordered screen of a funnel.
type Step struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Order int    `json:"order" yaml:"order"`
}

// Component is a typed building block placed within a step. Data always
// holds the variant matching Type.
type Component struct {
	ID    string        `json:"id"`
	Type  ComponentType `json:"type"`
	Order int           `json:"order"`
	Data  Data          `json:"data"`
}

// Clone returns a deep copy of the component.
func (c Component) Clone() Component {
	out := c
	if c.Data != nil {
		out.Data = c.Data.Clone()
	}
	return out
}

// StepTree is a persisted step together with its components.
type StepTree struct {
	Step       `yaml:",inline"`
	Components []Component `json:"components" yaml:"components"`
}

// Funnel is the persisted aggregate root. Theme is opaque to the builder.
type Funnel struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Theme     json.RawMessage `json:"themeConfig,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Steps     []StepTree      `json:"steps"`
}

// FunnelSummary is the listing view of a funnel.
type FunnelSummary struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Steps     int       `json:"steps" yaml:"steps"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updated_at"`
}

// Snapshot is the editorial state captured by the undo history.
type Snapshot struct {
	Steps            []Step
	ComponentsByStep map[string][]Component
}

// Clone returns a deep copy of the snapshot. Mutating the copy never affects
// the original.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Steps:            make([]Step, len(s.Steps)),
		ComponentsByStep: make(map[string][]Component, len(s.ComponentsByStep)),
	}
	copy(out.Steps, s.Steps)
	for stepID, comps := range s.ComponentsByStep {
		cloned := make([]Component, len(comps))
		for i, c := range comps {
			cloned[i] = c.Clone()
		}
		out.ComponentsByStep[stepID] = cloned
	}
	return out
}

// SnapshotFromTree builds editor state from a persisted step tree.
func SnapshotFromTree(steps []StepTree) Snapshot {
	snap := Snapshot{
		Steps:            make([]Step, 0, len(steps)),
		ComponentsByStep: make(map[string][]Component, len(steps)),
	}
	for _, st := range steps {
		snap.Steps = append(snap.Steps, st.Step)
		comps := make([]Component, len(st.Components))
		for i, c := range st.Components {
			comps[i] = c.Clone()
		}
		snap.ComponentsByStep[st.ID] = comps
	}
	return snap
}

// Tree is the inverse of SnapshotFromTree.
func (s Snapshot) Tree() []StepTree {
	out := make([]StepTree, 0, len(s.Steps))
	for _, step := range s.Steps {
		comps := s.ComponentsByStep[step.ID]
		tree := StepTree{Step: step, Components: make([]Component, len(comps))}
		for i, c := range comps {
			tree.Components[i] = c.Clone()
		}
		out = append(out, tree)
	}
	return out
}

// SaveRequest is the payload of one save for one funnel.
type SaveRequest struct {
	FunnelID         string                 `json:"funnelId"`
	Steps            []Step                 `json:"steps"`
	ComponentsByStep map[string][]Component `json:"componentsByStep"`
	ThemeConfig      json.RawMessage        `json:"themeConfig,omitempty"`
}

// Remap maps client-space ids to persisted ids. Steps includes identity
// entries for steps that were already persisted.
type Remap struct {
	Steps      map[string]string `json:"stepIdMap"`
	Components map[string]string `json:"componentIdMap"`
}

// NewRemap returns an empty remap table.
func NewRemap() *Remap {
	return &Remap{
		Steps:      make(map[string]string),
		Components: make(map[string]string),
	}
}

// Step resolves a step id through the table; ok is false when the id is unknown.
func (r *Remap) Step(id string) (string, bool) {
	if r == nil {
		return "", false
	}
	mapped, ok := r.Steps[id]
	return mapped, ok
}

// Component resolves a component id, returning the input when unmapped.
func (r *Remap) Component(id string) string {
	if r == nil {
		return id
	}
	if mapped, ok := r.Components[id]; ok {
		return mapped
	}
	return id
}

// ApplySnapshot rewrites step ids, component ids and embedded step references
// in s through the table. Ids the table does not know are kept. The slices of
// s are modified in place; the returned snapshot carries the rekeyed map.
func (r *Remap) ApplySnapshot(s Snapshot) Snapshot {
	if r == nil {
		return s
	}
	resolve := func(id string) string {
		if mapped, ok := r.Step(id); ok {
			return mapped
		}
		return id
	}

	components := make(map[string][]Component, len(s.ComponentsByStep))
	for stepID, list := range s.ComponentsByStep {
		for i := range list {
			list[i].ID = r.Component(list[i].ID)
			list[i].Data = RewriteStepRefs(list[i].Data, resolve)
		}
		components[resolve(stepID)] = list
	}
	for i := range s.Steps {
		s.Steps[i].ID = resolve(s.Steps[i].ID)
	}
	s.ComponentsByStep = components
	return s
}

// Then composes r with a later table: every id r maps is resolved further
// through next, and next's own entries are kept.
func (r *Remap) Then(next *Remap) *Remap {
	out := NewRemap()
	if r != nil {
		for from, to := range r.Steps {
			if final, ok := next.Step(to); ok {
				to = final
			}
			out.Steps[from] = to
		}
		for from, to := range r.Components {
			out.Components[from] = next.Component(to)
		}
	}
	if next != nil {
		for from, to := range next.Steps {
			out.Steps[from] = to
		}
		for from, to := range next.Components {
			out.Components[from] = to
		}
	}
	return out
}
