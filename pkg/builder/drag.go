package builder

import "github.com/pluqqy/funnelkit/pkg/models"

// DragSource identifies what is being dragged: a component type from the
// palette, or a component already placed in the current step.
type DragSource struct {
	PaletteType models.ComponentType
	ComponentID string
}

// FromPalette reports whether the drag adds a new component.
func (d DragSource) FromPalette() bool { return d.PaletteType != "" }

// DropTarget is where the pointer was released. ComponentID names the placed
// component under the pointer; Canvas is set when the pointer is anywhere
// over the current step's component area. The zero value is outside.
type DropTarget struct {
	ComponentID string
	Canvas      bool
}

func (t DropTarget) valid() bool { return t.Canvas || t.ComponentID != "" }

// DragCoordinator turns drag gestures into store mutations. Its only state
// is the gesture in progress.
type DragCoordinator struct {
	store  *Store
	source *DragSource
}

// NewDragCoordinator returns a coordinator mutating store.
func NewDragCoordinator(store *Store) *DragCoordinator {
	return &DragCoordinator{store: store}
}

// Start begins a gesture. A gesture already in progress is cancelled first.
func (d *DragCoordinator) Start(src DragSource) bool {
	if d.source != nil {
		d.Cancel()
	}
	switch {
	case src.FromPalette():
		if !src.PaletteType.Valid() {
			return false
		}
	case src.ComponentID != "":
		if !d.inCurrentStep(src.ComponentID) {
			return false
		}
	default:
		return false
	}
	d.source = &src
	d.store.BeginDrag()
	return true
}

// Active returns the gesture in progress.
func (d *DragCoordinator) Active() (DragSource, bool) {
	if d.source == nil {
		return DragSource{}, false
	}
	return *d.source, true
}

// Drop ends the gesture over target and reports whether the store changed.
// A palette drop appends a new component; a component drop moves the
// source to the target's position. Dropping outside any target or onto the
// source itself changes nothing.
func (d *DragCoordinator) Drop(target DropTarget) bool {
	src := d.source
	d.finish()
	if src == nil || !target.valid() {
		return false
	}

	if src.FromPalette() {
		return d.store.AddComponent(src.PaletteType) != ""
	}

	if target.ComponentID == "" || target.ComponentID == src.ComponentID {
		return false
	}
	list := d.store.CurrentComponents()
	from, to := indexOf(list, src.ComponentID), indexOf(list, target.ComponentID)
	if from < 0 || to < 0 {
		return false
	}
	return d.store.ReorderComponents(Move(list, from, to))
}

// Cancel aborts the gesture without changing the store.
func (d *DragCoordinator) Cancel() {
	d.finish()
}

func (d *DragCoordinator) finish() {
	d.source = nil
	d.store.EndDrag()
}

func (d *DragCoordinator) inCurrentStep(id string) bool {
	return indexOf(d.store.CurrentComponents(), id) >= 0
}

func indexOf(list []models.Component, id string) int {
	for i, c := range list {
		if c.ID == id {
			return i
		}
	}
	return -1
}
