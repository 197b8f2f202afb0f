// Package history implements the bounded linear undo/redo timeline of the
// funnel editor.
//
// Entries are post-mutation snapshots: the entry at Index always equals the
// live editorial state. Rewrite lets the owner move every entry into a new id
// space after a save. Reset seeds the timeline with the loaded state, each
// mutation pushes the state it produced, Undo steps back to the previous entry
// and Redo forward to the next one.
package history

import "github.com/pluqqy/funnelkit/pkg/models"

// DefaultDepth bounds the number of retained snapshots.
const DefaultDepth = 50

// Manager holds the snapshot timeline. It is not safe for concurrent use.
type Manager struct {
	entries []models.Snapshot
	index   int
	depth   int
}

// New returns an empty manager retaining at most depth snapshots. A depth
// below 2 falls back to DefaultDepth.
func New(depth int) *Manager {
	if depth < 2 {
		depth = DefaultDepth
	}
	return &Manager{index: -1, depth: depth}
}

// Reset discards the timeline and seeds it with snap.
func (m *Manager) Reset(snap models.Snapshot) {
	m.entries = []models.Snapshot{snap.Clone()}
	m.index = 0
}

// Push records snap as the newest entry. Entries after the current index are
// dropped first; the oldest entry is evicted once depth is exceeded.
func (m *Manager) Push(snap models.Snapshot) {
	if m.index < len(m.entries)-1 {
		m.entries = m.entries[:m.index+1]
	}
	m.entries = append(m.entries, snap.Clone())
	m.index = len(m.entries) - 1

	if over := len(m.entries) - m.depth; over > 0 {
		m.entries = append([]models.Snapshot(nil), m.entries[over:]...)
		m.index -= over
	}
}

// Undo moves one entry back and returns a copy of it.
func (m *Manager) Undo() (models.Snapshot, bool) {
	if !m.CanUndo() {
		return models.Snapshot{}, false
	}
	m.index--
	return m.entries[m.index].Clone(), true
}

// Redo moves one entry forward and returns a copy of it.
func (m *Manager) Redo() (models.Snapshot, bool) {
	if !m.CanRedo() {
		return models.Snapshot{}, false
	}
	m.index++
	return m.entries[m.index].Clone(), true
}

// Rewrite replaces every entry with fn applied to it. The position in the
// timeline is kept. fn may modify the entry it is given.
func (m *Manager) Rewrite(fn func(models.Snapshot) models.Snapshot) {
	for i := range m.entries {
		m.entries[i] = fn(m.entries[i])
	}
}

func (m *Manager) CanUndo() bool { return m.index > 0 }

func (m *Manager) CanRedo() bool { return m.index >= 0 && m.index < len(m.entries)-1 }

func (m *Manager) Len() int { return len(m.entries) }

func (m *Manager) Index() int { return m.index }

// Depth returns the retention bound.
func (m *Manager) Depth() int { return m.depth }
