package dsc

import (
	"sort"
	"sync"

	"dscengine/crypto"
)

// State is the keyed store of positions owned by the engine. PutPositions must
// apply the whole batch or none of it.
type State interface {
	Position(owner crypto.Address) (*Position, error)
	PutPositions(positions ...*Position) error
	Owners() ([]crypto.Address, error)
}

// MemState keeps positions in memory.
type MemState struct {
	mu        sync.RWMutex
	positions map[crypto.Address]*Position
}

// NewMemState returns an empty in-memory store.
func NewMemState() *MemState {
	return &MemState{positions: make(map[crypto.Address]*Position)}
}

// Position returns a copy of the stored position or nil when the owner has
// never interacted with the engine.
func (m *MemState) Position(owner crypto.Address) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[owner].Clone(), nil
}

// PutPositions stores copies of every position in the batch.
func (m *MemState) PutPositions(positions ...*Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		if p == nil {
			continue
		}
		m.positions[p.Owner] = p.Clone()
	}
	return nil
}

// Owners lists every known account in address order.
func (m *MemState) Owners() ([]crypto.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crypto.Address, 0, len(m.positions))
	for owner := range m.positions {
		out = append(out, owner)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out, nil
}
