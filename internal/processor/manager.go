package processor

import "sync"

// Manager maps each user to exactly one processor instance so all control
// operations for a user route through the same single writer.
type Manager struct {
	deps Deps

	mu    sync.Mutex
	procs map[string]*Processor
}

// NewManager creates a manager that builds processors on demand from the
// shared dependencies.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:  deps,
		procs: make(map[string]*Processor),
	}
}

// Get returns the processor owning the user, creating it on first use.
func (m *Manager) Get(userID string) *Processor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.procs[userID]; ok {
		return p
	}
	p := NewProcessor(userID, m.deps)
	m.procs[userID] = p
	return p
}

// Lookup returns the processor for the user without creating one.
func (m *Manager) Lookup(userID string) (*Processor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[userID]
	return p, ok
}
