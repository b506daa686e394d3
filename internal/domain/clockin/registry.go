package clockin

import (
	"sort"
	"sync"
)

// Registry holds one Machine per kiosk, created on first use.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*Machine
	factory  func(kioskID string) *Machine
}

// NewRegistry creates a registry building machines with factory.
func NewRegistry(factory func(kioskID string) *Machine) *Registry {
	return &Registry{machines: make(map[string]*Machine), factory: factory}
}

// Get returns the machine of kioskID.
func (r *Registry) Get(kioskID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[kioskID]
	if !ok {
		m = r.factory(kioskID)
		r.machines[kioskID] = m
	}
	return m
}

// ResetSession resets every attempt running under sessionID and returns
// the affected kiosks.
func (r *Registry) ResetSession(sessionID string) []string {
	var reset []string
	for _, m := range r.all() {
		if m.ResetIfSession(sessionID) {
			reset = append(reset, m.ID())
		}
	}
	sort.Strings(reset)
	return reset
}

// Snapshots returns the view of every known kiosk ordered by id.
func (r *Registry) Snapshots() []View {
	ms := r.all()
	out := make([]View, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KioskID < out[j].KioskID })
	return out
}

func (r *Registry) all() []*Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	return out
}
