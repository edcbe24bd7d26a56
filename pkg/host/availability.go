package host

import (
	"sort"
	"sync"
)

// Availability is a Readiness implementation whose state can be changed at
// runtime, e.g. when a plugin module loads or unloads.
type Availability struct {
	mu      sync.RWMutex
	ready   map[string]bool
	version string
}

// NewAvailability creates an Availability with the given subsystems ready.
func NewAvailability(version string, subsystems ...string) *Availability {
	a := &Availability{ready: make(map[string]bool), version: version}
	for _, s := range subsystems {
		a.ready[s] = true
	}
	return a
}

// SubsystemReady reports whether name is available.
func (a *Availability) SubsystemReady(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready[name]
}

// SetReady marks a subsystem available or not.
func (a *Availability) SetReady(name string, ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready[name] = ready
}

// Version returns the host version.
func (a *Availability) Version() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// SetVersion changes the reported host version.
func (a *Availability) SetVersion(v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version = v
}

// Snapshot returns subsystem readiness keyed by name.
func (a *Availability) Snapshot() map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]bool, len(a.ready))
	for k, v := range a.ready {
		out[k] = v
	}
	return out
}

// Ready returns the names of available subsystems, sorted.
func (a *Availability) Ready() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for k, v := range a.ready {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
