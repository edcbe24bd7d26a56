package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/morezero/editor-bridge/pkg/semver"
)

const logPrefix = "registry:registry"

var (
	ErrDuplicateCommand  = errors.New("command already registered")
	ErrFrozen            = errors.New("registry is frozen")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidDescriptor = errors.New("invalid command descriptor")
)

// Registry maps command names to descriptors. It is populated at startup and
// frozen before the first connection is accepted; lookups after Freeze are
// lock-free.
type Registry struct {
	mu       sync.Mutex
	commands map[string]*Descriptor
	order    []string
	frozen   atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Descriptor)}
}

// Register adds a command. Names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if r.frozen.Load() {
		return fmt.Errorf("%s - cannot register %q: %w", logPrefix, d.Name, ErrFrozen)
	}
	if err := validateDescriptor(&d); err != nil {
		return err
	}
	if d.Ordering == "" {
		if d.Mutates {
			d.Ordering = OrderingStrict
		} else {
			d.Ordering = OrderingUnordered
		}
	}
	d.Params = append([]ParamSpec(nil), d.Params...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%s - cannot register %q: %w", logPrefix, d.Name, ErrFrozen)
	}
	if _, exists := r.commands[d.Name]; exists {
		return fmt.Errorf("%s - %q: %w", logPrefix, d.Name, ErrDuplicateCommand)
	}
	r.commands[d.Name] = &d
	r.order = append(r.order, d.Name)
	return nil
}

// RegisterAll registers descriptors in order, stopping at the first error.
func (r *Registry) RegisterAll(ds ...Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func validateDescriptor(d *Descriptor) error {
	if !semver.ValidateCommandName(d.Name) {
		return fmt.Errorf("%s - invalid command name %q: %w", logPrefix, d.Name, ErrInvalidDescriptor)
	}
	if d.Handler == nil {
		return fmt.Errorf("%s - %q has no handler: %w", logPrefix, d.Name, ErrInvalidDescriptor)
	}
	if d.Subsystem == "" {
		return fmt.Errorf("%s - %q has no subsystem: %w", logPrefix, d.Name, ErrInvalidDescriptor)
	}
	switch d.Ordering {
	case "", OrderingStrict, OrderingUnordered:
	default:
		return fmt.Errorf("%s - %q has invalid ordering %q: %w", logPrefix, d.Name, d.Ordering, ErrInvalidDescriptor)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("%s - %q has an empty or repeated parameter %q: %w", logPrefix, d.Name, p.Name, ErrInvalidDescriptor)
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return fmt.Errorf("%s - %q parameter %q has invalid type %q: %w", logPrefix, d.Name, p.Name, p.Type, ErrInvalidDescriptor)
		}
	}
	if d.Requires != "" {
		if _, err := semver.ParseConstraint(d.Requires); err != nil {
			return fmt.Errorf("%s - %q: %w", logPrefix, d.Name, err)
		}
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	var d *Descriptor
	var ok bool
	if r.frozen.Load() {
		d, ok = r.commands[name]
	} else {
		r.mu.Lock()
		d, ok = r.commands[name]
		r.mu.Unlock()
	}
	if !ok {
		return nil, fmt.Errorf("%s - %q: %w", logPrefix, name, ErrUnknownCommand)
	}
	return d, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return len(r.order)
}

// Subsystems returns the distinct subsystems, sorted.
func (r *Registry) Subsystems() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range r.List() {
		if !seen[d.Subsystem] {
			seen[d.Subsystem] = true
			out = append(out, d.Subsystem)
		}
	}
	sort.Strings(out)
	return out
}

// Disable removes a command before freeze.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%s - cannot disable %q: %w", logPrefix, name, ErrFrozen)
	}
	if _, ok := r.commands[name]; !ok {
		return fmt.Errorf("%s - cannot disable %q: %w", logPrefix, name, ErrUnknownCommand)
	}
	delete(r.commands, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetOrdering overrides a command's ordering before freeze.
func (r *Registry) SetOrdering(name string, ordering Ordering) error {
	if ordering != OrderingStrict && ordering != OrderingUnordered {
		return fmt.Errorf("%s - invalid ordering %q for %q: %w", logPrefix, ordering, name, ErrInvalidDescriptor)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%s - cannot reorder %q: %w", logPrefix, name, ErrFrozen)
	}
	d, ok := r.commands[name]
	if !ok {
		return fmt.Errorf("%s - cannot reorder %q: %w", logPrefix, name, ErrUnknownCommand)
	}
	updated := *d
	updated.Ordering = ordering
	r.commands[name] = &updated
	return nil
}
