// Package manifest loads the command policy file that tailors the command
// table and host availability at startup.
package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const logPrefix = "manifest:manifest"

// DefaultHostVersion is reported when neither the manifest nor the
// environment names one.
const DefaultHostVersion = "5.4.0"

// DefaultPaths are searched when no manifest file is configured.
var DefaultPaths = []string{"config/editor-bridge.toml", "editor-bridge.toml"}

// Manifest is the command policy.
//
//	host_version = "5.4.0"
//
//	[subsystems]
//	audio = false
//
//	[commands.delete_node]
//	disabled = true
//
//	[commands.list_nodes]
//	ordering = "strict"
type Manifest struct {
	HostVersion string                   `toml:"host_version"`
	Subsystems  map[string]bool          `toml:"subsystems"`
	Commands    map[string]CommandPolicy `toml:"commands"`

	// Source is the file the manifest was read from, empty for the default.
	Source string `toml:"-"`
}

// CommandPolicy overrides one command.
type CommandPolicy struct {
	Disabled bool   `toml:"disabled"`
	Ordering string `toml:"ordering"`
}

// Default returns the manifest used when no file is found.
func Default() *Manifest {
	return &Manifest{
		HostVersion: DefaultHostVersion,
		Subsystems:  map[string]bool{},
		Commands:    map[string]CommandPolicy{},
	}
}

// Load reads the manifest at path. An empty path searches DefaultPaths and
// falls back to Default. A configured path that cannot be read is an error.
func Load(path string) (*Manifest, error) {
	if path != "" {
		return loadFile(path)
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		return loadFile(p)
	}
	slog.Info(fmt.Sprintf("%s - Using default command policy", logPrefix))
	return Default(), nil
}

func loadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid manifest %s: %w", logPrefix, path, err)
	}
	m.Source = path
	slog.Info(fmt.Sprintf("%s - Loaded command policy from %s", logPrefix, path))
	return m, nil
}

// Parse decodes and validates manifest TOML.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	if m.HostVersion == "" {
		m.HostVersion = DefaultHostVersion
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks subsystem names and ordering values.
func (m *Manifest) Validate() error {
	var errs []error
	for _, name := range sortedKeys(m.Subsystems) {
		if !knownSubsystem(name) {
			errs = append(errs, fmt.Errorf("unknown subsystem %q", name))
		}
	}
	for _, name := range sortedKeys(m.Commands) {
		switch registry.Ordering(m.Commands[name].Ordering) {
		case "", registry.OrderingStrict, registry.OrderingUnordered:
		default:
			errs = append(errs, fmt.Errorf("command %q: invalid ordering %q", name, m.Commands[name].Ordering))
		}
	}
	return errors.Join(errs...)
}

// ApplyCommands disables and reorders commands. It must run before the
// registry is frozen; naming a command that does not exist is an error.
func (m *Manifest) ApplyCommands(reg *registry.Registry) error {
	for _, name := range sortedKeys(m.Commands) {
		policy := m.Commands[name]
		if policy.Disabled {
			if err := reg.Disable(name); err != nil {
				return fmt.Errorf("%s - failed to apply policy: %w", logPrefix, err)
			}
			slog.Info(fmt.Sprintf("%s - Disabled command %s", logPrefix, name))
			continue
		}
		if policy.Ordering != "" {
			if err := reg.SetOrdering(name, registry.Ordering(policy.Ordering)); err != nil {
				return fmt.Errorf("%s - failed to apply policy: %w", logPrefix, err)
			}
			slog.Debug(fmt.Sprintf("%s - Command %s ordering set to %s", logPrefix, name, policy.Ordering))
		}
	}
	return nil
}

// NewAvailability builds host readiness: every subsystem is ready unless the
// manifest says otherwise. version overrides the manifest's host_version.
func (m *Manifest) NewAvailability(version string) *host.Availability {
	if version == "" {
		version = m.HostVersion
	}
	avail := host.NewAvailability(version, host.AllSubsystems...)
	for name, ready := range m.Subsystems {
		avail.SetReady(name, ready)
	}
	return avail
}

func knownSubsystem(name string) bool {
	for _, s := range host.AllSubsystems {
		if s == name {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
