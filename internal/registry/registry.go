// Package registry provides the process-wide catalog of operations. It maps
// a stable operation identifier to a factory producing fresh Operation
// instances plus the static spec (ports, config schema, display metadata)
// the graph validates against and the UI renders from.
//
// The catalog is read-mostly after startup registration: identifiers are
// immutable once registered, overwriting is rejected, and there is no
// runtime removal.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
)

var (
	// ErrDuplicateOperationID is returned when an identifier is registered twice.
	ErrDuplicateOperationID = errors.New("duplicate operation id")

	// ErrUnknownOperationID is returned when an identifier is not in the catalog.
	ErrUnknownOperationID = errors.New("unknown operation id")
)

// Factory produces a fresh Operation instance for one node.
type Factory func() op.Operation

// Module is implemented by each package that contributes operations to the
// catalog, mirroring how built-in operation families self-register.
type Module interface {
	Register(r *Registry) error
}

// Entry is one catalog row, as exposed to consumers of List.
type Entry struct {
	Spec op.Spec
}

type registered struct {
	spec    op.Spec
	factory Factory
}

// Registry holds the registered operations for a single application instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registered
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]registered)}
}

// Register adds an operation to the catalog. The spec must carry a non-empty
// id, well-formed ports, and a config schema; a duplicate id fails with
// ErrDuplicateOperationID and leaves the catalog unchanged.
func (r *Registry) Register(spec op.Spec, factory Factory) error {
	if err := checkSpec(spec); err != nil {
		return fmt.Errorf("registering %q: %w", spec.ID, err)
	}
	if factory == nil {
		return fmt.Errorf("registering %q: nil factory", spec.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[spec.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateOperationID, spec.ID)
	}
	slog.Debug("Registering operation.", "id", spec.ID, "category", spec.Category)
	r.entries[spec.ID] = registered{spec: spec, factory: factory}
	return nil
}

// NewOperation instantiates the operation registered under id and returns it
// along with its spec.
func (r *Registry) NewOperation(id string) (op.Operation, op.Spec, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, op.Spec{}, fmt.Errorf("%w: %q", ErrUnknownOperationID, id)
	}
	return entry.factory(), entry.spec, nil
}

// Spec returns the static spec registered under id.
func (r *Registry) Spec(id string) (op.Spec, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return op.Spec{}, fmt.Errorf("%w: %q", ErrUnknownOperationID, id)
	}
	return entry.spec, nil
}

// List enumerates the catalog sorted by operation id, for palette and menu
// population by the caller.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, Entry{Spec: entry.spec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.ID < out[j].Spec.ID })
	return out
}

// Install registers every module in order, stopping at the first failure.
func (r *Registry) Install(modules ...Module) error {
	for _, m := range modules {
		if err := m.Register(r); err != nil {
			return err
		}
	}
	return nil
}

func checkSpec(spec op.Spec) error {
	if spec.ID == "" {
		return errors.New("empty operation id")
	}
	if spec.Config == nil {
		return errors.New("nil config schema")
	}
	if err := checkPorts(spec.Inputs, true); err != nil {
		return err
	}
	return checkPorts(spec.Outputs, false)
}

func checkPorts(ports []op.PortSpec, inputs bool) error {
	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		if p.Name == "" {
			return errors.New("port with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate port name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.Valid() {
			return fmt.Errorf("port %q has invalid type", p.Name)
		}
		if !inputs && (p.Required || p.Default != nil) {
			return fmt.Errorf("output port %q declares input-only fields", p.Name)
		}
		if p.Default != nil && !ptype.Conforms(*p.Default, p.Type) {
			return fmt.Errorf("default for port %q does not conform to %s", p.Name, p.Type)
		}
	}
	return nil
}
