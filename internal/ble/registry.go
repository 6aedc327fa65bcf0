package ble

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Direction says which way data flows on a channel, from the host's view.
type Direction uint8

const (
	Receive Direction = 1 << iota
	Transmit
)

func (d Direction) String() string {
	switch d {
	case Receive:
		return "receive"
	case Transmit:
		return "transmit"
	case Receive | Transmit:
		return "receive+transmit"
	default:
		return "none"
	}
}

// ChannelSpec declares one logical channel. Specs are fixed at construction.
type ChannelSpec struct {
	Name      string
	UUID      uuid.UUID
	Direction Direction
}

func (s ChannelSpec) Receives() bool  { return s.Direction&Receive != 0 }
func (s ChannelSpec) Transmits() bool { return s.Direction&Transmit != 0 }

// Registry maps logical channels to acquired characteristic handles. A
// characteristic that is both a receive and a transmit channel is one entry.
// Owned by the manager's loop; not safe for concurrent use.
type Registry struct {
	specs    map[uuid.UUID]ChannelSpec
	byName   map[string]uuid.UUID
	acquired map[uuid.UUID]Characteristic
}

// NewRegistry builds a registry from the receive and transmit channel tables
// (identifier to name). When an identifier appears in both tables the
// receive name is kept and the transmit name becomes an alias.
func NewRegistry(receive, transmit map[uuid.UUID]string) *Registry {
	r := &Registry{
		specs:    make(map[uuid.UUID]ChannelSpec),
		byName:   make(map[string]uuid.UUID),
		acquired: make(map[uuid.UUID]Characteristic),
	}
	r.add(receive, Receive)
	r.add(transmit, Transmit)
	return r
}

func (r *Registry) add(table map[uuid.UUID]string, dir Direction) {
	for id, name := range table {
		spec, ok := r.specs[id]
		if !ok {
			spec = ChannelSpec{Name: name, UUID: id}
		}
		spec.Direction |= dir
		r.specs[id] = spec
		if _, taken := r.byName[name]; !taken {
			r.byName[name] = id
		}
	}
}

// Acquire records a handle if its identifier is configured. Unconfigured
// characteristics are ignored and reported with ok == false. Acquiring an
// already held channel replaces the handle.
func (r *Registry) Acquire(c Characteristic) (spec ChannelSpec, ok bool) {
	spec, ok = r.specs[c.UUID()]
	if !ok {
		return ChannelSpec{}, false
	}
	r.acquired[spec.UUID] = c
	return spec, true
}

// IsComplete reports whether every configured channel has a handle.
func (r *Registry) IsComplete() bool {
	return len(r.specs) > 0 && len(r.acquired) == len(r.specs)
}

// Lookup returns the handle for a channel name.
func (r *Registry) Lookup(name string) (Characteristic, error) {
	id, ok := r.byName[name]
	if !ok {
		return nil, &ChannelError{Channel: name, Err: fmt.Errorf("%w: not configured", ErrChannelUnavailable)}
	}
	c, ok := r.acquired[id]
	if !ok {
		return nil, &ChannelError{Channel: name, Err: ErrChannelUnavailable}
	}
	return c, nil
}

// LookupID returns the handle for a channel identifier.
func (r *Registry) LookupID(id uuid.UUID) (Characteristic, error) {
	c, ok := r.acquired[id]
	if !ok {
		return nil, &ChannelError{Channel: r.Name(id), Err: ErrChannelUnavailable}
	}
	return c, nil
}

// Spec returns the configured spec for an identifier.
func (r *Registry) Spec(id uuid.UUID) (ChannelSpec, bool) {
	spec, ok := r.specs[id]
	return spec, ok
}

// Channel returns the spec a channel name resolves to, aliases included.
func (r *Registry) Channel(name string) (ChannelSpec, bool) {
	id, ok := r.byName[name]
	if !ok {
		return ChannelSpec{}, false
	}
	return r.specs[id], true
}

// Name returns the channel name for id, or the identifier itself when it is
// not a configured channel.
func (r *Registry) Name(id uuid.UUID) string {
	if spec, ok := r.specs[id]; ok {
		return spec.Name
	}
	return "UUID=" + id.String()
}

// Identifiers returns the deduplicated configured identifiers in a stable order.
func (r *Registry) Identifiers() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// Specs returns every configured channel, ordered by identifier.
func (r *Registry) Specs() []ChannelSpec {
	ids := r.Identifiers()
	specs := make([]ChannelSpec, len(ids))
	for i, id := range ids {
		specs[i] = r.specs[id]
	}
	return specs
}

// Acquired returns how many configured channels currently have handles.
func (r *Registry) Acquired() int { return len(r.acquired) }

// Reset forgets every handle. Called on teardown and service invalidation.
func (r *Registry) Reset() {
	clear(r.acquired)
}
