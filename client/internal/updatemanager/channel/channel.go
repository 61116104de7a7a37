package channel

import (
	"errors"
	"fmt"
)

// ID identifies a release stability tier
type ID string

const (
	Alpha  ID = "alpha"
	Beta   ID = "beta"
	Latest ID = "latest"
)

// maxChainLength bounds every walk along the more-stable relation
const maxChainLength = 16

var (
	// ErrUnknownChannel is returned when an id does not name a registered channel
	ErrUnknownChannel = errors.New("unknown update channel")
	errCyclicChain    = errors.New("channel chain is cyclic")
)

// Channel is an immutable update channel descriptor. Channels form a single chain
// ordered from least to most stable.
type Channel struct {
	id         ID
	label      string
	moreStable *Channel
}

func (c *Channel) ID() ID {
	return c.id
}

func (c *Channel) Label() string {
	return c.label
}

// MoreStable returns the next more stable channel or nil for the most stable one
func (c *Channel) MoreStable() *Channel {
	return c.moreStable
}

func (c *Channel) String() string {
	return string(c.id)
}

// Definition describes a channel before the registry links it
type Definition struct {
	ID    ID
	Label string
	// MoreStable is empty for the most stable channel
	MoreStable ID
}

// DefaultDefinitions is the alpha → beta → latest chain
var DefaultDefinitions = []Definition{
	{ID: Alpha, Label: "Alpha", MoreStable: Beta},
	{ID: Beta, Label: "Beta", MoreStable: Latest},
	{ID: Latest, Label: "Stable"},
}

// Registry holds the immutable set of channels and their stability order
type Registry struct {
	byID  map[ID]*Channel
	order []*Channel
	rank  map[ID]int
}

// NewRegistry links the definitions and validates that they form one finite chain
func NewRegistry(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, errors.New("no channels defined")
	}

	r := &Registry{
		byID: make(map[ID]*Channel, len(defs)),
		rank: make(map[ID]int, len(defs)),
	}

	for _, def := range defs {
		if def.ID == "" {
			return nil, errors.New("channel id is empty")
		}
		if _, exists := r.byID[def.ID]; exists {
			return nil, fmt.Errorf("channel %s defined twice", def.ID)
		}
		r.byID[def.ID] = &Channel{id: def.ID, label: def.Label}
	}

	hasLessStable := make(map[ID]bool, len(defs))
	for _, def := range defs {
		if def.MoreStable == "" {
			continue
		}
		next, ok := r.byID[def.MoreStable]
		if !ok {
			return nil, fmt.Errorf("channel %s: more stable channel %s: %w", def.ID, def.MoreStable, ErrUnknownChannel)
		}
		if hasLessStable[def.MoreStable] {
			return nil, fmt.Errorf("channel %s has more than one less stable channel", def.MoreStable)
		}
		hasLessStable[def.MoreStable] = true
		r.byID[def.ID].moreStable = next
	}

	var root *Channel
	for _, def := range defs {
		if hasLessStable[def.ID] {
			continue
		}
		if root != nil {
			return nil, fmt.Errorf("channels %s and %s both start a chain", root.id, def.ID)
		}
		root = r.byID[def.ID]
	}
	if root == nil {
		return nil, errCyclicChain
	}

	for c := root; c != nil; c = c.moreStable {
		if len(r.order) >= len(defs) || len(r.order) >= maxChainLength {
			return nil, errCyclicChain
		}
		r.rank[c.id] = len(r.order)
		r.order = append(r.order, c)
	}
	if len(r.order) != len(defs) {
		return nil, errors.New("channels do not form a single chain")
	}

	return r, nil
}

// DefaultRegistry returns the registry of the alpha, beta and latest channels
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the channel registered under id
func (r *Registry) Get(id ID) (*Channel, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Resolve matches id case-sensitively against the registry
func (r *Registry) Resolve(id string) (*Channel, error) {
	c, ok := r.byID[ID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	return c, nil
}

// MostStable returns the terminal channel of the chain
func (r *Registry) MostStable() *Channel {
	return r.order[len(r.order)-1]
}

// All returns the channels ordered from least to most stable
func (r *Registry) All() []*Channel {
	out := make([]*Channel, len(r.order))
	copy(out, r.order)
	return out
}

// Stability returns the position of c in the chain; higher is more stable.
// Unregistered channels rank as the most stable one.
func (r *Registry) Stability(c *Channel) int {
	if c == nil {
		return len(r.order) - 1
	}
	rank, ok := r.rank[c.id]
	if !ok {
		return len(r.order) - 1
	}
	return rank
}

// StableClosure returns origin followed by every channel more stable than it
func (r *Registry) StableClosure(origin *Channel) []*Channel {
	var closure []*Channel
	Walk(origin, func(c *Channel) bool {
		closure = append(closure, c)
		return true
	})
	return closure
}

// InStableClosure reports whether c is origin or more stable than origin
func (r *Registry) InStableClosure(origin, c *Channel) bool {
	if origin == nil || c == nil {
		return false
	}
	found := false
	Walk(origin, func(candidate *Channel) bool {
		if candidate.id == c.id {
			found = true
			return false
		}
		return true
	})
	return found
}

// Walk calls fn for start and each more stable channel until fn returns false.
// The walk is capped so a miswired chain cannot loop forever.
func Walk(start *Channel, fn func(*Channel) bool) {
	c := start
	for i := 0; c != nil && i < maxChainLength; i++ {
		if !fn(c) {
			return
		}
		c = c.moreStable
	}
}
