package tag

import (
	"fmt"
	"sync"
)

// Registry is the loaded tag table with its derived indexes.
//
// The name and topic indexes are fixed at load time. The handle index is
// written once per tag while the automation session sets up monitored
// items and is read-only afterwards.
type Registry struct {
	defs    []Definition
	byName  map[string]int
	byTopic map[string]int

	mu       sync.RWMutex
	byHandle map[Handle]int
}

// Load validates defs and builds a Registry.
//
// Load fails with an error wrapping ErrConfig when names collide, when
// two command-enabled tags share a topic suffix, or when a declared type
// is unsupported. Every problem found is reported, not just the first.
func Load(defs []Definition) (*Registry, error) {
	if err := validate(defs); err != nil {
		return nil, err
	}

	r := &Registry{
		defs:     make([]Definition, len(defs)),
		byName:   make(map[string]int, len(defs)),
		byTopic:  make(map[string]int, len(defs)),
		byHandle: make(map[Handle]int, len(defs)),
	}
	copy(r.defs, defs)

	for i, d := range r.defs {
		r.byName[d.Name] = i
		if d.Command {
			r.byTopic[d.TopicSuffix] = i
		}
	}
	return r, nil
}

// Len returns the number of tags.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Names returns the tag names in load order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// All returns a copy of every definition in load order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// ByName returns the tag with the given name.
func (r *Registry) ByName(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// ByTopicSuffix returns the command-enabled tag routed by suffix.
func (r *Registry) ByTopicSuffix(suffix string) (Definition, bool) {
	i, ok := r.byTopic[suffix]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// ByHandle returns the tag bound to a live monitored-item handle.
func (r *Registry) ByHandle(h Handle) (Definition, bool) {
	r.mu.RLock()
	i, ok := r.byHandle[h]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// HandleFor returns the handle assigned to a tag name.
//
// Handles are derived from the tag's position in the table, so a tag
// keeps the same handle across reconnect cycles. The handle exists
// whether or not it has been bound yet.
func (r *Registry) HandleFor(name string) (Handle, bool) {
	i, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return Handle(i + 1), true
}

// BindHandle records that h identifies the named tag's monitored item.
//
// Binding is write-once: rebinding the same pair is a no-op, binding a
// handle or tag to a different partner returns ErrHandleConflict.
func (r *Registry) BindHandle(h Handle, name string) error {
	i, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, bound := r.byHandle[h]; bound {
		if cur == i {
			return nil
		}
		return fmt.Errorf("%w: handle %d is bound to %s", ErrHandleConflict, h, r.defs[cur].Name)
	}
	for other, j := range r.byHandle {
		if j == i {
			return fmt.Errorf("%w: tag %s is bound to handle %d", ErrHandleConflict, name, other)
		}
	}
	r.byHandle[h] = i
	return nil
}

// Bound returns the number of handles bound so far.
func (r *Registry) Bound() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
