package event

import (
	"fmt"
	"sync"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/codec"
)

// SchemaError reports a payload that does not conform to an event's schema.
type SchemaError struct {
	Event string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("event %q: payload does not match schema: %v", e.Event, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// entry is the type-erased form of a Definition[T]. The typed schema is
// captured in the encode/decode closures at registration time.
type entry struct {
	name   string
	jobs   []string
	encode func(c codec.Codec, payload any) ([]byte, error)
	decode func(c codec.Codec, raw []byte) (any, error)
}

// Catalogue maps event names to their schema codecs and job fan-out lists.
// Registration happens at startup; afterwards all methods are read-only and
// safe for concurrent use.
type Catalogue struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{entries: make(map[string]*entry)}
}

// RegisterDefinition registers a typed event definition. The generic schema
// is wrapped in closures that strictly decode/encode the payload type.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](c *Catalogue, def *Definition[T]) {
	validate := func(t T) error {
		if def.Validate == nil {
			return nil
		}
		return def.Validate(t)
	}

	encode := func(cdc codec.Codec, payload any) ([]byte, error) {
		t, ok := payload.(T)
		if !ok {
			// Not the schema type: round-trip through the codec so loosely
			// typed payloads (replay tooling, map[string]any) are checked
			// against the schema instead of rejected outright.
			raw, err := cdc.Marshal(payload)
			if err != nil {
				return nil, &SchemaError{Event: def.Name, Err: err}
			}
			if err := cdc.Unmarshal(raw, &t); err != nil {
				return nil, &SchemaError{Event: def.Name, Err: err}
			}
		}
		if err := validate(t); err != nil {
			return nil, &SchemaError{Event: def.Name, Err: err}
		}
		return cdc.Marshal(t)
	}

	decode := func(cdc codec.Codec, raw []byte) (any, error) {
		var t T
		if len(raw) > 0 {
			if err := cdc.Unmarshal(raw, &t); err != nil {
				return nil, &SchemaError{Event: def.Name, Err: err}
			}
		}
		if err := validate(t); err != nil {
			return nil, &SchemaError{Event: def.Name, Err: err}
		}
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[def.Name] = &entry{
		name:   def.Name,
		jobs:   append([]string(nil), def.Jobs...),
		encode: encode,
		decode: decode,
	}
}

// Jobs returns the ordered job fan-out list for the event.
// Returns false if the event is not registered.
func (c *Catalogue) Jobs(name string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), e.jobs...), true
}

// Names returns all registered event names.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}

// Encode validates payload against the event's schema and serializes it
// with the given codec. Fails with flume.ErrUnknownEvent or *SchemaError.
// Pure function: no side effects.
func (c *Catalogue) Encode(name string, cdc codec.Codec, payload any) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", flume.ErrUnknownEvent, name)
	}
	return e.encode(cdc, payload)
}

// Decode deserializes and validates a raw payload for the event, returning
// the typed payload value. Used by replay and debug tooling.
func (c *Catalogue) Decode(name string, cdc codec.Codec, raw []byte) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", flume.ErrUnknownEvent, name)
	}
	return e.decode(cdc, raw)
}

// Validate checks that a raw payload conforms to the event's schema without
// returning the decoded value.
func (c *Catalogue) Validate(name string, cdc codec.Codec, raw []byte) error {
	_, err := c.Decode(name, cdc, raw)
	return err
}

// CheckJobs verifies that every job bound to any event satisfies the
// registered predicate. Called once at engine build; a false return for any
// job name is fatal to startup.
func (c *Catalogue) CheckJobs(registered func(job string) bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, e := range c.entries {
		for _, j := range e.jobs {
			if !registered(j) {
				return fmt.Errorf("%w: event %q references job %q", flume.ErrUnknownJob, name, j)
			}
		}
	}
	return nil
}
