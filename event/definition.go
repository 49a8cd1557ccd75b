package event

// Definition is a typed event definition. T is the payload type; it doubles
// as the event's schema (strict decoding rejects payloads that don't
// conform).
type Definition[T any] struct {
	// Name is the unique event identifier, e.g. "conversation.message.created".
	Name string

	// Jobs is the ordered list of job names that run when this event fires.
	// Every name must exist in the job registry; the engine refuses to start
	// otherwise.
	Jobs []string

	// Validate optionally checks semantic constraints the type system can't
	// express (non-empty slugs, positive IDs). Nil means type conformance
	// alone is sufficient.
	Validate func(payload T) error
}

// NewDefinition creates a typed event definition bound to the given jobs.
func NewDefinition[T any](name string, jobs ...string) *Definition[T] {
	return &Definition[T]{Name: name, Jobs: jobs}
}

// WithValidate attaches a semantic validation hook and returns the
// definition for chaining.
func (d *Definition[T]) WithValidate(fn func(payload T) error) *Definition[T] {
	d.Validate = fn
	return d
}
