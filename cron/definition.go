package cron

// Definition is a typed cron definition. T is the payload type of the
// event this entry triggers.
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// EventName is the catalogue event to trigger on each tick.
	EventName string

	// Payload is the static payload triggered with the event.
	Payload T
}

// NewDefinition creates a typed cron definition.
func NewDefinition[T any](name, schedule, eventName string, payload T) *Definition[T] {
	return &Definition[T]{
		Name:      name,
		Schedule:  schedule,
		EventName: eventName,
		Payload:   payload,
	}
}
