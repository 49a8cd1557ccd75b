// Package event defines the event catalogue: the static registry mapping a
// domain event name to its payload schema and the ordered list of jobs that
// run when the event fires.
//
// The catalogue is compiled at startup and immutable afterwards. Payload
// schemas are ordinary Go types: a raw payload conforms when it strictly
// decodes into the definition's payload type (unknown fields rejected) and
// passes the definition's optional Validate hook. Both the producer and any
// replay tooling validate through the same pure functions; nothing is
// persisted or executed for a payload that fails here.
package event
