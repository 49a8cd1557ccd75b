// Package codec defines the payload serialization contract for queue
// messages. Each message records the codec name it was encoded with, so
// payloads survive process restarts and codec migrations: a consumer
// decodes with the codec named on the row, not the process default.
package codec

// Codec serializes validated event payloads to and from bytes.
type Codec interface {
	// Marshal serializes a payload value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into the given payload pointer.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier persisted on each message row.
	Name() string
}

// Name constants for the built-in codecs.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON, including for unknown
// names, so rows written by a newer process remain readable where possible.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return Msgpack{}
	case NameJSON, "":
		return JSON{}
	default:
		return JSON{}
	}
}
