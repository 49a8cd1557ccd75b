package codec

import (
	"bytes"
	"encoding/json"
)

// JSON encodes payloads as JSON. Decoding is strict: unknown fields are
// rejected so a payload written against a newer schema fails validation
// instead of being silently truncated.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (JSON) Name() string { return NameJSON }
