package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack encodes payloads as MessagePack. Denser than JSON for payload
// columns on high-volume events.
type Msgpack struct{}

func (Msgpack) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (Msgpack) Name() string { return NameMsgpack }
