package wire

import "encoding/json"

// Serializer encodes and decodes opaque request/response bodies.
// Implementations must round-trip arbitrary JSON-marshalable values;
// the protocol itself treats bodies as opaque bytes.
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

func (s *JSONSerializer) Serialize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (s *JSONSerializer) Deserialize(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DefaultSerializer returns the serializer used when none is configured.
func DefaultSerializer() Serializer {
	return NewJSONSerializer()
}
