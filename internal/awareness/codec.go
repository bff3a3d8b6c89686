package awareness

import "encoding/json"

// StateCodec turns a structured awareness state value into the opaque
// bytes carried on the wire, and back. The reference encoding is JSON
// wrapped in a UTF-8 byte array; a binary codec is a drop-in replacement
// as long as both sides agree.
type StateCodec interface {
	Encode(state interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// JSONCodec is the default StateCodec.
type JSONCodec struct{}

func (JSONCodec) Encode(state interface{}) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONCodec) Decode(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var _ StateCodec = JSONCodec{}
