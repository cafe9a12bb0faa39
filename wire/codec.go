package wire

import "encoding/json"

// Codec is a pure function pair supplied by the embedder for optional
// payload compression. Identity is the zero-cost default.
type Codec interface {
	Encode(plain []byte) ([]byte, error)
	Decode(compressed []byte) ([]byte, error)
}

// IdentityCodec performs no compression; Encode and Decode are no-ops.
type IdentityCodec struct{}

func (IdentityCodec) Encode(plain []byte) ([]byte, error) { return plain, nil }
func (IdentityCodec) Decode(compressed []byte) ([]byte, error) { return compressed, nil }

// Marshal serializes an envelope to its JSON wire form.
func Marshal(e Envelope) ([]byte, error) { return json.Marshal(e) }

// Unmarshal parses an envelope from its JSON wire form.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}
