package serialization

import (
	"bytes"
	"fmt"
	"io"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"
	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder reads one value from an underlying stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value to an underlying stream.
type Encoder interface {
	Encode(v any) error
}

// Lookup returns the encoder and decoder factories registered under name.
func Lookup(name string) (func(io.Writer) Encoder, func(io.Reader) Decoder, error) {
	switch name {
	case JSONType, "":
		return JSONEncoder, JSONDecoder, nil
	case GobType:
		return GobEncoder, GobDecoder, nil
	default:
		return nil, nil, fmt.Errorf("unsupported serialization type: %s", name)
	}
}

// Marshal encodes v into a byte slice with the given encoder factory.
func Marshal(newEncoder func(io.Writer) Encoder, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v with the given decoder factory.
func Unmarshal(newDecoder func(io.Reader) Decoder, data []byte, v any) error {
	return newDecoder(bytes.NewReader(data)).Decode(v)
}
