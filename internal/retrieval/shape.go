package retrieval

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/echoproof/echo/internal/proof"
)

// Bytes normalizes a stored value to raw bytes. Parsed JSON is re-encoded.
func Bytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case json.RawMessage:
		return []byte(t), nil
	case string:
		return []byte(t), nil
	case io.Reader:
		if c, ok := t.(io.Closer); ok {
			defer c.Close()
		}
		b, err := io.ReadAll(t)
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		return b, nil
	case map[string]any, []any:
		return json.Marshal(t)
	case nil:
		return nil, fmt.Errorf("store returned no content")
	default:
		return nil, fmt.Errorf("unsupported content shape %T", v)
	}
}

// Bundle normalizes a stored value to a proof bundle. Pre-parsed values go
// straight to the decoder; byte shapes are sniffed as JSON or CBOR.
func Bundle(d proof.Decoder, v any) (*proof.Bundle, error) {
	switch t := v.(type) {
	case map[string]any, []any:
		return d.ParseValue(t)
	default:
		b, err := Bytes(v)
		if err != nil {
			return nil, err
		}
		return d.Parse(b)
	}
}
