// Package wire is the byte buffer codec used to carry binary payloads inside
// JSON proof bundles.
//
// JSON has no native binary type, so every byte buffer is wrapped in an
// explicit tag object:
//
//	{"__bytes__": "<standard base64>"}
//
// An object is binary if and only if it has exactly one key, Tag, whose value
// is a string. Nothing is ever inferred from the shape of a value, so an object
// such as {"0": 1, "1": 2} always decodes as a plain object.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Tag is the reserved object key that marks an encoded byte buffer.
const Tag = "__bytes__"

// DefaultMaxDepth bounds the nesting Decode will walk before giving up.
const DefaultMaxDepth = 64

// ErrMalformedWire is returned when a value violates the wire format: a tagged
// node with the wrong shape, invalid base64, or nesting deeper than the
// decoder's limit.
var ErrMalformedWire = errors.New("wire: malformed value")

// Encode wraps b in the tagged wire form. A nil slice encodes like an empty one.
func Encode(b []byte) map[string]any {
	return map[string]any{Tag: base64.StdEncoding.EncodeToString(b)}
}

// Decoder replaces tagged nodes in a generic JSON value tree with []byte.
type Decoder struct {
	// MaxDepth is the deepest nesting level accepted. Zero means DefaultMaxDepth.
	MaxDepth int
}

// Decode walks v with the default depth limit. See Decoder.Decode.
func Decode(v any) (any, error) {
	return Decoder{}.Decode(v)
}

// Decode returns a copy of v in which every tagged node is replaced by its
// decoded []byte. Objects, arrays and scalars that are not tagged pass through
// unchanged. v itself is never modified.
func (d Decoder) Decode(v any) (any, error) {
	limit := d.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	return decodeValue(v, 0, limit)
}

func decodeValue(v any, depth, limit int) (any, error) {
	if depth > limit {
		return nil, fmt.Errorf("%w: nesting exceeds depth %d", ErrMalformedWire, limit)
	}

	switch val := v.(type) {
	case map[string]any:
		if raw, tagged := val[Tag]; tagged {
			return decodeTagged(val, raw)
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			dec, err := decodeValue(child, depth+1, limit)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			dec, err := decodeValue(child, depth+1, limit)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil

	default:
		return v, nil
	}
}

func decodeTagged(obj map[string]any, raw any) ([]byte, error) {
	if len(obj) != 1 {
		return nil, fmt.Errorf("%w: %q object carries %d extra keys", ErrMalformedWire, Tag, len(obj)-1)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q value is %T, want string", ErrMalformedWire, Tag, raw)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWire, err)
	}
	return b, nil
}

// Bytes is a byte buffer that serializes to and from the tagged wire form.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(Encode(b))
}

// UnmarshalJSON implements json.Unmarshaler. Only the tagged form is accepted.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: byte buffer is not a tagged object", ErrMalformedWire)
	}
	raw, ok := obj[Tag]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrMalformedWire, Tag)
	}
	dec, err := decodeTagged(obj, raw)
	if err != nil {
		return err
	}
	*b = dec
	return nil
}
