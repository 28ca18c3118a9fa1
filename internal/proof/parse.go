package proof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/echoproof/echo/internal/chain"
	"github.com/echoproof/echo/internal/witness"
	"github.com/echoproof/echo/internal/wire"
	"github.com/fxamacker/cbor/v2"
	"github.com/mitchellh/mapstructure"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("proof: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("proof: CBOR decoder initialization failed: " + err.Error())
	}
}

// Decoder reads bundles from JSON, CBOR or an already parsed value.
type Decoder struct {
	// MaxDepth bounds nesting. Zero means wire.DefaultMaxDepth.
	MaxDepth int
}

// Parse reads a JSON or CBOR bundle with default limits.
func Parse(data []byte) (*Bundle, error) {
	return Decoder{}.Parse(data)
}

// Parse detects the encoding from the first significant byte: '{' is JSON,
// anything else is tried as CBOR.
func (d Decoder) Parse(data []byte) (*Bundle, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedBundle)
	}
	if trimmed[0] == '{' {
		return d.ParseJSON(trimmed)
	}
	return d.ParseCBOR(data)
}

// ParseJSON reads a JSON bundle.
func (d Decoder) ParseJSON(data []byte) (*Bundle, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	return d.ParseValue(v)
}

// ParseCBOR reads a CBOR bundle. Byte strings are native in CBOR, so content
// need not be tagged, but tagged content is accepted too.
func (d Decoder) ParseCBOR(data []byte) (*Bundle, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	return d.ParseValue(v)
}

// ParseValue reads a bundle from a generic value tree such as the result of
// decoding JSON into any. Tagged byte buffers are decoded first; wire
// violations are reported as wire.ErrMalformedWire.
func (d Decoder) ParseValue(v any) (*Bundle, error) {
	decoded, err := wire.Decoder{MaxDepth: d.MaxDepth}.Decode(v)
	if err != nil {
		return nil, err
	}
	root, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, want object", ErrMalformedBundle, decoded)
	}

	if err := checkContent(root); err != nil {
		return nil, err
	}

	var raw rawBundle
	if err := decodeInto(root, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if raw.AquaTree.Revisions == nil {
		return nil, fmt.Errorf("%w: missing aquaTree.revisions", ErrMalformedBundle)
	}

	tree := Tree{
		Revisions: raw.AquaTree.Revisions,
		FileIndex: raw.AquaTree.FileIndex,
	}
	if tree.FileIndex == nil {
		tree.FileIndex = map[string]string{}
	}
	if order, err := chain.Order(tree.Revisions); err == nil {
		tree.Order = order
	}
	return &Bundle{Tree: tree, Metadata: raw.Metadata.normalize()}, nil
}

// MarshalCBOR encodes the bundle as deterministic CBOR with content carried as
// native byte strings.
func (b *Bundle) MarshalCBOR() ([]byte, error) {
	js, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return nil, err
	}
	native, err := wire.Decode(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(native)
}

type rawBundle struct {
	AquaTree struct {
		Revisions map[string]chain.Revision `mapstructure:"revisions"`
		FileIndex map[string]string         `mapstructure:"file_index"`
	} `mapstructure:"aquaTree"`
	Metadata rawMetadata `mapstructure:"metadata"`
}

// rawMetadata also accepts the key names used by early exports.
type rawMetadata struct {
	TotalChunks    int                  `mapstructure:"totalChunks"`
	Duration       float64              `mapstructure:"duration"`
	ChunkDuration  float64              `mapstructure:"chunkDuration"`
	Signer         string               `mapstructure:"signer"`
	AnchorIdentity string               `mapstructure:"anchorIdentity"`
	PrivyWallet    string               `mapstructure:"privyWallet"`
	NostrPubkey    string               `mapstructure:"nostrPubkey"`
	Witnesses      []witness.Checkpoint `mapstructure:"witnesses"`
}

func (m rawMetadata) normalize() Metadata {
	md := Metadata{
		TotalChunks:    m.TotalChunks,
		Duration:       m.Duration,
		ChunkDuration:  m.ChunkDuration,
		Signer:         m.Signer,
		AnchorIdentity: m.AnchorIdentity,
		Witnesses:      m.Witnesses,
	}
	if md.Signer == "" {
		md.Signer = m.PrivyWallet
	}
	if md.AnchorIdentity == "" {
		md.AnchorIdentity = m.NostrPubkey
	}
	if md.Witnesses == nil {
		md.Witnesses = []witness.Checkpoint{}
	}
	return md
}

func decodeInto(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: bytesHook,
		Result:     out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var bytesType = reflect.TypeOf(wire.Bytes(nil))

// bytesHook hands decoded buffers to wire.Bytes fields unchanged.
func bytesHook(from, to reflect.Type, data any) (any, error) {
	if to != bytesType {
		return data, nil
	}
	if b, ok := data.([]byte); ok {
		return wire.Bytes(b), nil
	}
	return data, nil
}

// checkContent requires every revision content field to be a decoded byte
// buffer. An untagged string or object there is a wire violation, never
// guessed at.
func checkContent(root map[string]any) error {
	tree, _ := root["aquaTree"].(map[string]any)
	revs, _ := tree["revisions"].(map[string]any)
	for h, r := range revs {
		rev, ok := r.(map[string]any)
		if !ok {
			continue
		}
		content, present := rev["content"]
		if !present || content == nil {
			continue
		}
		if _, ok := content.([]byte); !ok {
			return fmt.Errorf("%w: revision %s content is %T, want tagged bytes", wire.ErrMalformedWire, h, content)
		}
	}
	return nil
}
