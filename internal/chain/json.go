package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// wireChain is the serialized shape of a chain.
type wireChain struct {
	Revisions map[string]Revision `json:"revisions"  mapstructure:"revisions"`
	FileIndex map[string]string   `json:"file_index" mapstructure:"file_index"`
}

// MarshalJSON emits revisions and file index keys in causal order.
func (c *Chain) MarshalJSON() ([]byte, error) {
	return EncodeJSON(c.order, c.revisions, c.fileIndex)
}

// EncodeJSON serializes a revision set as {"revisions":...,"file_index":...}
// with keys in the given order. Revisions missing from order follow in
// lexical order, so every revision is always written.
func EncodeJSON(order []string, revs map[string]Revision, fileIndex map[string]string) ([]byte, error) {
	keys := completeOrder(order, revs)

	var buf bytes.Buffer
	buf.WriteString(`{"revisions":{`)
	for i, h := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeEntry(&buf, h, revs[h]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"file_index":{`)
	first := true
	for _, h := range completeIndexOrder(keys, fileIndex) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeEntry(&buf, h, fileIndex[h]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func completeOrder(order []string, revs map[string]Revision) []string {
	keys := make([]string, 0, len(revs))
	seen := make(map[string]struct{}, len(revs))
	for _, h := range order {
		if _, ok := revs[h]; !ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		keys = append(keys, h)
	}
	var rest []string
	for h := range revs {
		if _, ok := seen[h]; !ok {
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// completeIndexOrder lists file index keys following revision order, then any
// entries naming unknown revisions.
func completeIndexOrder(keys []string, fileIndex map[string]string) []string {
	out := make([]string, 0, len(fileIndex))
	seen := make(map[string]struct{}, len(fileIndex))
	for _, h := range keys {
		if _, ok := fileIndex[h]; ok {
			out = append(out, h)
			seen[h] = struct{}{}
		}
	}
	var rest []string
	for h := range fileIndex {
		if _, ok := seen[h]; !ok {
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func writeEntry(buf *bytes.Buffer, key string, v any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal revision %s: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}

// UnmarshalJSON rebuilds the chain with FromRevisions.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var w wireChain
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := FromRevisions(w.Revisions, w.FileIndex)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}
