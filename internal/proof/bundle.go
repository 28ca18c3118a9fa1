// Package proof defines the exported proof bundle: the revision tree plus the
// recording metadata and witness checkpoints gathered beside it.
package proof

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"

	"github.com/echoproof/echo/internal/chain"
	"github.com/echoproof/echo/internal/witness"
)

// ErrMalformedBundle is returned when data cannot be read as a bundle.
var ErrMalformedBundle = errors.New("proof: malformed bundle")

// Tree is the serialized revision set. It is kept as imported, without
// requiring a well-formed chain, so defective bundles can still be reported
// on.
type Tree struct {
	Revisions map[string]chain.Revision
	FileIndex map[string]string
	// Order is the causal order when known. Imported trees get the order of
	// the path from Genesis when the chain is well formed, and are otherwise
	// left unordered.
	Order []string
}

// TreeOf captures a chain.
func TreeOf(c *chain.Chain) Tree {
	return Tree{
		Revisions: c.Revisions(),
		FileIndex: c.FileIndex(),
		Order:     c.Hashes(),
	}
}

// Chain rebuilds the chain, failing on structural defects.
func (t Tree) Chain() (*chain.Chain, error) {
	return chain.FromRevisions(t.Revisions, t.FileIndex)
}

// Hashes returns revision hashes in Order, falling back to lexical order for
// unordered trees.
func (t Tree) Hashes() []string {
	if len(t.Order) == len(t.Revisions) {
		return append([]string(nil), t.Order...)
	}
	out := make([]string, 0, len(t.Revisions))
	for h := range t.Revisions {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the revision hash carrying fileName in the file index.
func (t Tree) Lookup(fileName string) (string, bool) {
	for _, h := range t.Hashes() {
		if t.FileIndex[h] == fileName {
			return h, true
		}
	}
	// Index entries for hashes outside the revision set.
	for h, name := range t.FileIndex {
		if name == fileName {
			return h, true
		}
	}
	return "", false
}

// MarshalJSON writes revisions and file index in Order.
func (t Tree) MarshalJSON() ([]byte, error) {
	return chain.EncodeJSON(t.Order, t.Revisions, t.FileIndex)
}

// Metadata accompanies the tree. Durations are in seconds.
type Metadata struct {
	TotalChunks    int                  `json:"totalChunks"`
	Duration       float64              `json:"duration"`
	ChunkDuration  float64              `json:"chunkDuration"`
	Signer         string               `json:"signer,omitempty"`
	AnchorIdentity string               `json:"anchorIdentity,omitempty"`
	Witnesses      []witness.Checkpoint `json:"witnesses"`
}

// Bundle is the export and import unit.
type Bundle struct {
	Tree     Tree     `json:"aquaTree"`
	Metadata Metadata `json:"metadata"`
}

// New builds a bundle from a chain and metadata.
func New(c *chain.Chain, md Metadata) *Bundle {
	if md.Witnesses == nil {
		md.Witnesses = []witness.Checkpoint{}
	}
	return &Bundle{Tree: TreeOf(c), Metadata: md}
}

// MarshalIndent renders the bundle with two-space indentation, the form
// written to proof files.
func (b *Bundle) MarshalIndent() ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
