// Package contenthash implements the two hashing modes a revision chain can
// use. The mode is chosen once per chain and passed explicitly to every call.
//
//   - Scalar: SHA-256 over the whole input.
//   - Tree:   BLAKE3 keyed hashes over fixed-size leaves, folded into a binary
//     Merkle root. Odd nodes are promoted, never duplicated.
//
// Digests are rendered as lower-case hex without a 0x prefix.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Mode selects the hashing algorithm for a chain.
type Mode string

const (
	Scalar Mode = "scalar"
	Tree   Mode = "tree"
)

// LeafSize is the number of content bytes per Merkle leaf in Tree mode.
const LeafSize = 64 << 10

// Digest is a 32-byte hash. Both modes produce digests of this size.
type Digest [32]byte

// Hex returns the canonical text form of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// ParseMode converts a configuration or wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Scalar, Tree:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown hashing mode %q", s)
	}
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m == Scalar || m == Tree
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return string(m)
}

// Sum hashes data under mode m. It panics on an invalid mode; callers validate
// modes at the boundary with ParseMode.
func Sum(m Mode, data []byte) Digest {
	switch m {
	case Scalar:
		return sha256.Sum256(data)
	case Tree:
		return treeSum(data)
	default:
		panic(fmt.Sprintf("contenthash: invalid mode %q", string(m)))
	}
}

// SumHex is Sum rendered as hex.
func SumHex(m Mode, data []byte) string {
	return Sum(m, data).Hex()
}

// Equal reports whether data hashes to the hex digest want under mode m.
func Equal(m Mode, data []byte, want string) bool {
	return m.Valid() && SumHex(m, data) == want
}

// Fields hashes an ordered list of named fields. Scalar mode hashes the
// "|"-joined "name=value" encoding; Tree mode builds a Merkle root with one
// leaf per field. Used for revision identifiers.
func Fields(m Mode, fields [][2]string) Digest {
	switch m {
	case Scalar:
		h := sha256.New()
		for i, f := range fields {
			if i > 0 {
				h.Write([]byte{'|'})
			}
			fmt.Fprintf(h, "%s=%s", f[0], f[1])
		}
		var d Digest
		copy(d[:], h.Sum(nil))
		return d
	case Tree:
		leaves := make([]Digest, len(fields))
		for i, f := range fields {
			leaves[i] = keyedHash(fieldDomainKey, []byte(f[0]+"="+f[1]))
		}
		if len(leaves) == 0 {
			return keyedHash(fieldDomainKey, nil)
		}
		return merkleRoot(leaves)
	default:
		panic(fmt.Sprintf("contenthash: invalid mode %q", string(m)))
	}
}

type domainKey [32]byte

// Domain separation keys: ASCII names zero-padded to 32 bytes. Changing them
// invalidates every existing tree-mode chain.
var (
	leafDomainKey = domainKey{
		'e', 'c', 'h', 'o', '.', 'c', 'o', 'n', 't', 'e', 'n', 't', '.', 'l', 'e', 'a', 'f',
	}
	nodeDomainKey = domainKey{
		'e', 'c', 'h', 'o', '.', 'c', 'o', 'n', 't', 'e', 'n', 't', '.', 'n', 'o', 'd', 'e',
	}
	fieldDomainKey = domainKey{
		'e', 'c', 'h', 'o', '.', 'r', 'e', 'v', 'i', 's', 'i', 'o', 'n', '.', 'f', 'i', 'e', 'l', 'd',
	}
)

func keyedHash(key domainKey, data []byte) Digest {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func treeSum(data []byte) Digest {
	if len(data) == 0 {
		return keyedHash(leafDomainKey, nil)
	}
	leaves := make([]Digest, 0, (len(data)+LeafSize-1)/LeafSize)
	for off := 0; off < len(data); off += LeafSize {
		end := min(off+LeafSize, len(data))
		leaves = append(leaves, keyedHash(leafDomainKey, data[off:end]))
	}
	return merkleRoot(leaves)
}

// merkleRoot folds leaves pairwise with the node domain key. A single leaf is
// still hashed once more so a one-leaf tree never equals its leaf digest.
func merkleRoot(leaves []Digest) Digest {
	hasher, err := blake3.NewKeyed(nodeDomainKey[:])
	if err != nil {
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var combined [64]byte
	pair := func(left, right Digest) Digest {
		copy(combined[:32], left[:])
		copy(combined[32:], right[:])
		hasher.Reset()
		hasher.Write(combined[:])
		var d Digest
		copy(d[:], hasher.Sum(nil))
		return d
	}

	if len(leaves) == 1 {
		return pair(leaves[0], Digest{})
	}

	level := make([]Digest, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]Digest, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next[i/2] = pair(level[i], level[i+1])
		}
		if len(level)%2 == 1 {
			next[len(next)-1] = level[len(level)-1]
		}
		level = next
	}
	return level[0]
}
