// Package chain implements the append-only revision chain that proves a
// recording was produced progressively.
//
// A chain starts with a Genesis revision carrying the first audio chunk. Every
// later revision names its predecessor by revision hash, so the chain is a
// single path from Genesis to the tip. Content revisions carry further chunks
// (and finally the concatenation of all chunks); Signature revisions attest to
// the revision before them with an EIP-191 wallet signature over SignMessage.
//
// Chains are immutable values: each builder operation returns a new *Chain
// that differs from its receiver by exactly one revision, and leaves the
// receiver untouched when it fails.
package chain
