package chain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/echoproof/echo/internal/contenthash"
)

// Chain is an immutable revision chain. The zero value is not usable; create
// chains with New or FromRevisions.
type Chain struct {
	mode      contenthash.Mode
	order     []string
	revisions map[string]Revision
	fileIndex map[string]string
	finalHash string
	now       func() time.Time
}

// Option adjusts a single chain operation.
type Option func(*options)

type options struct {
	mode        contenthash.Mode
	omitContent bool
	now         func() time.Time
}

// WithMode asserts the hashing mode the caller expects. An operation given a
// mode different from the chain's fails with ErrInconsistentHashingMode.
func WithMode(m contenthash.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithoutContent records only the file hash, not the payload itself.
func WithoutContent() Option {
	return func(o *options) { o.omitContent = true }
}

// WithClock overrides the time source. Honoured by New.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// New returns an empty chain that will hash every revision under mode.
func New(mode contenthash.Mode, opts ...Option) (*Chain, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInconsistentHashingMode, string(mode))
	}
	o := collect(opts)
	now := o.now
	if now == nil {
		now = time.Now
	}
	return &Chain{
		mode:      mode,
		revisions: make(map[string]Revision),
		fileIndex: make(map[string]string),
		now:       now,
	}, nil
}

// Mode returns the chain's hashing mode.
func (c *Chain) Mode() contenthash.Mode { return c.mode }

// Len returns the number of revisions.
func (c *Chain) Len() int { return len(c.order) }

// Finalized reports whether Finalize has been applied.
func (c *Chain) Finalized() bool { return c.finalHash != "" }

// FinalHash returns the hash of the finalize revision, or "".
func (c *Chain) FinalHash() string { return c.finalHash }

// Tip returns the hash of the most recently added revision, or "" when empty.
func (c *Chain) Tip() string {
	if len(c.order) == 0 {
		return ""
	}
	return c.order[len(c.order)-1]
}

// Genesis returns the hash of the first revision, or "" when empty.
func (c *Chain) Genesis() string {
	if len(c.order) == 0 {
		return ""
	}
	return c.order[0]
}

// Get returns the revision with the given hash. The returned Content must not
// be modified.
func (c *Chain) Get(hash string) (Revision, bool) {
	r, ok := c.revisions[hash]
	return r, ok
}

// Hashes returns revision hashes in causal order.
func (c *Chain) Hashes() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// FileIndex returns a copy of the revision hash → filename index.
func (c *Chain) FileIndex() map[string]string {
	out := make(map[string]string, len(c.fileIndex))
	for k, v := range c.fileIndex {
		out[k] = v
	}
	return out
}

// Revisions returns a copy of the revision map.
func (c *Chain) Revisions() map[string]Revision {
	out := make(map[string]Revision, len(c.revisions))
	for k, v := range c.revisions {
		out[k] = v
	}
	return out
}

// Begin adds the Genesis revision for the first chunk.
func (c *Chain) Begin(firstChunk []byte, name string, opts ...Option) (*Chain, error) {
	o := collect(opts)
	if err := c.checkMode(o); err != nil {
		return nil, err
	}
	if len(c.order) > 0 {
		return nil, ErrAlreadyStarted
	}
	rev := c.fileRevision(KindGenesis, "", firstChunk, o)
	return c.with(rev, name), nil
}

// AppendChunk adds a Content revision for chunk, linked to previousHash, which
// must be the current tip.
func (c *Chain) AppendChunk(chunk []byte, name, previousHash string, opts ...Option) (*Chain, error) {
	o := collect(opts)
	if err := c.checkMode(o); err != nil {
		return nil, err
	}
	if len(c.order) == 0 {
		return nil, ErrNotStarted
	}
	if c.Finalized() {
		return nil, ErrAlreadyFinalized
	}
	if previousHash != c.Tip() {
		return nil, fmt.Errorf("%w: got %q, tip is %q", ErrChainDiscontinuity, previousHash, c.Tip())
	}
	rev := c.fileRevision(KindContent, previousHash, chunk, o)
	return c.with(rev, name), nil
}

// Sign adds a Signature revision attesting to previousHash. The signature is
// recorded verbatim; it must be the signer's EIP-191 signature over
// SignMessage(previousHash).
func (c *Chain) Sign(previousHash, signature, signerAddress string) (*Chain, error) {
	if err := c.linkable(previousHash); err != nil {
		return nil, err
	}
	rev := Revision{
		Type:          KindSignature,
		PreviousHash:  previousHash,
		Timestamp:     FormatTimestamp(c.now()),
		Signature:     signature,
		SignerAddress: signerAddress,
		SignatureType: SignatureTypeEIP191,
	}
	return c.with(rev, ""), nil
}

// Finalize adds the closing Content revision whose payload is the ordered
// concatenation of every chunk. It can be applied once.
func (c *Chain) Finalize(chunks [][]byte, name, previousHash string, opts ...Option) (*Chain, error) {
	o := collect(opts)
	if err := c.checkMode(o); err != nil {
		return nil, err
	}
	if c.Finalized() {
		return nil, ErrAlreadyFinalized
	}
	if err := c.linkable(previousHash); err != nil {
		return nil, err
	}
	rev := c.fileRevision(KindContent, previousHash, bytes.Join(chunks, nil), o)
	next := c.with(rev, name)
	next.finalHash = next.Tip()
	return next, nil
}

// linkable validates that hash exists and is the tip.
func (c *Chain) linkable(hash string) error {
	if len(c.order) == 0 {
		return ErrNotStarted
	}
	if _, ok := c.revisions[hash]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRevision, hash)
	}
	if hash != c.Tip() {
		return fmt.Errorf("%w: %q is not the tip %q", ErrChainDiscontinuity, hash, c.Tip())
	}
	return nil
}

func (c *Chain) checkMode(o options) error {
	if o.mode != "" && o.mode != c.mode {
		return fmt.Errorf("%w: chain uses %s, operation requested %s", ErrInconsistentHashingMode, c.mode, o.mode)
	}
	return nil
}

func (c *Chain) fileRevision(kind Kind, prev string, payload []byte, o options) Revision {
	rev := Revision{
		Type:         kind,
		PreviousHash: prev,
		Timestamp:    FormatTimestamp(c.now()),
		FileHash:     contenthash.SumHex(c.mode, payload),
		HashingMode:  c.mode,
	}
	if !o.omitContent && len(payload) > 0 {
		rev.Content = append([]byte(nil), payload...)
	}
	return rev
}

// with returns a copy of c with rev appended. name, when non-empty, is
// recorded in the file index.
func (c *Chain) with(rev Revision, name string) *Chain {
	hash := rev.Hash(c.mode)

	next := &Chain{
		mode:      c.mode,
		order:     make([]string, len(c.order), len(c.order)+1),
		revisions: make(map[string]Revision, len(c.revisions)+1),
		fileIndex: make(map[string]string, len(c.fileIndex)+1),
		finalHash: c.finalHash,
		now:       c.now,
	}
	copy(next.order, c.order)
	for k, v := range c.revisions {
		next.revisions[k] = v
	}
	for k, v := range c.fileIndex {
		next.fileIndex[k] = v
	}

	next.order = append(next.order, hash)
	next.revisions[hash] = rev
	if name != "" {
		next.fileIndex[hash] = name
	}
	return next
}
