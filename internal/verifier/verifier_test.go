package verifier_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/echoproof/echo/internal/chain"
	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/proof"
	"github.com/echoproof/echo/internal/verifier"
	"github.com/echoproof/echo/internal/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var chunks = [][]byte{[]byte("chunk-zero"), []byte("chunk-one"), []byte("chunk-two")}

// signedBundle builds a chain the way a recording session does: each chunk
// revision is signed, then the final revision is added and signed.
func signedBundle(t *testing.T, mode contenthash.Mode) *proof.Bundle {
	t.Helper()
	signer, err := evm.NewKeySigner(testKey)
	require.NoError(t, err)
	ctx := context.Background()

	tick := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := chain.WithClock(func() time.Time {
		tick = tick.Add(2 * time.Second)
		return tick
	})
	c, err := chain.New(mode, clock)
	require.NoError(t, err)

	sign := func() {
		sig, err := signer.Sign(ctx, chain.SignMessage(c.Tip()))
		require.NoError(t, err)
		c, err = c.Sign(c.Tip(), sig.Signature, sig.Address)
		require.NoError(t, err)
	}

	for i, ch := range chunks {
		name := []string{"chunk_0.webm", "chunk_1.webm", "chunk_2.webm"}[i]
		if i == 0 {
			c, err = c.Begin(ch, name)
		} else {
			c, err = c.AppendChunk(ch, name, c.Tip())
		}
		require.NoError(t, err)
		sign()
	}
	c, err = c.Finalize(chunks, "recording_combined.webm", c.Tip())
	require.NoError(t, err)
	sign()

	genesis := c.Genesis()
	return proof.New(c, proof.Metadata{
		TotalChunks:   len(chunks),
		Duration:      6,
		ChunkDuration: 2,
		Signer:        signer.Address(),
		Witnesses: []witness.Checkpoint{
			{ChunkIndex: 0, VerificationHash: genesis, EventID: "ev1", Relays: []string{"wss://r"}},
			{ChunkIndex: 2, VerificationHash: "not-in-chain", EventID: "ev2"},
		},
	})
}

func newVerifier() *verifier.Verifier {
	return verifier.New(0, zap.NewNop())
}

func combined() []byte {
	return []byte(strings.Join([]string{"chunk-zero", "chunk-one", "chunk-two"}, ""))
}

func TestVerify_validChain(t *testing.T) {
	for _, mode := range []contenthash.Mode{contenthash.Scalar, contenthash.Tree} {
		b := signedBundle(t, mode)
		r := newVerifier().Verify(b)

		assert.True(t, r.Valid, "%s: %+v", mode, r.Issues)
		assert.True(t, r.StructureValid)
		assert.False(t, r.ContentChecked)
		assert.Empty(t, r.Issues)
		assert.Equal(t, mode, r.HashingMode)
		assert.Equal(t, 8, r.TotalRevisions)
		assert.Equal(t, 4, r.ContentRevisions)
		assert.Equal(t, 4, r.SignatureRevisions)
		assert.Equal(t, b.Metadata.Signer, r.Signer)
		require.Len(t, r.Timestamps, 8)
		assert.Equal(t, 14*time.Second, r.Interval())
		assert.Equal(t, r.FirstSeen.Add(-2*time.Second), *r.EstimatedStart)
		require.Len(t, r.Witnesses, 2)
		assert.True(t, r.Witnesses[0].InChain)
		assert.False(t, r.Witnesses[1].InChain)
	}
}

func TestVerify_roundTripThroughJSON(t *testing.T) {
	data, err := json.Marshal(signedBundle(t, contenthash.Tree))
	require.NoError(t, err)
	r := newVerifier().VerifyBytes(data)
	assert.True(t, r.Valid, "%+v", r.Issues)
}

func TestVerify_contentPhase(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)

	r := newVerifier().Verify(b, verifier.File{Name: "recording_combined.webm", Data: combined()})
	assert.True(t, r.Valid)
	assert.True(t, r.ContentChecked)
	assert.True(t, r.ContentValid)
	f, ok := r.File("recording_combined.webm")
	require.True(t, ok)
	assert.Equal(t, verifier.StatusUnaltered, f.Status)
	f, _ = r.File("chunk_1.webm")
	assert.Equal(t, verifier.StatusMetadataOnly, f.Status)

	flipped := combined()
	flipped[3] ^= 0x01
	r = newVerifier().Verify(b,
		verifier.File{Name: "recording_combined.webm", Data: flipped},
		verifier.File{Name: "stranger.webm", Data: []byte("x")},
	)
	assert.False(t, r.Valid)
	assert.True(t, r.StructureValid, "tampered media is not a structural defect")
	assert.False(t, r.ContentValid)
	f, _ = r.File("recording_combined.webm")
	assert.Equal(t, verifier.StatusTampered, f.Status)
	assert.NotEqual(t, f.ExpectedHash, f.ActualHash)
	f, _ = r.File("stranger.webm")
	assert.Equal(t, verifier.StatusUnindexed, f.Status)
}

func TestVerify_embeddedContentTampered(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)
	h := b.Tree.Order[0]
	rev := b.Tree.Revisions[h]
	rev.Content = append([]byte(nil), rev.Content...)
	rev.Content[0] ^= 0x80
	b.Tree.Revisions[h] = rev

	r := newVerifier().Verify(b)
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindContentHashMismatch))
	assert.False(t, r.Has(verifier.KindRevisionHashMismatch), "content is bound through file_hash only")
}

func TestVerify_badSignature(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)
	other, err := evm.GenerateKeySigner()
	require.NoError(t, err)

	// Replace the first signature revision with one by a different key that
	// still claims the original address. The hash is recomputed so only the
	// signature check fails.
	sigHash := b.Tree.Order[1]
	rev := b.Tree.Revisions[sigHash]
	forged, err := other.Sign(context.Background(), chain.SignMessage(rev.PreviousHash))
	require.NoError(t, err)
	rev.Signature = forged.Signature
	rehash(b, sigHash, rev)

	r := newVerifier().Verify(b)
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindInvalidSignature), "%+v", r.Issues)
	assert.False(t, r.Has(verifier.KindChainDiscontinuity), "%+v", r.Issues)
}

// rehash stores rev under its recomputed hash and relinks its successor.
func rehash(b *proof.Bundle, old string, rev chain.Revision) {
	next := rev.Hash(contenthash.Scalar)
	delete(b.Tree.Revisions, old)
	b.Tree.Revisions[next] = rev
	for h, r := range b.Tree.Revisions {
		if r.PreviousHash == old {
			r.PreviousHash = next
			b.Tree.Revisions[h] = r
		}
	}
	b.Tree.Order = nil
}

func TestVerify_discontinuity(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)
	delete(b.Tree.Revisions, b.Tree.Order[2])
	b.Tree.Order = nil

	r := newVerifier().Verify(b)
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindChainDiscontinuity))
}

func TestVerify_revisionHashMismatch(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)
	h := b.Tree.Order[2]
	rev := b.Tree.Revisions[h]
	rev.Timestamp = "20990101000000"
	b.Tree.Revisions[h] = rev

	r := newVerifier().Verify(b)
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindRevisionHashMismatch))
}

func TestVerify_mixedModes(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)
	h := b.Tree.Order[2]
	rev := b.Tree.Revisions[h]
	rev.HashingMode = contenthash.Tree
	b.Tree.Revisions[h] = rev

	r := newVerifier().Verify(b)
	assert.True(t, r.Has(verifier.KindInconsistentHashingMode))
	assert.False(t, r.Valid)
}

func TestVerifyBytes_malformedWire(t *testing.T) {
	doc := `{"aquaTree":{"revisions":{"aa":{"revision_type":"genesis","local_timestamp":"20250101000000","file_hash":"x","hashing_mode":"scalar","content":{"__bytes__":"***"}}},"file_index":{}},"metadata":{}}`
	r := newVerifier().VerifyBytes([]byte(doc))
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindMalformedWire))

	r = newVerifier().VerifyBytes([]byte(`not a bundle`))
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindMalformedBundle))
}

func TestVerify_malformedTimestampsDropped(t *testing.T) {
	b := signedBundle(t, contenthash.Scalar)
	h := b.Tree.Order[0]
	rev := b.Tree.Revisions[h]
	rev.Timestamp = "yesterday"
	b.Tree.Revisions[h] = rev

	r := newVerifier().Verify(b)
	assert.Len(t, r.Timestamps, 7)
}

func TestVerify_nilBundleAndMetrics(t *testing.T) {
	v := newVerifier()
	var results []bool
	v.SetMetricsRecord(func(ok bool) { results = append(results, ok) })

	r := v.Verify(nil)
	assert.False(t, r.Valid)
	assert.True(t, r.Has(verifier.KindMalformedBundle))

	v.Verify(signedBundle(t, contenthash.Scalar))
	assert.Equal(t, []bool{false, true}, results)
}

func TestVerify_panicBecomesInternalIssue(t *testing.T) {
	restore := verifier.PanicInPhases("index out of range")
	defer restore()

	v := newVerifier()
	var results []bool
	v.SetMetricsRecord(func(ok bool) { results = append(results, ok) })

	r := v.Verify(signedBundle(t, contenthash.Scalar), verifier.File{Name: "recording_combined.webm", Data: []byte("x")})
	assert.False(t, r.Valid)
	assert.False(t, r.StructureValid)
	require.Len(t, r.Issues, 1)
	assert.True(t, r.Has(verifier.KindInternal))
	assert.Contains(t, r.Issues[0].Message, "index out of range")
	assert.NotNil(t, r.Timestamps)
	assert.NotNil(t, r.Witnesses)
	assert.Equal(t, []bool{false}, results, "metrics recorded once")

	data, err := json.Marshal(signedBundle(t, contenthash.Scalar))
	require.NoError(t, err)
	assert.True(t, v.VerifyBytes(data).Has(verifier.KindInternal), "VerifyBytes recovers too")
}
