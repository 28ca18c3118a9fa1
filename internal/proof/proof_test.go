package proof_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/echoproof/echo/internal/chain"
	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/proof"
	"github.com/echoproof/echo/internal/witness"
	"github.com/echoproof/echo/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChain(t *testing.T) *chain.Chain {
	t.Helper()
	clock := chain.WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) })
	c, err := chain.New(contenthash.Scalar, clock)
	require.NoError(t, err)
	chunks := [][]byte{{0x00, 0x01}, {0xff}}
	c, err = c.Begin(chunks[0], "chunk_0.webm")
	require.NoError(t, err)
	c, err = c.AppendChunk(chunks[1], "chunk_1.webm", c.Tip())
	require.NoError(t, err)
	c, err = c.Finalize(chunks, "recording_combined.webm", c.Tip())
	require.NoError(t, err)
	return c
}

func sampleBundle(t *testing.T) *proof.Bundle {
	return proof.New(sampleChain(t), proof.Metadata{
		TotalChunks:    2,
		Duration:       4,
		ChunkDuration:  2,
		Signer:         "0xAbC",
		AnchorIdentity: "npub1xyz",
		Witnesses: []witness.Checkpoint{
			{ChunkIndex: 1, VerificationHash: "h", EventID: "ev", Relays: []string{"wss://r"}, Timestamp: 1700000000000},
		},
	})
}

func TestJSON_roundTrip(t *testing.T) {
	b := sampleBundle(t)
	data, err := json.Marshal(b)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"aquaTree":{"revisions":{`)
	assert.Contains(t, string(data), `"`+wire.Tag+`"`)
	assert.Contains(t, string(data), `"totalChunks":2`)

	back, err := proof.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, b.Tree.Order, back.Tree.Order)
	assert.Equal(t, b.Tree.FileIndex, back.Tree.FileIndex)
	assert.Equal(t, b.Metadata, back.Metadata)
	for h, rev := range b.Tree.Revisions {
		assert.Equal(t, rev, back.Tree.Revisions[h], h)
	}

	c, err := back.Tree.Chain()
	require.NoError(t, err)
	assert.Equal(t, b.Tree.Order[len(b.Tree.Order)-1], c.FinalHash())
}

func TestCBOR_roundTrip(t *testing.T) {
	b := sampleBundle(t)
	data, err := b.MarshalCBOR()
	require.NoError(t, err)
	assert.NotContains(t, string(data), wire.Tag, "CBOR carries bytes natively")

	back, err := proof.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, b.Tree.Order, back.Tree.Order)
	assert.Equal(t, b.Metadata, back.Metadata)
	for h, rev := range b.Tree.Revisions {
		assert.Equal(t, rev, back.Tree.Revisions[h], h)
	}
}

func TestParse_legacyMetadataKeys(t *testing.T) {
	data, err := json.Marshal(sampleBundle(t))
	require.NoError(t, err)
	legacy := strings.Replace(string(data), `"signer":"0xAbC"`, `"privyWallet":"0xDeF"`, 1)
	legacy = strings.Replace(legacy, `"anchorIdentity":"npub1xyz"`, `"nostrPubkey":"npub1old"`, 1)

	b, err := proof.Parse([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, "0xDeF", b.Metadata.Signer)
	assert.Equal(t, "npub1old", b.Metadata.AnchorIdentity)
}

func TestParse_untaggedContentIsMalformedWire(t *testing.T) {
	doc := `{"aquaTree":{"revisions":{"aa":{"revision_type":"genesis","local_timestamp":"20250102030405","file_hash":"x","hashing_mode":"scalar","content":"AAE="}},"file_index":{}},"metadata":{}}`
	_, err := proof.Parse([]byte(doc))
	assert.ErrorIs(t, err, wire.ErrMalformedWire)

	doc = strings.Replace(doc, `"content":"AAE="`, `"content":{"__bytes__":42}`, 1)
	_, err = proof.Parse([]byte(doc))
	assert.ErrorIs(t, err, wire.ErrMalformedWire)
}

func TestParse_brokenChainStillParses(t *testing.T) {
	doc := `{"aquaTree":{"revisions":{
		"aa":{"revision_type":"genesis","local_timestamp":"20250102030405","file_hash":"x","hashing_mode":"scalar"},
		"bb":{"revision_type":"file","previous_verification_hash":"missing","local_timestamp":"20250102030406","file_hash":"y","hashing_mode":"scalar"}
	},"file_index":{"aa":"a.webm"}},"metadata":{"totalChunks":2}}`
	b, err := proof.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Nil(t, b.Tree.Order)
	assert.Len(t, b.Tree.Revisions, 2)
	assert.Equal(t, []string{"aa", "bb"}, b.Tree.Hashes())
	assert.Equal(t, 2, b.Metadata.TotalChunks)

	_, err = b.Tree.Chain()
	assert.ErrorIs(t, err, chain.ErrChainDiscontinuity)
}

func TestParse_rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":        "",
		"array":        "[1,2]",
		"no revisions": `{"metadata":{}}`,
		"bad json":     `{"aquaTree":`,
	} {
		_, err := proof.Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParse_depthLimit(t *testing.T) {
	deep := strings.Repeat(`{"x":`, 40) + "1" + strings.Repeat("}", 40)
	doc := `{"aquaTree":{"revisions":{}},"metadata":{"extra":` + deep + `}}`
	_, err := proof.Decoder{MaxDepth: 16}.Parse([]byte(doc))
	assert.ErrorIs(t, err, wire.ErrMalformedWire)

	_, err = proof.Decoder{MaxDepth: 64}.Parse([]byte(doc))
	assert.NoError(t, err)
}

func TestTree_Lookup(t *testing.T) {
	b := sampleBundle(t)
	h, ok := b.Tree.Lookup("recording_combined.webm")
	require.True(t, ok)
	assert.Equal(t, b.Tree.Order[len(b.Tree.Order)-1], h)

	_, ok = b.Tree.Lookup("nope.webm")
	assert.False(t, ok)
}

func TestMarshalIndent(t *testing.T) {
	out, err := sampleBundle(t).MarshalIndent()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "{\n  \"aquaTree\": {"))
}
