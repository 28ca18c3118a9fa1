package contenthash_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/echoproof/echo/internal/contenthash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalar_IsSHA256(t *testing.T) {
	data := []byte("audio chunk")
	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), contenthash.SumHex(contenthash.Scalar, data))
}

func TestTree_DiffersFromScalar(t *testing.T) {
	data := []byte("audio chunk")
	assert.NotEqual(t,
		contenthash.SumHex(contenthash.Scalar, data),
		contenthash.SumHex(contenthash.Tree, data),
	)
}

func TestTree_MultiLeafAvalanche(t *testing.T) {
	data := make([]byte, 3*contenthash.LeafSize+17)
	for i := range data {
		data[i] = byte(i)
	}
	base := contenthash.SumHex(contenthash.Tree, data)
	assert.Equal(t, base, contenthash.SumHex(contenthash.Tree, data), "deterministic")

	for _, pos := range []int{0, contenthash.LeafSize, len(data) - 1} {
		mutated := append([]byte(nil), data...)
		mutated[pos] ^= 0x01
		assert.NotEqual(t, base, contenthash.SumHex(contenthash.Tree, mutated), "flip at %d", pos)
	}

	// Truncation changes the root even when only the odd trailing leaf goes away.
	assert.NotEqual(t, base, contenthash.SumHex(contenthash.Tree, data[:3*contenthash.LeafSize]))
}

func TestTree_EmptyInput(t *testing.T) {
	assert.Len(t, contenthash.SumHex(contenthash.Tree, nil), 64)
	assert.NotEqual(t,
		contenthash.SumHex(contenthash.Tree, nil),
		contenthash.SumHex(contenthash.Tree, []byte{0}),
	)
}

func TestFields_OrderSensitive(t *testing.T) {
	a := [][2]string{{"a", "1"}, {"b", "2"}}
	b := [][2]string{{"b", "2"}, {"a", "1"}}
	for _, m := range []contenthash.Mode{contenthash.Scalar, contenthash.Tree} {
		assert.NotEqual(t, contenthash.Fields(m, a), contenthash.Fields(m, b), "mode %s", m)
	}
}

func TestParseMode(t *testing.T) {
	m, err := contenthash.ParseMode("tree")
	require.NoError(t, err)
	assert.Equal(t, contenthash.Tree, m)

	_, err = contenthash.ParseMode("merkle")
	assert.Error(t, err)
	assert.False(t, contenthash.Mode("").Valid())
}

func TestEqual(t *testing.T) {
	data := []byte("x")
	h := contenthash.SumHex(contenthash.Scalar, data)
	assert.True(t, contenthash.Equal(contenthash.Scalar, data, h))
	assert.False(t, contenthash.Equal(contenthash.Tree, data, h))
	assert.False(t, contenthash.Equal(contenthash.Mode("bogus"), data, h))
}
