package evm_test

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/echoproof/echo/internal/evm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known vector: private key 0x...01 controls this address.
const (
	keyOne     = "0000000000000000000000000000000000000000000000000000000000000001"
	addressOne = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

func TestKeccak256_empty(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(evm.Keccak256(nil)),
	)
}

func TestNewKeySigner_address(t *testing.T) {
	s, err := evm.NewKeySigner(keyOne)
	require.NoError(t, err)
	assert.Equal(t, addressOne, s.Address())

	_, err = evm.NewKeySigner("zz")
	assert.ErrorIs(t, err, evm.ErrInvalidKey)
}

func TestSignAndRecover(t *testing.T) {
	s, err := evm.NewKeySigner(keyOne)
	require.NoError(t, err)

	msg := "I sign this revision: [abc123]"
	sig, err := s.Sign(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, addressOne, sig.Address)
	assert.Len(t, sig.Signature, 2+2*evm.SignatureLen)

	got, err := evm.RecoverAddress(msg, sig.Signature)
	require.NoError(t, err)
	assert.Equal(t, addressOne, got)

	require.NoError(t, evm.Verify(msg, sig.Signature, strings.ToLower(addressOne)))
	assert.ErrorIs(t, evm.Verify("I sign this revision: [abc124]", sig.Signature, addressOne), evm.ErrAddressMismatch)
}

func TestVerify_lowRecoveryID(t *testing.T) {
	s, err := evm.GenerateKeySigner()
	require.NoError(t, err)
	sig, err := s.Sign(context.Background(), "hello")
	require.NoError(t, err)

	raw, err := hex.DecodeString(sig.Signature[2:])
	require.NoError(t, err)
	raw[64] -= 27
	assert.NoError(t, evm.Verify("hello", "0x"+hex.EncodeToString(raw), s.Address()))
}

func TestDecodeSignature_rejects(t *testing.T) {
	for _, bad := range []string{"", "0x1234", "0x" + strings.Repeat("00", 64) + "05", "not hex"} {
		_, err := evm.DecodeSignature(bad)
		assert.ErrorIs(t, err, evm.ErrInvalidSignature, bad)
	}
}

func TestVerify_invalidAddress(t *testing.T) {
	assert.ErrorIs(t, evm.Verify("m", "0x00", "0x123"), evm.ErrInvalidAddress)
}

func TestChecksumAddress(t *testing.T) {
	// EIP-55 reference vectors.
	for _, want := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	} {
		got, err := evm.NormalizeAddress(strings.ToLower(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSignerFunc(t *testing.T) {
	var called string
	s := evm.SignerFunc(func(_ context.Context, m string) (evm.Signature, error) {
		called = m
		return evm.Signature{Signature: "0x", Address: addressOne}, nil
	})
	_, err := s.Sign(context.Background(), "msg")
	require.NoError(t, err)
	assert.Equal(t, "msg", called)
}

func TestKeySigner_signIsDeterministic(t *testing.T) {
	s, err := evm.NewKeySigner(keyOne)
	require.NoError(t, err)

	a, err := s.Sign(context.Background(), "I sign this revision: [ff00]")
	require.NoError(t, err)
	b, err := s.Sign(context.Background(), "I sign this revision: [ff00]")
	require.NoError(t, err)
	assert.Equal(t, a.Signature, b.Signature)

	raw, err := hex.DecodeString(a.Signature[2:])
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, raw[64])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sign(ctx, "late")
	assert.ErrorIs(t, err, context.Canceled)
}
