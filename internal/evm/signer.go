package evm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Signature is a personal-message signature together with the address that
// produced it.
type Signature struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// Signer is the wallet / identity provider. It signs an arbitrary text message
// with EIP-191 personal_sign semantics.
type Signer interface {
	Sign(ctx context.Context, message string) (Signature, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, message string) (Signature, error)

// Sign calls f.
func (f SignerFunc) Sign(ctx context.Context, message string) (Signature, error) {
	return f(ctx, message)
}

// KeySigner signs with a local secp256k1 private key. Used by the CLI for
// offline sessions and by tests.
type KeySigner struct {
	key     *btcec.PrivateKey
	address string
}

// NewKeySigner parses a hex-encoded 32-byte private key.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &KeySigner{key: priv, address: PubkeyToAddress(pub)}, nil
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewKeySigner(hex.EncodeToString(raw))
}

// Address returns the checksummed address of the key.
func (s *KeySigner) Address() string { return s.address }

// PrivateKeyHex returns the key as 0x-prefixed hex.
func (s *KeySigner) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(s.key.Serialize())
}

// Sign produces a 0x-prefixed r || s || v signature with v in {27, 28}.
func (s *KeySigner) Sign(ctx context.Context, message string) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	compact := ecdsa.SignCompact(s.key, PersonalMessageHash([]byte(message)), false)
	// compact is header || r || s with header = 27 + recovery id for
	// uncompressed keys.
	out := make([]byte, SignatureLen)
	copy(out, compact[1:])
	out[64] = compact[0]
	return Signature{Signature: "0x" + hex.EncodeToString(out), Address: s.address}, nil
}
