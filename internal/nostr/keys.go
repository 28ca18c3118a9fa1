// Package nostr is a minimal Nostr client: deterministic key derivation from
// a wallet signature, NIP-01 event signing, and publishing to relays.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DerivationMessage is signed by the wallet to derive the anchor identity.
// Changing a single byte gives every user a different Nostr key.
const DerivationMessage = `ECHO - Derive Nostr Identity

This signature will be used to deterministically generate your Nostr keypair for witnessing audio recordings.

By signing this message, you authorize ECHO to derive a unique Nostr identity from your wallet signature.`

const (
	hrpPublic = "npub"
	hrpSecret = "nsec"
)

var ErrInvalidKey = errors.New("nostr: invalid key")

// Keys is a secp256k1 keypair used for BIP-340 event signatures.
type Keys struct {
	priv *btcec.PrivateKey
	pub  []byte // 32-byte x-only
}

// DeriveKeys turns a hex wallet signature (optionally 0x-prefixed) into a
// keypair whose secret is sha256(signature bytes).
func DeriveKeys(signature string) (*Keys, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: signature is not hex", ErrInvalidKey)
	}
	seed := sha256.Sum256(raw)
	return KeysFromSecret(seed[:])
}

// KeysFromSecret builds a keypair from a 32-byte secret.
func KeysFromSecret(secret []byte) (*Keys, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("%w: secret must be 32 bytes", ErrInvalidKey)
	}
	priv, pub := btcec.PrivKeyFromBytes(secret)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("%w: zero secret", ErrInvalidKey)
	}
	return &Keys{priv: priv, pub: schnorr.SerializePubKey(pub)}, nil
}

// ParseNsec decodes a bech32 nsec secret key.
func ParseNsec(s string) (*Keys, error) {
	secret, err := decodeBech32(hrpSecret, s)
	if err != nil {
		return nil, err
	}
	return KeysFromSecret(secret)
}

// PublicKeyHex returns the x-only public key as hex, the form used in events.
func (k *Keys) PublicKeyHex() string { return hex.EncodeToString(k.pub) }

// Npub returns the bech32 public key.
func (k *Keys) Npub() string {
	s, _ := encodeBech32(hrpPublic, k.pub)
	return s
}

// Nsec returns the bech32 secret key.
func (k *Keys) Nsec() string {
	s, _ := encodeBech32(hrpSecret, k.priv.Serialize())
	return s
}

// DecodeNpub returns the hex public key encoded in npub.
func DecodeNpub(npub string) (string, error) {
	pub, err := decodeBech32(hrpPublic, npub)
	if err != nil {
		return "", err
	}
	if _, err := schnorr.ParsePubKey(pub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return hex.EncodeToString(pub), nil
}

func encodeBech32(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

func decodeBech32(wantHRP, s string) ([]byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("%w: prefix %q, want %q", ErrInvalidKey, hrp, wantHRP)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: %d-byte payload", ErrInvalidKey, len(raw))
	}
	return raw, nil
}
