// Package evm implements the Ethereum personal-message (EIP-191) signature
// scheme used to attest to chain revisions and to sign in with a wallet.
package evm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidSignature = errors.New("evm: invalid signature")
	ErrAddressMismatch  = errors.New("evm: signature does not match address")
	ErrInvalidAddress   = errors.New("evm: invalid address")
	ErrInvalidKey       = errors.New("evm: invalid private key")
)

// SignatureLen is the length of an r || s || v signature.
const SignatureLen = 65

// Keccak256 returns the legacy Keccak-256 digest used throughout Ethereum.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// PersonalMessageHash returns the EIP-191 version 0x45 digest of msg.
func PersonalMessageHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return Keccak256([]byte(prefix), msg)
}

// DecodeSignature parses a 0x-prefixed hex r || s || v signature. v may be
// 0/1 or 27/28.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != SignatureLen {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(raw), SignatureLen)
	}
	v := raw[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, raw[64])
	}
	raw[64] = v
	return raw, nil
}

// RecoverAddress returns the checksummed address that produced sig over the
// personal-message digest of msg.
func RecoverAddress(msg string, sig string) (string, error) {
	raw, err := DecodeSignature(sig)
	if err != nil {
		return "", err
	}
	// btcec compact form is header || r || s, header = 27 + recovery id.
	compact := make([]byte, SignatureLen)
	compact[0] = 27 + raw[64]
	copy(compact[1:], raw[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, PersonalMessageHash([]byte(msg)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PubkeyToAddress(pub), nil
}

// Verify checks that sig is address's personal signature over msg. Address
// comparison ignores checksum case.
func Verify(msg, sig, address string) error {
	if !IsAddress(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	got, err := RecoverAddress(msg, sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, address) {
		return fmt.Errorf("%w: recovered %s, declared %s", ErrAddressMismatch, got, address)
	}
	return nil
}

// PubkeyToAddress derives the EIP-55 checksummed address of pub.
func PubkeyToAddress(pub *btcec.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return ChecksumAddress(Keccak256(uncompressed[1:])[12:])
}

// ChecksumAddress renders a 20-byte address with EIP-55 mixed-case checksum.
func ChecksumAddress(addr []byte) string {
	lower := hex.EncodeToString(addr)
	digest := hex.EncodeToString(Keccak256([]byte(lower)))
	out := make([]byte, len(lower))
	for i := range lower {
		c := lower[i]
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// NormalizeAddress validates s and returns its checksummed form.
func NormalizeAddress(s string) (string, error) {
	if !IsAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	raw, _ := hex.DecodeString(s[2:])
	return ChecksumAddress(raw), nil
}
