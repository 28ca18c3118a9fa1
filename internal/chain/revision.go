package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/wire"
)

// TimestampLayout is the fixed 14-digit UTC encoding of local_timestamp.
const TimestampLayout = "20060102150405"

// SignatureTypeEIP191 identifies an Ethereum personal_sign signature.
const SignatureTypeEIP191 = "ethereum:eip-191"

var (
	ErrChainDiscontinuity      = errors.New("chain: previous hash is not the chain tip")
	ErrUnknownRevision         = errors.New("chain: unknown revision")
	ErrInconsistentHashingMode = errors.New("chain: inconsistent hashing mode")
	ErrAlreadyStarted          = errors.New("chain: already started")
	ErrNotStarted              = errors.New("chain: not started")
	ErrAlreadyFinalized        = errors.New("chain: already finalized")
)

// Kind tags the revision variant.
type Kind string

const (
	KindGenesis   Kind = "genesis"
	KindContent   Kind = "file"
	KindSignature Kind = "signature"
)

// Revision is a single immutable entry in the chain.
type Revision struct {
	Type          Kind             `json:"revision_type"                        mapstructure:"revision_type"`
	PreviousHash  string           `json:"previous_verification_hash,omitempty" mapstructure:"previous_verification_hash"`
	Timestamp     string           `json:"local_timestamp"                      mapstructure:"local_timestamp"`
	FileHash      string           `json:"file_hash,omitempty"                  mapstructure:"file_hash"`
	Content       wire.Bytes       `json:"content,omitempty"                    mapstructure:"content"`
	HashingMode   contenthash.Mode `json:"hashing_mode,omitempty"               mapstructure:"hashing_mode"`
	Signature     string           `json:"signature,omitempty"                  mapstructure:"signature"`
	SignerAddress string           `json:"signature_wallet_address,omitempty"   mapstructure:"signature_wallet_address"`
	SignatureType string           `json:"signature_type,omitempty"             mapstructure:"signature_type"`
}

// HasContent reports whether the revision embeds a payload.
func (r *Revision) HasContent() bool {
	return len(r.Content) > 0
}

// CarriesFile reports whether the revision declares a file hash, i.e. it is a
// Genesis or Content revision.
func (r *Revision) CarriesFile() bool {
	return r.Type == KindGenesis || r.Type == KindContent
}

// Time parses the revision's local timestamp.
func (r *Revision) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

// Hash computes the revision hash under mode m. The embedded content is not
// hashed directly; it is bound through FileHash.
func (r *Revision) Hash(m contenthash.Mode) string {
	return contenthash.Fields(m, [][2]string{
		{"revision_type", string(r.Type)},
		{"previous_verification_hash", r.PreviousHash},
		{"local_timestamp", r.Timestamp},
		{"file_hash", r.FileHash},
		{"hashing_mode", string(r.HashingMode)},
		{"signature", r.Signature},
		{"signature_wallet_address", r.SignerAddress},
		{"signature_type", r.SignatureType},
	}).Hex()
}

// SignMessage is the exact message an external signer must sign to attest to
// the revision identified by hash.
func SignMessage(hash string) string {
	return fmt.Sprintf("I sign this revision: [%s]", hash)
}

// FormatTimestamp renders t in the 14-digit local_timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a 14-digit local_timestamp as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) != len(TimestampLayout) {
		return time.Time{}, fmt.Errorf("timestamp %q: want %d digits", s, len(TimestampLayout))
	}
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}
