package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KindTextNote is the NIP-01 short text note kind.
const KindTextNote = 1

var ErrInvalidEvent = errors.New("nostr: invalid event")

// Event is a NIP-01 event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// NewTextNote returns an unsigned kind-1 event.
func NewTextNote(content string, tags [][]string, at time.Time) *Event {
	if tags == nil {
		tags = [][]string{}
	}
	return &Event{
		CreatedAt: at.Unix(),
		Kind:      KindTextNote,
		Tags:      tags,
		Content:   content,
	}
}

// serialize renders the canonical [0,pubkey,created_at,kind,tags,content]
// array that the event id commits to.
func (e *Event) serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash computes the event id digest.
func (e *Event) Hash() ([]byte, error) {
	ser, err := e.serialize()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(ser)
	return sum[:], nil
}

// Sign fills PubKey, ID and Sig.
func (e *Event) Sign(k *Keys) error {
	e.PubKey = k.PublicKeyHex()
	id, err := e.Hash()
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(k.priv, id)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.ID = hex.EncodeToString(id)
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the id and BIP-340 signature.
func (e *Event) Verify() error {
	id, err := e.Hash()
	if err != nil {
		return err
	}
	if hex.EncodeToString(id) != e.ID {
		return fmt.Errorf("%w: id does not match content", ErrInvalidEvent)
	}
	pubRaw, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrInvalidEvent, err)
	}
	pub, err := schnorr.ParsePubKey(pubRaw)
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrInvalidEvent, err)
	}
	sigRaw, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("%w: sig: %v", ErrInvalidEvent, err)
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return fmt.Errorf("%w: sig: %v", ErrInvalidEvent, err)
	}
	if !sig.Verify(id, pub) {
		return fmt.Errorf("%w: bad signature", ErrInvalidEvent)
	}
	return nil
}
