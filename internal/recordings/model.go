package recordings

import (
	"time"

	"github.com/google/uuid"
)

// User is a recording owner, keyed by EVM address.
type User struct {
	ID         uuid.UUID `json:"id"          db:"id"`
	Email      *string   `json:"email"       db:"email"`
	EVMAddress string    `json:"evm_address" db:"evm_address"`
	NostrNpub  *string   `json:"nostr_npub"  db:"nostr_npub"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"  db:"updated_at"`
}

// Recording points at the stored media and proof of one recording.
type Recording struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	UserID    uuid.UUID `json:"user_id"    db:"user_id"`
	AudioCID  string    `json:"audio_cid"  db:"audio_cid"`
	AquaCID   string    `json:"aqua_cid"   db:"aqua_cid"`
	IsPrivate bool      `json:"is_private" db:"is_private"`
	ShareID   string    `json:"share_id"   db:"share_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
