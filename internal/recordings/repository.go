package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a lookup finds no matching record.
	ErrNotFound = errors.New("recording not found")
	// ErrUserNotFound is returned when no user has the given address.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateShareID is returned when a generated share id collides.
	ErrDuplicateShareID = errors.New("share id already taken")
)

// PostgresRepository stores users and recordings in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// UpsertUser creates the user for u.EVMAddress or fills in missing email and
// npub on the existing row. u is updated from the stored row.
func (r *PostgresRepository) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	q := `
		INSERT INTO users (id, email, evm_address, nostr_npub, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (evm_address) DO UPDATE SET
			email      = COALESCE(EXCLUDED.email, users.email),
			nostr_npub = COALESCE(EXCLUDED.nostr_npub, users.nostr_npub),
			updated_at = EXCLUDED.updated_at
		RETURNING id, email, evm_address, nostr_npub, created_at, updated_at`
	row := r.db.QueryRow(ctx, q, uuid.New(), u.Email, u.EVMAddress, u.NostrNpub, now)
	if err := row.Scan(&u.ID, &u.Email, &u.EVMAddress, &u.NostrNpub, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUserByAddress retrieves a user by EVM address.
func (r *PostgresRepository) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	q := `
		SELECT id, email, evm_address, nostr_npub, created_at, updated_at
		FROM users WHERE evm_address = $1 LIMIT 1`
	var u User
	err := r.db.QueryRow(ctx, q, address).Scan(&u.ID, &u.Email, &u.EVMAddress, &u.NostrNpub, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CreateRecording inserts rec. ID and CreatedAt are set on rec.
func (r *PostgresRepository) CreateRecording(ctx context.Context, rec *Recording) error {
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()

	q := `
		INSERT INTO recordings (id, user_id, audio_cid, aqua_cid, is_private, share_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, q,
		rec.ID, rec.UserID, rec.AudioCID, rec.AquaCID, rec.IsPrivate, rec.ShareID, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "recordings_share_id_key" {
			return ErrDuplicateShareID
		}
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

// GetByShareID retrieves a recording by share id.
func (r *PostgresRepository) GetByShareID(ctx context.Context, shareID string) (*Recording, error) {
	return r.scanOne(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE share_id = $1 LIMIT 1`, shareID)
}

// ListByUser returns a user's recordings, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes recording id if it belongs to userID.
func (r *PostgresRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM recordings WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const recordingColumns = `id, user_id, audio_cid, aqua_cid, is_private, share_id, created_at`

func (r *PostgresRepository) scanOne(ctx context.Context, q string, args ...any) (*Recording, error) {
	rec, err := scanRecording(r.db.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func scanRecording(row pgx.Row) (*Recording, error) {
	var rec Recording
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.AudioCID, &rec.AquaCID, &rec.IsPrivate, &rec.ShareID, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
