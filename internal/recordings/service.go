package recordings

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echoproof/echo/internal/blobstore"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/proof"
	"github.com/echoproof/echo/internal/retrieval"
	"github.com/echoproof/echo/internal/session"
	"github.com/echoproof/echo/internal/verifier"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShareIDLength is the length of generated share ids.
const ShareIDLength = 20

const shareAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"

var (
	// ErrInvalidProof is returned when an uploaded proof fails verification.
	ErrInvalidProof = errors.New("proof failed structural verification")
	// ErrInvalidInput is returned for missing or malformed upload fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden is returned when the caller does not own the recording or
	// the proof was signed by another wallet.
	ErrForbidden = errors.New("forbidden")
)

// Repository is the storage interface consumed by Service.
type Repository interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUserByAddress(ctx context.Context, address string) (*User, error)
	CreateRecording(ctx context.Context, rec *Recording) error
	GetByShareID(ctx context.Context, shareID string) (*Recording, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Recording, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// ProofError carries the issues that rejected an upload.
type ProofError struct {
	Issues []verifier.Issue
}

func (e *ProofError) Error() string {
	if len(e.Issues) == 0 {
		return ErrInvalidProof.Error()
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidProof, e.Issues[0].Kind, e.Issues[0].Message)
}

func (e *ProofError) Unwrap() error { return ErrInvalidProof }

// UploadInput is one recording upload.
type UploadInput struct {
	Audio      []byte
	Aqua       []byte
	EVMAddress string
	NostrNpub  string
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Recording *Recording `json:"recording"`
	ShareURL  string     `json:"shareUrl"`
}

// Share is a shared recording with its media, proof and verification.
type Share struct {
	Recording *Recording       `json:"recording"`
	Audio     []byte           `json:"audioData"`
	Proof     *proof.Bundle    `json:"aquaData"`
	Report    *verifier.Report `json:"verification"`
}

// Service implements the recording use cases.
type Service struct {
	repo      Repository
	store     blobstore.Store
	fetcher   *retrieval.Fetcher
	verifier  *verifier.Verifier
	publicURL string
	logger    *zap.Logger
}

// NewService creates a Service. publicURL prefixes share links.
func NewService(repo Repository, store blobstore.Store, fetcher *retrieval.Fetcher, v *verifier.Verifier, publicURL string, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		fetcher:   fetcher,
		verifier:  v,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}
}

// Upload verifies the proof against the audio as the combined recording,
// stores audio and proof, records the owner and returns the share link.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if len(in.Audio) == 0 || len(in.Aqua) == 0 || in.EVMAddress == "" {
		return nil, fmt.Errorf("%w: audio, aqua and evmAddress are required", ErrInvalidInput)
	}
	address, err := evm.NormalizeAddress(in.EVMAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	report := s.verifier.VerifyBytes(in.Aqua, verifier.File{Name: session.DefaultFinalName, Data: in.Audio})
	if !report.StructureValid {
		return nil, &ProofError{Issues: report.Issues}
	}
	if f, ok := report.File(session.DefaultFinalName); !ok || f.Status != verifier.StatusUnaltered {
		return nil, &ProofError{Issues: []verifier.Issue{{
			Kind:     verifier.KindContentHashMismatch,
			Revision: f.Revision,
			Message:  fmt.Sprintf("audio does not match %s in the proof", session.DefaultFinalName),
		}}}
	}
	// Unsigned proofs are accepted; a signed one must belong to the uploader.
	if report.Signer != "" && !strings.EqualFold(report.Signer, address) {
		return nil, fmt.Errorf("%w: proof is signed by %s", ErrForbidden, report.Signer)
	}

	stamp := time.Now().UnixMilli()
	audioCID, err := s.store.Put(ctx, fmt.Sprintf("audio-%d.webm", stamp), in.Audio)
	if err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}
	aquaCID, err := s.store.Put(ctx, fmt.Sprintf("proof-%d.json", stamp), in.Aqua)
	if err != nil {
		return nil, fmt.Errorf("store proof: %w", err)
	}

	u := &User{EVMAddress: address, NostrNpub: optional(in.NostrNpub)}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}

	rec := &Recording{
		UserID:    u.ID,
		AudioCID:  audioCID,
		AquaCID:   aquaCID,
		IsPrivate: true,
	}
	for attempt := 0; ; attempt++ {
		rec.ShareID, err = NewShareID()
		if err != nil {
			return nil, err
		}
		err = s.repo.CreateRecording(ctx, rec)
		if !errors.Is(err, ErrDuplicateShareID) || attempt == 2 {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("recording uploaded",
		zap.String("share_id", rec.ShareID),
		zap.String("address", address),
		zap.String("audio_cid", audioCID),
		zap.String("aqua_cid", aquaCID),
	)
	return &UploadResult{Recording: rec, ShareURL: s.publicURL + "/share/" + rec.ShareID}, nil
}

// GetShare loads a shared recording, fetches audio and proof concurrently and
// verifies the proof against the audio as the combined recording file.
// Retrieval failures are returned as *retrieval.Error.
func (s *Service) GetShare(ctx context.Context, shareID string) (*Share, error) {
	rec, err := s.repo.GetByShareID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	pair, err := s.fetcher.FetchPair(ctx, rec.AudioCID, rec.AquaCID)
	if err != nil {
		s.logger.Warn("share content unavailable", zap.String("share_id", shareID), zap.Error(err))
		return nil, err
	}
	report := s.verifier.Verify(pair.Proof, verifier.File{Name: session.DefaultFinalName, Data: pair.Media})
	return &Share{Recording: rec, Audio: pair.Media, Proof: pair.Proof, Report: report}, nil
}

// SaveUser creates or updates the user for address.
func (s *Service) SaveUser(ctx context.Context, address, npub, email string) (*User, error) {
	normalized, err := evm.NormalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u := &User{EVMAddress: normalized, NostrNpub: optional(npub), Email: optional(email)}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// List returns the recordings of address, newest first. An unknown address
// has no recordings.
func (s *Service) List(ctx context.Context, address string) ([]*Recording, error) {
	normalized, err := evm.NormalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u, err := s.repo.GetUserByAddress(ctx, normalized)
	if errors.Is(err, ErrUserNotFound) {
		return []*Recording{}, nil
	}
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*Recording{}
	}
	return recs, nil
}

// Delete removes recording id owned by address.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, address string) error {
	normalized, err := evm.NormalizeAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u, err := s.repo.GetUserByAddress(ctx, normalized)
	if errors.Is(err, ErrUserNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, id, u.ID)
}

// NewShareID returns a random URL-safe id of ShareIDLength characters.
func NewShareID() (string, error) {
	buf := make([]byte, ShareIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share id: %w", err)
	}
	for i, b := range buf {
		buf[i] = shareAlphabet[b&63]
	}
	return string(buf), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
