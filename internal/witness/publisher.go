package witness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/echoproof/echo/internal/nostr"
	"go.uber.org/zap"
)

var (
	// ErrPublish wraps every broadcast failure.
	ErrPublish = errors.New("witness: publish failed")
	// ErrAlreadyWitnessed is returned when a chunk already has a checkpoint.
	ErrAlreadyWitnessed = errors.New("witness: chunk already witnessed")
)

// DefaultInterval is the chunk cadence used when none is configured.
const DefaultInterval = 10

// Policy decides which chunks are witnessed.
type Policy struct {
	// Interval N emits a checkpoint when (chunkIndex+1) % N == 0. Zero or
	// negative disables periodic checkpoints; the bookend still applies.
	Interval int
}

// Due reports whether chunkIndex falls on the cadence.
func (p Policy) Due(chunkIndex int) bool {
	return p.Interval > 0 && chunkIndex >= 0 && (chunkIndex+1)%p.Interval == 0
}

// Broadcaster publishes a signed note to the broadcast network.
type Broadcaster interface {
	Broadcast(ctx context.Context, content string, tags [][]string, keys *nostr.Keys) (nostr.PublishResult, error)
}

// Identity names the two parties a witness message binds together.
type Identity struct {
	// Wallet is the EVM signer address.
	Wallet string
	// Keys is the anchor keypair that signs witness events.
	Keys *nostr.Keys
}

// Witness is what a recording session needs from a publisher.
type Witness interface {
	Observe(ctx context.Context, chunkIndex int, hash string)
	Bookend(ctx context.Context, lastIndex int, hash string)
	Flush(ctx context.Context) error
}

// MetricsRecordFunc is an optional callback for recording publish outcomes.
type MetricsRecordFunc func(success bool)

// Publisher emits checkpoints synchronously.
type Publisher struct {
	broadcaster Broadcaster
	identity    Identity
	policy      Policy
	ledger      *Ledger
	onMetrics   MetricsRecordFunc
	now         func() time.Time
	logger      *zap.Logger
}

// NewPublisher creates a Publisher recording into ledger.
func NewPublisher(b Broadcaster, id Identity, policy Policy, ledger *Ledger, logger *zap.Logger) *Publisher {
	return &Publisher{
		broadcaster: b,
		identity:    id,
		policy:      policy,
		ledger:      ledger,
		now:         time.Now,
		logger:      logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (p *Publisher) SetMetricsRecord(fn MetricsRecordFunc) {
	p.onMetrics = fn
}

// Ledger returns the ledger checkpoints are recorded in.
func (p *Publisher) Ledger() *Ledger { return p.ledger }

// Message renders the witness note content for a chunk.
func Message(chunkIndex int, hash string, id Identity) string {
	npub := ""
	if id.Keys != nil {
		npub = id.Keys.Npub()
	}
	return fmt.Sprintf("ECHO Audio Recording Witness\nChunk: %d\nHash: %s\nWallet: %s\nNostr: %s",
		chunkIndex+1, hash, id.Wallet, npub)
}

// Tags returns the note tags for a chunk.
func Tags(chunkIndex int, hash string) [][]string {
	return [][]string{
		{"chunk", strconv.Itoa(chunkIndex + 1)},
		{"hash", hash},
	}
}

// Publish broadcasts a checkpoint for chunkIndex regardless of cadence.
func (p *Publisher) Publish(ctx context.Context, chunkIndex int, hash string) (Checkpoint, error) {
	if p.ledger.Has(chunkIndex) {
		return Checkpoint{}, ErrAlreadyWitnessed
	}
	res, err := p.broadcaster.Broadcast(ctx, Message(chunkIndex, hash, p.identity), Tags(chunkIndex, hash), p.identity.Keys)
	if p.onMetrics != nil {
		p.onMetrics(err == nil)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: chunk %d: %w", ErrPublish, chunkIndex, err)
	}

	cp := Checkpoint{
		ChunkIndex:       chunkIndex,
		VerificationHash: hash,
		EventID:          res.EventID,
		Relays:           res.Relays,
		Timestamp:        p.now().UnixMilli(),
	}
	if !p.ledger.Add(cp) {
		return Checkpoint{}, ErrAlreadyWitnessed
	}
	p.logger.Info("witness published",
		zap.Int("chunk", chunkIndex+1),
		zap.String("event_id", res.EventID),
		zap.Strings("relays", res.Relays),
	)
	return cp, nil
}

// Observe publishes a checkpoint when chunkIndex is due. Failures are logged
// and the checkpoint is omitted.
func (p *Publisher) Observe(ctx context.Context, chunkIndex int, hash string) {
	if !p.policy.Due(chunkIndex) {
		return
	}
	p.publishLogged(ctx, chunkIndex, hash)
}

// Bookend publishes a checkpoint for the final chunk unless one exists.
func (p *Publisher) Bookend(ctx context.Context, lastIndex int, hash string) {
	if lastIndex < 0 || p.ledger.Has(lastIndex) {
		return
	}
	p.publishLogged(ctx, lastIndex, hash)
}

// Flush is a no-op; Publisher completes every publish before returning.
func (p *Publisher) Flush(context.Context) error { return nil }

func (p *Publisher) publishLogged(ctx context.Context, chunkIndex int, hash string) {
	_, err := p.Publish(ctx, chunkIndex, hash)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyWitnessed):
	default:
		p.logger.Warn("witness publish failed; continuing without checkpoint",
			zap.Int("chunk", chunkIndex+1),
			zap.Error(err),
		)
	}
}
