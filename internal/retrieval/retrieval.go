// Package retrieval fetches media and proof bundles from a blob store,
// retrying while freshly uploaded content propagates.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echoproof/echo/internal/blobstore"
	"github.com/echoproof/echo/internal/proof"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound means the content does not exist. Returned after one attempt.
	ErrNotFound = errors.New("retrieval: content not found")
	// ErrNotYetAvailable means every attempt failed; try again shortly.
	ErrNotYetAvailable = errors.New("retrieval: content not yet available, try again shortly")
)

// DefaultAttempts is the attempt budget per content id.
const DefaultAttempts = 3

// DefaultBackoff lists the delay before each retry.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Metric outcomes passed to the metrics callback, one per attempt.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeNotFound  = "not_found"
	OutcomeExhausted = "exhausted"
)

// Config holds retrieval configuration.
type Config struct {
	Attempts int
	// Backoff[k-1] is the delay before attempt k+1. When shorter than the
	// attempt budget the last delay repeats.
	Backoff []time.Duration
	// MaxDepth bounds proof bundle nesting. Zero uses the wire default.
	MaxDepth int
}

// MetricsRecordFunc is an optional callback for recording attempt outcomes.
type MetricsRecordFunc func(outcome string)

// Error records which content id a retrieval failure belongs to.
type Error struct {
	CID      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.CID, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher retrieves content with retry and classification.
type Fetcher struct {
	store     blobstore.Store
	cfg       Config
	decoder   proof.Decoder
	sleep     func(ctx context.Context, d time.Duration) error
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Fetcher over store.
func New(store blobstore.Store, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Fetcher{
		store:   store,
		cfg:     cfg,
		decoder: proof.Decoder{MaxDepth: cfg.MaxDepth},
		sleep:   sleepContext,
		logger:  logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (f *Fetcher) SetMetricsRecord(fn MetricsRecordFunc) {
	f.onMetrics = fn
}

func (f *Fetcher) record(outcome string) {
	if f.onMetrics != nil {
		f.onMetrics(outcome)
	}
}

// Fetch returns the raw value the store produced for cid. NotFound is
// returned at once; every other failure is retried until the budget runs
// out and then reported as ErrNotYetAvailable.
func (f *Fetcher) Fetch(ctx context.Context, cid string) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		v, err := f.store.Get(ctx, cid)
		if err == nil {
			f.record(OutcomeSuccess)
			if attempt > 1 {
				f.logger.Info("content retrieved after retry", zap.String("cid", cid), zap.Int("attempt", attempt))
			}
			return v, nil
		}
		if errors.Is(err, blobstore.ErrNotFound) {
			f.record(OutcomeNotFound)
			return nil, &Error{CID: cid, Attempts: attempt, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
		}
		if ctx.Err() != nil {
			return nil, &Error{CID: cid, Attempts: attempt, Err: ctx.Err()}
		}
		lastErr = err

		if attempt == f.cfg.Attempts {
			break
		}
		f.record(OutcomeRetry)
		delay := f.delay(attempt)
		f.logger.Warn("content fetch failed; retrying",
			zap.String("cid", cid),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.cfg.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, &Error{CID: cid, Attempts: attempt, Err: err}
		}
	}
	f.record(OutcomeExhausted)
	return nil, &Error{CID: cid, Attempts: f.cfg.Attempts, Err: fmt.Errorf("%w: %w", ErrNotYetAvailable, lastErr)}
}

// delay returns the wait after the given failed attempt.
func (f *Fetcher) delay(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(f.cfg.Backoff) {
		i = len(f.cfg.Backoff) - 1
	}
	return f.cfg.Backoff[i]
}

// FetchMedia retrieves cid as bytes.
func (f *Fetcher) FetchMedia(ctx context.Context, cid string) ([]byte, error) {
	v, err := f.Fetch(ctx, cid)
	if err != nil {
		return nil, err
	}
	b, err := Bytes(v)
	if err != nil {
		return nil, &Error{CID: cid, Attempts: 1, Err: err}
	}
	return b, nil
}

// FetchProof retrieves cid as a parsed proof bundle.
func (f *Fetcher) FetchProof(ctx context.Context, cid string) (*proof.Bundle, error) {
	v, err := f.Fetch(ctx, cid)
	if err != nil {
		return nil, err
	}
	b, err := Bundle(f.decoder, v)
	if err != nil {
		return nil, &Error{CID: cid, Attempts: 1, Err: err}
	}
	return b, nil
}

// Pair is a recording's media together with its proof.
type Pair struct {
	Media []byte
	Proof *proof.Bundle
}

// FetchPair retrieves media and proof concurrently. Each has its own attempt
// budget; the first failure cancels the other fetch.
func (f *Fetcher) FetchPair(ctx context.Context, mediaCID, proofCID string) (Pair, error) {
	var p Pair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		media, err := f.FetchMedia(gctx, mediaCID)
		if err != nil {
			return err
		}
		p.Media = media
		return nil
	})
	g.Go(func() error {
		b, err := f.FetchProof(gctx, proofCID)
		if err != nil {
			return err
		}
		p.Proof = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
