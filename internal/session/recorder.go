// Package session runs one recording: it serializes the chunk pipeline
// (hash, sign, witness) and owns the chain and witness ledger until the
// recording is closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echoproof/echo/internal/chain"
	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/proof"
	"github.com/echoproof/echo/internal/witness"
	"go.uber.org/zap"
)

var (
	ErrNotActive  = errors.New("session: recorder is not active")
	ErrNotIdle    = errors.New("session: recorder already started")
	ErrNotClosed  = errors.New("session: recording is not closed")
	ErrNoChunks   = errors.New("session: no chunks recorded")
	ErrEmptyChunk = errors.New("session: empty chunk")
	// ErrAborted marks a recording that closed without a finalized chain.
	ErrAborted = errors.New("session: recording aborted")
)

// State is the recorder lifecycle.
type State int

const (
	Idle State = iota
	Active
	Finalizing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Finalizing:
		return "finalizing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults applied by New.
const (
	DefaultChunkDuration = 2 * time.Second
	DefaultFinalName     = "recording_combined.webm"
)

// Config holds recorder configuration.
type Config struct {
	Mode          contenthash.Mode
	ChunkDuration time.Duration
	// FinalName is the file index name of the finalize revision.
	FinalName string
	// ChunkName names chunk i in the file index.
	ChunkName func(i int) string
	// OmitContent records chunk hashes without embedding chunk bytes.
	OmitContent bool
	// Buffer is the intake queue length.
	Buffer int
	// AnchorIdentity is the npub recorded in the bundle metadata.
	AnchorIdentity string
	Clock          func() time.Time
}

// Recorder turns a stream of chunks into a finalized chain. Chunk i is hashed,
// signed and offered to the witness before chunk i+1 starts.
type Recorder struct {
	cfg     Config
	signer  evm.Signer
	witness witness.Witness
	ledger  *witness.Ledger
	logger  *zap.Logger

	mu     sync.RWMutex
	state  State
	intake chan []byte
	done   chan struct{}

	// Owned by the loop goroutine while Active, by Stop afterwards.
	chain    *chain.Chain
	chunks   [][]byte
	lastHash string // content revision of the latest chunk
	address  string
	loopErr  error

	// failErr is set under mu when Stop closes without a finalized chain.
	failErr error
}

// New creates an idle recorder. ledger must be the ledger w records into.
func New(cfg Config, signer evm.Signer, w witness.Witness, ledger *witness.Ledger, logger *zap.Logger) (*Recorder, error) {
	if cfg.Mode == "" {
		cfg.Mode = contenthash.Scalar
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.FinalName == "" {
		cfg.FinalName = DefaultFinalName
	}
	if cfg.ChunkName == nil {
		cfg.ChunkName = func(i int) string { return fmt.Sprintf("chunk_%d.webm", i) }
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	c, err := chain.New(cfg.Mode, chain.WithClock(cfg.Clock))
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = witness.NewLedger()
	}
	return &Recorder{
		cfg:     cfg,
		signer:  signer,
		witness: w,
		ledger:  ledger,
		logger:  logger,
		chain:   c,
	}, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start moves Idle to Active and launches the processing loop. ctx bounds
// signing and witness calls for the life of the recording.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return ErrNotIdle
	}
	r.intake = make(chan []byte, r.cfg.Buffer)
	r.done = make(chan struct{})
	r.state = Active
	go r.loop(ctx)
	r.logger.Info("recording started", zap.String("mode", r.cfg.Mode.String()))
	return nil
}

// Submit queues a chunk. The bytes are copied.
func (r *Recorder) Submit(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return ErrEmptyChunk
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != Active {
		return ErrNotActive
	}
	select {
	case r.intake <- append([]byte(nil), chunk...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)
	for chunk := range r.intake {
		if err := r.process(ctx, chunk); err != nil && r.loopErr == nil {
			r.loopErr = err
		}
	}
}

// process commits one chunk: content revision, signature, witness.
func (r *Recorder) process(ctx context.Context, chunk []byte) error {
	idx := len(r.chunks)
	name := r.cfg.ChunkName(idx)
	opts := r.chainOptions()

	var (
		next *chain.Chain
		err  error
	)
	if idx == 0 {
		next, err = r.chain.Begin(chunk, name, opts...)
	} else {
		next, err = r.chain.AppendChunk(chunk, name, r.chain.Tip(), opts...)
	}
	if err != nil {
		r.logger.Error("chunk revision failed", zap.Int("chunk", idx+1), zap.Error(err))
		return fmt.Errorf("chunk %d: %w", idx+1, err)
	}
	r.chain = next
	r.chunks = append(r.chunks, chunk)
	contentHash := next.Tip()
	r.lastHash = contentHash

	r.signTip(ctx, idx)
	if r.witness != nil {
		r.witness.Observe(ctx, idx, contentHash)
	}

	r.logger.Debug("chunk processed",
		zap.Int("chunk", idx+1),
		zap.String("hash", contentHash),
		zap.Int("bytes", len(chunk)),
	)
	return nil
}

// signTip attests to the current tip. A signing failure leaves the revision
// unsigned; the chain stays valid.
func (r *Recorder) signTip(ctx context.Context, idx int) {
	if r.signer == nil {
		return
	}
	tip := r.chain.Tip()
	sig, err := r.signer.Sign(ctx, chain.SignMessage(tip))
	if err != nil {
		r.logger.Warn("signing failed; revision left unsigned", zap.Int("chunk", idx+1), zap.Error(err))
		return
	}
	next, err := r.chain.Sign(tip, sig.Signature, sig.Address)
	if err != nil {
		r.logger.Warn("signature revision rejected", zap.Int("chunk", idx+1), zap.Error(err))
		return
	}
	r.chain = next
	if r.address == "" {
		r.address = sig.Address
	}
}

func (r *Recorder) chainOptions() []chain.Option {
	opts := []chain.Option{chain.WithMode(r.cfg.Mode)}
	if r.cfg.OmitContent {
		opts = append(opts, chain.WithoutContent())
	}
	return opts
}

// Stop closes intake, drains queued chunks, publishes the bookend checkpoint,
// waits for pending witnesses, finalizes and signs the final revision. The
// chain is returned only once the recorder is Closed.
func (r *Recorder) Stop(ctx context.Context) (*chain.Chain, error) {
	r.mu.Lock()
	if r.state != Active {
		r.mu.Unlock()
		return nil, ErrNotActive
	}
	r.state = Finalizing
	close(r.intake)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, r.abort(fmt.Errorf("drain chunks: %w", ctx.Err()))
	}
	if r.loopErr != nil {
		return nil, r.abort(r.loopErr)
	}
	if len(r.chunks) == 0 {
		r.setState(Closed)
		return nil, ErrNoChunks
	}

	last := len(r.chunks) - 1
	if r.witness != nil {
		r.witness.Bookend(ctx, last, r.lastHash)
		if err := r.witness.Flush(ctx); err != nil {
			r.logger.Warn("witness flush incomplete", zap.Error(err))
		}
	}

	final, err := r.chain.Finalize(r.chunks, r.cfg.FinalName, r.chain.Tip(), r.chainOptions()...)
	if err != nil {
		return nil, r.abort(fmt.Errorf("finalize: %w", err))
	}
	r.chain = final
	r.signTip(ctx, len(r.chunks))

	r.setState(Closed)
	r.logger.Info("recording closed",
		zap.Int("chunks", len(r.chunks)),
		zap.Int("revisions", r.chain.Len()),
		zap.Int("witnesses", r.ledger.Len()),
	)
	return r.chain, nil
}

// abort closes the recorder without a usable chain. Closed is terminal, so
// Export and Combined report ErrAborted from then on.
func (r *Recorder) abort(err error) error {
	r.mu.Lock()
	r.state = Closed
	r.failErr = err
	r.mu.Unlock()
	r.logger.Error("recording aborted", zap.Error(err))
	return err
}

// Err returns why the recording was aborted, or nil.
func (r *Recorder) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failErr
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Chunks returns the chunk count of a closed recording, or 0 before that or
// after an abort.
func (r *Recorder) Chunks() int {
	if r.State() != Closed || r.Err() != nil {
		return 0
	}
	return len(r.chunks)
}

// Combined returns the concatenated audio. Available once Closed.
func (r *Recorder) Combined() ([]byte, error) {
	if r.State() != Closed {
		return nil, ErrNotClosed
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}
	var n int
	for _, c := range r.chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out, nil
}

// Export builds the proof bundle from the closed chain and the ledger.
func (r *Recorder) Export() (*proof.Bundle, error) {
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if r.State() != Closed || r.chain == nil || !r.chain.Finalized() {
		return nil, ErrNotClosed
	}
	return proof.New(r.chain, proof.Metadata{
		TotalChunks:    len(r.chunks),
		ChunkDuration:  r.cfg.ChunkDuration.Seconds(),
		Duration:       float64(len(r.chunks)) * r.cfg.ChunkDuration.Seconds(),
		Signer:         r.address,
		AnchorIdentity: r.cfg.AnchorIdentity,
		Witnesses:      r.ledger.Checkpoints(),
	}), nil
}
