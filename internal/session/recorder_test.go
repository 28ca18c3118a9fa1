package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/nostr"
	"github.com/echoproof/echo/internal/session"
	"github.com/echoproof/echo/internal/verifier"
	"github.com/echoproof/echo/internal/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	chunks []string
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, _ string, tags [][]string, _ *nostr.Keys) (nostr.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, tags[0][1])
	return nostr.PublishResult{EventID: "ev" + tags[0][1], Relays: []string{"wss://relay.test"}}, nil
}

func newRecorder(t *testing.T, signer evm.Signer, interval int) (*session.Recorder, *fakeBroadcaster) {
	t.Helper()
	ledger := witness.NewLedger()
	fb := &fakeBroadcaster{}
	pub := witness.NewPublisher(fb, witness.Identity{Wallet: "0xabc"}, witness.Policy{Interval: interval}, ledger, zap.NewNop())
	async := witness.NewAsyncPublisher(pub, 4, zap.NewNop())
	t.Cleanup(async.Close)

	tick := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	r, err := session.New(session.Config{Mode: contenthash.Tree, Clock: clock, AnchorIdentity: "npub1test"}, signer, async, ledger, zap.NewNop())
	require.NoError(t, err)
	return r, fb
}

func record(t *testing.T, r *session.Recorder, n int) [][]byte {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	var chunks [][]byte
	for i := 0; i < n; i++ {
		c := []byte(fmt.Sprintf("opus-frame-%03d", i))
		chunks = append(chunks, c)
		require.NoError(t, r.Submit(ctx, c))
	}
	return chunks
}

func TestRecorder_fullSession(t *testing.T) {
	signer, err := evm.GenerateKeySigner()
	require.NoError(t, err)
	r, fb := newRecorder(t, signer, 10)

	record(t, r, 23)
	c, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Closed, r.State())
	assert.True(t, c.Finalized())
	// 23 chunks + 23 signatures + final + final signature
	assert.Equal(t, 48, c.Len())

	bundle, err := r.Export()
	require.NoError(t, err)
	assert.Equal(t, 23, bundle.Metadata.TotalChunks)
	assert.Equal(t, 46.0, bundle.Metadata.Duration)
	assert.Equal(t, signer.Address(), bundle.Metadata.Signer)
	assert.Equal(t, "npub1test", bundle.Metadata.AnchorIdentity)

	var idx []int
	for _, cp := range bundle.Metadata.Witnesses {
		idx = append(idx, cp.ChunkIndex)
		_, ok := bundle.Tree.Revisions[cp.VerificationHash]
		assert.True(t, ok, "checkpoint %d names a chain revision", cp.ChunkIndex)
	}
	assert.Equal(t, []int{9, 19, 22}, idx)
	assert.Equal(t, []string{"10", "20", "23"}, fb.chunks)

	combined, err := r.Combined()
	require.NoError(t, err)
	rep := verifier.New(0, zap.NewNop()).Verify(bundle, verifier.File{Name: session.DefaultFinalName, Data: combined})
	assert.True(t, rep.Valid, "%+v", rep.Issues)
	f, _ := rep.File(session.DefaultFinalName)
	assert.Equal(t, verifier.StatusUnaltered, f.Status)
	assert.Equal(t, 24, rep.SignatureRevisions)
}

func TestRecorder_bookendOnCadence(t *testing.T) {
	r, fb := newRecorder(t, nil, 10)
	record(t, r, 20)
	_, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20"}, fb.chunks)
}

func TestRecorder_exportBeforeClose(t *testing.T) {
	r, _ := newRecorder(t, nil, 10)
	_, err := r.Export()
	assert.ErrorIs(t, err, session.ErrNotClosed)

	record(t, r, 2)
	_, err = r.Export()
	assert.ErrorIs(t, err, session.ErrNotClosed)
	_, err = r.Combined()
	assert.ErrorIs(t, err, session.ErrNotClosed)
	assert.Zero(t, r.Chunks())

	_, err = r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Chunks())
}

func TestRecorder_lifecycleErrors(t *testing.T) {
	r, _ := newRecorder(t, nil, 10)
	ctx := context.Background()

	assert.ErrorIs(t, r.Submit(ctx, []byte("x")), session.ErrNotActive)
	_, err := r.Stop(ctx)
	assert.ErrorIs(t, err, session.ErrNotActive)

	require.NoError(t, r.Start(ctx))
	assert.ErrorIs(t, r.Start(ctx), session.ErrNotIdle)
	assert.ErrorIs(t, r.Submit(ctx, nil), session.ErrEmptyChunk)

	_, err = r.Stop(ctx)
	assert.ErrorIs(t, err, session.ErrNoChunks)
	assert.Equal(t, session.Closed, r.State())
	assert.ErrorIs(t, r.Submit(ctx, []byte("late")), session.ErrNotActive)
}

func TestRecorder_stopAfterChunkFailureAborts(t *testing.T) {
	r, _ := newRecorder(t, nil, 10)
	record(t, r, 2)

	boom := errors.New("chunk 2: revision rejected")
	session.SetLoopError(r, boom)

	_, err := r.Stop(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, session.Closed, r.State())
	assert.ErrorIs(t, r.Err(), boom)
	assert.Zero(t, r.Chunks())

	_, err = r.Export()
	assert.ErrorIs(t, err, session.ErrAborted)
	_, err = r.Combined()
	assert.ErrorIs(t, err, session.ErrAborted)
	assert.ErrorIs(t, r.Submit(context.Background(), []byte("late")), session.ErrNotActive)
	_, err = r.Stop(context.Background())
	assert.ErrorIs(t, err, session.ErrNotActive)
}

func TestRecorder_stopCancelledWhileDraining(t *testing.T) {
	// Never released: the loop must not reach the publisher after cleanup.
	blocking := evm.SignerFunc(func(ctx context.Context, _ string) (evm.Signature, error) {
		select {}
	})
	r, _ := newRecorder(t, blocking, 10)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Submit(context.Background(), []byte("chunk-0")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Stop(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.Closed, r.State())

	_, err = r.Export()
	assert.ErrorIs(t, err, session.ErrAborted)
}

func TestRecorder_signerFailureIsNotFatal(t *testing.T) {
	calls := 0
	flaky := evm.SignerFunc(func(_ context.Context, _ string) (evm.Signature, error) {
		calls++
		return evm.Signature{}, errors.New("wallet locked")
	})
	r, _ := newRecorder(t, flaky, 0)
	record(t, r, 3)
	c, err := r.Stop(context.Background())
	require.NoError(t, err)
	// 3 chunks + final, no signatures
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 4, calls)

	bundle, err := r.Export()
	require.NoError(t, err)
	assert.Empty(t, bundle.Metadata.Signer)
	rep := verifier.New(0, zap.NewNop()).Verify(bundle)
	assert.True(t, rep.Valid, "%+v", rep.Issues)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", session.Idle.String())
	assert.Equal(t, "finalizing", session.Finalizing.String())
	assert.Equal(t, "State(9)", session.State(9).String())
}
