package witness_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/echoproof/echo/internal/nostr"
	"github.com/echoproof/echo/internal/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBroadcaster struct {
	mu      sync.Mutex
	calls   []string
	tags    [][][]string
	failFor map[string]bool // keyed by chunk tag value
	delay   time.Duration
}

func (s *stubBroadcaster) Broadcast(ctx context.Context, content string, tags [][]string, _ *nostr.Keys) (nostr.PublishResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nostr.PublishResult{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, content)
	s.tags = append(s.tags, tags)
	if s.failFor[tags[0][1]] {
		return nostr.PublishResult{}, errors.New("relay down")
	}
	return nostr.PublishResult{EventID: "ev-" + tags[0][1], Relays: []string{"wss://relay.test"}}, nil
}

func (s *stubBroadcaster) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testIdentity(t *testing.T) witness.Identity {
	t.Helper()
	keys, err := nostr.KeysFromSecret(make32(7))
	require.NoError(t, err)
	return witness.Identity{Wallet: "0xAbC", Keys: keys}
}

func make32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func chunkIndices(cps []witness.Checkpoint) []int {
	out := make([]int, len(cps))
	for i, cp := range cps {
		out[i] = cp.ChunkIndex
	}
	return out
}

func TestPolicy_Due(t *testing.T) {
	p := witness.Policy{Interval: 10}
	assert.False(t, p.Due(0))
	assert.True(t, p.Due(9))
	assert.False(t, p.Due(10))
	assert.True(t, p.Due(19))
	assert.False(t, witness.Policy{}.Due(9))
}

func TestPublisher_cadenceWithBookend(t *testing.T) {
	b := &stubBroadcaster{}
	ledger := witness.NewLedger()
	p := witness.NewPublisher(b, testIdentity(t), witness.Policy{Interval: 10}, ledger, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 23; i++ {
		p.Observe(ctx, i, "hash")
	}
	p.Bookend(ctx, 22, "hash")
	p.Bookend(ctx, 22, "hash")

	assert.Equal(t, []int{9, 19, 22}, chunkIndices(ledger.Checkpoints()))
	assert.Equal(t, 3, b.count())
}

func TestPublisher_bookendSkippedWhenAlreadyDue(t *testing.T) {
	b := &stubBroadcaster{}
	ledger := witness.NewLedger()
	p := witness.NewPublisher(b, testIdentity(t), witness.Policy{Interval: 10}, ledger, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		p.Observe(ctx, i, "hash")
	}
	p.Bookend(ctx, 19, "hash")

	assert.Equal(t, []int{9, 19}, chunkIndices(ledger.Checkpoints()))
	assert.Equal(t, 2, b.count())
}

func TestPublisher_failureIsNonFatal(t *testing.T) {
	b := &stubBroadcaster{failFor: map[string]bool{"10": true}}
	ledger := witness.NewLedger()
	p := witness.NewPublisher(b, testIdentity(t), witness.Policy{Interval: 10}, ledger, zap.NewNop())

	var outcomes []bool
	p.SetMetricsRecord(func(ok bool) { outcomes = append(outcomes, ok) })

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		p.Observe(ctx, i, "hash")
	}
	assert.Equal(t, []int{19}, chunkIndices(ledger.Checkpoints()))
	assert.Equal(t, []bool{false, true}, outcomes)

	_, err := p.Publish(ctx, 9, "hash")
	assert.ErrorIs(t, err, witness.ErrPublish)
}

func TestPublisher_duplicate(t *testing.T) {
	p := witness.NewPublisher(&stubBroadcaster{}, testIdentity(t), witness.Policy{Interval: 1}, witness.NewLedger(), zap.NewNop())
	ctx := context.Background()

	cp, err := p.Publish(ctx, 0, "h0")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", cp.EventID)
	assert.Equal(t, "h0", cp.VerificationHash)
	assert.Equal(t, []string{"wss://relay.test"}, cp.Relays)
	assert.NotZero(t, cp.Timestamp)

	_, err = p.Publish(ctx, 0, "h0")
	assert.ErrorIs(t, err, witness.ErrAlreadyWitnessed)
}

func TestMessage_template(t *testing.T) {
	id := testIdentity(t)
	msg := witness.Message(9, "abc", id)
	want := "ECHO Audio Recording Witness\nChunk: 10\nHash: abc\nWallet: 0xAbC\nNostr: " + id.Keys.Npub()
	assert.Equal(t, want, msg)
	assert.Equal(t, [][]string{{"chunk", "10"}, {"hash", "abc"}}, witness.Tags(9, "abc"))
}

func TestAsyncPublisher_flush(t *testing.T) {
	b := &stubBroadcaster{delay: 5 * time.Millisecond}
	ledger := witness.NewLedger()
	inner := witness.NewPublisher(b, testIdentity(t), witness.Policy{Interval: 10}, ledger, zap.NewNop())
	a := witness.NewAsyncPublisher(inner, 4, zap.NewNop())
	defer a.Close()

	ctx := context.Background()
	for i := 0; i < 23; i++ {
		a.Observe(ctx, i, "hash")
	}
	a.Bookend(ctx, 22, "hash")
	require.NoError(t, a.Flush(ctx))

	assert.Equal(t, []int{9, 19, 22}, chunkIndices(a.Ledger().Checkpoints()))
	for _, c := range b.calls {
		assert.True(t, strings.HasPrefix(c, "ECHO Audio Recording Witness\n"))
	}
}

func TestAsyncPublisher_flushHonoursContext(t *testing.T) {
	b := &stubBroadcaster{delay: time.Second}
	inner := witness.NewPublisher(b, testIdentity(t), witness.Policy{Interval: 1}, witness.NewLedger(), zap.NewNop())
	a := witness.NewAsyncPublisher(inner, 1, zap.NewNop())
	defer a.Close()

	a.Observe(context.Background(), 0, "hash")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Flush(ctx), context.DeadlineExceeded)
}

func TestLedger_copies(t *testing.T) {
	l := witness.NewLedger()
	relays := []string{"a"}
	assert.True(t, l.Add(witness.Checkpoint{ChunkIndex: 1, Relays: relays}))
	assert.False(t, l.Add(witness.Checkpoint{ChunkIndex: 1}))
	relays[0] = "mutated"

	cps := l.Checkpoints()
	assert.Equal(t, "a", cps[0].Relays[0])
	cps[0].Relays[0] = "again"
	assert.Equal(t, "a", l.Checkpoints()[0].Relays[0])
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Has(1))
}
