package witness

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type job struct {
	chunkIndex int
	hash       string
	bookend    bool
}

// AsyncPublisher moves broadcast latency off the chunk pipeline. A single
// worker drains a buffered queue, so checkpoints are still published in the
// order they were observed.
type AsyncPublisher struct {
	inner   *Publisher
	queue   chan job
	pending sync.WaitGroup
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	logger  *zap.Logger
}

// NewAsyncPublisher starts the worker. Publishes run under a context detached
// from the callers'; Close cancels it.
func NewAsyncPublisher(inner *Publisher, buffer int, logger *zap.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncPublisher{
		inner:  inner,
		queue:  make(chan job, buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for j := range a.queue {
		if j.bookend {
			a.inner.Bookend(a.ctx, j.chunkIndex, j.hash)
		} else {
			a.inner.Observe(a.ctx, j.chunkIndex, j.hash)
		}
		a.pending.Done()
	}
}

// Ledger returns the underlying ledger.
func (a *AsyncPublisher) Ledger() *Ledger { return a.inner.Ledger() }

// Observe queues chunkIndex if it is due. It blocks only while the queue is
// full, and gives up when ctx ends.
func (a *AsyncPublisher) Observe(ctx context.Context, chunkIndex int, hash string) {
	if !a.inner.policy.Due(chunkIndex) {
		return
	}
	a.enqueue(ctx, job{chunkIndex: chunkIndex, hash: hash})
}

// Bookend queues the final-chunk checkpoint.
func (a *AsyncPublisher) Bookend(ctx context.Context, lastIndex int, hash string) {
	if lastIndex < 0 {
		return
	}
	a.enqueue(ctx, job{chunkIndex: lastIndex, hash: hash, bookend: true})
}

func (a *AsyncPublisher) enqueue(ctx context.Context, j job) {
	a.pending.Add(1)
	select {
	case a.queue <- j:
	case <-ctx.Done():
		a.pending.Done()
		a.logger.Warn("witness queue full; dropping checkpoint",
			zap.Int("chunk", j.chunkIndex+1),
			zap.Error(ctx.Err()),
		)
	}
}

// Flush waits until every queued checkpoint has been attempted.
func (a *AsyncPublisher) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, cancels in-flight publishes, and waits for the
// worker to exit. Observe and Bookend must not be called after Close.
func (a *AsyncPublisher) Close() {
	a.once.Do(func() {
		a.cancel()
		close(a.queue)
		<-a.done
	})
}
