package retrieval

import (
	"context"
	"time"
)

// SetSleep replaces the backoff wait.
func (f *Fetcher) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	f.sleep = fn
}
