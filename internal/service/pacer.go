package service

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer is consulted before every batch after the first one.
type Pacer interface {
	Wait(ctx context.Context) error
}

// chunkPacer spaces batches by a fixed delay to stay under the mail
// provider's rate limit. The limiter holds one batch token refilled every
// delay and is shared by all passes, so concurrent passes are paced together.
type chunkPacer struct {
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewChunkPacer(delay time.Duration) Pacer {
	return &chunkPacer{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Wait blocks for a full delay after the previous batch. Credit left over
// from a slow batch or an idle period is dropped first, otherwise the next
// batch would start without any pause.
func (p *chunkPacer) Wait(ctx context.Context) error {
	now := p.now()
	p.limiter.AllowN(now, 1)
	r := p.limiter.ReserveN(now, 1)
	if err := p.sleep(ctx, r.DelayFrom(now)); err != nil {
		r.CancelAt(p.now())
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func chunkVoters[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
