package transfer

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every worker of a run, so the cap
// applies to aggregate throughput. A nil Limiter is unlimited.
type Limiter struct {
	lim   *rate.Limiter
	burst int
}

// NewLimiter returns nil when bytesPerSec is not positive.
func NewLimiter(bytesPerSec int64, chunkSize int) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(min(int64(chunkSize), bytesPerSec))
	burst = max(burst, 1)
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSec), burst), burst: burst}
}

// WaitN blocks until n bytes may pass. A wait that cannot finish before the
// context deadline reports context.DeadlineExceeded.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		k := min(n, l.burst)
		if err := l.lim.WaitN(ctx, k); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bandwidth wait: %w", context.DeadlineExceeded)
		}
		n -= k
	}
	return nil
}

func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// meteredReader reads in chunks, spends limiter tokens per chunk and reports
// every chunk. It stops at the first read after ctx is done.
type meteredReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
	chunk   int
	onRead  func(n int)
}

func (m *meteredReader) Read(p []byte) (int, error) {
	if err := m.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > m.chunk {
		p = p[:m.chunk]
	}
	n, err := m.r.Read(p)
	if n > 0 {
		if werr := m.limiter.WaitN(m.ctx, n); werr != nil {
			return n, werr
		}
		if m.onRead != nil {
			m.onRead(n)
		}
	}
	return n, err
}
