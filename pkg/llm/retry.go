package llm

import (
	"context"
	"log/slog"

	"github.com/jllopis/kopl/pkg/resilience"
)

type retryProvider struct {
	next Provider
	cfg  resilience.RetryConfig
}

// WithRetry wraps p so recoverable transport failures are retried with
// backoff. Errors marked as not recoverable return immediately.
func WithRetry(p Provider, cfg resilience.RetryConfig) Provider {
	if cfg.MaxAttempts <= 1 {
		return p
	}
	return &retryProvider{next: p, cfg: cfg}
}

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	attempt := 0
	return resilience.Retry(ctx, r.cfg, func() (*ChatResponse, error) {
		attempt++
		resp, err := r.next.Chat(ctx, req)
		if err != nil && attempt < r.cfg.MaxAttempts {
			slog.DebugContext(ctx, "llm.chat.retry", "attempt", attempt, "error", err)
		}
		return resp, err
	})
}
