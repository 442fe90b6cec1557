package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// RetryingLogFilterer decorates a LogFilterer with bounded immediate
// retries. Provider-side log queries fail transiently far more often than
// other calls, so they get their own retry budget instead of waiting for the
// next scan tick.
type RetryingLogFilterer struct {
	Inner      LogFilterer
	MaxRetries int
	Delay      time.Duration
}

// FilterLogs retries the wrapped call up to MaxRetries extra times, sleeping
// Delay between attempts. Context cancellation aborts immediately.
func (r *RetryingLogFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethTypes.Log, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		logs, err := r.Inner.FilterLogs(ctx, q)
		if err == nil {
			return logs, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	return nil, errors.Wrapf(lastErr, "get logs failed after %d attempts", r.MaxRetries+1)
}
