package reql

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DialWithBackoff calls Connect until it succeeds, ctx ends, or b gives up.
// Only transport failures and timeouts are retried; rejected credentials and
// protocol mismatches are returned at once. A nil b means exponential backoff
// capped at one minute.
func DialWithBackoff(ctx context.Context, opts ConnectOpts, b backoff.BackOff) (*Connection, error) {
	if b == nil {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = time.Minute
		b = eb
	}
	log := opts.Logger
	if log == nil {
		log = defaultLogger()
	}
	var attempt int
	return backoff.RetryNotifyWithData(func() (*Connection, error) {
		attempt++
		c, err := Connect(ctx, opts)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return c, err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Info("reql: connect failed, retrying", "attempt", attempt, "wait", wait, "err", err)
	})
}

func retryable(err error) bool {
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case ConnErrTransport, ConnErrTimeout, ConnErrClosed:
		return true
	default:
		return false
	}
}
