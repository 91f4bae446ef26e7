package backoff

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

var MaxRetries uint64 = 101

// RetryGeneral retries op with exponential backoff until it succeeds, the
// context is cancelled, or MaxRetries is exhausted.
func RetryGeneral(ctx context.Context, op backoff.Operation) (err error) {
	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(),
			MaxRetries),
		ctx))
	return err
}

// RetryQuery is RetryGeneral with a short retry budget, for read-side
// queries on a hot path where giving up quickly beats blocking.
func RetryQuery(ctx context.Context, op backoff.Operation) (err error) {
	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(),
			3),
		ctx))
	return err
}
