package store

import (
	"context"
	"errors"
	"time"
)

// initialBackoff is the delay before the first retry; each subsequent
// retry backs off by 4x, reproducing the §5 100ms/400ms/1.6s schedule when
// retries is the §6 default of 3.
const initialBackoff = 100 * time.Millisecond

// Retry runs fn up to retries+1 times, sleeping an exponential backoff
// between attempts. It does not retry ErrNotFound or ErrConflict, those are
// not transient, retrying them just wastes the backoff budget. retries
// comes from the caller's §6 store_retry_attempts configuration.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	backoff := initialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= retries {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 4
	}
}
