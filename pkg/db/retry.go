package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	readAttempts  = 3
	readRetryWait = 50 * time.Millisecond
)

// RetryRead runs an idempotent read, retrying transient storage errors
// a bounded number of times. Domain errors, constraint violations and
// context cancellation surface on the first attempt.
func RetryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	var err error
	for attempt := 1; ; attempt++ {
		out, err = fn()
		if err == nil || !retryableReadErr(err) || attempt == readAttempts {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(readRetryWait):
		}
	}
}

func retryableReadErr(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrInvalidTransaction):
		return false
	}
	return !IsDuplicateKeyErr(err)
}
