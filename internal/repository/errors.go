package repository

import (
	"context"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
)

// Postgres condition codes that indicate lock contention rather than a
// genuine data conflict.
const (
	pqLockNotAvailable = "55P03"
	pqQueryCanceled    = "57014"
)

// TranslateLockError maps lock-wait and deadline failures onto the
// retryable LOCK_TIMEOUT sentinel. Other errors pass through unchanged.
func TranslateLockError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrLockTimeout.Code, appErrors.ErrLockTimeout.Status, appErrors.ErrLockTimeout.Message)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqLockNotAvailable, pqQueryCanceled:
			return appErrors.Wrap(err, appErrors.ErrLockTimeout.Code, appErrors.ErrLockTimeout.Status, appErrors.ErrLockTimeout.Message)
		}
	}
	return err
}
