package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/opencampus/registrar-api/pkg/database"
	appErrors "github.com/opencampus/registrar-api/pkg/errors"
)

// txAttempts bounds the local retry of transient persistence failures.
// Business-rule rejections are never retried.
var txAttempts = 3

// SetTxRetries overrides the transaction retry budget. Called once at wiring
// time, before any traffic.
func SetTxRetries(attempts int) {
	if attempts > 0 {
		txAttempts = attempts
	}
}

// onTxRetry is invoked once per retried attempt, for instrumentation.
var onTxRetry = func() {}

// SetTxRetryHook installs an observer for retried transactions. Called once
// at wiring time.
func SetTxRetryHook(fn func()) {
	if fn != nil {
		onTxRetry = fn
	}
}

// withTx runs fn inside a transaction, committing before returning success so
// a crash after the response can never lose the write. Serialization and
// deadlock failures are retried up to the configured budget; exhaustion
// surfaces as a PersistenceError with all prior committed state untouched.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txAttempts; attempt++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			lastErr = err
			if database.IsRetryable(err) {
				onTxRetry()
				continue
			}
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "begin transaction")
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if database.IsRetryable(err) {
				lastErr = err
				onTxRetry()
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			lastErr = err
			if database.IsRetryable(err) {
				onTxRetry()
				continue
			}
			return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "commit transaction")
		}
		return nil
	}
	return appErrors.Wrap(lastErr, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status,
		fmt.Sprintf("transaction failed after %d attempts", txAttempts))
}
