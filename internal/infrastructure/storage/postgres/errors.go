package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"lotledger/internal/core/apperror"
)

// PostgreSQL error codes the stores react to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// mapError turns driver errors into application errors. Errors that already
// are application errors pass through unchanged.
func mapError(err error) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return apperror.NewConcurrentModification("transaction", pgErr.Code).WithCause(err)
		case pgLockNotAvailable, pgQueryCanceled:
			return apperror.NewTimeout("database").WithCause(err)
		}
		return apperror.NewDatabase(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewTimeout("database").WithCause(err)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	return isConstraintViolation(err, pgUniqueViolation, constraint)
}

func isConstraintViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code && pgErr.ConstraintName == constraint
}
