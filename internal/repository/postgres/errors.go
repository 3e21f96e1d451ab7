package postgres

import (
	"errors"
	"fmt"

	xerrors "membership-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"

	oneActivePerUserIndex = "uq_subscriptions_one_active_per_user"
)

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// translateError maps driver errors onto the application error kinds.
// Errors it does not recognise are returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if IsNoRows(err) {
		return xerrors.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %s", xerrors.ErrLockTimeout, pgErr.Message)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", xerrors.ErrStaleVersion, pgErr.Message)
	case codeUniqueViolation:
		if pgErr.ConstraintName == oneActivePerUserIndex {
			return xerrors.ErrActiveSubscriptionExists
		}
		return fmt.Errorf("%w: %s", xerrors.ErrDuplicateEntry, pgErr.ConstraintName)
	}
	return err
}
