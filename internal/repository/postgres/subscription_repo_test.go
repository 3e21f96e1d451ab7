package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subscriptionCols = []string{
	"id", "reference", "user_id", "plan_id", "tier_id", "status",
	"start_date", "expiry_date", "paid_amount", "order_count", "total_order_value",
	"version", "created_at", "updated_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func subscriptionRow(rows *pgxmock.Rows, id int64, status membership.SubscriptionStatus, expiry time.Time) *pgxmock.Rows {
	created := expiry.AddDate(0, -1, 0)
	return rows.AddRow(
		id, "SUB-1", int64(1), int64(1), int64(2), status,
		created, expiry, 9.99, 4, 400.0,
		int64(3), created, created,
	)
}

func expectBegin(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs("5000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestWithTx_InsertsUnderUserLock(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 5*time.Second))
	now := time.Now()

	expectBegin(mock)
	mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "cohort"}).AddRow(int64(1), "student"))
	mock.ExpectQuery(`FROM subscriptions\s+WHERE user_id = \$1 AND status = 'ACTIVE'`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(subscriptionCols))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(int64(10), int64(0), now, now))
	mock.ExpectCommit()

	sub := &membership.Subscription{UserID: 1, PlanID: 1, TierID: 2, Status: membership.StatusActive}
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		user, err := tx.LockUser(ctx, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, "student", user.Cohort)

		_, err = tx.FindActive(ctx, 1)
		assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)

		return tx.Insert(ctx, sub)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), sub.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 5*time.Second))

	expectBegin(mock)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnError(&pgconn.PgError{Code: codeLockNotAvailable, Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		_, err := tx.LockUser(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, xerrors.ErrLockTimeout)
	assert.True(t, xerrors.Retryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockUser_UnknownUser(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 0))

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(9)).WillReturnRows(pgxmock.NewRows([]string{"id", "cohort"}))
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		_, err := tx.LockUser(ctx, 9)
		return err
	})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_StaleVersion(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 0))

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE subscriptions").
		WithArgs(int64(2), membership.StatusActive, 5, 550.0, int64(7), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"version", "updated_at"}))
	mock.ExpectRollback()

	sub := &membership.Subscription{ID: 7, TierID: 2, Status: membership.StatusActive, OrderCount: 5, TotalOrderValue: 550, Version: 3}
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		return tx.Update(ctx, sub)
	})
	assert.ErrorIs(t, err, xerrors.ErrStaleVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_OneActivePerUserViolation(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 0))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: oneActivePerUserIndex})
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		return tx.Insert(ctx, &membership.Subscription{UserID: 1})
	})
	assert.ErrorIs(t, err, xerrors.ErrActiveSubscriptionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCurrent(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 0))
	now := time.Now()
	expiry := now.Add(24 * time.Hour)

	mock.ExpectQuery("expiry_date > \\$2").
		WithArgs(int64(1), now).
		WillReturnRows(subscriptionRow(pgxmock.NewRows(subscriptionCols), 4, membership.StatusActive, expiry))
	mock.ExpectQuery("expiry_date > \\$2").
		WithArgs(int64(2), now).
		WillReturnRows(pgxmock.NewRows(subscriptionCols))

	sub, err := repo.FindCurrent(context.Background(), 1, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sub.ID)
	assert.Equal(t, 4, sub.OrderCount)
	assert.Equal(t, expiry, sub.ExpiryDate)

	_, err = repo.FindCurrent(context.Background(), 2, now)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpired(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 0))
	now := time.Now()

	rows := pgxmock.NewRows(subscriptionCols)
	subscriptionRow(rows, 1, membership.StatusActive, now.Add(-time.Hour))
	subscriptionRow(rows, 2, membership.StatusActive, now.Add(-time.Minute))
	mock.ExpectQuery("expiry_date <= \\$1").WithArgs(now).WillReturnRows(rows)

	subs, err := repo.ListExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpire(t *testing.T) {
	mock := newMock(t)
	repo := NewSubscriptionRepository(NewDB(mock, 0))
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SET status = 'EXPIRED'").
		WithArgs(int64(4), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(4), now))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("SET status = 'EXPIRED'").
		WithArgs(int64(5), int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"version", "updated_at"}))
	mock.ExpectRollback()

	sub := &membership.Subscription{ID: 4, Status: membership.StatusActive, Version: 3}
	require.NoError(t, repo.Expire(context.Background(), sub))
	assert.Equal(t, membership.StatusExpired, sub.Status)
	assert.Equal(t, int64(4), sub.Version)

	stale := &membership.Subscription{ID: 5, Status: membership.StatusActive, Version: 1}
	assert.ErrorIs(t, repo.Expire(context.Background(), stale), xerrors.ErrStaleVersion)
	assert.Equal(t, membership.StatusActive, stale.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateError(t *testing.T) {
	other := errors.New("network down")

	assert.Nil(t, translateError(nil))
	assert.Equal(t, other, translateError(other))
	assert.ErrorIs(t, translateError(&pgconn.PgError{Code: codeSerializationFailure}), xerrors.ErrStaleVersion)
	assert.ErrorIs(t, translateError(&pgconn.PgError{Code: codeDeadlockDetected}), xerrors.ErrStaleVersion)
	assert.ErrorIs(t, translateError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "users_email_key"}), xerrors.ErrDuplicateEntry)
	assert.NotErrorIs(t, translateError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "users_email_key"}), xerrors.ErrConflict)
}
