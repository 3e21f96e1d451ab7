package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"membership-service/internal/domain/auth"
	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSub(userID int64, expiry time.Time) *membership.Subscription {
	return &membership.Subscription{
		UserID:     userID,
		PlanID:     1,
		TierID:     1,
		Status:     membership.StatusActive,
		StartDate:  expiry.AddDate(0, -1, 0),
		ExpiryDate: expiry,
	}
}

func TestStore_WithTxCommitsAndRollsBack(t *testing.T) {
	s := NewStore(time.Second)
	s.AddUser(&membership.User{ID: 1})
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	boom := errors.New("abort")
	err := s.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		_, err := tx.LockUser(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, activeSub(1, expiry)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	subs, err := s.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, subs)

	err = s.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		if _, err := tx.LockUser(ctx, 1); err != nil {
			return err
		}
		sub := activeSub(1, expiry)
		if err := tx.Insert(ctx, sub); err != nil {
			return err
		}
		found, err := tx.FindActive(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, found.ID)
		return nil
	})
	require.NoError(t, err)

	current, err := s.FindCurrent(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), current.Version)
}

func TestStore_LockUserUnknown(t *testing.T) {
	s := NewStore(time.Second)

	err := s.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		_, err := tx.LockUser(ctx, 5)
		return err
	})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestStore_LockUserTimesOutWhileHeld(t *testing.T) {
	s := NewStore(20 * time.Millisecond)
	s.AddUser(&membership.User{ID: 1})
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
			if _, err := tx.LockUser(ctx, 1); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := s.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		_, err := tx.LockUser(ctx, 1)
		return err
	})
	assert.ErrorIs(t, err, xerrors.ErrLockTimeout)
}

func TestStore_UpdateRejectsStaleVersion(t *testing.T) {
	s := NewStore(time.Second)
	s.AddUser(&membership.User{ID: 1})
	stored := s.Put(activeSub(1, time.Now().Add(time.Hour)))
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		stale := stored.Clone()
		stale.Version = 3
		return tx.Update(ctx, stale)
	})
	assert.ErrorIs(t, err, xerrors.ErrStaleVersion)

	err = s.WithTx(ctx, func(ctx context.Context, tx membership.SubscriptionTx) error {
		cur, err := tx.FindActive(ctx, 1)
		if err != nil {
			return err
		}
		cur.OrderCount = 2
		return tx.Update(ctx, cur)
	})
	require.NoError(t, err)

	subs, err := s.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1), subs[0].Version)
	assert.Equal(t, 2, subs[0].OrderCount)
}

func TestStore_CommitEnforcesOneActivePerUser(t *testing.T) {
	s := NewStore(time.Second)
	s.AddUser(&membership.User{ID: 1})
	s.Put(activeSub(1, time.Now().Add(time.Hour)))

	err := s.WithTx(context.Background(), func(ctx context.Context, tx membership.SubscriptionTx) error {
		return tx.Insert(ctx, activeSub(1, time.Now().Add(2*time.Hour)))
	})
	assert.ErrorIs(t, err, xerrors.ErrActiveSubscriptionExists)
}

func TestStore_FindCurrentSkipsLapsedRows(t *testing.T) {
	s := NewStore(time.Second)
	now := time.Now()
	s.Put(activeSub(1, now.Add(-time.Minute)))

	_, err := s.FindCurrent(context.Background(), 1, now)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)

	expired, err := s.ListExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
}

func TestStore_ExpireIsVersionGuarded(t *testing.T) {
	s := NewStore(time.Second)
	sub := s.Put(activeSub(1, time.Now().Add(-time.Minute)))
	ctx := context.Background()

	stale := sub.Clone()
	stale.Version = sub.Version + 5
	assert.ErrorIs(t, s.Expire(ctx, stale), xerrors.ErrStaleVersion)

	require.NoError(t, s.Expire(ctx, sub))
	assert.Equal(t, membership.StatusExpired, sub.Status)
	assert.Equal(t, int64(1), sub.Version)

	assert.ErrorIs(t, s.Expire(ctx, sub), xerrors.ErrStaleVersion)
}

func TestStore_Accounts(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()

	acc := &auth.Account{Username: "ada", Email: "ada@example.com", PasswordHash: "x", Cohort: "student"}
	require.NoError(t, s.CreateAccount(ctx, acc))
	assert.NotZero(t, acc.ID)

	dup := &auth.Account{Username: "ADA", Email: "other@example.com"}
	assert.ErrorIs(t, s.CreateAccount(ctx, dup), xerrors.ErrDuplicateEntry)

	found, err := s.FindAccountByUsername(ctx, "Ada")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)

	exists, err := s.ExistsByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ExistsByUsername(ctx, "grace")
	require.NoError(t, err)
	assert.False(t, exists)

	user, err := s.GetUser(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "student", user.Cohort)
}
