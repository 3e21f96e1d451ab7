// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `
	id, reference, user_id, plan_id, tier_id, status,
	start_date, expiry_date, paid_amount, order_count, total_order_value,
	version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*membership.Subscription, error) {
	var sub membership.Subscription
	err := row.Scan(
		&sub.ID, &sub.Reference, &sub.UserID, &sub.PlanID, &sub.TierID, &sub.Status,
		&sub.StartDate, &sub.ExpiryDate, &sub.PaidAmount, &sub.OrderCount, &sub.TotalOrderValue,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*membership.Subscription, error) {
	defer rows.Close()

	subs := make([]*membership.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

type SubscriptionRepository struct {
	db *DB
}

func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// WithTx runs fn inside a READ COMMITTED transaction. Exclusion between writers
// for the same user comes from the users row lock taken by LockUser.
func (r *SubscriptionRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx membership.SubscriptionTx) error) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translateError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &subscriptionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}
	return nil
}

// FindCurrent returns the user's unexpired ACTIVE subscription, latest expiry first.
func (r *SubscriptionRepository) FindCurrent(ctx context.Context, userID int64, now time.Time) (*membership.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status = 'ACTIVE' AND expiry_date > $2
		ORDER BY expiry_date DESC
		LIMIT 1
	`

	sub, err := scanSubscription(r.db.Pool().QueryRow(ctx, query, userID, now))
	if IsNoRows(err) {
		return nil, xerrors.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find current subscription: %w", err)
	}
	return sub, nil
}

// ListByUser returns every subscription of the user, newest first.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]*membership.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListExpired returns ACTIVE subscriptions whose expiry is at or before now.
func (r *SubscriptionRepository) ListExpired(ctx context.Context, now time.Time) ([]*membership.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'ACTIVE' AND expiry_date <= $1
		ORDER BY expiry_date ASC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// Expire marks one subscription EXPIRED in its own transaction. A row that has
// changed since it was read fails with ErrStaleVersion and is left untouched.
func (r *SubscriptionRepository) Expire(ctx context.Context, sub *membership.Subscription) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translateError(err))
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE subscriptions
		SET status = 'EXPIRED', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'ACTIVE'
		RETURNING version, updated_at
	`

	var version int64
	var updatedAt time.Time
	err = tx.QueryRow(ctx, query, sub.ID, sub.Version).Scan(&version, &updatedAt)
	if IsNoRows(err) {
		return xerrors.ErrStaleVersion
	}
	if err != nil {
		return fmt.Errorf("failed to expire subscription: %w", translateError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}

	sub.Status = membership.StatusExpired
	sub.Version = version
	sub.UpdatedAt = updatedAt
	return nil
}

// ========== Transactional view ==========

type subscriptionTx struct {
	tx pgx.Tx
}

func (t *subscriptionTx) LockUser(ctx context.Context, userID int64) (*membership.User, error) {
	query := `SELECT id, COALESCE(cohort, '') FROM users WHERE id = $1 FOR UPDATE`

	var user membership.User
	err := t.tx.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Cohort)
	if IsNoRows(err) {
		return nil, fmt.Errorf("user %d: %w", userID, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", translateError(err))
	}
	return &user, nil
}

func (t *subscriptionTx) FindActive(ctx context.Context, userID int64) (*membership.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status = 'ACTIVE'
		ORDER BY expiry_date DESC
		LIMIT 1
		FOR UPDATE
	`

	sub, err := scanSubscription(t.tx.QueryRow(ctx, query, userID))
	if IsNoRows(err) {
		return nil, xerrors.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active subscription: %w", translateError(err))
	}
	return sub, nil
}

func (t *subscriptionTx) Insert(ctx context.Context, sub *membership.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			reference, user_id, plan_id, tier_id, status,
			start_date, expiry_date, paid_amount, order_count, total_order_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, version, created_at, updated_at
	`

	err := t.tx.QueryRow(
		ctx, query,
		sub.Reference, sub.UserID, sub.PlanID, sub.TierID, sub.Status,
		sub.StartDate, sub.ExpiryDate, sub.PaidAmount, sub.OrderCount, sub.TotalOrderValue,
	).Scan(&sub.ID, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", translateError(err))
	}
	return nil
}

func (t *subscriptionTx) Update(ctx context.Context, sub *membership.Subscription) error {
	query := `
		UPDATE subscriptions
		SET tier_id = $1, status = $2, order_count = $3, total_order_value = $4,
		    version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at
	`

	err := t.tx.QueryRow(
		ctx, query,
		sub.TierID, sub.Status, sub.OrderCount, sub.TotalOrderValue,
		sub.ID, sub.Version,
	).Scan(&sub.Version, &sub.UpdatedAt)
	if IsNoRows(err) {
		return xerrors.ErrStaleVersion
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", translateError(err))
	}
	return nil
}
