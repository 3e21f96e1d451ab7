package membership

import (
	"context"
	"time"
)

// SubscriptionTx is the transactional view of the store handed to a unit of work.
// Rows read through it are held for update until the transaction ends.
type SubscriptionTx interface {
	// LockUser takes the exclusive user-scoped lock and returns the user.
	// It must be the first call in a mutating unit of work.
	LockUser(ctx context.Context, userID int64) (*User, error)
	// FindActive returns the user's row with status ACTIVE regardless of expiry.
	FindActive(ctx context.Context, userID int64) (*Subscription, error)
	Insert(ctx context.Context, sub *Subscription) error
	// Update persists sub if its version still matches and bumps the version.
	Update(ctx context.Context, sub *Subscription) error
}

type SubscriptionStore interface {
	// WithTx runs fn in one all-or-nothing transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx SubscriptionTx) error) error
	FindCurrent(ctx context.Context, userID int64, now time.Time) (*Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]*Subscription, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Subscription, error)
	// Expire moves one row to EXPIRED in its own transaction, guarded by version.
	Expire(ctx context.Context, sub *Subscription) error
}

type Catalog interface {
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	GetTier(ctx context.Context, id int64) (*Tier, error)
	ListActivePlans(ctx context.Context) ([]*Plan, error)
	ListActiveTiersByLevelAsc(ctx context.Context) ([]*Tier, error)
	FindCandidateTiers(ctx context.Context, orderCount int, orderValue float64, cohort string) ([]*Tier, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}
