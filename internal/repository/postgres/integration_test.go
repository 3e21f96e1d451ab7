//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"membership-service/internal/db"
	"membership-service/internal/domain/auth"
	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
	"membership-service/internal/repository/postgres"
	"membership-service/internal/service/expiry"
	"membership-service/internal/service/subscription"
	"membership-service/internal/service/tier"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("membership"),
		tcpostgres.WithUsername("membership"),
		tcpostgres.WithPassword("membership"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: dsn, MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(pool))
	return pool
}

func TestPostgres_Lifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	store := postgres.NewSubscriptionRepository(postgres.NewDB(pool, 2*time.Second))
	catalog := postgres.NewCatalogRepository(pool)
	accounts := postgres.NewAuthRepository(pool)
	svc := subscription.NewSubscriptionService(store, catalog, tier.NewResolver(catalog), nil, zap.NewNop())

	acc := &auth.Account{Username: "ada", Email: "ada@example.com", PasswordHash: "x", Cohort: "student"}
	require.NoError(t, accounts.CreateAccount(ctx, acc))

	t.Run("seeded catalog carries benefits", func(t *testing.T) {
		gold, err := catalog.GetTier(ctx, 2)
		require.NoError(t, err)
		require.Len(t, gold.Benefits, 2)
		assert.Equal(t, []string{"groceries", "electronics"}, gold.Benefits[0].ApplicableCategories)
	})

	t.Run("concurrent subscribes leave one active row", func(t *testing.T) {
		var wg sync.WaitGroup
		var ok, conflicts atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Subscribe(ctx, acc.ID, 1, 1)
				switch {
				case err == nil:
					ok.Add(1)
				case xerrors.Is(err, xerrors.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(7), conflicts.Load())

		history, err := store.ListByUser(ctx, acc.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("order activity promotes to the cohort tier", func(t *testing.T) {
		var sub *membership.Subscription
		var err error
		for i := 0; i < 3; i++ {
			sub, err = svc.RecordOrderActivity(ctx, acc.ID, 50)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(4), sub.TierID)
		assert.Equal(t, 3, sub.OrderCount)
	})

	t.Run("sweeper expires lapsed rows", func(t *testing.T) {
		_, err := pool.Exec(ctx, `UPDATE subscriptions SET expiry_date = NOW() - INTERVAL '1 day' WHERE user_id = $1`, acc.ID)
		require.NoError(t, err)

		res, err := expiry.NewSweeper(store, nil, zap.NewNop()).Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Succeeded)

		_, err = svc.GetCurrent(ctx, acc.ID)
		assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)
	})
}
