package subscription

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"membership-service/internal/cache"
	"membership-service/internal/domain/membership"
	"membership-service/internal/events"
	"membership-service/internal/metrics"
	xerrors "membership-service/internal/pkg/errors"
	"membership-service/internal/repository/memory"
	"membership-service/internal/service/tier"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	userID     int64 = 42
	planID     int64 = 1
	tierA      int64 = 1
	tierB      int64 = 2
	tierHidden int64 = 3
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []membership.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt membership.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []membership.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]membership.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() membership.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fixture struct {
	svc       *SubscriptionService
	store     *memory.Store
	catalog   *memory.Catalog
	publisher *recordingPublisher
	registry  *prometheus.Registry
	now       time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// counter returns the value of a registered counter whose labels match.
func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	plans := []*membership.Plan{
		{ID: planID, Name: "Monthly", Duration: membership.DurationMonthly, Price: 9.99, Active: true},
		{ID: 2, Name: "Retired", Duration: membership.DurationYearly, Price: 99, Active: false},
		{ID: 3, Name: "Broken", Duration: "WEEKLY", Price: 1, Active: true},
	}
	tiers := []*membership.Tier{
		{ID: tierA, Name: "Tier A", Level: 1, Active: true},
		{ID: tierB, Name: "Tier B", Level: 2, MinOrderCount: 5, MinOrderValue: 500, Active: true},
		{ID: tierHidden, Name: "Hidden", Level: 9, Active: false},
	}
	catalog := memory.NewCatalog(plans, tiers)

	store := memory.NewStore(time.Second)
	store.AddUser(&membership.User{ID: userID})

	f := &fixture{
		store:     store,
		catalog:   catalog,
		publisher: &recordingPublisher{},
		registry:  prometheus.NewRegistry(),
		now:       time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC),
	}

	all := append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithMetrics(metrics.New(f.registry)),
	}, opts...)
	f.svc = NewSubscriptionService(store, catalog, tier.NewResolver(catalog), f.publisher, zap.NewNop(), all...)
	return f
}

func TestSubscribe_CreatesActiveSubscription(t *testing.T) {
	f := newFixture(t)

	sub, err := f.svc.Subscribe(context.Background(), userID, planID, tierA)
	require.NoError(t, err)

	assert.NotZero(t, sub.ID)
	assert.True(t, strings.HasPrefix(sub.Reference, "SUB-"))
	assert.Equal(t, membership.StatusActive, sub.Status)
	assert.Equal(t, tierA, sub.TierID)
	assert.Equal(t, 9.99, sub.PaidAmount)
	assert.Zero(t, sub.OrderCount)
	assert.Zero(t, sub.TotalOrderValue)
	assert.Equal(t, f.now, sub.StartDate)
	// Jan 31 + 1 month normalises to Mar 2 in a leap year.
	assert.Equal(t, time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC), sub.ExpiryDate)

	assert.Equal(t, []membership.EventType{membership.EventSubscriptionCreated}, f.publisher.types())
}

func TestSubscribe_RejectsSecondActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	_, err = f.svc.Subscribe(ctx, userID, planID, tierB)
	assert.ErrorIs(t, err, xerrors.ErrActiveSubscriptionExists)
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	history, err := f.svc.GetHistory(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSubscribe_ValidatesCatalogEntries(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		user   int64
		plan   int64
		tier   int64
		target error
	}{
		{"unknown user", 999, planID, tierA, xerrors.ErrNotFound},
		{"unknown plan", userID, 404, tierA, xerrors.ErrNotFound},
		{"inactive plan", userID, 2, tierA, xerrors.ErrNotFound},
		{"unknown tier", userID, planID, 404, xerrors.ErrNotFound},
		{"inactive tier", userID, planID, tierHidden, xerrors.ErrNotFound},
		{"unknown duration", userID, 3, tierA, xerrors.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Subscribe(ctx, tc.user, tc.plan, tc.tier)
			assert.ErrorIs(t, err, tc.target)
			assert.Empty(t, f.publisher.types())

			history, err := f.svc.GetHistory(ctx, userID)
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestSubscribe_ExpiresLapsedRowFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.Subscribe(ctx, userID, planID, tierB)
	require.NoError(t, err)

	f.advance(60 * 24 * time.Hour)

	fresh, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)

	history, err := f.svc.GetHistory(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, fresh.ID, history[0].ID, "most recent first")
	assert.Equal(t, old.ID, history[1].ID)

	statuses := map[int64]membership.SubscriptionStatus{}
	for _, s := range history {
		statuses[s.ID] = s.Status
	}
	assert.Equal(t, membership.StatusExpired, statuses[old.ID])
	assert.Equal(t, membership.StatusActive, statuses[fresh.ID])

	assert.Equal(t, []membership.EventType{
		membership.EventSubscriptionCreated,
		membership.EventSubscriptionExpired,
		membership.EventSubscriptionCreated,
	}, f.publisher.types())
}

func TestSubscribe_ConcurrentCallsCreateOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, xerrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)

	history, err := f.svc.GetHistory(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordOrderActivity_PromotesAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		sub, err := f.svc.RecordOrderActivity(ctx, userID, 100)
		require.NoError(t, err)
		assert.Equal(t, tierA, sub.TierID)
	}

	sub, err := f.svc.RecordOrderActivity(ctx, userID, 150)
	require.NoError(t, err)
	assert.Equal(t, 5, sub.OrderCount)
	assert.InDelta(t, 550.0, sub.TotalOrderValue, 1e-9)
	assert.Equal(t, tierB, sub.TierID)

	promoted := f.publisher.last()
	assert.Equal(t, membership.EventSubscriptionPromoted, promoted.Type)
	assert.Equal(t, tierA, promoted.PreviousTier)
	assert.Equal(t, tierB, promoted.Subscription.TierID)
	assert.Equal(t, 1.0, f.counter(t, "membership_tier_promotions_total", nil))

	current, err := f.svc.GetCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tierB, current.TierID)
}

func TestRecordOrderActivity_ConcurrentOrdersAreAllCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	const orders = 50
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordOrderActivity(ctx, userID, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sub, err := f.svc.GetCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, orders, sub.OrderCount)
	assert.Equal(t, 500.0, sub.TotalOrderValue)
	assert.Equal(t, tierB, sub.TierID)
}

func TestRecordOrderActivity_RoundsToCents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	_, err = f.svc.RecordOrderActivity(ctx, userID, 0.1)
	require.NoError(t, err)
	sub, err := f.svc.RecordOrderActivity(ctx, userID, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.3, sub.TotalOrderValue)

	sub, err = f.svc.RecordOrderActivity(ctx, userID, 19.995)
	require.NoError(t, err)
	assert.Equal(t, 20.3, sub.TotalOrderValue)

	_, err = f.svc.RecordOrderActivity(ctx, userID, 0.004)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestRecordOrderActivity_NeverDemotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierB)
	require.NoError(t, err)

	sub, err := f.svc.RecordOrderActivity(ctx, userID, 1)
	require.NoError(t, err)
	assert.Equal(t, tierB, sub.TierID)
	assert.Equal(t, []membership.EventType{
		membership.EventSubscriptionCreated,
		membership.EventOrderRecorded,
	}, f.publisher.types())
}

func TestRecordOrderActivity_RejectsInvalidValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := f.svc.RecordOrderActivity(ctx, userID, v)
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput, "value %v", v)
	}

	current, err := f.svc.GetCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, current.OrderCount)
}

func TestRecordOrderActivity_RequiresCurrentSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordOrderActivity(ctx, userID, 10)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)

	_, err = f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)
	f.advance(90 * 24 * time.Hour)

	_, err = f.svc.RecordOrderActivity(ctx, userID, 10)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)
}

func TestRecordOrderActivity_FailsWithoutActiveTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	f.catalog.SetTierActive(tierA, false)
	f.catalog.SetTierActive(tierB, false)

	_, err = f.svc.RecordOrderActivity(ctx, userID, 10)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveTiers)

	current, err := f.svc.GetCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, current.OrderCount)
}

func TestChangeTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierB)
	require.NoError(t, err)

	sub, err := f.svc.ChangeTier(ctx, userID, tierA)
	require.NoError(t, err)
	assert.Equal(t, tierA, sub.TierID)

	evt := f.publisher.last()
	assert.Equal(t, membership.EventSubscriptionTierChanged, evt.Type)
	assert.Equal(t, tierB, evt.PreviousTier)

	_, err = f.svc.ChangeTier(ctx, userID, tierA)
	assert.ErrorIs(t, err, xerrors.ErrAlreadyOnTier)

	_, err = f.svc.ChangeTier(ctx, userID, tierHidden)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	_, err = f.svc.ChangeTier(ctx, 7, tierA)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	sub, err := f.svc.CancelSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, membership.StatusCancelled, sub.Status)

	_, err = f.svc.GetCurrent(ctx, userID)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)

	_, err = f.svc.CancelSubscription(ctx, userID)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)

	_, err = f.svc.Subscribe(ctx, userID, planID, tierA)
	assert.NoError(t, err)
}

func TestGetCurrent_IgnoresExpiredRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	f.now = sub.ExpiryDate
	_, err = f.svc.GetCurrent(ctx, userID)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)
}

type stubCache struct {
	entry *membership.Subscription
	sets  int
}

func (c *stubCache) Get(_ context.Context, _ int64) (*membership.Subscription, bool) {
	if c.entry == nil {
		return nil, false
	}
	return c.entry.Clone(), true
}

func (c *stubCache) Set(_ context.Context, sub *membership.Subscription) {
	c.entry = sub.Clone()
	c.sets++
}

func TestGetCurrent_UsesSnapshotCache(t *testing.T) {
	cache := &stubCache{}
	f := newFixture(t, WithSnapshotCache(cache))
	ctx := context.Background()

	sub, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	got, err := f.svc.GetCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, 1, cache.sets)

	_, err = f.svc.GetCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "second read is served from cache")

	// A cached snapshot past its expiry is never returned.
	f.now = sub.ExpiryDate.Add(time.Second)
	_, err = f.svc.GetCurrent(ctx, userID)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)
}

func TestGetCurrent_IgnoresSnapshotOfAnotherUser(t *testing.T) {
	cache := &stubCache{entry: &membership.Subscription{
		ID: 99, UserID: 7, Status: membership.StatusActive,
		ExpiryDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	f := newFixture(t, WithSnapshotCache(cache))

	_, err := f.svc.GetCurrent(context.Background(), userID)
	assert.ErrorIs(t, err, xerrors.ErrNoActiveSubscription)
}

func TestOperationsAreCountedByOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)
	_, err = f.svc.Subscribe(ctx, userID, planID, tierA)
	require.Error(t, err)

	ops := "membership_lifecycle_operations_total"
	assert.Equal(t, 1.0, f.counter(t, ops, map[string]string{"operation": "subscribe", "outcome": "success"}))
	assert.Equal(t, 1.0, f.counter(t, ops, map[string]string{"operation": "subscribe", "outcome": "conflict"}))
}

// pausingStore holds the first FindCurrent after it has read, so a write can
// commit between the read and the cache fill that follows it.
type pausingStore struct {
	*memory.Store
	read   chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (s *pausingStore) FindCurrent(ctx context.Context, userID int64, now time.Time) (*membership.Subscription, error) {
	sub, err := s.Store.FindCurrent(ctx, userID, now)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return sub, err
}

func TestGetCurrent_CancelWinsOverConcurrentCacheFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	snapshots := cache.NewSubscriptionCache(client, time.Minute, cache.DefaultBreakerConfig(), zap.NewNop())
	dispatcher := events.NewDispatcher(zap.NewNop())
	dispatcher.Register("subscription-cache", snapshots)

	store := &pausingStore{Store: f.store, read: make(chan struct{}), resume: make(chan struct{})}
	svc := NewSubscriptionService(store, f.catalog, tier.NewResolver(f.catalog), dispatcher, zap.NewNop(),
		WithClock(func() time.Time { return f.now }),
		WithSnapshotCache(snapshots),
	)

	_, err = svc.Subscribe(ctx, userID, planID, tierA)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetCurrent(ctx, userID)
		done <- err
	}()
	<-store.read

	_, err = svc.CancelSubscription(ctx, userID)
	require.NoError(t, err)

	close(store.resume)
	require.NoError(t, <-done)

	_, err = svc.GetCurrent(ctx, userID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}
