package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"membership-service/internal/domain/membership"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	snapshotKeyPrefix = "membership:current:"
	fenceKeyPrefix    = "membership:fence:"
)

// storeSnapshot writes the snapshot unless the user's fence records a newer
// committed row. Rows are ordered by (id, version).
var storeSnapshot = redis.NewScript(`
local fence = redis.call('HMGET', KEYS[2], 'id', 'version')
if fence[1] then
	local id, ver = tonumber(ARGV[2]), tonumber(ARGV[3])
	local fid, fver = tonumber(fence[1]), tonumber(fence[2])
	if id < fid or (id == fid and ver < fver) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return 1
`)

// raiseFence drops the snapshot and moves the fence forward to the committed
// row. The fence never moves backwards.
var raiseFence = redis.NewScript(`
redis.call('DEL', KEYS[1])
local id, ver = ARGV[1], ARGV[2]
local fence = redis.call('HMGET', KEYS[2], 'id', 'version')
if fence[1] then
	local fid, fver = tonumber(fence[1]), tonumber(fence[2])
	local nid, nver = tonumber(id), tonumber(ver)
	if fid > nid or (fid == nid and fver > nver) then
		id, ver = fence[1], fence[2]
	end
end
redis.call('HSET', KEYS[2], 'id', id, 'version', ver)
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`)

type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// SubscriptionCache keeps a snapshot of each user's current subscription in
// redis. Every call goes through a circuit breaker; failures are logged and
// treated as misses so callers always fall back to the store.
//
// Committed changes raise a per-user fence, and a snapshot older than the
// fence is never stored, so a read that raced a write cannot bring the old
// row back. When the fence itself cannot be written the user is bypassed
// locally until any snapshot written before the change has expired.
type SubscriptionCache struct {
	client   redis.Cmdable
	breaker  *gobreaker.CircuitBreaker[[]byte]
	ttl      time.Duration
	fenceTTL time.Duration
	bypass   *gocache.Cache
	logger   *zap.Logger
}

func NewSubscriptionCache(client redis.Cmdable, ttl time.Duration, cfg BreakerConfig, logger *zap.Logger) *SubscriptionCache {
	settings := gobreaker.Settings{
		Name:        "subscription-cache",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &SubscriptionCache{
		client:   client,
		breaker:  gobreaker.NewCircuitBreaker[[]byte](settings),
		ttl:      ttl,
		fenceTTL: 2 * ttl,
		bypass:   gocache.New(ttl, ttl),
		logger:   logger,
	}
}

func snapshotKey(userID int64) string {
	return fmt.Sprintf("%s%d", snapshotKeyPrefix, userID)
}

func fenceKey(userID int64) string {
	return fmt.Sprintf("%s%d", fenceKeyPrefix, userID)
}

func (c *SubscriptionCache) bypassed(userID int64) bool {
	_, found := c.bypass.Get(strconv.FormatInt(userID, 10))
	return found
}

// Get returns the cached snapshot for the user, if any.
func (c *SubscriptionCache) Get(ctx context.Context, userID int64) (*membership.Subscription, bool) {
	if c.bypassed(userID) {
		return nil, false
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		b, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		c.logFailure("get", userID, err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var sub membership.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		c.logger.Warn("discarding unreadable subscription snapshot",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return nil, false
	}
	return &sub, true
}

// Set stores a snapshot read from the store. It is a no-op when a newer row
// has been committed for the user since.
func (c *SubscriptionCache) Set(ctx context.Context, sub *membership.Subscription) {
	if c.bypassed(sub.UserID) {
		return
	}

	data, err := json.Marshal(sub)
	if err != nil {
		c.logger.Warn("failed to encode subscription snapshot", zap.Int64("subscription_id", sub.ID), zap.Error(err))
		return
	}

	_, err = c.breaker.Execute(func() ([]byte, error) {
		return nil, storeSnapshot.Run(ctx, c.client,
			[]string{snapshotKey(sub.UserID), fenceKey(sub.UserID)},
			data, sub.ID, sub.Version, c.ttl.Milliseconds(),
		).Err()
	})
	if err != nil {
		c.logFailure("set", sub.UserID, err)
	}
}

// Evict drops the user's snapshot and fences out anything older than the
// committed row.
func (c *SubscriptionCache) Evict(ctx context.Context, committed *membership.Subscription) error {
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, raiseFence.Run(ctx, c.client,
			[]string{snapshotKey(committed.UserID), fenceKey(committed.UserID)},
			committed.ID, committed.Version, c.fenceTTL.Milliseconds(),
		).Err()
	})
	if err != nil {
		c.bypass.Set(strconv.FormatInt(committed.UserID, 10), struct{}{}, c.fenceTTL)
		return fmt.Errorf("failed to evict subscription snapshot: %w", err)
	}
	return nil
}

// Handle evicts the snapshot of the user an event belongs to.
func (c *SubscriptionCache) Handle(ctx context.Context, evt membership.Event) error {
	if evt.Subscription == nil {
		return nil
	}
	return c.Evict(ctx, evt.Subscription)
}

func (c *SubscriptionCache) logFailure(op string, userID int64, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Debug("subscription cache unavailable",
			zap.String("op", op),
			zap.Int64("user_id", userID),
		)
		return
	}
	c.logger.Warn("subscription cache call failed",
		zap.String("op", op),
		zap.Int64("user_id", userID),
		zap.Error(err),
	)
}
