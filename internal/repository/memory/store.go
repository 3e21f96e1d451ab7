package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
)

// Store keeps subscriptions and users in process. Writes made inside WithTx are
// staged and applied together on success, so a failed unit of work leaves no trace.
type Store struct {
	mu       sync.RWMutex
	subs     map[int64]*membership.Subscription
	users    map[int64]*membership.User
	accounts map[int64]*accountRecord
	nextSub  int64
	nextUser int64

	locks       *KeyedMutex
	lockTimeout time.Duration
}

func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		subs:        make(map[int64]*membership.Subscription),
		users:       make(map[int64]*membership.User),
		accounts:    make(map[int64]*accountRecord),
		locks:       NewKeyedMutex(),
		lockTimeout: lockTimeout,
	}
}

// AddUser registers a user the store can lock. Used for seeding.
func (s *Store) AddUser(u *membership.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	if u.ID > s.nextUser {
		s.nextUser = u.ID
	}
}

// Put stores a subscription row directly, bypassing the transactional path.
func (s *Store) Put(sub *membership.Subscription) *membership.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sub.Clone()
	if cp.ID == 0 {
		s.nextSub++
		cp.ID = s.nextSub
	} else if cp.ID > s.nextSub {
		s.nextSub = cp.ID
	}
	s.subs[cp.ID] = cp
	return cp.Clone()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx membership.SubscriptionTx) error) error {
	tx := &storeTx{
		store:        s,
		locked:       make(map[int64]func()),
		updates:      make(map[int64]*membership.Subscription),
		baseVersions: make(map[int64]int64),
	}
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *storeTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range tx.baseVersions {
		current, ok := s.subs[id]
		if !ok || current.Version != base {
			return xerrors.ErrStaleVersion
		}
	}
	for _, ins := range tx.inserts {
		if ins.Status != membership.StatusActive {
			continue
		}
		for id, existing := range s.subs {
			if existing.UserID != ins.UserID {
				continue
			}
			status := existing.Status
			if staged, ok := tx.updates[id]; ok {
				status = staged.Status
			}
			if status == membership.StatusActive {
				return xerrors.ErrActiveSubscriptionExists
			}
		}
	}

	for id, staged := range tx.updates {
		s.subs[id] = staged.Clone()
	}
	for _, ins := range tx.inserts {
		s.subs[ins.ID] = ins.Clone()
	}
	return nil
}

func (s *Store) FindCurrent(ctx context.Context, userID int64, now time.Time) (*membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *membership.Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID || !sub.IsCurrent(now) {
			continue
		}
		if best == nil || sub.ExpiryDate.After(best.ExpiryDate) {
			best = sub
		}
	}
	if best == nil {
		return nil, xerrors.ErrNoActiveSubscription
	}
	return best.Clone(), nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64) ([]*membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*membership.Subscription, 0)
	for _, sub := range s.subs {
		if sub.UserID == userID {
			subs = append(subs, sub.Clone())
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID > subs[j].ID
	})
	return subs, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*membership.Subscription, 0)
	for _, sub := range s.subs {
		if sub.Status == membership.StatusActive && !sub.ExpiryDate.After(now) {
			subs = append(subs, sub.Clone())
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].ExpiryDate.Equal(subs[j].ExpiryDate) {
			return subs[i].ExpiryDate.Before(subs[j].ExpiryDate)
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

// Expire waits for the owner's lock so it never interleaves with a unit of work
// on the same user, then applies a version-guarded transition.
func (s *Store) Expire(ctx context.Context, sub *membership.Subscription) error {
	unlock, err := s.locks.Lock(ctx, sub.UserID, s.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subs[sub.ID]
	if !ok || current.Version != sub.Version || current.Status != membership.StatusActive {
		return xerrors.ErrStaleVersion
	}

	updated := current.Clone()
	updated.Status = membership.StatusExpired
	updated.Version++
	updated.UpdatedAt = time.Now()
	s.subs[sub.ID] = updated

	sub.Status = updated.Status
	sub.Version = updated.Version
	sub.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*membership.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, xerrors.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// ========== Transactional view ==========

type storeTx struct {
	store        *Store
	locked       map[int64]func()
	updates      map[int64]*membership.Subscription
	baseVersions map[int64]int64
	inserts      []*membership.Subscription
}

func (t *storeTx) releaseLocks() {
	for _, unlock := range t.locked {
		unlock()
	}
}

func (t *storeTx) LockUser(ctx context.Context, userID int64) (*membership.User, error) {
	user, err := t.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, held := t.locked[userID]; held {
		return user, nil
	}

	unlock, err := t.store.locks.Lock(ctx, userID, t.store.lockTimeout)
	if err != nil {
		return nil, err
	}
	t.locked[userID] = unlock
	return user, nil
}

func (t *storeTx) FindActive(ctx context.Context, userID int64) (*membership.Subscription, error) {
	t.store.mu.RLock()
	var best *membership.Subscription
	for id, sub := range t.store.subs {
		if staged, ok := t.updates[id]; ok {
			sub = staged
		}
		if sub.UserID == userID && sub.Status == membership.StatusActive {
			if best == nil || sub.ExpiryDate.After(best.ExpiryDate) {
				best = sub
			}
		}
	}
	t.store.mu.RUnlock()

	for _, ins := range t.inserts {
		if ins.UserID == userID && ins.Status == membership.StatusActive {
			if best == nil || ins.ExpiryDate.After(best.ExpiryDate) {
				best = ins
			}
		}
	}

	if best == nil {
		return nil, xerrors.ErrNoActiveSubscription
	}
	return best.Clone(), nil
}

func (t *storeTx) Insert(ctx context.Context, sub *membership.Subscription) error {
	t.store.mu.Lock()
	t.store.nextSub++
	sub.ID = t.store.nextSub
	t.store.mu.Unlock()

	now := time.Now()
	sub.Version = 0
	sub.CreatedAt = now
	sub.UpdatedAt = now
	t.inserts = append(t.inserts, sub.Clone())
	return nil
}

func (t *storeTx) Update(ctx context.Context, sub *membership.Subscription) error {
	t.store.mu.RLock()
	current, ok := t.store.subs[sub.ID]
	t.store.mu.RUnlock()
	if !ok {
		return xerrors.ErrStaleVersion
	}

	expected := current.Version
	if staged, ok := t.updates[sub.ID]; ok {
		expected = staged.Version
	}
	if sub.Version != expected {
		return xerrors.ErrStaleVersion
	}
	if _, seen := t.baseVersions[sub.ID]; !seen {
		t.baseVersions[sub.ID] = current.Version
	}

	sub.Version++
	sub.UpdatedAt = time.Now()
	t.updates[sub.ID] = sub.Clone()
	return nil
}
