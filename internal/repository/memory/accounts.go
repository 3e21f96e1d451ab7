package memory

import (
	"context"
	"strings"
	"time"

	"membership-service/internal/domain/auth"
	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
)

type accountRecord struct {
	account auth.Account
}

func (s *Store) CreateAccount(ctx context.Context, acc *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.accounts {
		if strings.EqualFold(rec.account.Username, acc.Username) || strings.EqualFold(rec.account.Email, acc.Email) {
			return xerrors.ErrDuplicateEntry
		}
	}

	s.nextUser++
	now := time.Now()
	acc.ID = s.nextUser
	acc.CreatedAt = now
	acc.UpdatedAt = now

	s.accounts[acc.ID] = &accountRecord{account: *acc}
	s.users[acc.ID] = &membership.User{ID: acc.ID, Cohort: acc.Cohort}
	return nil
}

func (s *Store) FindAccountByUsername(ctx context.Context, username string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.accounts {
		if strings.EqualFold(rec.account.Username, username) {
			acc := rec.account
			return &acc, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := s.FindAccountByUsername(ctx, username)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.accounts {
		if strings.EqualFold(rec.account.Email, email) {
			return true, nil
		}
	}
	return false, nil
}
