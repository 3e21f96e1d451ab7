// internal/repository/postgres/auth_repo.go
package postgres

import (
	"context"
	"fmt"

	"membership-service/internal/domain/auth"
	"membership-service/internal/domain/membership"
	xerrors "membership-service/internal/pkg/errors"
)

// AuthRepository stores member accounts. It also serves as the user directory
// the membership core reads cohorts from.
type AuthRepository struct {
	db Pool
}

func NewAuthRepository(db Pool) *AuthRepository {
	return &AuthRepository{db: db}
}

// ========== Account Methods ==========

// CreateAccount inserts a new account and fills its generated fields
func (r *AuthRepository) CreateAccount(ctx context.Context, acc *auth.Account) error {
	query := `
		INSERT INTO users (username, email, password_hash, cohort)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, acc.Username, acc.Email, acc.PasswordHash, acc.Cohort).
		Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", translateError(err))
	}
	return nil
}

// FindAccountByUsername retrieves an account by username (case-insensitive)
func (r *AuthRepository) FindAccountByUsername(ctx context.Context, username string) (*auth.Account, error) {
	query := `
		SELECT id, username, email, password_hash, COALESCE(cohort, ''), created_at, updated_at
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`

	var acc auth.Account
	err := r.db.QueryRow(ctx, query, username).Scan(
		&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash, &acc.Cohort,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &acc, nil
}

func (r *AuthRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

func (r *AuthRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// ========== User Directory ==========

// GetUser returns the membership view of a user.
func (r *AuthRepository) GetUser(ctx context.Context, id int64) (*membership.User, error) {
	var user membership.User
	err := r.db.QueryRow(ctx, `SELECT id, COALESCE(cohort, '') FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Cohort)
	if IsNoRows(err) {
		return nil, fmt.Errorf("user %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}
