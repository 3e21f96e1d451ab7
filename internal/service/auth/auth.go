// internal/service/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"membership-service/internal/domain/auth"
	xerrors "membership-service/internal/pkg/errors"
	"membership-service/internal/pkg/jwt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AccountRepository interface {
	CreateAccount(ctx context.Context, acc *auth.Account) error
	FindAccountByUsername(ctx context.Context, username string) (*auth.Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// AttemptLimiter throttles login attempts. It is optional.
type AttemptLimiter interface {
	CheckLoginAttempt(ctx context.Context, ip, username string) (bool, int64, error)
	ResetLoginAttempts(ctx context.Context, ip, username string) error
}

type AuthService struct {
	accounts    AccountRepository
	jwtManager  *jwt.Manager
	rateLimiter AttemptLimiter
	logger      *zap.Logger
}

func NewAuthService(
	accounts AccountRepository,
	jwtManager *jwt.Manager,
	rateLimiter AttemptLimiter,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		accounts:    accounts,
		jwtManager:  jwtManager,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// ========== Registration ==========

// Register creates a new member account and logs it in.
func (s *AuthService) Register(ctx context.Context, req *auth.RegisterRequest) (*auth.LoginResponse, error) {
	exists, err := s.accounts.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("username already taken: %w", xerrors.ErrDuplicateEntry)
	}

	exists, err = s.accounts.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered: %w", xerrors.ErrDuplicateEntry)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	acc := &auth.Account{
		Username:     req.Username,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hashedPassword),
		Cohort:       strings.TrimSpace(req.Cohort),
	}
	if err := s.accounts.CreateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account registered",
		zap.Int64("user_id", acc.ID),
		zap.String("username", acc.Username),
		zap.String("cohort", acc.Cohort),
	)

	// Auto-login after registration
	return s.issue(acc)
}

// ========== Login ==========

// Login authenticates a member with username/password
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	var remaining int64
	if s.rateLimiter != nil {
		allowed, left, err := s.rateLimiter.CheckLoginAttempt(ctx, req.IPAddress, req.Username)
		if err != nil {
			// Fail open; redis outages must not block logins
			s.logger.Warn("login rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			return nil, fmt.Errorf("too many login attempts, please try again later: %w", xerrors.ErrRateLimited)
		}
		remaining = left
	}

	acc, err := s.accounts.FindAccountByUsername(ctx, req.Username)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", xerrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
		if s.rateLimiter != nil {
			return nil, fmt.Errorf("invalid credentials (attempts remaining: %d): %w", remaining, xerrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("invalid credentials: %w", xerrors.ErrUnauthorized)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.ResetLoginAttempts(ctx, req.IPAddress, req.Username); err != nil {
			s.logger.Warn("failed to reset login attempts", zap.Error(err))
		}
	}

	return s.issue(acc)
}

// ValidateToken verifies an access token and returns its claims
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.Verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, xerrors.ErrUnauthorized)
	}
	return claims, nil
}

// ========== Helper Methods ==========

func (s *AuthService) issue(acc *auth.Account) (*auth.LoginResponse, error) {
	roles := []string{auth.RoleUser}

	accessToken, _, err := s.jwtManager.Generator.GenerateAccessToken(acc.ID, acc.Username, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	ttl := s.jwtManager.Generator.Ttl
	return &auth.LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		ExpiresAt:   time.Now().Add(ttl),
		User: auth.UserInfo{
			ID:       acc.ID,
			Username: acc.Username,
			Email:    acc.Email,
			Cohort:   acc.Cohort,
			Roles:    roles,
		},
	}, nil
}
