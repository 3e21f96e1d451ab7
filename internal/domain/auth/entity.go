// internal/domain/auth/entity.go
package auth

import (
	"time"
)

const RoleUser = "user"

// Account is a registered member with local credentials.
type Account struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Cohort       string    `json:"cohort,omitempty" db:"cohort"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
