package domain

import (
	"database/sql"
	"time"
)

// User represents a system user
type User struct {
	ID           string // UUID
	Email        string // Unique email address
	Username     string // Unique username
	PasswordHash string // Bcrypt hashed password (not returned in API)
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool

	// Onboarding bookkeeping. ShouldOnboard gates dashboard access until the
	// wizard is finished; CurrentOnboardingStep is null when onboarding is
	// inactive or complete; CompletedOnboardingSteps is a JSON array of step IDs.
	ShouldOnboard            bool
	CurrentOnboardingStep    sql.NullString
	CompletedOnboardingSteps sql.NullString
}

// UserRepository defines data access for users
type UserRepository interface {
	Create(user *User) error
	GetByID(id string) (*User, error)
	GetByEmail(email string) (*User, error)
	GetByUsername(username string) (*User, error)
	Update(user *User) error
	Delete(id string) error
}
