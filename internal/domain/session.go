package domain

import (
	"database/sql"
	"time"
)

// Session is a server-side login session. ActiveOrganizationID points at the
// organization the session currently treats as the user's working context; it
// is null until the user picks one or the activation sync fills it in.
type Session struct {
	ID                   string // UUID
	UserID               string
	ActiveOrganizationID sql.NullString
	ExpiresAt            time.Time
	CreatedAt            time.Time
}

// SessionRepository defines data access for sessions
type SessionRepository interface {
	Create(session *Session) error
	GetByID(id string) (*Session, error)
	SetActiveOrganization(sessionID, orgID string) error
	Delete(id string) error
}
