package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowstack/flowstack/internal/domain"
)

// PostgresSessionRepository implements domain.SessionRepository using PostgreSQL
type PostgresSessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSessionRepository creates a new session repository
func NewPostgresSessionRepository(db *sql.DB, logger *slog.Logger) *PostgresSessionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSessionRepository{db: db, logger: logger}
}

// Create creates a new session
func (r *PostgresSessionRepository) Create(session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, active_organization_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(query, session.ID, session.UserID, session.ActiveOrganizationID, session.ExpiresAt).Scan(&session.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create session",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *PostgresSessionRepository) GetByID(id string) (*domain.Session, error) {
	s := &domain.Session{}
	query := `
		SELECT id, user_id, active_organization_id, expires_at, created_at
		FROM sessions
		WHERE id = $1
	`
	err := r.db.QueryRow(query, id).Scan(
		&s.ID, &s.UserID, &s.ActiveOrganizationID, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// SetActiveOrganization points the session at an organization
func (r *PostgresSessionRepository) SetActiveOrganization(sessionID, orgID string) error {
	res, err := r.db.Exec(`UPDATE sessions SET active_organization_id = $1 WHERE id = $2`, orgID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set active organization: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session
func (r *PostgresSessionRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
