package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowstack/flowstack/internal/domain"
)

// PostgresInvitationRepository implements domain.InvitationRepository using PostgreSQL
type PostgresInvitationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresInvitationRepository creates a new invitation repository
func NewPostgresInvitationRepository(db *sql.DB, logger *slog.Logger) *PostgresInvitationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresInvitationRepository{db: db, logger: logger}
}

// Create creates a new invitation
func (r *PostgresInvitationRepository) Create(inv *domain.Invitation) error {
	query := `
		INSERT INTO invitations (id, organization_id, email, role, inviter_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.db.QueryRow(query, inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.InviterID, inv.Status, inv.ExpiresAt).Scan(&inv.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create invitation",
			slog.String("email", inv.Email),
			slog.String("organization_id", inv.OrganizationID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetByID retrieves an invitation by ID
func (r *PostgresInvitationRepository) GetByID(id string) (*domain.Invitation, error) {
	inv := &domain.Invitation{}
	query := `
		SELECT id, organization_id, email, role, inviter_id, status, expires_at, created_at
		FROM invitations
		WHERE id = $1
	`
	err := r.db.QueryRow(query, id).Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.InviterID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListByEmail lists pending invitations addressed to an email
func (r *PostgresInvitationRepository) ListByEmail(email string) ([]*domain.Invitation, error) {
	query := `
		SELECT id, organization_id, email, role, inviter_id, status, expires_at, created_at
		FROM invitations
		WHERE email = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invitation
	for rows.Next() {
		inv := &domain.Invitation{}
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.InviterID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// UpdateStatus transitions an invitation's status
func (r *PostgresInvitationRepository) UpdateStatus(id, status string) error {
	res, err := r.db.Exec(`UPDATE invitations SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
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
