package repository

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flowstack/flowstack/internal/domain"
)

// PostgresMemberRepository implements domain.MemberRepository using PostgreSQL
type PostgresMemberRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresMemberRepository creates a new member repository
func NewPostgresMemberRepository(db *sql.DB, logger *slog.Logger) *PostgresMemberRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresMemberRepository{db: db, logger: logger}
}

// Create creates a new membership
func (r *PostgresMemberRepository) Create(member *domain.Member) error {
	query := `
		INSERT INTO members (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(query, member.ID, member.OrganizationID, member.UserID, member.Role).Scan(&member.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create member",
			slog.String("user_id", member.UserID),
			slog.String("organization_id", member.OrganizationID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// ListByUser lists all memberships for a user
func (r *PostgresMemberRepository) ListByUser(userID string) ([]*domain.Member, error) {
	return r.list(`
		SELECT id, organization_id, user_id, role, created_at
		FROM members
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
}

// ListByOrganization lists all memberships in an organization
func (r *PostgresMemberRepository) ListByOrganization(orgID string) ([]*domain.Member, error) {
	return r.list(`
		SELECT id, organization_id, user_id, role, created_at
		FROM members
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`, orgID)
}

func (r *PostgresMemberRepository) list(query, arg string) ([]*domain.Member, error) {
	rows, err := r.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*domain.Member
	for rows.Next() {
		m := &domain.Member{}
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Delete removes a membership
func (r *PostgresMemberRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
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
