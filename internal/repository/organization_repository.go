package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowstack/flowstack/internal/domain"
)

// PostgresOrganizationRepository implements domain.OrganizationRepository using PostgreSQL
type PostgresOrganizationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresOrganizationRepository creates a new organization repository
func NewPostgresOrganizationRepository(db *sql.DB, logger *slog.Logger) *PostgresOrganizationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresOrganizationRepository{db: db, logger: logger}
}

// Create creates a new organization
func (r *PostgresOrganizationRepository) Create(org *domain.Organization) error {
	query := `
		INSERT INTO organizations (id, name, slug, logo)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(query, org.ID, org.Name, org.Slug, org.Logo).Scan(
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create organization",
			slog.String("slug", org.Slug),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetByID retrieves an organization by ID
func (r *PostgresOrganizationRepository) GetByID(id string) (*domain.Organization, error) {
	org := &domain.Organization{}
	query := `
		SELECT id, name, slug, logo, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	err := r.db.QueryRow(query, id).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Logo, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetBySlug retrieves an organization by slug
func (r *PostgresOrganizationRepository) GetBySlug(slug string) (*domain.Organization, error) {
	org := &domain.Organization{}
	query := `
		SELECT id, name, slug, logo, created_at, updated_at
		FROM organizations
		WHERE slug = $1
	`
	err := r.db.QueryRow(query, slug).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Logo, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by slug: %w", err)
	}
	return org, nil
}

// Update updates an existing organization
func (r *PostgresOrganizationRepository) Update(org *domain.Organization) error {
	query := `
		UPDATE organizations
		SET name = $1, slug = $2, logo = $3
		WHERE id = $4
		RETURNING updated_at
	`
	err := r.db.QueryRow(query, org.Name, org.Slug, org.Logo, org.ID).Scan(&org.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return nil
}

// Delete removes an organization and its memberships
func (r *PostgresOrganizationRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
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
