package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
)

// TenantsRepository reads tenants. Tenants are provisioned by an external
// administrative subsystem; this engine never writes them.
type TenantsRepository struct {
	db Querier
}

// NewTenantsRepository creates a new tenants repository.
func NewTenantsRepository(db Querier) *TenantsRepository {
	return &TenantsRepository{db: db}
}

// GetByID retrieves a tenant by ID.
func (r *TenantsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `
		SELECT id, name, slug, created_at, deleted_at
		FROM tenants
		WHERE id = $1 AND deleted_at IS NULL
	`
	var tenant domain.Tenant
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Slug,
		&tenant.CreatedAt,
		&tenant.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// ActiveTenantIDs returns the ids of all active tenants.
func (r *TenantsRepository) ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
