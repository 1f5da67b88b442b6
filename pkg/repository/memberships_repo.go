package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
)

// MembershipsRepository reads tenant memberships. The memberships table is
// owned by the account-management subsystem; this engine never writes it.
type MembershipsRepository struct {
	db Querier
}

// NewMembershipsRepository creates a new memberships repository.
func NewMembershipsRepository(db Querier) *MembershipsRepository {
	return &MembershipsRepository{db: db}
}

// TenantsForUser returns the tenants the user holds an active membership in,
// ordered by tenant id for deterministic downstream selection.
func (r *MembershipsRepository) TenantsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT tenant_id
		FROM memberships
		WHERE user_id = $1 AND status = 'active' AND deleted_at IS NULL
		ORDER BY tenant_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var tenantID uuid.UUID
		if err := rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenantID)
	}
	return tenants, rows.Err()
}

// SharedTenants returns the tenants where both users hold active
// memberships, ordered by tenant id.
func (r *MembershipsRepository) SharedTenants(ctx context.Context, userA, userB uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT a.tenant_id
		FROM memberships a
		INNER JOIN memberships b ON a.tenant_id = b.tenant_id
		WHERE a.user_id = $1 AND b.user_id = $2
			AND a.status = 'active' AND a.deleted_at IS NULL
			AND b.status = 'active' AND b.deleted_at IS NULL
		ORDER BY a.tenant_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var tenantID uuid.UUID
		if err := rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenantID)
	}
	return tenants, rows.Err()
}

// Role returns the user's role within a tenant.
func (r *MembershipsRepository) Role(ctx context.Context, userID, tenantID uuid.UUID) (domain.Role, error) {
	query := `
		SELECT role
		FROM memberships
		WHERE user_id = $1 AND tenant_id = $2
			AND status = 'active' AND deleted_at IS NULL
	`
	var role domain.Role
	err := r.db.QueryRowContext(ctx, query, userID, tenantID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrMembershipNotFound
		}
		return "", err
	}
	return role, nil
}

// ActiveMembers returns the user ids of every active member of a tenant.
// Broadcast-room membership is converged against this set.
func (r *MembershipsRepository) ActiveMembers(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM memberships
		WHERE tenant_id = $1 AND status = 'active' AND deleted_at IS NULL
		ORDER BY user_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}
