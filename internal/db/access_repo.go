package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"facilitypm/internal/types"
)

// AccessRepository reads role assignments and service credentials used to
// authenticate callers.
type AccessRepository struct {
	db DBTX
}

// NewAccessRepository creates an AccessRepository.
func NewAccessRepository(db DBTX) *AccessRepository {
	return &AccessRepository{db: db}
}

// ListRoleAssignments returns the role assignments of a user.
func (r *AccessRepository) ListRoleAssignments(ctx context.Context, userID string) ([]types.RoleAssignment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role, site_id FROM role_assignments WHERE user_id = $1 ORDER BY role`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list role assignments", err)
	}
	defer rows.Close()

	var result []types.RoleAssignment
	for rows.Next() {
		var a types.RoleAssignment
		if err := rows.Scan(&a.Role, &a.SiteID); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan role assignment", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating role assignments", err)
	}
	return result, nil
}

// ServiceKey is a hashed credential for machine callers such as the work
// order subsystem.
type ServiceKey struct {
	ID        string
	Name      string
	KeyHash   string
	RevokedAt *time.Time
}

// GetServiceKeyByPrefix returns the service key with the given lookup prefix.
func (r *AccessRepository) GetServiceKeyByPrefix(ctx context.Context, prefix string) (*ServiceKey, error) {
	var k ServiceKey
	err := r.db.QueryRow(ctx,
		`SELECT id, name, key_hash, revoked_at FROM service_keys WHERE key_prefix = $1`,
		prefix,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid service key", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get service key", err)
	}
	return &k, nil
}
