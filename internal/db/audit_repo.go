package db

import (
	"context"

	"facilitypm/internal/types"
)

// AuditRepository appends to audit_logs.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log writes one audit event. A zero Timestamp is stored as NOW().
func (r *AuditRepository) Log(ctx context.Context, e types.AuditEvent) error {
	var ts any
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, actor_type, action, entity_type, entity_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, NOW()))`,
		e.ActorID,
		string(e.ActorType),
		e.Action,
		e.EntityType,
		e.EntityID,
		ts,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write audit log", err)
	}
	return nil
}
