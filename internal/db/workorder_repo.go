package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"facilitypm/internal/types"
)

// WorkOrderRepository provides data access for work_orders. Orders created
// from PM occurrences are keyed by source_occurrence_id.
type WorkOrderRepository struct {
	db DBTX
}

// NewWorkOrderRepository creates a WorkOrderRepository backed by the given
// connection (pool or transaction).
func NewWorkOrderRepository(db DBTX) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// CreateForOccurrence inserts a work order for draft.SourceOccurrenceID, or
// returns the id of the order already created for that occurrence. created
// is false in the second case.
//
// The no-op DO UPDATE makes RETURNING yield the existing row on conflict;
// xmax = 0 only for freshly inserted tuples.
func (r *WorkOrderRepository) CreateForOccurrence(ctx context.Context, draft types.WorkOrderDraft) (id string, created bool, err error) {
	err = r.db.QueryRow(ctx,
		`INSERT INTO work_orders
		   (id, source_occurrence_id, title, description, status, priority, site_id,
		    area_id, asset_id, requester_id, assigned_to_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		 ON CONFLICT (source_occurrence_id) DO UPDATE
		   SET source_occurrence_id = EXCLUDED.source_occurrence_id
		 RETURNING id, (xmax = 0)`,
		NewID(PrefixWorkOrder),
		draft.SourceOccurrenceID,
		draft.Title,
		draft.Description,
		string(draft.Status),
		string(draft.Priority),
		draft.SiteID,
		draft.AreaID,
		draft.AssetID,
		draft.RequesterID,
		draft.AssignedToID,
	).Scan(&id, &created)
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to create work order", err)
	}
	return id, created, nil
}

// GetByID returns the work order with the given id.
func (r *WorkOrderRepository) GetByID(ctx context.Context, id string) (*types.WorkOrder, error) {
	var (
		wo               types.WorkOrder
		status, priority string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, source_occurrence_id, title, description, status, priority, site_id,
		        area_id, asset_id, requester_id, assigned_to_id, completed_at, created_at
		 FROM work_orders WHERE id = $1`,
		id,
	).Scan(
		&wo.ID, &wo.SourceOccurrenceID, &wo.Title, &wo.Description, &status, &priority, &wo.SiteID,
		&wo.AreaID, &wo.AssetID, &wo.RequesterID, &wo.AssignedToID, &wo.CompletedAt, &wo.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundWorkOrder, "work order not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get work order", err)
	}
	wo.Status = types.WorkOrderStatus(status)
	wo.Priority = types.Priority(priority)
	return &wo, nil
}

// MarkCompleted sets the work order to COMPLETED. It reports false when the
// order was already completed, so callers can skip duplicate side effects.
func (r *WorkOrderRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE work_orders
		 SET status = 'COMPLETED', completed_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status <> 'COMPLETED'`,
		id,
		at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to complete work order", err)
	}
	return tag.RowsAffected() > 0, nil
}
