package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"facilitypm/internal/types"
)

const occurrenceColumns = `id, template_id, scheduled_date, status, generated_work_order_id, created_at, updated_at`

// OccurrenceRepository provides data access for maintenance_occurrences.
// The (template_id, scheduled_date) unique constraint is what makes
// generation duplicate-free under concurrent writers.
type OccurrenceRepository struct {
	db DBTX
}

// NewOccurrenceRepository creates an OccurrenceRepository backed by the
// given connection (pool or transaction).
func NewOccurrenceRepository(db DBTX) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// InsertPending bulk-inserts PENDING occurrences for templateID on the given
// dates. Dates that already have an occurrence, in any status, are skipped.
// Returns the number of rows inserted.
//
// SQL pattern:
//
//	INSERT INTO maintenance_occurrences (...)
//	SELECT ... FROM unnest($2::text[], $3::date[])
//	ON CONFLICT (template_id, scheduled_date) DO NOTHING
func (r *OccurrenceRepository) InsertPending(ctx context.Context, templateID string, dates []time.Time) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}

	ids := make([]string, len(dates))
	for i := range dates {
		ids[i] = NewID(PrefixOccurrence)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO maintenance_occurrences
		   (id, template_id, scheduled_date, status, created_at, updated_at)
		 SELECT o.id, $1, o.scheduled_date, 'PENDING', NOW(), NOW()
		 FROM unnest($2::text[], $3::date[]) AS o(id, scheduled_date)
		 ON CONFLICT (template_id, scheduled_date) DO NOTHING`,
		templateID,
		ids,
		dates,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", err)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert occurrences", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteFuturePending removes PENDING occurrences of templateID scheduled on
// or after from. GENERATED, COMPLETED and SKIPPED rows are kept.
func (r *OccurrenceRepository) DeleteFuturePending(ctx context.Context, templateID string, from time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM maintenance_occurrences
		 WHERE template_id = $1 AND status = 'PENDING' AND scheduled_date >= $2::date`,
		templateID,
		from,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete pending occurrences", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID returns the occurrence with the given id.
func (r *OccurrenceRepository) GetByID(ctx context.Context, id string) (*types.MaintenanceOccurrence, error) {
	return r.get(ctx, `SELECT `+occurrenceColumns+` FROM maintenance_occurrences WHERE id = $1`, id)
}

// Lock returns the occurrence with the given id and holds a row lock on it
// until the surrounding transaction ends.
func (r *OccurrenceRepository) Lock(ctx context.Context, id string) (*types.MaintenanceOccurrence, error) {
	return r.get(ctx, `SELECT `+occurrenceColumns+` FROM maintenance_occurrences WHERE id = $1 FOR UPDATE`, id)
}

func (r *OccurrenceRepository) get(ctx context.Context, query, id string) (*types.MaintenanceOccurrence, error) {
	var o types.MaintenanceOccurrence
	if err := scanOccurrence(r.db.QueryRow(ctx, query, id), &o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOccurrence, "maintenance occurrence not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get maintenance occurrence", err)
	}
	return &o, nil
}

// ListByTemplate returns a template's occurrences, newest first.
func (r *OccurrenceRepository) ListByTemplate(ctx context.Context, templateID string) ([]types.MaintenanceOccurrence, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+occurrenceColumns+`
		 FROM maintenance_occurrences
		 WHERE template_id = $1
		 ORDER BY scheduled_date DESC`,
		templateID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list occurrences", err)
	}
	defer rows.Close()

	var result []types.MaintenanceOccurrence
	for rows.Next() {
		var o types.MaintenanceOccurrence
		if err := scanOccurrence(rows, &o); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan occurrence", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating occurrences", err)
	}
	return result, nil
}

// Transition moves an occurrence from one status to another. It reports
// false when the row is missing or no longer in the from status, leaving it
// unchanged.
func (r *OccurrenceRepository) Transition(ctx context.Context, id string, from, to types.OccurrenceStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE maintenance_occurrences
		 SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id,
		string(from),
		string(to),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update occurrence status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkGenerated links a PENDING occurrence to its work order and moves it to
// GENERATED. Reports false when the occurrence is not PENDING.
func (r *OccurrenceRepository) MarkGenerated(ctx context.Context, id, workOrderID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE maintenance_occurrences
		 SET status = 'GENERATED', generated_work_order_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'PENDING'`,
		id,
		workOrderID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark occurrence generated", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteByWorkOrder moves the GENERATED occurrence linked to workOrderID to
// COMPLETED and returns its id. Returns "" with no error when no GENERATED
// occurrence references the work order.
func (r *OccurrenceRepository) CompleteByWorkOrder(ctx context.Context, workOrderID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`UPDATE maintenance_occurrences
		 SET status = 'COMPLETED', updated_at = NOW()
		 WHERE generated_work_order_id = $1 AND status = 'GENERATED'
		 RETURNING id`,
		workOrderID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to complete occurrence", err)
	}
	return id, nil
}

// ListDue returns PENDING occurrences scheduled on or before asOf, joined
// with their templates, oldest first.
func (r *OccurrenceRepository) ListDue(ctx context.Context, asOf time.Time) ([]types.DueOccurrence, error) {
	rows, err := r.db.Query(ctx,
		`SELECT o.id, o.template_id, o.scheduled_date, o.status, o.generated_work_order_id,
		        o.created_at, o.updated_at,
		        t.id, t.title, t.description, t.frequency, t.site_id, t.area_id, t.asset_id,
		        t.assigned_to_id, t.priority, t.created_at, t.updated_at
		 FROM maintenance_occurrences o
		 JOIN maintenance_templates t ON t.id = o.template_id
		 WHERE o.status = 'PENDING' AND o.scheduled_date <= $1::date
		 ORDER BY o.scheduled_date, o.id`,
		asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due occurrences", err)
	}
	defer rows.Close()

	var result []types.DueOccurrence
	for rows.Next() {
		var (
			d                           types.DueOccurrence
			status, frequency, priority string
		)
		o, t := &d.Occurrence, &d.Template
		if err := rows.Scan(
			&o.ID, &o.TemplateID, &o.ScheduledDate, &status, &o.GeneratedWorkOrderID,
			&o.CreatedAt, &o.UpdatedAt,
			&t.ID, &t.Title, &t.Description, &frequency, &t.SiteID, &t.AreaID, &t.AssetID,
			&t.AssignedToID, &priority, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due occurrence", err)
		}
		o.Status = types.OccurrenceStatus(status)
		t.Frequency = types.Frequency(frequency)
		t.Priority = types.Priority(priority)
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due occurrences", err)
	}
	return result, nil
}

// CalendarFilter selects occurrences for the calendar view. A non-nil SiteIDs
// restricts to those sites; SiteID narrows to one site.
type CalendarFilter struct {
	From    time.Time
	To      time.Time
	SiteIDs []string
	SiteID  string
}

// Calendar returns occurrences scheduled within [From, To], ascending.
func (r *OccurrenceRepository) Calendar(ctx context.Context, f CalendarFilter) ([]types.CalendarEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT o.id, o.template_id, t.title, t.frequency, t.priority, t.site_id, t.area_id,
		        t.asset_id, o.scheduled_date, o.status, o.generated_work_order_id
		 FROM maintenance_occurrences o
		 JOIN maintenance_templates t ON t.id = o.template_id
		 WHERE o.scheduled_date BETWEEN $1::date AND $2::date
		   AND ($3::text[] IS NULL OR t.site_id = ANY($3))
		   AND ($4 = '' OR t.site_id = $4)
		 ORDER BY o.scheduled_date, o.id`,
		f.From,
		f.To,
		f.SiteIDs,
		f.SiteID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query calendar", err)
	}
	defer rows.Close()

	var result []types.CalendarEntry
	for rows.Next() {
		var (
			e                           types.CalendarEntry
			frequency, priority, status string
		)
		if err := rows.Scan(
			&e.OccurrenceID, &e.TemplateID, &e.Title, &frequency, &priority, &e.SiteID, &e.AreaID,
			&e.AssetID, &e.ScheduledDate, &status, &e.GeneratedWorkOrderID,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan calendar entry", err)
		}
		e.Frequency = types.Frequency(frequency)
		e.Priority = types.Priority(priority)
		e.Status = types.OccurrenceStatus(status)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating calendar", err)
	}
	return result, nil
}

func scanOccurrence(row pgx.Row, o *types.MaintenanceOccurrence) error {
	var status string
	if err := row.Scan(
		&o.ID,
		&o.TemplateID,
		&o.ScheduledDate,
		&status,
		&o.GeneratedWorkOrderID,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return err
	}
	o.Status = types.OccurrenceStatus(status)
	return nil
}
