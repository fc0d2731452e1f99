package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"facilitypm/internal/types"
)

const templateColumns = `id, title, description, frequency, site_id, area_id, asset_id,
	assigned_to_id, priority, created_at, updated_at`

// TemplateRepository provides data access for maintenance_templates.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a TemplateRepository backed by the given
// connection (pool or transaction).
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Upsert inserts the template, or overwrites the mutable fields of an
// existing row with the same id. An empty ID is assigned a new one. The
// stored row, including timestamps, is written back into t.
func (r *TemplateRepository) Upsert(ctx context.Context, t *types.MaintenanceTemplate) error {
	if t.ID == "" {
		t.ID = NewID(PrefixTemplate)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO maintenance_templates
		   (id, title, description, frequency, site_id, area_id, asset_id,
		    assigned_to_id, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   frequency = EXCLUDED.frequency,
		   site_id = EXCLUDED.site_id,
		   area_id = EXCLUDED.area_id,
		   asset_id = EXCLUDED.asset_id,
		   assigned_to_id = EXCLUDED.assigned_to_id,
		   priority = EXCLUDED.priority,
		   updated_at = NOW()
		 RETURNING `+templateColumns,
		t.ID,
		t.Title,
		t.Description,
		string(t.Frequency),
		t.SiteID,
		t.AreaID,
		t.AssetID,
		t.AssignedToID,
		string(t.Priority),
	)
	if err := scanTemplate(row, t); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save maintenance template", err)
	}
	return nil
}

// GetByID returns the template with the given id.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*types.MaintenanceTemplate, error) {
	var t types.MaintenanceTemplate
	row := r.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM maintenance_templates WHERE id = $1`, id)
	if err := scanTemplate(row, &t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get maintenance template", err)
	}
	return &t, nil
}

// Update writes the mutable fields of t. Returns not_found_template when the
// row no longer exists.
func (r *TemplateRepository) Update(ctx context.Context, t *types.MaintenanceTemplate) error {
	row := r.db.QueryRow(ctx,
		`UPDATE maintenance_templates SET
		   title = $2, description = $3, frequency = $4, site_id = $5,
		   area_id = $6, asset_id = $7, assigned_to_id = $8, priority = $9,
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+templateColumns,
		t.ID,
		t.Title,
		t.Description,
		string(t.Frequency),
		t.SiteID,
		t.AreaID,
		t.AssetID,
		t.AssignedToID,
		string(t.Priority),
	)
	if err := scanTemplate(row, t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update maintenance template", err)
	}
	return nil
}

// Delete removes the template. Occurrences go with it (ON DELETE CASCADE).
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM maintenance_templates WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete maintenance template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
	}
	return nil
}

// List returns templates ordered by title. A non-nil siteIDs restricts the
// result to those sites; siteID, when set, narrows it to one site.
func (r *TemplateRepository) List(ctx context.Context, siteIDs []string, siteID string) ([]types.MaintenanceTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM maintenance_templates
		 WHERE ($1::text[] IS NULL OR site_id = ANY($1))
		   AND ($2 = '' OR site_id = $2)
		 ORDER BY title, id`,
		siteIDs,
		siteID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list maintenance templates", err)
	}
	defer rows.Close()

	var result []types.MaintenanceTemplate
	for rows.Next() {
		var t types.MaintenanceTemplate
		if err := scanTemplate(rows, &t); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan maintenance template", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating maintenance templates", err)
	}
	return result, nil
}

// TemplateHorizon pairs a template with the date its series continues from,
// nil when it has no occurrences.
type TemplateHorizon struct {
	Template   types.MaintenanceTemplate
	LatestDate *time.Time
}

// ListHorizons returns every template with the latest date of its PENDING
// series, for extending the rolling generation window. Skipped or generated
// occurrences left over from an earlier frequency are ignored unless nothing
// is pending.
func (r *TemplateRepository) ListHorizons(ctx context.Context) ([]TemplateHorizon, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.id, t.title, t.description, t.frequency, t.site_id, t.area_id, t.asset_id,
		        t.assigned_to_id, t.priority, t.created_at, t.updated_at,
		        (SELECT COALESCE(MAX(o.scheduled_date) FILTER (WHERE o.status = 'PENDING'),
		                         MAX(o.scheduled_date))
		           FROM maintenance_occurrences o WHERE o.template_id = t.id)
		 FROM maintenance_templates t
		 ORDER BY t.id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list template horizons", err)
	}
	defer rows.Close()

	var result []TemplateHorizon
	for rows.Next() {
		var (
			h         TemplateHorizon
			frequency string
			priority  string
		)
		t := &h.Template
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &frequency, &t.SiteID, &t.AreaID, &t.AssetID,
			&t.AssignedToID, &priority, &t.CreatedAt, &t.UpdatedAt, &h.LatestDate,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan template horizon", err)
		}
		t.Frequency = types.Frequency(frequency)
		t.Priority = types.Priority(priority)
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating template horizons", err)
	}
	return result, nil
}

func scanTemplate(row pgx.Row, t *types.MaintenanceTemplate) error {
	var frequency, priority string
	if err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&frequency,
		&t.SiteID,
		&t.AreaID,
		&t.AssetID,
		&t.AssignedToID,
		&priority,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return err
	}
	t.Frequency = types.Frequency(frequency)
	t.Priority = types.Priority(priority)
	return nil
}
