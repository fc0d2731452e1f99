// Package pm implements preventive maintenance scheduling: occurrence date
// generation and the template/occurrence lifecycle.
//
// Occurrence lifecycle:
//
//	PENDING --skip--> SKIPPED
//	PENDING --materialize--> GENERATED --work order completed--> COMPLETED
//
// No transition returns an occurrence to PENDING.
package pm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"facilitypm/internal/db"
	"facilitypm/internal/types"
)

// DefaultCalendarDays is the calendar window when no end date is given.
const DefaultCalendarDays = 90

// Config holds the tunables of the lifecycle manager.
type Config struct {
	HorizonDays  int
	CalendarDays int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service is the PM lifecycle manager. It owns template and occurrence
// persistence and every occurrence state transition.
type Service struct {
	templates   TemplateStore
	occurrences OccurrenceStore
	tx          TxRunner
	audit       AuditSink
	cfg         Config
	logger      *slog.Logger
}

// NewService creates a Service. audit may be nil.
func NewService(templates TemplateStore, occurrences OccurrenceStore, tx TxRunner, audit AuditSink, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if cfg.CalendarDays <= 0 {
		cfg.CalendarDays = DefaultCalendarDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		templates:   templates,
		occurrences: occurrences,
		tx:          tx,
		audit:       audit,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *Service) today() time.Time {
	return DateOnly(s.cfg.Now())
}

// CreateTemplateInput describes a new template. ID is optional; when it
// names an existing template that template is overwritten.
type CreateTemplateInput struct {
	ID           string
	Title        string
	Description  *string
	Frequency    types.Frequency
	SiteID       string
	AreaID       *string
	AssetID      *string
	AssignedToID *string
	Priority     types.Priority
}

// UpdateTemplateInput carries the fields to change. Nil fields are left as
// they are; an empty Description, AreaID, AssetID or AssignedToID clears it.
type UpdateTemplateInput struct {
	Title        *string
	Description  *string
	Frequency    *types.Frequency
	SiteID       *string
	AreaID       *string
	AssetID      *string
	AssignedToID *string
	Priority     *types.Priority
}

// CreateTemplate persists a template and generates its PENDING occurrences
// from today up to the horizon.
func (s *Service) CreateTemplate(ctx context.Context, actor types.Actor, scope types.AccessScope, in CreateTemplateInput) (*types.MaintenanceTemplate, error) {
	if err := scope.Check(in.SiteID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "title is required", nil,
			map[string]any{"field": "title"})
	}
	if in.Frequency == "" {
		in.Frequency = types.DefaultFrequency
	}
	if in.Priority == "" {
		in.Priority = types.DefaultPriority
	}
	if err := validateEnums(in.Frequency, in.Priority); err != nil {
		return nil, err
	}

	var prior *types.MaintenanceTemplate
	if in.ID != "" {
		existing, err := s.templates.GetByID(ctx, in.ID)
		switch {
		case err == nil:
			if err := scope.Check(existing.SiteID); err != nil {
				return nil, err
			}
			prior = existing
		case !types.HasCode(err, types.ErrCodeNotFoundTemplate):
			return nil, fmt.Errorf("loading template %s: %w", in.ID, err)
		}
	}

	tmpl := &types.MaintenanceTemplate{
		ID:           in.ID,
		Title:        in.Title,
		Description:  in.Description,
		Frequency:    in.Frequency,
		SiteID:       in.SiteID,
		AreaID:       in.AreaID,
		AssetID:      in.AssetID,
		AssignedToID: in.AssignedToID,
		Priority:     in.Priority,
	}
	if err := s.templates.Upsert(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("saving template: %w", err)
	}

	if prior != nil && prior.Frequency != tmpl.Frequency {
		if err := s.RegenerateOccurrences(ctx, tmpl); err != nil {
			return nil, err
		}
	} else {
		inserted, err := s.generate(ctx, s.occurrences, tmpl, s.today())
		if err != nil {
			return nil, fmt.Errorf("generating occurrences for template %s: %w", tmpl.ID, err)
		}
		s.logger.InfoContext(ctx, "generated occurrences",
			"template_id", tmpl.ID,
			"frequency", tmpl.Frequency,
			"inserted", inserted,
		)
	}

	action := types.AuditActionCreate
	if prior != nil {
		action = types.AuditActionUpdate
	}
	s.record(ctx, actor, action, types.AuditEntityTemplate, tmpl.ID)
	return tmpl, nil
}

// UpdateTemplate applies in to the template. Occurrences are regenerated
// only when the frequency actually changes.
func (s *Service) UpdateTemplate(ctx context.Context, actor types.Actor, scope types.AccessScope, id string, in UpdateTemplateInput) (*types.MaintenanceTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(tmpl.SiteID); err != nil {
		return nil, err
	}
	if in.SiteID != nil {
		if err := scope.Check(*in.SiteID); err != nil {
			return nil, err
		}
	}

	priorFrequency := tmpl.Frequency

	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "title must not be empty", nil,
				map[string]any{"field": "title"})
		}
		tmpl.Title = *in.Title
	}
	if in.Description != nil {
		tmpl.Description = clearable(in.Description)
	}
	if in.Frequency != nil {
		tmpl.Frequency = *in.Frequency
	}
	if in.SiteID != nil {
		tmpl.SiteID = *in.SiteID
	}
	if in.AreaID != nil {
		tmpl.AreaID = clearable(in.AreaID)
	}
	if in.AssetID != nil {
		tmpl.AssetID = clearable(in.AssetID)
	}
	if in.AssignedToID != nil {
		tmpl.AssignedToID = clearable(in.AssignedToID)
	}
	if in.Priority != nil {
		tmpl.Priority = *in.Priority
	}
	if err := validateEnums(tmpl.Frequency, tmpl.Priority); err != nil {
		return nil, err
	}

	if err := s.templates.Update(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("updating template %s: %w", id, err)
	}

	if tmpl.Frequency != priorFrequency {
		if err := s.RegenerateOccurrences(ctx, tmpl); err != nil {
			return nil, err
		}
	}

	s.record(ctx, actor, types.AuditActionUpdate, types.AuditEntityTemplate, tmpl.ID)
	return tmpl, nil
}

// clearable maps an explicitly empty optional field to nil.
func clearable(v *string) *string {
	if strings.TrimSpace(*v) == "" {
		return nil
	}
	return v
}

// RegenerateOccurrences replaces the template's PENDING occurrences dated
// today or later with a fresh series for its current frequency. GENERATED,
// COMPLETED, SKIPPED and past occurrences are kept; a new date that collides
// with a kept occurrence is not inserted.
func (s *Service) RegenerateOccurrences(ctx context.Context, tmpl *types.MaintenanceTemplate) error {
	today := s.today()

	var deleted, inserted int64
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		deleted, err = tx.Occurrences().DeleteFuturePending(ctx, tmpl.ID, today)
		if err != nil {
			return err
		}
		inserted, err = s.generate(ctx, tx.Occurrences(), tmpl, today)
		return err
	})
	if err != nil {
		return fmt.Errorf("regenerating occurrences for template %s: %w", tmpl.ID, err)
	}

	s.logger.InfoContext(ctx, "regenerated occurrences",
		"template_id", tmpl.ID,
		"frequency", tmpl.Frequency,
		"deleted", deleted,
		"inserted", inserted,
	)
	return nil
}

// DeleteTemplate removes a template and, through the store, its occurrences.
func (s *Service) DeleteTemplate(ctx context.Context, actor types.Actor, scope types.AccessScope, id string) error {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := scope.Check(tmpl.SiteID); err != nil {
		return err
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting template %s: %w", id, err)
	}
	s.record(ctx, actor, types.AuditActionDelete, types.AuditEntityTemplate, id)
	return nil
}

// GetTemplate returns a template with its occurrences, newest first.
func (s *Service) GetTemplate(ctx context.Context, scope types.AccessScope, id string) (*types.MaintenanceTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(tmpl.SiteID); err != nil {
		return nil, err
	}
	occurrences, err := s.occurrences.ListByTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing occurrences for template %s: %w", id, err)
	}
	tmpl.Occurrences = occurrences
	return tmpl, nil
}

// ListTemplates returns the templates visible in scope, optionally for one
// site.
func (s *Service) ListTemplates(ctx context.Context, scope types.AccessScope, siteID string) ([]types.MaintenanceTemplate, error) {
	if siteID != "" {
		if err := scope.Check(siteID); err != nil {
			return nil, err
		}
	}
	return s.templates.List(ctx, scope.SiteIDs(), siteID)
}

// ListTemplateOccurrences returns a template's occurrences, newest first.
func (s *Service) ListTemplateOccurrences(ctx context.Context, scope types.AccessScope, templateID string) ([]types.MaintenanceOccurrence, error) {
	tmpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(tmpl.SiteID); err != nil {
		return nil, err
	}
	return s.occurrences.ListByTemplate(ctx, templateID)
}

// SkipOccurrence moves a PENDING occurrence to SKIPPED. Any other status is
// rejected with forbidden_invalid_transition.
func (s *Service) SkipOccurrence(ctx context.Context, actor types.Actor, scope types.AccessScope, id string) (*types.MaintenanceOccurrence, error) {
	occ, err := s.occurrences.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.templates.GetByID(ctx, occ.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(tmpl.SiteID); err != nil {
		return nil, err
	}
	if occ.Status != types.OccurrencePending {
		return nil, invalidTransition(occ, types.OccurrenceSkipped, "can only skip pending occurrences")
	}

	ok, err := s.occurrences.Transition(ctx, id, types.OccurrencePending, types.OccurrenceSkipped)
	if err != nil {
		return nil, fmt.Errorf("skipping occurrence %s: %w", id, err)
	}
	if !ok {
		// Lost a race with the sweep or another skip.
		if current, err := s.occurrences.GetByID(ctx, id); err == nil {
			occ = current
		}
		return nil, invalidTransition(occ, types.OccurrenceSkipped, "can only skip pending occurrences")
	}

	occ.Status = types.OccurrenceSkipped
	s.record(ctx, actor, types.AuditActionSkip, types.AuditEntityOccurrence, id)
	return occ, nil
}

// GenerateNow materializes a single PENDING occurrence on demand and returns
// it in its GENERATED state.
func (s *Service) GenerateNow(ctx context.Context, actor types.Actor, scope types.AccessScope, occurrenceID string) (*types.MaintenanceOccurrence, error) {
	occ, err := s.occurrences.GetByID(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.templates.GetByID(ctx, occ.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(tmpl.SiteID); err != nil {
		return nil, err
	}
	if occ.Status != types.OccurrencePending {
		return nil, invalidTransition(occ, types.OccurrenceGenerated, "can only generate work orders for pending occurrences")
	}

	workOrderID, err := s.Materialize(ctx, actor, types.DueOccurrence{Occurrence: *occ, Template: *tmpl})
	if err != nil {
		return nil, err
	}
	occ.Status = types.OccurrenceGenerated
	occ.GeneratedWorkOrderID = &workOrderID
	return occ, nil
}

// Materialize creates the work order for a due occurrence and marks the
// occurrence GENERATED. Both writes happen in one unit of work, and the work
// order is keyed by the occurrence id, so a retry after a partial failure
// reuses the order instead of creating a second one. Returns the work order
// id. An occurrence that is no longer PENDING fails with
// conflict_occurrence_state.
func (s *Service) Materialize(ctx context.Context, actor types.Actor, due types.DueOccurrence) (string, error) {
	draft := BuildWorkOrderDraft(due.Template, due.Occurrence.ID, actor)

	var (
		workOrderID string
		created     bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		occ, err := tx.Occurrences().Lock(ctx, due.Occurrence.ID)
		if err != nil {
			return err
		}
		if occ.Status != types.OccurrencePending {
			return staleOccurrence(occ)
		}

		workOrderID, created, err = tx.WorkOrders().CreateForOccurrence(ctx, draft)
		if err != nil {
			return err
		}

		ok, err := tx.Occurrences().MarkGenerated(ctx, occ.ID, workOrderID)
		if err != nil {
			return err
		}
		if !ok {
			return staleOccurrence(occ)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("materializing occurrence %s: %w", due.Occurrence.ID, err)
	}

	s.logger.InfoContext(ctx, "materialized occurrence",
		"occurrence_id", due.Occurrence.ID,
		"template_id", due.Template.ID,
		"work_order_id", workOrderID,
		"reused_work_order", !created,
	)
	s.record(ctx, actor, types.AuditActionPMWorkOrderCreate, types.AuditEntityWorkOrder, workOrderID)
	return workOrderID, nil
}

// HandleWorkOrderCompletion completes the GENERATED occurrence linked to the
// work order. It runs for every completed work order, so finding no linked
// occurrence is not an error; the returned id is empty in that case.
func (s *Service) HandleWorkOrderCompletion(ctx context.Context, actor types.Actor, workOrderID string) (string, error) {
	occurrenceID, err := s.occurrences.CompleteByWorkOrder(ctx, workOrderID)
	if err != nil {
		return "", fmt.Errorf("completing occurrence for work order %s: %w", workOrderID, err)
	}
	if occurrenceID == "" {
		s.logger.DebugContext(ctx, "work order has no generated occurrence", "work_order_id", workOrderID)
		return "", nil
	}

	s.logger.InfoContext(ctx, "occurrence completed",
		"occurrence_id", occurrenceID,
		"work_order_id", workOrderID,
	)
	s.record(ctx, actor, types.AuditActionComplete, types.AuditEntityOccurrence, occurrenceID)
	return occurrenceID, nil
}

// CalendarQuery selects a date range of occurrences. Nil bounds default to
// today and today plus the calendar window.
type CalendarQuery struct {
	From   *time.Time
	To     *time.Time
	SiteID string
}

// Calendar returns the occurrences in the requested range visible in scope,
// in ascending date order.
func (s *Service) Calendar(ctx context.Context, scope types.AccessScope, q CalendarQuery) ([]types.CalendarEntry, error) {
	today := s.today()
	from := today
	if q.From != nil {
		from = DateOnly(*q.From)
	}
	to := today.AddDate(0, 0, s.cfg.CalendarDays)
	if q.To != nil {
		to = DateOnly(*q.To)
	}
	if from.After(to) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationDateRange, "from must not be after to", nil,
			map[string]any{"from": from.Format(time.DateOnly), "to": to.Format(time.DateOnly)})
	}
	if q.SiteID != "" {
		if err := scope.Check(q.SiteID); err != nil {
			return nil, err
		}
	}

	return s.occurrences.Calendar(ctx, db.CalendarFilter{
		From:    from,
		To:      to,
		SiteIDs: scope.SiteIDs(),
		SiteID:  q.SiteID,
	})
}

// ExtendHorizon tops up a template's series so it reaches the rolling
// horizon from now. The cadence continues from the latest existing
// occurrence; dates before today are never created.
func (s *Service) ExtendHorizon(ctx context.Context, h db.TemplateHorizon, now time.Time) (int64, error) {
	today := DateOnly(now)
	anchor := today
	if h.LatestDate != nil {
		anchor = AnchorBefore(h.Template.Frequency, DateOnly(*h.LatestDate), today)
	}

	dates := GenerateDates(h.Template.Frequency, anchor, HorizonFrom(today, s.cfg.HorizonDays))
	inserted, err := s.occurrences.InsertPending(ctx, h.Template.ID, dates)
	if err != nil {
		return 0, fmt.Errorf("extending horizon for template %s: %w", h.Template.ID, err)
	}
	return inserted, nil
}

func (s *Service) generate(ctx context.Context, store OccurrenceStore, tmpl *types.MaintenanceTemplate, anchor time.Time) (int64, error) {
	dates := GenerateDates(tmpl.Frequency, anchor, HorizonFrom(anchor, s.cfg.HorizonDays))
	return store.InsertPending(ctx, tmpl.ID, dates)
}

// record writes an audit event. Failures are logged and never returned.
func (s *Service) record(ctx context.Context, actor types.Actor, action, entityType, entityID string) {
	if s.audit == nil {
		return
	}
	event := types.AuditEvent{
		ActorID:    actor.AuditID(),
		ActorType:  actor.Type,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  s.cfg.Now().UTC(),
	}
	if event.ActorType == "" {
		event.ActorType = types.ActorTypeSystem
	}
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to write audit log",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// BuildWorkOrderDraft derives the work order fields for an occurrence of
// tmpl. The requester is the assignee when set, otherwise the actor.
func BuildWorkOrderDraft(tmpl types.MaintenanceTemplate, occurrenceID string, actor types.Actor) types.WorkOrderDraft {
	description := tmpl.Title
	if tmpl.Description != nil && *tmpl.Description != "" {
		description = *tmpl.Description
	}
	requester := actor.AuditID()
	if tmpl.AssignedToID != nil && *tmpl.AssignedToID != "" {
		requester = *tmpl.AssignedToID
	}
	return types.WorkOrderDraft{
		SourceOccurrenceID: occurrenceID,
		Title:              "PM: " + tmpl.Title,
		Description:        "Preventive maintenance task: " + description,
		Status:             types.WorkOrderOpen,
		Priority:           tmpl.Priority,
		SiteID:             tmpl.SiteID,
		AreaID:             tmpl.AreaID,
		AssetID:            tmpl.AssetID,
		RequesterID:        requester,
		AssignedToID:       tmpl.AssignedToID,
	}
}

func validateEnums(f types.Frequency, p types.Priority) error {
	if !f.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidFrequency, "unknown frequency", nil,
			map[string]any{"frequency": string(f)})
	}
	if !p.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPriority, "unknown priority", nil,
			map[string]any{"priority": string(p)})
	}
	return nil
}

func invalidTransition(occ *types.MaintenanceOccurrence, to types.OccurrenceStatus, msg string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeForbiddenTransition, msg, nil, map[string]any{
		"occurrence_id": occ.ID,
		"status":        string(occ.Status),
		"target_status": string(to),
	})
}

func staleOccurrence(occ *types.MaintenanceOccurrence) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictOccurrenceState, "occurrence is no longer pending", nil,
		map[string]any{"occurrence_id": occ.ID, "status": string(occ.Status)})
}
