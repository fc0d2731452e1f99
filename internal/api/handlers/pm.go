// Package handlers contains the HTTP handler implementations for the facility
// PM API.
//
// This file implements the preventive maintenance routes:
//   - Template create, list, get, update and delete
//   - Template occurrence listing and the PM calendar
//   - Occurrence skip and on-demand work order generation
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"facilitypm/internal/core"
	"facilitypm/internal/pm"
	"facilitypm/internal/types"
)

// --- Service Interfaces ---

// PMService is the lifecycle manager contract used by PMHandler. It mirrors
// the *pm.Service methods the routes call.
type PMService interface {
	CreateTemplate(ctx context.Context, actor types.Actor, scope types.AccessScope, in pm.CreateTemplateInput) (*types.MaintenanceTemplate, error)
	UpdateTemplate(ctx context.Context, actor types.Actor, scope types.AccessScope, id string, in pm.UpdateTemplateInput) (*types.MaintenanceTemplate, error)
	DeleteTemplate(ctx context.Context, actor types.Actor, scope types.AccessScope, id string) error
	GetTemplate(ctx context.Context, scope types.AccessScope, id string) (*types.MaintenanceTemplate, error)
	ListTemplates(ctx context.Context, scope types.AccessScope, siteID string) ([]types.MaintenanceTemplate, error)
	ListTemplateOccurrences(ctx context.Context, scope types.AccessScope, templateID string) ([]types.MaintenanceOccurrence, error)
	SkipOccurrence(ctx context.Context, actor types.Actor, scope types.AccessScope, id string) (*types.MaintenanceOccurrence, error)
	GenerateNow(ctx context.Context, actor types.Actor, scope types.AccessScope, occurrenceID string) (*types.MaintenanceOccurrence, error)
	Calendar(ctx context.Context, scope types.AccessScope, q pm.CalendarQuery) ([]types.CalendarEntry, error)
}

// --- Request Models ---

// CreateTemplateRequest is the request body for POST /v1/pm/templates.
// Frequency defaults to MONTHLY and priority to MEDIUM.
type CreateTemplateRequest struct {
	ID           string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Title        string          `json:"title" validate:"required,max=200"`
	Description  *string         `json:"description,omitempty" validate:"omitempty,max=4000"`
	Frequency    types.Frequency `json:"frequency,omitempty" validate:"omitempty,pm_frequency"`
	SiteID       string          `json:"site_id" validate:"required"`
	AreaID       *string         `json:"area_id,omitempty"`
	AssetID      *string         `json:"asset_id,omitempty"`
	AssignedToID *string         `json:"assigned_to_id,omitempty"`
	Priority     types.Priority  `json:"priority,omitempty" validate:"omitempty,pm_priority"`
}

// UpdateTemplateRequest is the request body for PATCH /v1/pm/templates/{id}.
// Absent fields are left unchanged. An empty string clears description,
// area_id, asset_id or assigned_to_id.
type UpdateTemplateRequest struct {
	Title        *string          `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description  *string          `json:"description,omitempty" validate:"omitempty,max=4000"`
	Frequency    *types.Frequency `json:"frequency,omitempty" validate:"omitempty,pm_frequency"`
	SiteID       *string          `json:"site_id,omitempty" validate:"omitempty,min=1"`
	AreaID       *string          `json:"area_id,omitempty"`
	AssetID      *string          `json:"asset_id,omitempty"`
	AssignedToID *string          `json:"assigned_to_id,omitempty"`
	Priority     *types.Priority  `json:"priority,omitempty" validate:"omitempty,pm_priority"`
}

// calendarParams holds the query string of GET /v1/pm/calendar.
type calendarParams struct {
	From   string `json:"from" validate:"omitempty,date_only"`
	To     string `json:"to" validate:"omitempty,date_only"`
	SiteID string `json:"site_id"`
}

// --- Handler ---

// PMHandler serves the preventive maintenance routes.
type PMHandler struct {
	svc       PMService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPMHandler creates a PMHandler.
func NewPMHandler(svc PMService, v *core.Validator, l *slog.Logger) *PMHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PMHandler{svc: svc, validator: v, logger: l}
}

// Role sets per route group.
var (
	pmWriteRoles = []string{types.RoleAdmin, types.RoleFM}
	pmActRoles   = []string{types.RoleAdmin, types.RoleFM, types.RoleTech}
	pmReadRoles  = []string{types.RoleAdmin, types.RoleFM, types.RoleTech, types.RoleVendor, types.RoleViewer}
)

// RegisterRoutes mounts the PM routes on the provided chi.Router.
func (h *PMHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pm", func(r chi.Router) {
		r.Route("/templates", func(r chi.Router) {
			r.With(core.RequireRole(pmWriteRoles...)).Post("/", h.CreateTemplate)
			r.With(core.RequireRole(pmReadRoles...)).Get("/", h.ListTemplates)

			r.Route("/{id}", func(r chi.Router) {
				r.With(core.RequireRole(pmReadRoles...)).Get("/", h.GetTemplate)
				r.With(core.RequireRole(pmWriteRoles...)).Patch("/", h.UpdateTemplate)
				r.With(core.RequireRole(pmWriteRoles...)).Delete("/", h.DeleteTemplate)
				r.With(core.RequireRole(pmReadRoles...)).Get("/occurrences", h.ListOccurrences)
			})
		})

		r.With(core.RequireRole(pmReadRoles...)).Get("/calendar", h.Calendar)

		r.Route("/occurrences/{id}", func(r chi.Router) {
			r.With(core.RequireRole(pmActRoles...)).Post("/skip", h.SkipOccurrence)
			r.With(core.RequireRole(pmActRoles...)).Post("/generate", h.GenerateWorkOrder)
		})
	})
}

// --- Handler Methods ---

// CreateTemplate handles POST /v1/pm/templates. The template's occurrence
// series is generated before the response is written.
func (h *PMHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req CreateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tmpl, err := h.svc.CreateTemplate(r.Context(), principal.Actor, principal.Scope, pm.CreateTemplateInput{
		ID:           req.ID,
		Title:        req.Title,
		Description:  req.Description,
		Frequency:    req.Frequency,
		SiteID:       req.SiteID,
		AreaID:       req.AreaID,
		AssetID:      req.AssetID,
		AssignedToID: req.AssignedToID,
		Priority:     req.Priority,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusCreated, tmpl)
}

// ListTemplates handles GET /v1/pm/templates?site_id=.
func (h *PMHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	templates, err := h.svc.ListTemplates(r.Context(), principal.Scope, r.URL.Query().Get("site_id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, templates)
}

// GetTemplate handles GET /v1/pm/templates/{id}. The response includes the
// template's occurrences, newest first.
func (h *PMHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	tmpl, err := h.svc.GetTemplate(r.Context(), principal.Scope, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, tmpl)
}

// UpdateTemplate handles PATCH /v1/pm/templates/{id}.
func (h *PMHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req UpdateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tmpl, err := h.svc.UpdateTemplate(r.Context(), principal.Actor, principal.Scope, chi.URLParam(r, "id"), pm.UpdateTemplateInput{
		Title:        req.Title,
		Description:  req.Description,
		Frequency:    req.Frequency,
		SiteID:       req.SiteID,
		AreaID:       req.AreaID,
		AssetID:      req.AssetID,
		AssignedToID: req.AssignedToID,
		Priority:     req.Priority,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, tmpl)
}

// DeleteTemplate handles DELETE /v1/pm/templates/{id}. Occurrences go with
// the template.
func (h *PMHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteTemplate(r.Context(), principal.Actor, principal.Scope, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOccurrences handles GET /v1/pm/templates/{id}/occurrences.
func (h *PMHandler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	occurrences, err := h.svc.ListTemplateOccurrences(r.Context(), principal.Scope, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, occurrences)
}

// Calendar handles GET /v1/pm/calendar?from=&to=&site_id=. Dates are
// YYYY-MM-DD; the range defaults to today through the calendar window.
func (h *PMHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := calendarParams{
		From:   q.Get("from"),
		To:     q.Get("to"),
		SiteID: q.Get("site_id"),
	}
	if err := h.validator.ValidateStruct(params); err != nil {
		core.Error(w, r, err)
		return
	}

	query := pm.CalendarQuery{SiteID: params.SiteID}
	if params.From != "" {
		from, _ := time.Parse(time.DateOnly, params.From)
		query.From = &from
	}
	if params.To != "" {
		to, _ := time.Parse(time.DateOnly, params.To)
		query.To = &to
	}

	entries, err := h.svc.Calendar(r.Context(), principal.Scope, query)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, entries)
}

// SkipOccurrence handles POST /v1/pm/occurrences/{id}/skip. Only PENDING
// occurrences can be skipped.
func (h *PMHandler) SkipOccurrence(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	occ, err := h.svc.SkipOccurrence(r.Context(), principal.Actor, principal.Scope, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, occ)
}

// GenerateWorkOrder handles POST /v1/pm/occurrences/{id}/generate, creating
// the work order for a PENDING occurrence ahead of its scheduled date.
func (h *PMHandler) GenerateWorkOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	occ, err := h.svc.GenerateNow(r.Context(), principal.Actor, principal.Scope, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "work order generated on demand",
		"occurrence_id", occ.ID,
		"work_order_id", derefString(occ.GeneratedWorkOrderID),
		"actor", principal.Actor.AuditID(),
	)
	core.Data(w, r, http.StatusCreated, occ)
}

// principalFrom returns the authenticated principal or writes a 401.
func principalFrom(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	principal, ok := types.GetPrincipal(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return types.Principal{}, false
	}
	return principal, true
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
