package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"facilitypm/internal/core"
	"facilitypm/internal/types"
)

// WorkOrderStore reads and completes locally stored work orders.
type WorkOrderStore interface {
	GetByID(ctx context.Context, id string) (*types.WorkOrder, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

// CompletionHandler propagates a work order completion to its occurrence.
type CompletionHandler interface {
	HandleWorkOrderCompletion(ctx context.Context, actor types.Actor, workOrderID string) (string, error)
}

// CompletionPublisher hands completions to the completion queue.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, workOrderID string, completedAt time.Time, completedBy string) error
}

// WorkOrderHandler serves work order completion. When a publisher is set the
// occurrence update happens in the completion worker; otherwise it is applied
// in the request.
type WorkOrderHandler struct {
	store     WorkOrderStore
	completer CompletionHandler
	publisher CompletionPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewWorkOrderHandler creates a WorkOrderHandler. publisher may be nil.
func NewWorkOrderHandler(store WorkOrderStore, completer CompletionHandler, publisher CompletionPublisher, l *slog.Logger) *WorkOrderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &WorkOrderHandler{
		store:     store,
		completer: completer,
		publisher: publisher,
		now:       time.Now,
		logger:    l,
	}
}

// RegisterRoutes mounts the work order routes on the provided chi.Router.
func (h *WorkOrderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/work-orders/{id}", func(r chi.Router) {
		r.With(core.RequireRole(pmActRoles...)).Get("/", h.Get)
		r.With(core.RequireRole(pmActRoles...)).Post("/complete", h.Complete)
	})
}

// Get handles GET /v1/work-orders/{id}.
func (h *WorkOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	wo, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := principal.Scope.Check(wo.SiteID); err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, wo)
}

// Complete handles POST /v1/work-orders/{id}/complete. Completing an already
// completed order is accepted and re-propagates the completion, so a caller
// can retry after a failed propagation.
func (h *WorkOrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	wo, err := h.store.GetByID(ctx, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := principal.Scope.Check(wo.SiteID); err != nil {
		core.Error(w, r, err)
		return
	}

	completedAt := h.now().UTC()
	changed, err := h.store.MarkCompleted(ctx, id, completedAt)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !changed && wo.CompletedAt != nil {
		completedAt = *wo.CompletedAt
	}

	if h.publisher != nil {
		if err := h.publisher.PublishCompletion(ctx, id, completedAt, principal.Actor.AuditID()); err != nil {
			core.Error(w, r, err)
			return
		}
	} else if _, err := h.completer.HandleWorkOrderCompletion(ctx, principal.Actor, id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "work order completed",
		"work_order_id", id,
		"already_completed", !changed,
		"queued", h.publisher != nil,
	)

	wo.Status = types.WorkOrderCompleted
	wo.CompletedAt = &completedAt
	core.Data(w, r, http.StatusOK, wo)
}
