// Package pmtest provides in-memory stores for exercising the PM lifecycle
// and sweep without a database. The stores honour the same constraints as
// the PostgreSQL schema: one occurrence per (template, date) and one work
// order per source occurrence.
package pmtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"facilitypm/internal/db"
	"facilitypm/internal/types"
)

// Store is the shared in-memory state behind the repository views.
type Store struct {
	mu          sync.Mutex
	seq         int
	templates   map[string]types.MaintenanceTemplate
	occurrences map[string]types.MaintenanceOccurrence
	workOrders  map[string]types.WorkOrder
	bySource    map[string]string
	events      []types.AuditEvent

	// Fault hooks. A non-nil return fails the call before any write.
	FailCreateWorkOrder func(occurrenceID string) error
	FailMarkGenerated   func(occurrenceID string) error
	FailAudit           error

	// Counters.
	DeleteFuturePendingCalls int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		templates:   make(map[string]types.MaintenanceTemplate),
		occurrences: make(map[string]types.MaintenanceOccurrence),
		workOrders:  make(map[string]types.WorkOrder),
		bySource:    make(map[string]string),
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%04d", prefix, s.seq)
}

// Templates returns the template repository view.
func (s *Store) Templates() *Templates { return &Templates{s: s} }

// Occurrences returns the occurrence repository view.
func (s *Store) Occurrences() *Occurrences { return &Occurrences{s: s} }

// WorkOrders returns the work order repository view.
func (s *Store) WorkOrders() *WorkOrders { return &WorkOrders{s: s} }

// Audit returns the audit sink view.
func (s *Store) Audit() *Audit { return &Audit{s: s} }

// AddOccurrence inserts an occurrence as-is, for arranging test state.
func (s *Store) AddOccurrence(o types.MaintenanceOccurrence) types.MaintenanceOccurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = s.nextID(db.PrefixOccurrence)
	}
	s.occurrences[o.ID] = o
	return o
}

// Occurrence returns a copy of the occurrence with the given id.
func (s *Store) Occurrence(id string) (types.MaintenanceOccurrence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.occurrences[id]
	return o, ok
}

// OccurrencesOf returns a template's occurrences in ascending date order.
func (s *Store) OccurrencesOf(templateID string) []types.MaintenanceOccurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MaintenanceOccurrence
	for _, o := range s.occurrences {
		if o.TemplateID == templateID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledDate.Before(out[j].ScheduledDate) })
	return out
}

// WorkOrderCount returns the number of stored work orders.
func (s *Store) WorkOrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workOrders)
}

// WorkOrder returns the work order with the given id.
func (s *Store) WorkOrder(id string) (types.WorkOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.workOrders[id]
	return wo, ok
}

// Events returns the recorded audit events.
func (s *Store) Events() []types.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AuditEvent(nil), s.events...)
}

// Templates implements the template store.
type Templates struct{ s *Store }

func (r *Templates) Upsert(_ context.Context, t *types.MaintenanceTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = r.s.nextID(db.PrefixTemplate)
	}
	if existing, ok := r.s.templates[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	stored := *t
	stored.Occurrences = nil
	r.s.templates[t.ID] = stored
	return nil
}

func (r *Templates) GetByID(_ context.Context, id string) (*types.MaintenanceTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
	}
	return &t, nil
}

func (r *Templates) Update(_ context.Context, t *types.MaintenanceTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[t.ID]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
	}
	t.UpdatedAt = time.Now().UTC()
	stored := *t
	stored.Occurrences = nil
	r.s.templates[t.ID] = stored
	return nil
}

func (r *Templates) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
	}
	delete(r.s.templates, id)
	for oid, o := range r.s.occurrences {
		if o.TemplateID == id {
			delete(r.s.occurrences, oid)
		}
	}
	return nil
}

func (r *Templates) List(_ context.Context, siteIDs []string, siteID string) ([]types.MaintenanceTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []types.MaintenanceTemplate
	for _, t := range r.s.templates {
		if siteIDs != nil && !contains(siteIDs, t.SiteID) {
			continue
		}
		if siteID != "" && t.SiteID != siteID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Templates) ListHorizons(_ context.Context) ([]db.TemplateHorizon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []db.TemplateHorizon
	for _, t := range r.s.templates {
		var latestPending, latest *time.Time
		for _, o := range r.s.occurrences {
			if o.TemplateID != t.ID {
				continue
			}
			d := o.ScheduledDate
			if latest == nil || d.After(*latest) {
				latest = &d
			}
			if o.Status == types.OccurrencePending && (latestPending == nil || d.After(*latestPending)) {
				latestPending = &d
			}
		}
		h := db.TemplateHorizon{Template: t, LatestDate: latest}
		if latestPending != nil {
			h.LatestDate = latestPending
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Template.ID < out[j].Template.ID })
	return out, nil
}

// Occurrences implements the occurrence store.
type Occurrences struct{ s *Store }

func (r *Occurrences) InsertPending(_ context.Context, templateID string, dates []time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[templateID]; !ok && len(dates) > 0 {
		return 0, types.NewAppError(types.ErrCodeNotFoundTemplate, "maintenance template not found", nil)
	}
	taken := make(map[time.Time]bool)
	for _, o := range r.s.occurrences {
		if o.TemplateID == templateID {
			taken[o.ScheduledDate] = true
		}
	}
	var inserted int64
	now := time.Now().UTC()
	for _, d := range dates {
		if taken[d] {
			continue
		}
		taken[d] = true
		id := r.s.nextID(db.PrefixOccurrence)
		r.s.occurrences[id] = types.MaintenanceOccurrence{
			ID:            id,
			TemplateID:    templateID,
			ScheduledDate: d,
			Status:        types.OccurrencePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		inserted++
	}
	return inserted, nil
}

func (r *Occurrences) DeleteFuturePending(_ context.Context, templateID string, from time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.DeleteFuturePendingCalls++
	var deleted int64
	for id, o := range r.s.occurrences {
		if o.TemplateID == templateID && o.Status == types.OccurrencePending && !o.ScheduledDate.Before(from) {
			delete(r.s.occurrences, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *Occurrences) GetByID(_ context.Context, id string) (*types.MaintenanceOccurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.occurrences[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOccurrence, "maintenance occurrence not found", nil)
	}
	return &o, nil
}

func (r *Occurrences) Lock(ctx context.Context, id string) (*types.MaintenanceOccurrence, error) {
	return r.GetByID(ctx, id)
}

func (r *Occurrences) ListByTemplate(_ context.Context, templateID string) ([]types.MaintenanceOccurrence, error) {
	out := r.s.OccurrencesOf(templateID)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Occurrences) Transition(_ context.Context, id string, from, to types.OccurrenceStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.occurrences[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.s.occurrences[id] = o
	return true, nil
}

func (r *Occurrences) MarkGenerated(_ context.Context, id, workOrderID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailMarkGenerated != nil {
		if err := r.s.FailMarkGenerated(id); err != nil {
			return false, err
		}
	}
	o, ok := r.s.occurrences[id]
	if !ok || o.Status != types.OccurrencePending {
		return false, nil
	}
	o.Status = types.OccurrenceGenerated
	o.GeneratedWorkOrderID = &workOrderID
	o.UpdatedAt = time.Now().UTC()
	r.s.occurrences[id] = o
	return true, nil
}

func (r *Occurrences) CompleteByWorkOrder(_ context.Context, workOrderID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, o := range r.s.occurrences {
		if o.Status == types.OccurrenceGenerated && o.GeneratedWorkOrderID != nil && *o.GeneratedWorkOrderID == workOrderID {
			o.Status = types.OccurrenceCompleted
			o.UpdatedAt = time.Now().UTC()
			r.s.occurrences[id] = o
			return id, nil
		}
	}
	return "", nil
}

func (r *Occurrences) ListDue(_ context.Context, asOf time.Time) ([]types.DueOccurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []types.DueOccurrence
	for _, o := range r.s.occurrences {
		if o.Status != types.OccurrencePending || o.ScheduledDate.After(asOf) {
			continue
		}
		out = append(out, types.DueOccurrence{Occurrence: o, Template: r.s.templates[o.TemplateID]})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Occurrence, out[j].Occurrence
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r *Occurrences) Calendar(_ context.Context, f db.CalendarFilter) ([]types.CalendarEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []types.CalendarEntry
	for _, o := range r.s.occurrences {
		if o.ScheduledDate.Before(f.From) || o.ScheduledDate.After(f.To) {
			continue
		}
		t := r.s.templates[o.TemplateID]
		if f.SiteIDs != nil && !contains(f.SiteIDs, t.SiteID) {
			continue
		}
		if f.SiteID != "" && t.SiteID != f.SiteID {
			continue
		}
		out = append(out, types.CalendarEntry{
			OccurrenceID:         o.ID,
			TemplateID:           t.ID,
			Title:                t.Title,
			Frequency:            t.Frequency,
			Priority:             t.Priority,
			SiteID:               t.SiteID,
			AreaID:               t.AreaID,
			AssetID:              t.AssetID,
			ScheduledDate:        o.ScheduledDate,
			Status:               o.Status,
			GeneratedWorkOrderID: o.GeneratedWorkOrderID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].OccurrenceID < out[j].OccurrenceID
	})
	return out, nil
}

// WorkOrders implements the work order creator.
type WorkOrders struct{ s *Store }

func (r *WorkOrders) CreateForOccurrence(_ context.Context, draft types.WorkOrderDraft) (string, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailCreateWorkOrder != nil {
		if err := r.s.FailCreateWorkOrder(draft.SourceOccurrenceID); err != nil {
			return "", false, err
		}
	}
	if id, ok := r.s.bySource[draft.SourceOccurrenceID]; ok {
		return id, false, nil
	}
	id := r.s.nextID(db.PrefixWorkOrder)
	source := draft.SourceOccurrenceID
	r.s.workOrders[id] = types.WorkOrder{
		ID:                 id,
		SourceOccurrenceID: &source,
		Title:              draft.Title,
		Description:        draft.Description,
		Status:             draft.Status,
		Priority:           draft.Priority,
		SiteID:             draft.SiteID,
		AreaID:             draft.AreaID,
		AssetID:            draft.AssetID,
		RequesterID:        draft.RequesterID,
		AssignedToID:       draft.AssignedToID,
		CreatedAt:          time.Now().UTC(),
	}
	r.s.bySource[source] = id
	return id, true, nil
}

func (r *WorkOrders) GetByID(_ context.Context, id string) (*types.WorkOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wo, ok := r.s.workOrders[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundWorkOrder, "work order not found", nil)
	}
	return &wo, nil
}

func (r *WorkOrders) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wo, ok := r.s.workOrders[id]
	if !ok || wo.Status == types.WorkOrderCompleted {
		return false, nil
	}
	wo.Status = types.WorkOrderCompleted
	wo.CompletedAt = &at
	r.s.workOrders[id] = wo
	return true, nil
}

// Audit implements the audit sink.
type Audit struct{ s *Store }

func (r *Audit) Log(_ context.Context, e types.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailAudit != nil {
		return r.s.FailAudit
	}
	r.s.events = append(r.s.events, e)
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
