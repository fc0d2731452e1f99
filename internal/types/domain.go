package types

import (
	"strings"
	"time"
)

// Frequency is the recurrence cadence of a maintenance template.
type Frequency string

const (
	FrequencyDaily      Frequency = "DAILY"
	FrequencyWeekly     Frequency = "WEEKLY"
	FrequencyMonthly    Frequency = "MONTHLY"
	FrequencyQuarterly  Frequency = "QUARTERLY"
	FrequencySemiAnnual Frequency = "SEMI_ANNUAL"
	FrequencyAnnual     Frequency = "ANNUAL"
)

// DefaultFrequency is used when a template is created without a frequency.
const DefaultFrequency = FrequencyMonthly

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly,
		FrequencyQuarterly, FrequencySemiAnnual, FrequencyAnnual:
		return true
	}
	return false
}

// ParseFrequency normalises s to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", NewAppErrorWithDetails(ErrCodeValidationInvalidFrequency, "unknown frequency", nil,
			map[string]any{"frequency": s})
	}
	return f, nil
}

// Priority seeds the priority of generated work orders.
type Priority string

const (
	PriorityLow       Priority = "LOW"
	PriorityMedium    Priority = "MEDIUM"
	PriorityHigh      Priority = "HIGH"
	PriorityEmergency Priority = "EMERGENCY"
)

// DefaultPriority is used when a template is created without a priority.
const DefaultPriority = PriorityMedium

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// OccurrenceStatus is the lifecycle state of a MaintenanceOccurrence.
//
//	PENDING -> SKIPPED
//	PENDING -> GENERATED -> COMPLETED
type OccurrenceStatus string

const (
	OccurrencePending   OccurrenceStatus = "PENDING"
	OccurrenceGenerated OccurrenceStatus = "GENERATED"
	OccurrenceCompleted OccurrenceStatus = "COMPLETED"
	OccurrenceSkipped   OccurrenceStatus = "SKIPPED"
)

// IsTerminal reports whether no further transition is possible.
func (s OccurrenceStatus) IsTerminal() bool {
	return s == OccurrenceCompleted || s == OccurrenceSkipped
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s OccurrenceStatus) CanTransitionTo(next OccurrenceStatus) bool {
	switch s {
	case OccurrencePending:
		return next == OccurrenceGenerated || next == OccurrenceSkipped
	case OccurrenceGenerated:
		return next == OccurrenceCompleted
	}
	return false
}

// WorkOrderStatus is the subset of work order states the PM core touches.
type WorkOrderStatus string

const (
	WorkOrderOpen       WorkOrderStatus = "OPEN"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
)

// MaintenanceTemplate is a recurring maintenance obligation scoped to a site
// and optionally to an area and asset.
type MaintenanceTemplate struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description,omitempty"`
	Frequency    Frequency `json:"frequency"`
	SiteID       string    `json:"site_id"`
	AreaID       *string   `json:"area_id,omitempty"`
	AssetID      *string   `json:"asset_id,omitempty"`
	AssignedToID *string   `json:"assigned_to_id,omitempty"`
	Priority     Priority  `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Populated by detail reads only.
	Occurrences []MaintenanceOccurrence `json:"occurrences,omitempty"`
}

// MaintenanceOccurrence is one scheduled instance of a template.
type MaintenanceOccurrence struct {
	ID                   string           `json:"id"`
	TemplateID           string           `json:"template_id"`
	ScheduledDate        time.Time        `json:"scheduled_date"`
	Status               OccurrenceStatus `json:"status"`
	GeneratedWorkOrderID *string          `json:"generated_work_order_id,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// DueOccurrence is a PENDING occurrence joined with its template, as needed
// to materialize it.
type DueOccurrence struct {
	Occurrence MaintenanceOccurrence
	Template   MaintenanceTemplate
}

// CalendarEntry is an occurrence row as shown on the PM calendar.
type CalendarEntry struct {
	OccurrenceID         string           `json:"occurrence_id"`
	TemplateID           string           `json:"template_id"`
	Title                string           `json:"title"`
	Frequency            Frequency        `json:"frequency"`
	Priority             Priority         `json:"priority"`
	SiteID               string           `json:"site_id"`
	AreaID               *string          `json:"area_id,omitempty"`
	AssetID              *string          `json:"asset_id,omitempty"`
	ScheduledDate        time.Time        `json:"scheduled_date"`
	Status               OccurrenceStatus `json:"status"`
	GeneratedWorkOrderID *string          `json:"generated_work_order_id,omitempty"`
}

// WorkOrderDraft carries the template-derived fields of a new work order.
// SourceOccurrenceID keys the order so a retried materialize finds it.
type WorkOrderDraft struct {
	SourceOccurrenceID string          `json:"source_occurrence_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Status             WorkOrderStatus `json:"status"`
	Priority           Priority        `json:"priority"`
	SiteID             string          `json:"site_id"`
	AreaID             *string         `json:"area_id,omitempty"`
	AssetID            *string         `json:"asset_id,omitempty"`
	RequesterID        string          `json:"requester_id"`
	AssignedToID       *string         `json:"assigned_to_id,omitempty"`
}

// WorkOrder is the external artifact produced from a GENERATED occurrence.
type WorkOrder struct {
	ID                 string          `json:"id"`
	SourceOccurrenceID *string         `json:"source_occurrence_id,omitempty"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Status             WorkOrderStatus `json:"status"`
	Priority           Priority        `json:"priority"`
	SiteID             string          `json:"site_id"`
	AreaID             *string         `json:"area_id,omitempty"`
	AssetID            *string         `json:"asset_id,omitempty"`
	RequesterID        string          `json:"requester_id"`
	AssignedToID       *string         `json:"assigned_to_id,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// AuditEvent records a mutation for the audit sink.
type AuditEvent struct {
	ActorID    string    `json:"actor_id"`
	ActorType  ActorType `json:"actor_type"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Audit actions and entity types.
const (
	AuditActionCreate            = "CREATE"
	AuditActionUpdate            = "UPDATE"
	AuditActionDelete            = "DELETE"
	AuditActionSkip              = "SKIP"
	AuditActionComplete          = "COMPLETE"
	AuditActionPMWorkOrderCreate = "PM_WORK_ORDER_GENERATED"

	AuditEntityTemplate   = "MAINTENANCE_TEMPLATE"
	AuditEntityOccurrence = "MAINTENANCE_OCCURRENCE"
	AuditEntityWorkOrder  = "WORK_ORDER"
)
