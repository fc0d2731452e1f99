package types

import "time"

// WorkOrderCompletedMessage is the SQS payload published when a work order is
// completed. The completion worker feeds it to the PM completion hook.
type WorkOrderCompletedMessage struct {
	WorkOrderID string    `json:"work_order_id"`
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy string    `json:"completed_by,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
}
