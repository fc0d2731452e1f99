// Package scheduler runs the daily preventive maintenance sweep.
//
// The sweep is triggered either by an EventBridge schedule invoking the
// pm-sweeper Lambda with a SweepPayload, or in-process by a CronTrigger when
// the API runs as a long-lived server.
package scheduler

import "time"

// TaskType identifies which scheduled task an invocation runs.
type TaskType string

const (
	// TaskPMSweep materializes due occurrences and tops up the rolling horizon.
	TaskPMSweep TaskType = "pm_sweep"
	// TaskPMTopUp only tops up the rolling horizon.
	TaskPMTopUp TaskType = "pm_top_up"
)

// SweepPayload is the JSON event delivered to the pm-sweeper function.
//
//	{
//	  "task": "pm_sweep",
//	  "reference_time": "2024-03-01T06:00:00Z"  // optional
//	}
type SweepPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs and backfills. If nil,
	// time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Due       int           `json:"due"`
	Processed int           `json:"processed"`
	Stale     int           `json:"stale"`
	Failed    int           `json:"failed"`
	ToppedUp  int64         `json:"topped_up"`
	Duration  time.Duration `json:"duration"`
}
