package task

import (
	"time"

	"github.com/google/uuid"
)

// Type selects how a scheduled run is executed.
type Type string

const (
	// TypeIngestAdapter runs ingestion for the single adapter in TargetID.
	TypeIngestAdapter Type = "ingest_adapter"
	// TypeIngestAll runs ingestion for every adapter.
	TypeIngestAll Type = "ingest_all"
	// TypeWorkflowItems runs the workflow in TargetID once per item.
	TypeWorkflowItems Type = "workflow_items"
	// TypeAgentItems runs the agent in TargetID once per item.
	TypeAgentItems Type = "agent_items"
	// TypeWorkflow runs the workflow in TargetID once with Config.Input.
	TypeWorkflow Type = "workflow"
)

// Types lists every supported task type.
var Types = []Type{TypeIngestAdapter, TypeIngestAll, TypeWorkflowItems, TypeAgentItems, TypeWorkflow}

// Iterative reports whether the type processes items one by one.
func (t Type) Iterative() bool {
	return t == TypeWorkflowItems || t == TypeAgentItems
}

// NeedsTarget reports whether TargetID must be set for the type.
func (t Type) NeedsTarget() bool {
	return t != TypeIngestAll
}

// Status is the outcome recorded on a schedule after a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Config holds free-form run options. Zero values fall back to the
// scheduler defaults, except DelayMs where an explicit 0 disables the delay.
type Config struct {
	Concurrency  int      `json:"concurrency,omitempty" validate:"gte=0,lte=64"`
	DelayMs      *int     `json:"delay_ms,omitempty" validate:"omitempty,gte=0,lte=600000"`
	TargetFields []string `json:"target_fields,omitempty" validate:"dive,required"`
	WindowDays   int      `json:"window_days,omitempty" validate:"gte=0,lte=31"`
	// Input is the initial workflow input for TypeWorkflow.
	Input any `json:"input,omitempty"`
	// Prompt is prepended to every item prompt.
	Prompt string `json:"prompt,omitempty"`
}

// Delay returns the configured inter-item delay, or def when unset.
func (c Config) Delay(def time.Duration) time.Duration {
	if c.DelayMs == nil {
		return def
	}
	return time.Duration(*c.DelayMs) * time.Millisecond
}

// ScheduleTask is a persisted recurring job.
type ScheduleTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name" validate:"required,max=200"`
	CronExpression string     `json:"cron_expression" validate:"required,max=200"`
	Type           Type       `json:"type" validate:"required,task_type"`
	TargetID       string     `json:"target_id,omitempty"`
	Config         Config     `json:"config"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	LastStatus     Status     `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewID returns a fresh schedule id.
func NewID() string {
	return uuid.NewString()
}

// ApplyOutcome records a finished run on the schedule. A nil err is success.
func (t *ScheduleTask) ApplyOutcome(at time.Time, err error) {
	t.LastRun = &at
	if err != nil {
		t.LastStatus = StatusError
		t.LastError = err.Error()
		return
	}
	t.LastStatus = StatusSuccess
	t.LastError = ""
}
