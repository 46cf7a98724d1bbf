package task

import "time"

// LogStatus is the state of a run log.
type LogStatus string

const (
	LogRunning     LogStatus = "running"
	LogSuccess     LogStatus = "success"
	LogError       LogStatus = "error"
	LogInterrupted LogStatus = "interrupted"
)

// Final reports whether the status ends a run.
func (s LogStatus) Final() bool {
	return s == LogSuccess || s == LogError || s == LogInterrupted
}

// TaskLog is the record of one execution. The store assigns ID on insert.
type TaskLog struct {
	ID          int64      `json:"id"`
	TaskID      string     `json:"task_id"`
	TaskName    string     `json:"task_name"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	Status      LogStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	ResultCount int        `json:"result_count"`
}

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// LogFilter selects run logs. Results are newest first.
type LogFilter struct {
	TaskID string
	Status LogStatus
	Limit  int
	Offset int
}

// Normalize applies the default limit and clamps limit and offset.
func (f LogFilter) Normalize() LogFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLogLimit
	}
	if f.Limit > MaxLogLimit {
		f.Limit = MaxLogLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether l passes the TaskID and Status filters.
func (f LogFilter) Matches(l *TaskLog) bool {
	if f.TaskID != "" && l.TaskID != f.TaskID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return true
}
