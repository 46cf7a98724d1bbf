package task

import "context"

// ScheduleStore persists schedules as whole records. Get and Delete return
// a NOT_FOUND AppError for unknown ids.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]ScheduleTask, error)
	GetSchedule(ctx context.Context, id string) (*ScheduleTask, error)
	SaveSchedule(ctx context.Context, t *ScheduleTask) error
	DeleteSchedule(ctx context.Context, id string) error
}

// LogStore persists run logs. InsertLog assigns l.ID; UpdateLog replaces
// the record with the same id.
type LogStore interface {
	InsertLog(ctx context.Context, l *TaskLog) error
	UpdateLog(ctx context.Context, l *TaskLog) error
	GetLog(ctx context.Context, id int64) (*TaskLog, error)
	// ListLogs returns one page, newest first, and the total matching count.
	ListLogs(ctx context.Context, f LogFilter) ([]TaskLog, int, error)
}

// Store is the full persistence surface the scheduler needs.
type Store interface {
	ScheduleStore
	LogStore
}
