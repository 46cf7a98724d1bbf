package sqlstore

import (
	"time"

	"github.com/kbukum/autoflow/task"
)

// scheduleRow is the schedules table. Timestamps are written as given, not
// managed by gorm.
type scheduleRow struct {
	ID             string      `gorm:"primaryKey;size:64"`
	Name           string      `gorm:"size:200;not null"`
	CronExpression string      `gorm:"size:200;not null"`
	Type           string      `gorm:"size:32;not null"`
	TargetID       string      `gorm:"size:200"`
	Config         task.Config `gorm:"serializer:json"`
	Enabled        bool        `gorm:"index"`
	LastRun        *time.Time
	LastStatus     string `gorm:"size:16"`
	LastError      string
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (scheduleRow) TableName() string { return "schedules" }

func scheduleFromTask(t *task.ScheduleTask) scheduleRow {
	return scheduleRow{
		ID:             t.ID,
		Name:           t.Name,
		CronExpression: t.CronExpression,
		Type:           string(t.Type),
		TargetID:       t.TargetID,
		Config:         t.Config,
		Enabled:        t.Enabled,
		LastRun:        t.LastRun,
		LastStatus:     string(t.LastStatus),
		LastError:      t.LastError,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (r scheduleRow) toTask() task.ScheduleTask {
	return task.ScheduleTask{
		ID:             r.ID,
		Name:           r.Name,
		CronExpression: r.CronExpression,
		Type:           task.Type(r.Type),
		TargetID:       r.TargetID,
		Config:         r.Config,
		Enabled:        r.Enabled,
		LastRun:        r.LastRun,
		LastStatus:     task.Status(r.LastStatus),
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// logRow is the task_logs table.
type logRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	TaskID      string    `gorm:"size:64;index"`
	TaskName    string    `gorm:"size:200"`
	StartTime   time.Time `gorm:"not null"`
	EndTime     *time.Time
	DurationMs  int64
	Status      string `gorm:"size:16;index"`
	Progress    int
	Message     string
	ResultCount int
}

func (logRow) TableName() string { return "task_logs" }

func logFromTask(l *task.TaskLog) logRow {
	return logRow{
		ID:          l.ID,
		TaskID:      l.TaskID,
		TaskName:    l.TaskName,
		StartTime:   l.StartTime,
		EndTime:     l.EndTime,
		DurationMs:  l.DurationMs,
		Status:      string(l.Status),
		Progress:    l.Progress,
		Message:     l.Message,
		ResultCount: l.ResultCount,
	}
}

func (r logRow) toTask() task.TaskLog {
	return task.TaskLog{
		ID:          r.ID,
		TaskID:      r.TaskID,
		TaskName:    r.TaskName,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		DurationMs:  r.DurationMs,
		Status:      task.LogStatus(r.Status),
		Progress:    r.Progress,
		Message:     r.Message,
		ResultCount: r.ResultCount,
	}
}
