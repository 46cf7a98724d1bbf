// Package runlog records the lifecycle of every scheduled run as a
// task.TaskLog: inserted as running at start, updated with progress while
// the run works, finalized exactly once.
package runlog

import (
	"context"
	"sync"
	"time"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/task"
)

// Recorder creates run logs in a task.LogStore.
type Recorder struct {
	logs task.LogStore
	log  *logger.Logger
	// Now is the clock used for start and end times.
	Now func() time.Time
}

// NewRecorder creates a Recorder. A nil logger discards output.
func NewRecorder(logs task.LogStore, log *logger.Logger) *Recorder {
	return &Recorder{
		logs: logs,
		log:  logger.OrNop(log).WithComponent("runlog"),
		Now:  time.Now,
	}
}

// Outcome is the final state of a run.
type Outcome struct {
	Status      task.LogStatus
	Message     string
	ResultCount int
}

// Succeeded is a success outcome.
func Succeeded(count int, message string) Outcome {
	return Outcome{Status: task.LogSuccess, Message: message, ResultCount: count}
}

// Failed is an error outcome carrying err's message.
func Failed(err error) Outcome {
	return Outcome{Status: task.LogError, Message: err.Error()}
}

// Start inserts a running log for t with progress 0.
func (r *Recorder) Start(ctx context.Context, t *task.ScheduleTask) (*Run, error) {
	entry := task.TaskLog{
		TaskID:    t.ID,
		TaskName:  t.Name,
		StartTime: r.Now(),
		Status:    task.LogRunning,
	}
	if err := r.logs.InsertLog(ctx, &entry); err != nil {
		return nil, err
	}
	return &Run{rec: r, entry: entry}, nil
}

// MarkInterrupted finalizes logs still marked running, which can only be
// left over from a process that stopped mid-run. It returns how many logs
// were changed.
func (r *Recorder) MarkInterrupted(ctx context.Context) (int, error) {
	var stale []task.TaskLog
	filter := task.LogFilter{Status: task.LogRunning, Limit: task.MaxLogLimit}
	for {
		page, total, err := r.logs.ListLogs(ctx, filter)
		if err != nil {
			return 0, err
		}
		stale = append(stale, page...)
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}

	now := r.Now()
	for i := range stale {
		l := &stale[i]
		end := now
		l.EndTime = &end
		l.DurationMs = now.Sub(l.StartTime).Milliseconds()
		l.Status = task.LogInterrupted
		l.Message = "process stopped before the run finished"
		if err := r.logs.UpdateLog(ctx, l); err != nil {
			return i, err
		}
	}
	if len(stale) > 0 {
		r.log.Warn("marked stale runs interrupted", logger.Fields("count", len(stale)))
	}
	return len(stale), nil
}

// Run is one in-flight log. It is safe for concurrent use.
type Run struct {
	rec      *Recorder
	mu       sync.Mutex
	entry    task.TaskLog
	finished bool
}

// ID returns the store-assigned log id.
func (r *Run) ID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry.ID
}

// Snapshot returns a copy of the current log.
func (r *Run) Snapshot() task.TaskLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry
}

// Progress persists pct, clamped to 0..100. Values not above the current
// progress are ignored, so the stored progress never decreases.
func (r *Run) Progress(ctx context.Context, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return r.update(ctx, func(l *task.TaskLog) bool {
		if pct <= l.Progress {
			return false
		}
		l.Progress = pct
		return true
	})
}

// Message persists a status message without finishing the run.
func (r *Run) Message(ctx context.Context, msg string) error {
	return r.update(ctx, func(l *task.TaskLog) bool {
		l.Message = msg
		return true
	})
}

// Finish sets end time, duration, status, message and result count. Later
// calls on the same Run fail with CONFLICT.
func (r *Run) Finish(ctx context.Context, out Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return errFinished(r.entry.ID)
	}
	end := r.rec.Now()
	r.entry.EndTime = &end
	r.entry.DurationMs = end.Sub(r.entry.StartTime).Milliseconds()
	r.entry.Status = out.Status
	r.entry.Message = out.Message
	r.entry.ResultCount = out.ResultCount
	if out.Status == task.LogSuccess {
		r.entry.Progress = 100
	}
	r.finished = true
	return r.rec.logs.UpdateLog(ctx, &r.entry)
}

func (r *Run) update(ctx context.Context, apply func(*task.TaskLog) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return errFinished(r.entry.ID)
	}
	if !apply(&r.entry) {
		return nil
	}
	return r.rec.logs.UpdateLog(ctx, &r.entry)
}

func errFinished(id int64) error {
	return afErrors.Conflict("run log is already finalized").WithDetail("log_id", id)
}
