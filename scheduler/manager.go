package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kbukum/autoflow/component"
	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/runlog"
	"github.com/kbukum/autoflow/task"
)

// Executor runs one schedule to completion.
type Executor interface {
	Execute(ctx context.Context, t *task.ScheduleTask) error
}

// SaveResult is returned by Manager.Save. Warning explains why an enabled
// schedule could not be installed.
type SaveResult struct {
	Task      *task.ScheduleTask `json:"task"`
	Installed bool               `json:"installed"`
	Warning   string             `json:"warning,omitempty"`
}

// Manager owns the cron timers of all schedules.
type Manager struct {
	store    task.Store
	exec     Executor
	recorder *runlog.Recorder
	log      *logger.Logger
	cron     *cron.Cron
	// Now stamps CreatedAt and UpdatedAt on saved schedules.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]struct{}
	started bool
	runs    sync.WaitGroup
}

var _ component.Component = (*Manager)(nil)

// NewManager creates a Manager. Timers are not started until Init.
func NewManager(store task.Store, exec Executor, recorder *runlog.Recorder, cfg Config, log *logger.Logger) *Manager {
	cfg.ApplyDefaults()
	l := logger.OrNop(log).WithComponent("scheduler")
	return &Manager{
		store:    store,
		exec:     exec,
		recorder: recorder,
		log:      l,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location()),
			cron.WithLogger(cronLogger{log: l}),
			cron.WithChain(cron.Recover(cronLogger{log: l})),
		),
		Now:     time.Now,
		entries: make(map[string]cron.EntryID),
		running: make(map[string]struct{}),
	}
}

// Init marks logs left running by a previous process as interrupted,
// installs every enabled schedule and starts the timers. Schedules with
// invalid expressions are logged and skipped, and a failure to mark stale
// logs is logged without stopping the install.
func (m *Manager) Init(ctx context.Context) error {
	if m.recorder != nil {
		if _, err := m.recorder.MarkInterrupted(ctx); err != nil {
			m.log.Warn("marking interrupted runs failed", logger.Fields(logger.FieldError, err.Error()))
		}
	}
	schedules, err := m.store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	installed := 0
	for i := range schedules {
		t := &schedules[i]
		if !t.Enabled {
			continue
		}
		if err := m.Install(t); err == nil {
			installed++
		}
	}

	m.mu.Lock()
	if !m.started {
		m.cron.Start()
		m.started = true
	}
	m.mu.Unlock()
	m.log.Info("scheduler initialized", logger.Fields("schedules", len(schedules), "installed", installed))
	return nil
}

// Install (re)creates the timer for t, replacing any previous one. An
// invalid cron expression leaves the schedule without a timer and returns
// INVALID_CRON.
func (m *Manager) Install(t *task.ScheduleTask) error {
	id := t.ID
	log := m.log.WithFields(logger.Fields(logger.FieldTaskID, id, logger.FieldTaskName, t.Name))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)

	sched, err := parser.Parse(t.CronExpression)
	if err != nil {
		appErr := afErrors.InvalidCron(t.CronExpression, err)
		log.Error("schedule not installed", logger.Fields(logger.FieldError, appErr.Error()))
		return appErr
	}
	m.entries[id] = m.cron.Schedule(sched, cron.FuncJob(func() { m.fire(id) }))
	log.Info("schedule installed", logger.Fields("cron", t.CronExpression))
	return nil
}

// Uninstall removes the timer for id. It reports whether one existed.
func (m *Manager) Uninstall(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) bool {
	entry, ok := m.entries[id]
	if !ok {
		return false
	}
	m.cron.Remove(entry)
	delete(m.entries, id)
	return true
}

// StopAll removes every timer. Runs already in flight continue.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.entries {
		m.removeLocked(id)
	}
}

// IsInstalled reports whether id has a timer.
func (m *Manager) IsInstalled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Installed returns the ids with a timer, sorted.
func (m *Manager) Installed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextRun returns the next fire time of id, or false when it has no timer.
func (m *Manager) NextRun(id string) (time.Time, bool) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := m.cron.Entry(entry)
	if !e.Valid() {
		return time.Time{}, false
	}
	next := e.Next
	if next.IsZero() {
		// timers not started yet
		next = e.Schedule.Next(m.now())
	}
	return next, !next.IsZero()
}

// RunNow starts a run of id in the background and returns once it is
// started. It fails with NOT_FOUND for unknown ids and ALREADY_RUNNING when
// a run of the same schedule is in flight.
func (m *Manager) RunNow(ctx context.Context, id string) error {
	t, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !m.launch(t) {
		return afErrors.AlreadyRunning(id)
	}
	return nil
}

// fire is the timer callback.
func (m *Manager) fire(id string) {
	t, err := m.store.GetSchedule(context.Background(), id)
	if err != nil {
		m.log.Error("scheduled run skipped", logger.Fields(logger.FieldTaskID, id, logger.FieldError, err.Error()))
		return
	}
	if !m.launch(t) {
		m.log.Warn("scheduled run skipped, previous run still in flight", logger.Fields(
			logger.FieldTaskID, id, logger.FieldTaskName, t.Name,
		))
	}
}

// launch takes the run lock of t and executes it on a detached context.
func (m *Manager) launch(t *task.ScheduleTask) bool {
	m.mu.Lock()
	if _, busy := m.running[t.ID]; busy {
		m.mu.Unlock()
		return false
	}
	m.running[t.ID] = struct{}{}
	m.runs.Add(1)
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.running, t.ID)
			m.mu.Unlock()
			m.runs.Done()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				m.log.Error("run panicked", logger.Fields(logger.FieldTaskID, t.ID, "panic", rec))
			}
		}()
		_ = m.exec.Execute(context.Background(), t)
	}()
	return true
}

// IsRunning reports whether a run of id is in flight.
func (m *Manager) IsRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Save validates and persists t, then installs its timer when enabled or
// removes it when disabled. An empty ID creates a new schedule. Run
// metadata and CreatedAt of an existing schedule are preserved.
//
// An invalid cron expression does not fail the save: the schedule is kept
// without a timer and the result carries a warning.
func (m *Manager) Save(ctx context.Context, t *task.ScheduleTask) (*SaveResult, error) {
	if err := task.Validate(t); err != nil {
		return nil, err
	}
	now := m.now()
	if t.ID == "" {
		t.ID = task.NewID()
		t.CreatedAt = now
		t.LastRun, t.LastStatus, t.LastError = nil, "", ""
	} else {
		existing, err := m.store.GetSchedule(ctx, t.ID)
		switch {
		case err == nil:
			t.CreatedAt = existing.CreatedAt
			t.LastRun, t.LastStatus, t.LastError = existing.LastRun, existing.LastStatus, existing.LastError
		case afErrors.IsCode(err, afErrors.ErrCodeNotFound):
			t.CreatedAt = now
		default:
			return nil, err
		}
	}
	t.UpdatedAt = now
	if err := m.store.SaveSchedule(ctx, t); err != nil {
		return nil, err
	}

	res := &SaveResult{Task: t}
	if !t.Enabled {
		m.Uninstall(t.ID)
		return res, nil
	}
	if err := m.Install(t); err != nil {
		res.Warning = err.Error()
		return res, nil
	}
	res.Installed = true
	return res, nil
}

// Delete removes the timer and the stored schedule. Logs are kept.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	m.Uninstall(id)
	m.log.Info("schedule deleted", logger.Fields(logger.FieldTaskID, id))
	return nil
}

// List returns every stored schedule.
func (m *Manager) List(ctx context.Context) ([]task.ScheduleTask, error) {
	return m.store.ListSchedules(ctx)
}

// Get returns one stored schedule.
func (m *Manager) Get(ctx context.Context, id string) (*task.ScheduleTask, error) {
	return m.store.GetSchedule(ctx, id)
}

// Logs returns a page of run logs, newest first, and the total match count.
func (m *Manager) Logs(ctx context.Context, f task.LogFilter) ([]task.TaskLog, int, error) {
	return m.store.ListLogs(ctx, f.Normalize())
}

// Name implements component.Component.
func (m *Manager) Name() string { return "scheduler" }

// Start implements component.Component.
func (m *Manager) Start(ctx context.Context) error { return m.Init(ctx) }

// Stop removes every timer, stops the cron loop and waits for in-flight
// runs until ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	m.StopAll()
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if started {
		select {
		case <-m.cron.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.log.Warn("stopped with runs still in flight")
		return ctx.Err()
	}
}

// Health implements component.Component.
func (m *Manager) Health(ctx context.Context) component.Health {
	m.mu.Lock()
	started := m.started
	installed, running := len(m.entries), len(m.running)
	m.mu.Unlock()
	h := component.Health{Name: m.Name(), Status: component.StatusHealthy}
	if !started {
		h.Status = component.StatusUnhealthy
		h.Message = "timers not started"
		return h
	}
	h.Message = fmt.Sprintf("%d installed, %d running", installed, running)
	return h
}

// Describe implements component.Describable.
func (m *Manager) Describe() component.Description {
	return component.Description{Name: m.Name(), Type: "cron", Details: "robfig/cron/v3"}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
