package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/runlog"
	"github.com/kbukum/autoflow/store/memory"
	"github.com/kbukum/autoflow/task"
)

type recordingExec struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan struct{}
}

func (e *recordingExec) Execute(_ context.Context, t *task.ScheduleTask) error {
	e.mu.Lock()
	e.calls = append(e.calls, t.ID)
	e.mu.Unlock()
	if e.started != nil {
		e.started <- t.ID
	}
	if e.release != nil {
		<-e.release
	}
	return nil
}

func (e *recordingExec) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newManager(t *testing.T, exec Executor) (*Manager, *memory.Store) {
	t.Helper()
	st := memory.New()
	m := NewManager(st, exec, runlog.NewRecorder(st, nil), Config{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m, st
}

func schedule(id, expr string) *task.ScheduleTask {
	return &task.ScheduleTask{
		ID: id, Name: "schedule " + id, CronExpression: expr,
		Type: task.TypeIngestAll, Enabled: true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSaveInvalidCronKeepsScheduleStopped(t *testing.T) {
	ctx := context.Background()
	exec := &recordingExec{}
	m, st := newManager(t, exec)

	res, err := m.Save(ctx, schedule("bad", "not-a-cron"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Installed || !strings.Contains(res.Warning, string(afErrors.ErrCodeInvalidCron)) {
		t.Errorf("result = %+v", res)
	}
	if m.IsInstalled("bad") {
		t.Error("invalid schedule has a timer")
	}
	if _, err := st.GetSchedule(ctx, "bad"); err != nil {
		t.Errorf("schedule not persisted: %v", err)
	}

	if err := m.Install(schedule("bad", "not-a-cron")); !afErrors.IsCode(err, afErrors.ErrCodeInvalidCron) {
		t.Errorf("Install = %v, want INVALID_CRON", err)
	}

	if err := m.RunNow(ctx, "bad"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitFor(t, "manual run", func() bool { return exec.count() == 1 })
}

func TestInstallReplacesPreviousTimer(t *testing.T) {
	m, _ := newManager(t, &recordingExec{})
	s := schedule("s", "@hourly")
	for i := 0; i < 3; i++ {
		if err := m.Install(s); err != nil {
			t.Fatalf("Install: %v", err)
		}
	}
	if got := m.Installed(); len(got) != 1 || got[0] != "s" {
		t.Errorf("Installed = %v", got)
	}
	if n := len(m.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}
	if _, ok := m.NextRun("s"); !ok {
		t.Error("no next run for installed schedule")
	}

	if err := m.Install(schedule("s", "bogus")); err == nil {
		t.Fatal("expected INVALID_CRON")
	}
	if m.IsInstalled("s") || len(m.cron.Entries()) != 0 {
		t.Error("old timer survived a failed reinstall")
	}
	if m.Uninstall("s") {
		t.Error("Uninstall reported a timer that was not there")
	}
}

func TestRunLockRefusesSecondTrigger(t *testing.T) {
	ctx := context.Background()
	exec := &recordingExec{started: make(chan string, 4), release: make(chan struct{})}
	m, st := newManager(t, exec)
	_ = st.SaveSchedule(ctx, schedule("s", "@hourly"))

	if err := m.RunNow(ctx, "s"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	<-exec.started
	if err := m.RunNow(ctx, "s"); !afErrors.IsCode(err, afErrors.ErrCodeAlreadyRunning) {
		t.Fatalf("second RunNow = %v, want ALREADY_RUNNING", err)
	}
	m.fire("s")
	if exec.count() != 1 {
		t.Fatalf("timer fire ran while locked: %d calls", exec.count())
	}
	if !m.IsRunning("s") {
		t.Error("IsRunning = false during run")
	}

	close(exec.release)
	waitFor(t, "lock release", func() bool { return !m.IsRunning("s") })
	if err := m.RunNow(ctx, "s"); err != nil {
		t.Fatalf("RunNow after release: %v", err)
	}
	waitFor(t, "second run", func() bool { return exec.count() == 2 })
}

func TestRunNowUnknownSchedule(t *testing.T) {
	m, _ := newManager(t, &recordingExec{})
	if err := m.RunNow(context.Background(), "missing"); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Fatalf("RunNow = %v, want NOT_FOUND", err)
	}
}

func TestInitInstallsEnabledAndMarksStaleRuns(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t, &recordingExec{})

	stale := task.TaskLog{TaskID: "old", TaskName: "old", StartTime: time.Now().Add(-time.Hour), Status: task.LogRunning}
	_ = st.InsertLog(ctx, &stale)
	_ = st.SaveSchedule(ctx, schedule("on", "*/5 * * * *"))
	off := schedule("off", "@daily")
	off.Enabled = false
	_ = st.SaveSchedule(ctx, off)
	_ = st.SaveSchedule(ctx, schedule("broken", "every tuesday"))

	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := m.Installed(); len(got) != 1 || got[0] != "on" {
		t.Errorf("Installed = %v, want [on]", got)
	}
	l, _ := st.GetLog(ctx, stale.ID)
	if l.Status != task.LogInterrupted || l.EndTime == nil {
		t.Errorf("stale log = %+v", l)
	}
	if h := m.Health(ctx); h.Status != "healthy" {
		t.Errorf("health = %+v", h)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(m.Installed()) != 0 {
		t.Error("Stop left timers installed")
	}
	if h := m.Health(ctx); h.Status == "healthy" {
		t.Errorf("health after stop = %+v", h)
	}
}

// flakyLogs fails every ListLogs call.
type flakyLogs struct {
	*memory.Store
}

func (flakyLogs) ListLogs(context.Context, task.LogFilter) ([]task.TaskLog, int, error) {
	return nil, 0, errors.New("log index unavailable")
}

func TestInitInstallsWhenStaleLogCleanupFails(t *testing.T) {
	ctx := context.Background()
	st := flakyLogs{memory.New()}
	_ = st.SaveSchedule(ctx, schedule("on", "*/5 * * * *"))
	m := NewManager(st, &recordingExec{}, runlog.NewRecorder(st, nil), Config{}, nil)
	t.Cleanup(func() { _ = m.Stop(ctx) })

	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !m.IsInstalled("on") {
		t.Errorf("Installed = %v, want [on]", m.Installed())
	}
}

func TestSavePreservesRunMetadata(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t, &recordingExec{})
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	existing := schedule("s", "@hourly")
	existing.CreatedAt = created
	existing.LastRun = &last
	existing.LastStatus = task.StatusError
	existing.LastError = "boom"
	_ = st.SaveSchedule(ctx, existing)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }
	update := schedule("s", "@daily")
	update.Name = "renamed"
	res, err := m.Save(ctx, update)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !res.Installed || !m.IsInstalled("s") {
		t.Errorf("result = %+v", res)
	}
	got, _ := st.GetSchedule(ctx, "s")
	if got.Name != "renamed" || got.CronExpression != "@daily" {
		t.Errorf("update not stored: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
	if got.LastRun == nil || !got.LastRun.Equal(last) || got.LastError != "boom" {
		t.Errorf("run metadata lost: %+v", got)
	}

	update.Enabled = false
	if res, _ := m.Save(ctx, update); res.Installed || m.IsInstalled("s") {
		t.Error("disabled schedule still installed")
	}
}

func TestSaveAssignsID(t *testing.T) {
	m, _ := newManager(t, &recordingExec{})
	s := schedule("", "@hourly")
	res, err := m.Save(context.Background(), s)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Task.ID == "" || res.Task.CreatedAt.IsZero() {
		t.Errorf("task = %+v", res.Task)
	}
}

func TestSaveRejectsInvalidTask(t *testing.T) {
	m, st := newManager(t, &recordingExec{})
	s := schedule("s", "@hourly")
	s.Name = ""
	if _, err := m.Save(context.Background(), s); !afErrors.IsCode(err, afErrors.ErrCodeInvalidInput) {
		t.Fatalf("Save = %v, want INVALID_INPUT", err)
	}
	if list, _ := st.ListSchedules(context.Background()); len(list) != 0 {
		t.Errorf("invalid task persisted: %v", list)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &recordingExec{})
	if _, err := m.Save(ctx, schedule("s", "@hourly")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Delete(ctx, "s"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.IsInstalled("s") {
		t.Error("deleted schedule still installed")
	}
	if _, err := m.Get(ctx, "s"); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("Get = %v", err)
	}
	if err := m.Delete(ctx, "s"); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("second Delete = %v", err)
	}
}

func TestRunNowRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rec := runlog.NewRecorder(st, nil)
	r := &Runner{Ingest: &fakeIngestor{err: errors.New("upstream 502")}, Schedules: st, Recorder: rec}
	m := NewManager(st, r, rec, Config{}, nil)
	_ = st.SaveSchedule(ctx, schedule("s", "@hourly"))

	if err := m.RunNow(ctx, "s"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := m.Get(ctx, "s")
	if got.LastStatus != task.StatusError || got.LastError != "upstream 502" {
		t.Errorf("schedule = %+v", got)
	}
	logs, total, _ := m.Logs(ctx, task.LogFilter{TaskID: "s"})
	if total != 1 || logs[0].Status != task.LogError {
		t.Errorf("logs = %+v", logs)
	}
}

func TestTimerFires(t *testing.T) {
	ctx := context.Background()
	exec := &recordingExec{}
	m, st := newManager(t, exec)
	_ = st.SaveSchedule(ctx, schedule("tick", "@every 1s"))
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	waitFor(t, "timer fire", func() bool { return exec.count() >= 1 })
}
