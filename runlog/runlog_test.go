package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/store/memory"
	"github.com/kbukum/autoflow/task"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRecorder(t *testing.T) (*Recorder, *memory.Store, *clock) {
	t.Helper()
	st := memory.New()
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := NewRecorder(st, nil)
	rec.Now = c.now
	return rec, st, c
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	rec, st, c := newRecorder(t)

	run, err := rec.Start(ctx, &task.ScheduleTask{ID: "t1", Name: "nightly"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stored, _ := st.GetLog(ctx, run.ID())
	if stored.Status != task.LogRunning || stored.Progress != 0 || stored.TaskName != "nightly" {
		t.Fatalf("unexpected initial log %+v", stored)
	}

	if err := run.Progress(ctx, 40); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if err := run.Progress(ctx, 20); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	stored, _ = st.GetLog(ctx, run.ID())
	if stored.Progress != 40 {
		t.Errorf("progress went backwards: %d", stored.Progress)
	}

	c.t = c.t.Add(2500 * time.Millisecond)
	if err := run.Finish(ctx, Succeeded(7, "processed 7 items")); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	stored, _ = st.GetLog(ctx, run.ID())
	if stored.Status != task.LogSuccess || stored.ResultCount != 7 || stored.DurationMs != 2500 || stored.Progress != 100 {
		t.Errorf("unexpected final log %+v", stored)
	}
	if stored.EndTime == nil || !stored.EndTime.Equal(c.t) {
		t.Errorf("end time = %v", stored.EndTime)
	}
}

func TestRunRejectsUpdatesAfterFinish(t *testing.T) {
	ctx := context.Background()
	rec, st, _ := newRecorder(t)
	run, _ := rec.Start(ctx, &task.ScheduleTask{ID: "t1"})
	if err := run.Finish(ctx, Failed(errors.New("adapter down"))); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	for name, err := range map[string]error{
		"progress": run.Progress(ctx, 90),
		"message":  run.Message(ctx, "late"),
		"finish":   run.Finish(ctx, Succeeded(1, "again")),
	} {
		if !afErrors.IsCode(err, afErrors.ErrCodeConflict) {
			t.Errorf("%s after finish: expected CONFLICT, got %v", name, err)
		}
	}
	stored, _ := st.GetLog(ctx, run.ID())
	if stored.Status != task.LogError || stored.Message != "adapter down" || stored.Progress != 0 {
		t.Errorf("finalized log was mutated: %+v", stored)
	}
}

func TestMarkInterrupted(t *testing.T) {
	ctx := context.Background()
	rec, st, c := newRecorder(t)
	for i := 0; i < 3; i++ {
		if _, err := rec.Start(ctx, &task.ScheduleTask{ID: "t"}); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	done, _ := rec.Start(ctx, &task.ScheduleTask{ID: "t"})
	_ = done.Finish(ctx, Succeeded(0, "ok"))

	c.t = c.t.Add(time.Minute)
	n, err := rec.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 interrupted, got %d", n)
	}
	_, running, _ := st.ListLogs(ctx, task.LogFilter{Status: task.LogRunning})
	_, interrupted, _ := st.ListLogs(ctx, task.LogFilter{Status: task.LogInterrupted})
	if running != 0 || interrupted != 3 {
		t.Errorf("running=%d interrupted=%d", running, interrupted)
	}
	stored, _ := st.GetLog(ctx, done.ID())
	if stored.Status != task.LogSuccess {
		t.Errorf("finished log touched: %+v", stored)
	}
}
