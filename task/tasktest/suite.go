// Package tasktest holds the behavioural checks every task.Store
// implementation must pass.
package tasktest

import (
	"context"
	"reflect"
	"testing"
	"time"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/task"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) task.Store

// RunStoreSuite runs the shared store checks against newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Run("ScheduleRoundTrip", func(t *testing.T) { testScheduleRoundTrip(t, newStore(t)) })
	t.Run("ScheduleUpsertAndList", func(t *testing.T) { testScheduleUpsertAndList(t, newStore(t)) })
	t.Run("ScheduleNotFound", func(t *testing.T) { testScheduleNotFound(t, newStore(t)) })
	t.Run("LogLifecycle", func(t *testing.T) { testLogLifecycle(t, newStore(t)) })
	t.Run("LogPaging", func(t *testing.T) { testLogPaging(t, newStore(t)) })
}

// SampleSchedule returns a schedule with every field populated.
func SampleSchedule(id string) *task.ScheduleTask {
	delay := 0
	last := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	return &task.ScheduleTask{
		ID:             id,
		Name:           "Summaries " + id,
		CronExpression: "0 */2 * * *",
		Type:           task.TypeWorkflowItems,
		TargetID:       "wf-summarize",
		Config: task.Config{
			Concurrency:  4,
			DelayMs:      &delay,
			TargetFields: []string{"summary", "score"},
			WindowDays:   2,
			Input:        "seed",
			Prompt:       "Summarize:",
		},
		Enabled:    true,
		LastRun:    &last,
		LastStatus: task.StatusSuccess,
		CreatedAt:  last.Add(-time.Hour),
		UpdatedAt:  last,
	}
}

func testScheduleRoundTrip(t *testing.T, s task.Store) {
	ctx := context.Background()
	in := SampleSchedule("rt")
	if err := s.SaveSchedule(ctx, in); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
	out, err := s.GetSchedule(ctx, "rt")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if out.CronExpression != in.CronExpression || out.Type != in.Type || out.TargetID != in.TargetID || out.Enabled != in.Enabled {
		t.Errorf("scalar fields differ: got %+v want %+v", out, in)
	}
	if !reflect.DeepEqual(out.Config, in.Config) {
		t.Errorf("config differs: got %#v want %#v", out.Config, in.Config)
	}
	if out.LastRun == nil || !out.LastRun.Equal(*in.LastRun) || out.LastStatus != in.LastStatus {
		t.Errorf("last run fields differ: %+v", out)
	}
}

func testScheduleUpsertAndList(t *testing.T, s task.Store) {
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := s.SaveSchedule(ctx, SampleSchedule(id)); err != nil {
			t.Fatalf("SaveSchedule %s: %v", id, err)
		}
	}
	upd := SampleSchedule("a")
	upd.Enabled = false
	upd.Name = "renamed"
	if err := s.SaveSchedule(ctx, upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 schedules, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("list[%d] = %s, want %s (sorted by id)", i, list[i].ID, want)
		}
	}
	if list[0].Name != "renamed" || list[0].Enabled {
		t.Errorf("upsert not applied: %+v", list[0])
	}
	if err := s.DeleteSchedule(ctx, "b"); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	list, _ = s.ListSchedules(ctx)
	if len(list) != 2 {
		t.Errorf("expected 2 after delete, got %d", len(list))
	}
}

func testScheduleNotFound(t *testing.T, s task.Store) {
	ctx := context.Background()
	if _, err := s.GetSchedule(ctx, "ghost"); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("GetSchedule: expected NOT_FOUND, got %v", err)
	}
	if err := s.DeleteSchedule(ctx, "ghost"); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("DeleteSchedule: expected NOT_FOUND, got %v", err)
	}
	if _, err := s.GetLog(ctx, 999); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("GetLog: expected NOT_FOUND, got %v", err)
	}
	if err := s.UpdateLog(ctx, &task.TaskLog{ID: 999}); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("UpdateLog: expected NOT_FOUND, got %v", err)
	}
}

func testLogLifecycle(t *testing.T, s task.Store) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l := &task.TaskLog{TaskID: "t1", TaskName: "one", StartTime: start, Status: task.LogRunning}
	if err := s.InsertLog(ctx, l); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}
	if l.ID == 0 {
		t.Fatal("expected assigned id")
	}
	end := start.Add(90 * time.Second)
	l.EndTime = &end
	l.DurationMs = 90000
	l.Status = task.LogSuccess
	l.Progress = 100
	l.Message = "processed 3 items"
	l.ResultCount = 3
	if err := s.UpdateLog(ctx, l); err != nil {
		t.Fatalf("UpdateLog: %v", err)
	}
	got, err := s.GetLog(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if got.Status != task.LogSuccess || got.Progress != 100 || got.ResultCount != 3 || got.DurationMs != 90000 {
		t.Errorf("log not updated: %+v", got)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) || !got.StartTime.Equal(start) {
		t.Errorf("times differ: %+v", got)
	}
	if got.TaskName != "one" || got.Message != "processed 3 items" {
		t.Errorf("text fields differ: %+v", got)
	}
}

func testLogPaging(t *testing.T, s task.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 7; i++ {
		taskID := "a"
		if i%2 == 1 {
			taskID = "b"
		}
		l := &task.TaskLog{TaskID: taskID, TaskName: taskID, StartTime: base.Add(time.Duration(i) * time.Minute), Status: task.LogSuccess}
		if i == 6 {
			l.Status = task.LogRunning
		}
		if err := s.InsertLog(ctx, l); err != nil {
			t.Fatalf("InsertLog: %v", err)
		}
		ids = append(ids, l.ID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}

	page, total, err := s.ListLogs(ctx, task.LogFilter{Limit: 3})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if total != 7 || len(page) != 3 {
		t.Fatalf("expected 3 of 7, got %d of %d", len(page), total)
	}
	if page[0].ID != ids[6] || page[2].ID != ids[4] {
		t.Errorf("expected newest first, got %d..%d", page[0].ID, page[2].ID)
	}

	page, total, _ = s.ListLogs(ctx, task.LogFilter{TaskID: "a", Limit: 2, Offset: 1})
	if total != 4 || len(page) != 2 {
		t.Fatalf("task filter: expected 2 of 4, got %d of %d", len(page), total)
	}
	if page[0].ID != ids[4] || page[1].ID != ids[2] {
		t.Errorf("task filter page = %d,%d", page[0].ID, page[1].ID)
	}

	page, total, _ = s.ListLogs(ctx, task.LogFilter{Status: task.LogRunning})
	if total != 1 || len(page) != 1 || page[0].ID != ids[6] {
		t.Errorf("status filter: got %d of %d", len(page), total)
	}

	page, total, _ = s.ListLogs(ctx, task.LogFilter{Offset: 100})
	if total != 7 || len(page) != 0 {
		t.Errorf("offset past end: got %d of %d", len(page), total)
	}
}
