package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/autoflow/content"
	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/runlog"
	"github.com/kbukum/autoflow/store/memory"
	"github.com/kbukum/autoflow/task"
	"github.com/kbukum/autoflow/workflow"
)

var testNow = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

type fakeIngestor struct {
	mu      sync.Mutex
	adapter []string
	all     int
	n       int
	err     error
	panic   bool
	hook    func()
}

func (f *fakeIngestor) IngestAdapter(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	f.adapter = append(f.adapter, id)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
	}
	if f.panic {
		panic("adapter exploded")
	}
	return f.n, f.err
}

func (f *fakeIngestor) IngestAll(context.Context) (int, error) {
	f.mu.Lock()
	f.all++
	f.mu.Unlock()
	return f.n, f.err
}

type fixture struct {
	store  *memory.Store
	items  *content.MemoryStore
	ingest *fakeIngestor
	runner *Runner
}

func newFixture(t *testing.T, agents workflow.AgentRunner, defs workflow.Definitions) *fixture {
	t.Helper()
	st := memory.New()
	items := content.NewMemoryStore()
	ing := &fakeIngestor{}
	rec := runlog.NewRecorder(st, nil)
	rec.Now = func() time.Time { return testNow }
	r := &Runner{
		Ingest:    ing,
		Agents:    agents,
		Engine:    &workflow.Engine{Agents: agents, Workflows: defs},
		Items:     items,
		Schedules: st,
		Recorder:  rec,
		Config:    Config{Stagger: time.Millisecond},
		Now:       func() time.Time { return testNow },
	}
	return &fixture{store: st, items: items, ingest: ing, runner: r}
}

func (f *fixture) save(t *testing.T, s *task.ScheduleTask) *task.ScheduleTask {
	t.Helper()
	if err := f.store.SaveSchedule(context.Background(), s); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
	return s
}

func (f *fixture) onlyLog(t *testing.T) task.TaskLog {
	t.Helper()
	logs, total, err := f.store.ListLogs(context.Background(), task.LogFilter{})
	if err != nil || total != 1 {
		t.Fatalf("ListLogs = %d logs, %v", total, err)
	}
	return logs[0]
}

func zero() *int { v := 0; return &v }

// summarizer replies with a JSON summary of the prompt's title line.
func summarizer(calls *[]string, mu *sync.Mutex) workflow.AgentFunc {
	return func(_ context.Context, agentID, input string, opts workflow.RunOptions) (workflow.AgentResult, error) {
		mu.Lock()
		*calls = append(*calls, agentID+"@"+opts.Date)
		mu.Unlock()
		title := strings.TrimPrefix(strings.SplitN(input, "\n", 2)[0], "Title: ")
		return workflow.AgentResult{Content: "Sure:\n```json\n{\"summary\": \"about " + title + "\"}\n```"}, nil
	}
}

func TestExecuteAgentItems(t *testing.T) {
	ctx := context.Background()
	var calls []string
	var mu sync.Mutex
	f := newFixture(t, summarizer(&calls, &mu), nil)
	today := testNow.Format(content.DateLayout)
	_ = f.items.SaveGroup(ctx, today, "news", []content.Item{
		{ID: "1", Title: "one"},
		{ID: "2", Title: "two", Metadata: map[string]any{"summary": "done"}},
		{ID: "3", Title: "three"},
	})

	s := f.save(t, &task.ScheduleTask{
		ID: "s1", Name: "summaries", Type: task.TypeAgentItems, TargetID: "writer",
		CronExpression: "@hourly", Config: task.Config{DelayMs: zero()},
	})
	if err := f.runner.Execute(ctx, s); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("agent calls = %v, want 2", calls)
	}
	for _, c := range calls {
		if c != "writer@"+today {
			t.Errorf("call %q", c)
		}
	}
	groups, _ := f.items.Groups(ctx, today)
	for _, it := range groups["news"] {
		if it.ID == "1" && it.Metadata["summary"] != "about one" {
			t.Errorf("item 1 metadata = %v", it.Metadata)
		}
		if it.ID == "2" && it.Metadata["summary"] != "done" {
			t.Errorf("item 2 was reprocessed: %v", it.Metadata)
		}
	}

	l := f.onlyLog(t)
	if l.Status != task.LogSuccess || l.Progress != 100 || l.ResultCount != 2 {
		t.Errorf("log = %+v", l)
	}
	stored, _ := f.store.GetSchedule(ctx, "s1")
	if stored.LastStatus != task.StatusSuccess || stored.LastRun == nil || !stored.LastRun.Equal(testNow) {
		t.Errorf("schedule = %+v", stored)
	}
}

func TestExecuteWorkflowItems(t *testing.T) {
	ctx := context.Background()
	var calls []string
	var mu sync.Mutex
	defs := workflow.Definitions{
		"wf": {ID: "wf", Steps: []workflow.Step{
			{ID: "summarize", Executor: workflow.Agent("writer")},
		}},
	}
	f := newFixture(t, summarizer(&calls, &mu), defs)
	yesterday := testNow.AddDate(0, 0, -1).Format(content.DateLayout)
	_ = f.items.SaveGroup(ctx, yesterday, "blog", []content.Item{{ID: "a", Title: "alpha"}})

	s := f.save(t, &task.ScheduleTask{
		ID: "s2", Name: "wf items", Type: task.TypeWorkflowItems, TargetID: "wf",
		CronExpression: "@hourly", Config: task.Config{DelayMs: zero(), TargetFields: []string{"summary"}},
	})
	if err := f.runner.Execute(ctx, s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	groups, _ := f.items.Groups(ctx, yesterday)
	if got := groups["blog"][0].Metadata["summary"]; got != "about alpha" {
		t.Errorf("summary = %v", got)
	}
	if len(calls) != 1 || calls[0] != "writer@"+yesterday {
		t.Errorf("calls = %v", calls)
	}
	if l := f.onlyLog(t); l.ResultCount != 1 || l.Status != task.LogSuccess {
		t.Errorf("log = %+v", l)
	}
}

func TestExecuteWorkflow(t *testing.T) {
	ctx := context.Background()
	var seen string
	agents := workflow.AgentFunc(func(_ context.Context, _ string, input string, opts workflow.RunOptions) (workflow.AgentResult, error) {
		seen = input + "@" + opts.Date
		return workflow.AgentResult{Content: "ok"}, nil
	})
	defs := workflow.Definitions{"daily": {ID: "daily", Steps: []workflow.Step{{ID: "digest", Executor: workflow.Agent("a")}}}}
	f := newFixture(t, agents, defs)

	s := f.save(t, &task.ScheduleTask{
		ID: "s3", Name: "digest", Type: task.TypeWorkflow, TargetID: "daily",
		CronExpression: "@daily", Config: task.Config{Input: "go"},
	})
	if err := f.runner.Execute(ctx, s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := "go@2024-05-02"; seen != want {
		t.Errorf("agent saw %q, want %q", seen, want)
	}
	if l := f.onlyLog(t); l.Status != task.LogSuccess || l.ResultCount != 1 {
		t.Errorf("log = %+v", l)
	}
}

func TestExecuteIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.ingest.n = 12

	a := f.save(t, &task.ScheduleTask{ID: "i1", Name: "feeds", Type: task.TypeIngestAdapter, TargetID: "rss", CronExpression: "@hourly"})
	if err := f.runner.Execute(ctx, a); err != nil {
		t.Fatalf("Execute adapter: %v", err)
	}
	b := f.save(t, &task.ScheduleTask{ID: "i2", Name: "all", Type: task.TypeIngestAll, CronExpression: "@hourly"})
	if err := f.runner.Execute(ctx, b); err != nil {
		t.Fatalf("Execute all: %v", err)
	}
	if len(f.ingest.adapter) != 1 || f.ingest.adapter[0] != "rss" || f.ingest.all != 1 {
		t.Errorf("ingestor calls adapter=%v all=%d", f.ingest.adapter, f.ingest.all)
	}
	logs, _, _ := f.store.ListLogs(ctx, task.LogFilter{})
	for _, l := range logs {
		if l.ResultCount != 12 || l.Status != task.LogSuccess {
			t.Errorf("log = %+v", l)
		}
	}
}

func TestExecuteFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.ingest.err = errors.New("feed offline")

	s := f.save(t, &task.ScheduleTask{ID: "f1", Name: "feeds", Type: task.TypeIngestAdapter, TargetID: "rss", CronExpression: "@hourly"})
	err := f.runner.Execute(ctx, s)
	if err == nil {
		t.Fatal("expected error")
	}
	l := f.onlyLog(t)
	if l.Status != task.LogError || l.Message != "feed offline" || l.EndTime == nil {
		t.Errorf("log = %+v", l)
	}
	stored, _ := f.store.GetSchedule(ctx, "f1")
	if stored.LastStatus != task.StatusError || stored.LastError != "feed offline" {
		t.Errorf("schedule = %+v", stored)
	}
}

func TestExecutePanicIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.ingest.panic = true

	s := f.save(t, &task.ScheduleTask{ID: "p1", Name: "feeds", Type: task.TypeIngestAdapter, TargetID: "rss", CronExpression: "@hourly"})
	err := f.runner.Execute(ctx, s)
	if !afErrors.IsCode(err, afErrors.ErrCodeInternal) {
		t.Fatalf("err = %v, want INTERNAL_ERROR", err)
	}
	l := f.onlyLog(t)
	if l.Status != task.LogError || !strings.Contains(l.Message, "adapter exploded") {
		t.Errorf("log = %+v", l)
	}
	stored, _ := f.store.GetSchedule(ctx, "p1")
	if !strings.Contains(stored.LastError, "adapter exploded") {
		t.Errorf("last error = %q", stored.LastError)
	}
}

func TestExecuteMissingCapability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.runner.Ingest = nil

	s := f.save(t, &task.ScheduleTask{ID: "m1", Name: "all", Type: task.TypeIngestAll, CronExpression: "@hourly"})
	if err := f.runner.Execute(ctx, s); !afErrors.IsCode(err, afErrors.ErrCodeUnavailable) {
		t.Fatalf("err = %v, want UNAVAILABLE", err)
	}
	if l := f.onlyLog(t); l.Status != task.LogError {
		t.Errorf("log = %+v", l)
	}
}

func TestExecuteKeepsConcurrentEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	s := f.save(t, &task.ScheduleTask{ID: "e1", Name: "before", Type: task.TypeIngestAdapter, TargetID: "rss", CronExpression: "@hourly"})
	f.ingest.hook = func() {
		edited := *s
		edited.Name = "after"
		edited.CronExpression = "@daily"
		_ = f.store.SaveSchedule(ctx, &edited)
	}
	if err := f.runner.Execute(ctx, s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	stored, _ := f.store.GetSchedule(ctx, "e1")
	if stored.Name != "after" || stored.CronExpression != "@daily" || stored.LastStatus != task.StatusSuccess {
		t.Errorf("schedule = %+v", stored)
	}
}

func TestExecuteDeletedDuringRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	s := f.save(t, &task.ScheduleTask{ID: "d1", Name: "x", Type: task.TypeIngestAdapter, TargetID: "rss", CronExpression: "@hourly"})
	f.ingest.hook = func() { _ = f.store.DeleteSchedule(ctx, "d1") }
	if err := f.runner.Execute(ctx, s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := f.store.GetSchedule(ctx, "d1"); !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
		t.Errorf("deleted schedule was recreated: %v", err)
	}
}

func TestReplyText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{map[string]any{"summary": "s"}, `{"summary":"s"}`},
	}
	for _, tt := range tests {
		got, err := replyText(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("replyText(%v) = %q, %v", tt.in, got, err)
		}
	}
}
