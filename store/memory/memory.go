// Package memory is an in-process task.Store for tests and single-node
// deployments that do not need persistence across restarts.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/task"
)

// Store keeps schedules and logs in maps guarded by one mutex.
type Store struct {
	mu        sync.RWMutex
	schedules map[string]task.ScheduleTask
	logs      map[int64]task.TaskLog
	nextLogID int64
}

var _ task.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		schedules: make(map[string]task.ScheduleTask),
		logs:      make(map[int64]task.TaskLog),
	}
}

func (s *Store) ListSchedules(_ context.Context) ([]task.ScheduleTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.ScheduleTask, 0, len(s.schedules))
	for _, t := range s.schedules {
		out = append(out, copySchedule(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetSchedule(_ context.Context, id string) (*task.ScheduleTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.schedules[id]
	if !ok {
		return nil, afErrors.NotFound("schedule", id)
	}
	c := copySchedule(t)
	return &c, nil
}

func (s *Store) SaveSchedule(_ context.Context, t *task.ScheduleTask) error {
	if t.ID == "" {
		return afErrors.MissingField("id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[t.ID] = copySchedule(*t)
	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return afErrors.NotFound("schedule", id)
	}
	delete(s.schedules, id)
	return nil
}

func (s *Store) InsertLog(_ context.Context, l *task.TaskLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	l.ID = s.nextLogID
	s.logs[l.ID] = copyLog(*l)
	return nil
}

func (s *Store) UpdateLog(_ context.Context, l *task.TaskLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[l.ID]; !ok {
		return afErrors.NotFound("task log", "")
	}
	s.logs[l.ID] = copyLog(*l)
	return nil
}

func (s *Store) GetLog(_ context.Context, id int64) (*task.TaskLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, afErrors.NotFound("task log", "")
	}
	c := copyLog(l)
	return &c, nil
}

func (s *Store) ListLogs(_ context.Context, f task.LogFilter) ([]task.TaskLog, int, error) {
	f = f.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.logs))
	for id, l := range s.logs {
		if f.Matches(&l) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	total := len(ids)
	if f.Offset >= total {
		return []task.TaskLog{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	out := make([]task.TaskLog, 0, end-f.Offset)
	for _, id := range ids[f.Offset:end] {
		out = append(out, copyLog(s.logs[id]))
	}
	return out, total, nil
}

// copySchedule deep-copies a schedule so callers never share slices, maps
// or pointers with the store. Config.Input is free-form, so it goes through
// a JSON round trip like the persistent stores.
func copySchedule(t task.ScheduleTask) task.ScheduleTask {
	if t.LastRun != nil {
		lr := *t.LastRun
		t.LastRun = &lr
	}
	if t.Config.DelayMs != nil {
		d := *t.Config.DelayMs
		t.Config.DelayMs = &d
	}
	t.Config.TargetFields = append([]string(nil), t.Config.TargetFields...)
	if t.Config.Input != nil {
		if b, err := json.Marshal(t.Config.Input); err == nil {
			var in any
			if json.Unmarshal(b, &in) == nil {
				t.Config.Input = in
			}
		}
	}
	return t
}

func copyLog(l task.TaskLog) task.TaskLog {
	if l.EndTime != nil {
		e := *l.EndTime
		l.EndTime = &e
	}
	return l
}
