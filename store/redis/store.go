package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/autoflow/component"
	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/resilience"
	"github.com/kbukum/autoflow/task"
)

// Store implements task.Store on Redis. It is also the lifecycle component
// owning the connection pool.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	cfg    Config
	log    *logger.Logger

	mu     sync.Mutex
	closed bool
}

var (
	_ task.Store          = (*Store)(nil)
	_ component.Component = (*Store)(nil)
)

// New creates a Store with its own client. No connection is made until the
// first command or Start.
func New(cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})
	s := NewWithClient(rdb, cfg.KeyPrefix, log)
	s.cfg = cfg
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb goredis.UniversalClient, keyPrefix string, log *logger.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = "autoflow"
	}
	return &Store{
		rdb:    rdb,
		prefix: keyPrefix,
		log:    logger.OrNop(log).WithComponent("redis-store"),
	}
}

func (s *Store) scheduleKey(id string) string      { return s.prefix + ":schedule:" + id }
func (s *Store) scheduleIndex() string             { return s.prefix + ":schedules" }
func (s *Store) logSeq() string                    { return s.prefix + ":log:seq" }
func (s *Store) logKey(id int64) string            { return s.prefix + ":log:" + strconv.FormatInt(id, 10) }
func (s *Store) logIndex() string                  { return s.prefix + ":logs" }
func (s *Store) taskLogIndex(taskID string) string { return s.prefix + ":logs:task:" + taskID }

func (s *Store) ListSchedules(ctx context.Context) ([]task.ScheduleTask, error) {
	ids, err := s.rdb.SMembers(ctx, s.scheduleIndex()).Result()
	if err != nil {
		return nil, afErrors.StoreError("list schedules", err)
	}
	if len(ids) == 0 {
		return []task.ScheduleTask{}, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.scheduleKey(id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, afErrors.StoreError("list schedules", err)
	}
	out := make([]task.ScheduleTask, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// index entry without a document
			continue
		}
		var t task.ScheduleTask
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			s.log.Warn("skipping undecodable schedule", logger.Fields(logger.FieldTaskID, ids[i], logger.FieldError, err.Error()))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*task.ScheduleTask, error) {
	raw, err := s.rdb.Get(ctx, s.scheduleKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, afErrors.NotFound("schedule", id)
	}
	if err != nil {
		return nil, afErrors.StoreError("get schedule", err)
	}
	var t task.ScheduleTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, afErrors.StoreError("decode schedule", err)
	}
	return &t, nil
}

func (s *Store) SaveSchedule(ctx context.Context, t *task.ScheduleTask) error {
	if t.ID == "" {
		return afErrors.MissingField("id")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return afErrors.StoreError("encode schedule", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.scheduleKey(t.ID), data, 0)
		pipe.SAdd(ctx, s.scheduleIndex(), t.ID)
		return nil
	})
	if err != nil {
		return afErrors.StoreError("save schedule", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	var del *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.scheduleKey(id))
		pipe.SRem(ctx, s.scheduleIndex(), id)
		return nil
	})
	if err != nil {
		return afErrors.StoreError("delete schedule", err)
	}
	if del.Val() == 0 {
		return afErrors.NotFound("schedule", id)
	}
	return nil
}

func (s *Store) InsertLog(ctx context.Context, l *task.TaskLog) error {
	id, err := s.rdb.Incr(ctx, s.logSeq()).Result()
	if err != nil {
		return afErrors.StoreError("insert log", err)
	}
	l.ID = id
	data, err := json.Marshal(l)
	if err != nil {
		return afErrors.StoreError("encode log", err)
	}
	member := goredis.Z{Score: float64(id), Member: id}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.logKey(id), data, 0)
		pipe.ZAdd(ctx, s.logIndex(), member)
		pipe.ZAdd(ctx, s.taskLogIndex(l.TaskID), member)
		return nil
	})
	if err != nil {
		return afErrors.StoreError("insert log", err)
	}
	return nil
}

func (s *Store) UpdateLog(ctx context.Context, l *task.TaskLog) error {
	data, err := json.Marshal(l)
	if err != nil {
		return afErrors.StoreError("encode log", err)
	}
	ok, err := s.rdb.SetXX(ctx, s.logKey(l.ID), data, 0).Result()
	if err != nil {
		return afErrors.StoreError("update log", err)
	}
	if !ok {
		return afErrors.NotFound("task log", strconv.FormatInt(l.ID, 10))
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id int64) (*task.TaskLog, error) {
	raw, err := s.rdb.Get(ctx, s.logKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, afErrors.NotFound("task log", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, afErrors.StoreError("get log", err)
	}
	var l task.TaskLog
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, afErrors.StoreError("decode log", err)
	}
	return &l, nil
}

// ListLogs pages the id index newest first. Without a status filter the
// page is read straight from the ZSET; with one, the index is scanned and
// filtered because status changes over a log's life.
func (s *Store) ListLogs(ctx context.Context, f task.LogFilter) ([]task.TaskLog, int, error) {
	f = f.Normalize()
	index := s.logIndex()
	if f.TaskID != "" {
		index = s.taskLogIndex(f.TaskID)
	}

	if f.Status == "" {
		total, err := s.rdb.ZCard(ctx, index).Result()
		if err != nil {
			return nil, 0, afErrors.StoreError("list logs", err)
		}
		if int64(f.Offset) >= total {
			return []task.TaskLog{}, int(total), nil
		}
		ids, err := s.rdb.ZRevRange(ctx, index, int64(f.Offset), int64(f.Offset+f.Limit-1)).Result()
		if err != nil {
			return nil, 0, afErrors.StoreError("list logs", err)
		}
		logs, err := s.loadLogs(ctx, ids)
		return logs, int(total), err
	}

	ids, err := s.rdb.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, 0, afErrors.StoreError("list logs", err)
	}
	all, err := s.loadLogs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	matched := make([]task.TaskLog, 0, len(all))
	for i := range all {
		if f.Matches(&all[i]) {
			matched = append(matched, all[i])
		}
	}
	total := len(matched)
	if f.Offset >= total {
		return []task.TaskLog{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) loadLogs(ctx context.Context, ids []string) ([]task.TaskLog, error) {
	if len(ids) == 0 {
		return []task.TaskLog{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + ":log:" + id
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, afErrors.StoreError("load logs", err)
	}
	out := make([]task.TaskLog, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var l task.TaskLog
		if err := json.Unmarshal([]byte(str), &l); err != nil {
			s.log.Warn("skipping undecodable log", logger.Fields(logger.FieldLogID, ids[i], logger.FieldError, err.Error()))
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	pong, err := s.rdb.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("unexpected redis ping response: %s", pong)
	}
	return nil
}

// Close closes the client. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rdb.Close()
}

// Name implements component.Component.
func (s *Store) Name() string { return "redis-store" }

// Start waits for the server to answer a ping, backing off between
// attempts.
func (s *Store) Start(ctx context.Context) error {
	backoff, _ := time.ParseDuration(s.cfg.ConnectBackoff)
	policy := resilience.Policy{
		Attempts: s.cfg.ConnectAttempts,
		Initial:  backoff,
		Jitter:   0.1,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			s.log.Warn("redis not reachable, retrying", logger.Fields(
				"attempt", attempt, "wait", wait.String(), logger.FieldError, err.Error()))
		},
	}
	if err := resilience.Do(ctx, policy, s.Ping); err != nil {
		return fmt.Errorf("redis start: %w", err)
	}
	s.log.Info("redis store started", logger.Fields("addr", s.cfg.Addr, "prefix", s.prefix))
	return nil
}

// Stop closes the connection pool.
func (s *Store) Stop(_ context.Context) error {
	s.log.Info("redis store stopping")
	return s.Close()
}

// Health pings the server.
func (s *Store) Health(ctx context.Context) component.Health {
	if err := s.Ping(ctx); err != nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (s *Store) Describe() component.Description {
	return component.Description{
		Name:    "Redis",
		Type:    "redis",
		Details: fmt.Sprintf("%s db=%d prefix=%s", s.cfg.Addr, s.cfg.DB, s.prefix),
	}
}
