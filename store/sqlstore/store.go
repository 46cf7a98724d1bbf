package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/autoflow/component"
	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/task"
)

// Store implements task.Store on gorm. It is also the lifecycle component
// owning the connection pool.
type Store struct {
	db  *gorm.DB
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	closed bool
}

var (
	_ task.Store          = (*Store)(nil)
	_ component.Component = (*Store)(nil)
)

// Open opens the SQLite database at cfg.Path and migrates its tables.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sqlite config: %w", err)
	}
	log = logger.OrNop(log)
	slow, _ := time.ParseDuration(cfg.SlowQueryThreshold)

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: newGormLogger(log, slow, parseLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.inMemory() {
		// Closing the last connection drops an in-memory database.
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetMaxIdleConns(1)
	}

	s, err := NewWithDB(db, log)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

// NewWithDB wraps an open gorm handle and migrates the tables.
func NewWithDB(db *gorm.DB, log *logger.Logger) (*Store, error) {
	if err := db.AutoMigrate(&scheduleRow{}, &logRow{}); err != nil {
		return nil, fmt.Errorf("sqlite auto-migrate: %w", err)
	}
	return &Store{db: db, log: logger.OrNop(log).WithComponent("sql-store")}, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]task.ScheduleTask, error) {
	var rows []scheduleRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, afErrors.StoreError("list schedules", err)
	}
	out := make([]task.ScheduleTask, len(rows))
	for i, r := range rows {
		out[i] = r.toTask()
	}
	return out, nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*task.ScheduleTask, error) {
	var row scheduleRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, afErrors.NotFound("schedule", id)
	}
	if err != nil {
		return nil, afErrors.StoreError("get schedule", err)
	}
	t := row.toTask()
	return &t, nil
}

// SaveSchedule inserts t or replaces every column of the existing row.
func (s *Store) SaveSchedule(ctx context.Context, t *task.ScheduleTask) error {
	if t.ID == "" {
		return afErrors.MissingField("id")
	}
	row := scheduleFromTask(t)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return afErrors.StoreError("save schedule", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&scheduleRow{})
	if res.Error != nil {
		return afErrors.StoreError("delete schedule", res.Error)
	}
	if res.RowsAffected == 0 {
		return afErrors.NotFound("schedule", id)
	}
	return nil
}

func (s *Store) InsertLog(ctx context.Context, l *task.TaskLog) error {
	row := logFromTask(l)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return afErrors.StoreError("insert log", err)
	}
	l.ID = row.ID
	return nil
}

func (s *Store) UpdateLog(ctx context.Context, l *task.TaskLog) error {
	row := logFromTask(l)
	res := s.db.WithContext(ctx).Model(&logRow{}).Where("id = ?", l.ID).
		Select("*").Omit("id").Updates(&row)
	if res.Error != nil {
		return afErrors.StoreError("update log", res.Error)
	}
	if res.RowsAffected == 0 {
		return afErrors.NotFound("task log", strconv.FormatInt(l.ID, 10))
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id int64) (*task.TaskLog, error) {
	var row logRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, afErrors.NotFound("task log", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, afErrors.StoreError("get log", err)
	}
	l := row.toTask()
	return &l, nil
}

func (s *Store) ListLogs(ctx context.Context, f task.LogFilter) ([]task.TaskLog, int, error) {
	f = f.Normalize()
	q := s.db.WithContext(ctx).Model(&logRow{})
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, afErrors.StoreError("count logs", err)
	}
	var rows []logRow
	if err := q.Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, afErrors.StoreError("list logs", err)
	}
	out := make([]task.TaskLog, len(rows))
	for i, r := range rows {
		out[i] = r.toTask()
	}
	return out, int(total), nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the pool. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Name implements component.Component.
func (s *Store) Name() string { return "sql-store" }

// Start verifies connectivity. Tables are migrated when the store opens.
func (s *Store) Start(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite start: %w", err)
	}
	s.log.Info("sql store started", logger.Fields("path", s.cfg.Path))
	return nil
}

// Stop closes the pool.
func (s *Store) Stop(_ context.Context) error {
	return s.Close()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) component.Health {
	if err := s.Ping(ctx); err != nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (s *Store) Describe() component.Description {
	return component.Description{Name: "SQLite", Type: "sqlite", Details: s.cfg.Path}
}
