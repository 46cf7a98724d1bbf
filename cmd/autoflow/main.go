// Command autoflow runs the automation orchestration core: the cron
// manager, the run dispatcher and the scheduling HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kbukum/autoflow/api"
	"github.com/kbukum/autoflow/bootstrap"
	"github.com/kbukum/autoflow/component"
	"github.com/kbukum/autoflow/config"
	"github.com/kbukum/autoflow/content"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/observability"
	"github.com/kbukum/autoflow/runlog"
	"github.com/kbukum/autoflow/scheduler"
	"github.com/kbukum/autoflow/server"
	"github.com/kbukum/autoflow/store/memory"
	"github.com/kbukum/autoflow/store/redis"
	"github.com/kbukum/autoflow/store/sqlstore"
	"github.com/kbukum/autoflow/task"
	"github.com/kbukum/autoflow/version"
	"github.com/kbukum/autoflow/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &AppConfig{}
	if err := config.LoadConfig("autoflow", cfg); err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().String()
	}
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	log := app.Logger

	store, storeComp, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	if storeComp != nil {
		if err := app.RegisterComponent(storeComp); err != nil {
			return err
		}
	}

	metrics, err := setupMetrics(app, cfg.Metrics)
	if err != nil {
		return err
	}

	defs, err := loadWorkflows(cfg.Workflows.File)
	if err != nil {
		return err
	}

	recorder := runlog.NewRecorder(store, log)
	engine := &workflow.Engine{
		Workflows: defs,
		MaxDepth:  cfg.Scheduler.MaxWorkflowDepth,
		Log:       log,
		Metrics:   metrics,
	}
	// Ingestion and agent execution are provided by the embedding product;
	// left unset, runs that need them fail with UNAVAILABLE.
	runner := &scheduler.Runner{
		Engine:    engine,
		Items:     content.NewMemoryStore(),
		Schedules: store,
		Recorder:  recorder,
		Config:    cfg.Scheduler,
		Log:       log,
		Metrics:   metrics,
	}
	manager := scheduler.NewManager(store, runner, recorder, cfg.Scheduler, log)
	if err := app.RegisterComponent(manager); err != nil {
		return err
	}

	srv := server.New(cfg.HTTP, log)
	api.New(manager, app.Name, app.Components.HealthAll).Register(srv.Engine())
	if err := app.RegisterComponent(srv); err != nil {
		return err
	}

	return app.Run(context.Background())
}

func openStore(cfg StoreConfig, log *logger.Logger) (task.Store, component.Component, error) {
	switch cfg.Driver {
	case DriverRedis:
		s, err := redis.New(cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case DriverSQLite:
		s, err := sqlstore.Open(cfg.SQLite, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return memory.New(), nil, nil
	}
}

func setupMetrics(app *bootstrap.App[*AppConfig], cfg observability.MeterConfig) (*observability.Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	mp, err := observability.InitMeter(context.Background(), cfg, app.Logger)
	if err != nil {
		return nil, err
	}
	app.OnStop(func(ctx context.Context) error { return mp.Shutdown(ctx) })
	return observability.NewMetrics(observability.Meter("autoflow"))
}

func loadWorkflows(path string) (workflow.Definitions, error) {
	defs := workflow.Definitions{}
	if path == "" {
		return defs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows %s: %w", path, err)
	}
	var list []*workflow.Definition
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse workflows %s: %w", path, err)
	}
	for _, d := range list {
		if d == nil || d.ID == "" {
			return nil, fmt.Errorf("parse workflows %s: definition without id", path)
		}
		if _, dup := defs[d.ID]; dup {
			return nil, fmt.Errorf("parse workflows %s: duplicate workflow %s", path, d.ID)
		}
		if err := workflow.BuildGraph(d).Validate(); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", d.ID, err)
		}
		defs[d.ID] = d
	}
	return defs, nil
}
