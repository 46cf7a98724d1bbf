package main

import (
	"fmt"
	"time"

	"github.com/kbukum/autoflow/config"
	"github.com/kbukum/autoflow/observability"
	"github.com/kbukum/autoflow/scheduler"
	"github.com/kbukum/autoflow/server"
	"github.com/kbukum/autoflow/store/redis"
	"github.com/kbukum/autoflow/store/sqlstore"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// AppConfig is the full autoflow process configuration.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	HTTP      server.Config             `yaml:"http" mapstructure:"http"`
	Store     StoreConfig               `yaml:"store" mapstructure:"store"`
	Scheduler scheduler.Config          `yaml:"scheduler" mapstructure:"scheduler"`
	Metrics   observability.MeterConfig `yaml:"metrics" mapstructure:"metrics"`
	Workflows WorkflowsConfig           `yaml:"workflows" mapstructure:"workflows"`
}

// StoreConfig selects and configures the schedule and run log store.
type StoreConfig struct {
	Driver string          `yaml:"driver" mapstructure:"driver"`
	Redis  redis.Config    `yaml:"redis" mapstructure:"redis"`
	SQLite sqlstore.Config `yaml:"sqlite" mapstructure:"sqlite"`
}

// WorkflowsConfig points at a JSON file holding an array of workflow
// definitions. An empty file means no workflows are available.
type WorkflowsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ApplyDefaults fills every section.
func (c *AppConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.HTTP.ApplyDefaults()
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	c.Store.Redis.ApplyDefaults()
	c.Store.SQLite.ApplyDefaults()
	c.Scheduler.ApplyDefaults()
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = c.Name
	}
	if c.Metrics.ServiceVersion == "" {
		c.Metrics.ServiceVersion = c.Version
	}
	if c.Metrics.Environment == "" {
		c.Metrics.Environment = c.Environment
	}
	c.Metrics.ApplyDefaults()
}

// Validate checks the sections that are in use.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if err := c.Store.Redis.Validate(); err != nil {
			return fmt.Errorf("store.redis: %w", err)
		}
	case DriverSQLite:
		if err := c.Store.SQLite.Validate(); err != nil {
			return fmt.Errorf("store.sqlite: %w", err)
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, redis, sqlite (got %q)", c.Store.Driver)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}
