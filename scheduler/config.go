package scheduler

import (
	"time"

	"github.com/kbukum/autoflow/processor"
	"github.com/kbukum/autoflow/workflow"
)

// Config holds the run defaults applied when a task leaves them unset.
type Config struct {
	Stagger            time.Duration `yaml:"stagger" mapstructure:"stagger"`
	DefaultConcurrency int           `yaml:"default_concurrency" mapstructure:"default_concurrency"`
	DefaultDelay       time.Duration `yaml:"default_delay" mapstructure:"default_delay"`
	WindowDays         int           `yaml:"window_days" mapstructure:"window_days"`
	MaxWorkflowDepth   int           `yaml:"max_workflow_depth" mapstructure:"max_workflow_depth"`
	// TargetFields is used by iterative tasks that configure none.
	TargetFields []string `yaml:"target_fields" mapstructure:"target_fields"`
	// Timezone is the location cron expressions are evaluated in.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Stagger <= 0 {
		c.Stagger = processor.DefaultStagger
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = processor.DefaultConcurrency
	}
	if c.DefaultDelay < 0 {
		c.DefaultDelay = 0
	} else if c.DefaultDelay == 0 {
		c.DefaultDelay = processor.DefaultDelay
	}
	if c.WindowDays <= 0 {
		c.WindowDays = processor.DefaultWindowDays
	}
	if c.MaxWorkflowDepth <= 0 {
		c.MaxWorkflowDepth = workflow.DefaultMaxDepth
	}
	if len(c.TargetFields) == 0 {
		c.TargetFields = []string{"summary"}
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
