package workflow

import "context"

// RunOptions carries the optional context passed to every executor.
type RunOptions struct {
	// Date scopes the run to a content date (YYYY-MM-DD).
	Date  string
	Extra map[string]any
}

// Option configures RunOptions.
type Option func(*RunOptions)

// WithDate sets the date context.
func WithDate(date string) Option {
	return func(o *RunOptions) { o.Date = date }
}

// WithExtra adds a free-form option for executors.
func WithExtra(key string, value any) Option {
	return func(o *RunOptions) {
		if o.Extra == nil {
			o.Extra = make(map[string]any)
		}
		o.Extra[key] = value
	}
}

func buildOptions(opts []Option) RunOptions {
	var ro RunOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// AgentResult is what an agent run produces.
type AgentResult struct {
	Content string `json:"content"`
}

// AgentRunner runs a single AI agent over text input.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentID, input string, opts RunOptions) (AgentResult, error)
}

// SkillRunner invokes a skill (tool) with structured input.
type SkillRunner interface {
	InvokeSkill(ctx context.Context, skillID string, input any, opts RunOptions) (any, error)
}

// DefinitionSource loads stored workflow definitions.
type DefinitionSource interface {
	GetWorkflow(ctx context.Context, id string) (*Definition, error)
}

// AgentFunc adapts a function to AgentRunner.
type AgentFunc func(ctx context.Context, agentID, input string, opts RunOptions) (AgentResult, error)

func (f AgentFunc) RunAgent(ctx context.Context, agentID, input string, opts RunOptions) (AgentResult, error) {
	return f(ctx, agentID, input, opts)
}

// SkillFunc adapts a function to SkillRunner.
type SkillFunc func(ctx context.Context, skillID string, input any, opts RunOptions) (any, error)

func (f SkillFunc) InvokeSkill(ctx context.Context, skillID string, input any, opts RunOptions) (any, error) {
	return f(ctx, skillID, input, opts)
}

// Definitions is an in-memory DefinitionSource keyed by workflow id.
type Definitions map[string]*Definition

func (d Definitions) GetWorkflow(_ context.Context, id string) (*Definition, error) {
	if def, ok := d[id]; ok {
		return def, nil
	}
	return nil, errNotFound(id)
}
