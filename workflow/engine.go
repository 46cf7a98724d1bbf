package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/observability"
)

// DefaultMaxDepth bounds sub-workflow nesting.
const DefaultMaxDepth = 8

// Engine executes workflow definitions. The zero value runs nothing useful;
// set at least the capabilities the definitions reference.
type Engine struct {
	Agents    AgentRunner
	Skills    SkillRunner
	Workflows DefinitionSource

	// MaxParallel limits concurrent steps per batch (0 = unlimited).
	MaxParallel int
	// MaxDepth limits sub-workflow nesting (0 = DefaultMaxDepth).
	MaxDepth int

	Log     *logger.Logger
	Metrics *observability.Metrics
}

type depthKey struct{}

func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// RunWorkflow loads a definition by id and returns its final output.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, input any, opts ...Option) (any, error) {
	if e.Workflows == nil {
		return nil, afErrors.Unavailable("workflow definitions")
	}
	def, err := e.Workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, errNotFound(workflowID)
	}
	res, err := e.Run(ctx, def, input, opts...)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Run executes def with input bound to StartKey. It fails before running any
// step when the graph is invalid; step failures never fail the run.
func (e *Engine) Run(ctx context.Context, def *Definition, input any, opts ...Option) (*Result, error) {
	if def == nil {
		return nil, afErrors.MissingField("workflow")
	}
	if depthOf(ctx) > e.maxDepth() {
		return nil, afErrors.NestingTooDeep(def.ID, e.maxDepth())
	}
	g := BuildGraph(def)
	if err := g.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ro := buildOptions(opts)
	log := e.baseLogger().WithFields(logger.Fields(logger.FieldWorkflowID, def.ID))

	steps := make(map[string]Step, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.ID] = s
	}

	outputs := map[string]any{StartKey: input}
	res := &Result{
		WorkflowID: def.ID,
		Outputs:    make(map[string]any, len(g.Order)),
		Steps:      make(map[string]StepResult, len(g.Order)),
	}

	inDegree := g.inDegrees()
	ready := g.roots(inDegree)
	for n := 0; len(ready) > 0; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inputs := make([]any, len(ready))
		for i, id := range ready {
			inputs[i] = ResolveInput(steps[id], outputs, g.Predecessors[id])
		}

		settled := e.runBatch(ctx, ready, steps, inputs, ro, log)
		for _, sr := range settled {
			sr.Batch = n
			outputs[sr.ID] = sr.Output
			res.Outputs[sr.ID] = sr.Output
			res.Steps[sr.ID] = sr
			if sr.Status == StatusFailed {
				res.Failed = append(res.Failed, sr.ID)
			}
		}
		res.Batches = append(res.Batches, ready)
		ready = g.release(ready, inDegree)
	}

	res.Output = terminalOutput(g.Terminals(), res.Outputs)
	res.Duration = time.Since(start)
	log.Debug("workflow finished", logger.Fields(
		"steps", len(res.Steps),
		"failed", len(res.Failed),
		logger.FieldDuration, res.Duration.Milliseconds(),
	))
	return res, nil
}

func terminalOutput(terminals []string, outputs map[string]any) any {
	switch len(terminals) {
	case 0:
		return nil
	case 1:
		return outputs[terminals[0]]
	default:
		out := make(map[string]any, len(terminals))
		for _, id := range terminals {
			out[id] = outputs[id]
		}
		return out
	}
}

// runBatch executes every ready step concurrently and waits for all of them.
// Results keep the order of ids.
func (e *Engine) runBatch(ctx context.Context, ids []string, steps map[string]Step, inputs []any, ro RunOptions, log *logger.Logger) []StepResult {
	results := make([]StepResult, len(ids))
	sem := make(chan struct{}, e.concurrency(len(ids)))
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.runStep(ctx, step, inputs[i], ro, log)
		}(i, steps[id])
	}
	wg.Wait()
	return results
}

func (e *Engine) runStep(ctx context.Context, step Step, input any, ro RunOptions, log *logger.Logger) (sr StepResult) {
	started := time.Now()
	sr = StepResult{ID: step.ID, Input: input}

	defer func() {
		if r := recover(); r != nil {
			sr.Error = fmt.Errorf("step %s panicked: %v", step.ID, r)
		}
		sr.Duration = time.Since(started)
		if sr.Error != nil {
			sr.Status = StatusFailed
			sr.Output = ErrorPayload(sr.Error)
			log.Warn("step failed", logger.Fields(logger.FieldStepID, step.ID, logger.FieldError, sr.Error.Error()))
			e.Metrics.RecordStep(ctx, string(step.Executor.Kind), "error")
			return
		}
		sr.Status = StatusCompleted
		e.Metrics.RecordStep(ctx, string(step.Executor.Kind), "ok")
	}()

	sr.Output, sr.Error = e.dispatch(ctx, step.Executor, input, ro)
	return sr
}

func (e *Engine) dispatch(ctx context.Context, ref ExecutorRef, input any, ro RunOptions) (any, error) {
	switch ref.Kind {
	case KindAgent:
		if e.Agents == nil {
			return nil, afErrors.Unavailable("agent runner")
		}
		text, err := inputText(input)
		if err != nil {
			return nil, err
		}
		out, err := e.Agents.RunAgent(ctx, ref.ID, text, ro)
		if err != nil {
			return nil, err
		}
		return out.Content, nil
	case KindWorkflow:
		child := context.WithValue(ctx, depthKey{}, depthOf(ctx)+1)
		return e.RunWorkflow(child, ref.ID, input, WithDate(ro.Date), withExtras(ro.Extra))
	case KindSkill:
		if e.Skills == nil {
			return nil, afErrors.Unavailable("skill runner")
		}
		return e.Skills.InvokeSkill(ctx, ref.ID, input, ro)
	default:
		return nil, afErrors.InvalidInput("executor", fmt.Sprintf("unknown executor kind %q", ref.Kind))
	}
}

func withExtras(extra map[string]any) Option {
	return func(o *RunOptions) {
		for k, v := range extra {
			WithExtra(k, v)(o)
		}
	}
}

// inputText renders a step input for an agent: strings pass through, other
// values are JSON-encoded.
func inputText(input any) (string, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "", afErrors.InvalidInput("input", "cannot encode step input").WithCause(err)
	}
	return string(b), nil
}

func (e *Engine) concurrency(batchSize int) int {
	if e.MaxParallel <= 0 || e.MaxParallel > batchSize {
		return batchSize
	}
	return e.MaxParallel
}

func (e *Engine) maxDepth() int {
	if e.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return e.MaxDepth
}

func (e *Engine) baseLogger() *logger.Logger {
	if e.Log == nil {
		return logger.NewNop()
	}
	return e.Log
}

func errNotFound(id string) error {
	return afErrors.NotFound("workflow", id)
}
