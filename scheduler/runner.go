package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbukum/autoflow/content"
	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
	"github.com/kbukum/autoflow/observability"
	"github.com/kbukum/autoflow/processor"
	"github.com/kbukum/autoflow/runlog"
	"github.com/kbukum/autoflow/task"
	"github.com/kbukum/autoflow/workflow"
)

// Ingestor refreshes content from external sources. Both methods return the
// number of items ingested.
type Ingestor interface {
	IngestAdapter(ctx context.Context, adapterID string) (int, error)
	IngestAll(ctx context.Context) (int, error)
}

// Runner executes single runs of schedules.
type Runner struct {
	Ingest    Ingestor
	Agents    workflow.AgentRunner
	Engine    *workflow.Engine
	Items     content.Store
	Schedules task.ScheduleStore
	Recorder  *runlog.Recorder
	Config    Config
	Log       *logger.Logger
	Metrics   *observability.Metrics
	// Now is the clock used for date windows and LastRun.
	Now func() time.Time
}

// Execute runs t once. The run log is always finalized and the stored
// schedule always receives the outcome, whatever happens in between. The
// returned error is the run's failure, if any.
func (r *Runner) Execute(ctx context.Context, t *task.ScheduleTask) (err error) {
	start := time.Now()
	log := r.logger().WithFields(logger.Fields(
		logger.FieldTaskID, t.ID,
		logger.FieldTaskName, t.Name,
		logger.FieldTaskType, string(t.Type),
	))

	run, err := r.Recorder.Start(ctx, t)
	if err != nil {
		log.Error("run log start failed", logger.Fields(logger.FieldError, err.Error()))
		r.recordOutcome(ctx, t.ID, err, log)
		r.Metrics.RecordTaskRun(ctx, string(t.Type), string(task.StatusError), time.Since(start))
		return err
	}
	log = log.WithFields(logger.Fields(logger.FieldLogID, run.ID()))
	log.Info("run started")

	out, err := r.dispatchSafe(ctx, run, t, log)
	if err != nil {
		out = runlog.Failed(err)
	}
	// The log must be finalized even when the trigger's context is gone.
	final := context.WithoutCancel(ctx)
	if ferr := run.Finish(final, out); ferr != nil {
		log.Error("run log finish failed", logger.Fields(logger.FieldError, ferr.Error()))
	}
	r.recordOutcome(final, t.ID, err, log)

	status := task.StatusSuccess
	fields := logger.DurationFields("execute", time.Since(start))
	fields["result_count"] = out.ResultCount
	if err != nil {
		status = task.StatusError
		fields[logger.FieldError] = err.Error()
		log.Error("run failed", fields)
	} else {
		log.Info("run finished", fields)
	}
	r.Metrics.RecordTaskRun(final, string(t.Type), string(status), time.Since(start))
	return err
}

func (r *Runner) dispatchSafe(ctx context.Context, run *runlog.Run, t *task.ScheduleTask, log *logger.Logger) (out runlog.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = afErrors.Internal(fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.dispatch(ctx, run, t, log)
}

func (r *Runner) dispatch(ctx context.Context, run *runlog.Run, t *task.ScheduleTask, log *logger.Logger) (runlog.Outcome, error) {
	switch t.Type {
	case task.TypeIngestAdapter:
		if r.Ingest == nil {
			return runlog.Outcome{}, afErrors.Unavailable("ingestor")
		}
		n, err := r.Ingest.IngestAdapter(ctx, t.TargetID)
		if err != nil {
			return runlog.Outcome{}, err
		}
		return runlog.Succeeded(n, fmt.Sprintf("ingested %d items from %s", n, t.TargetID)), nil

	case task.TypeIngestAll:
		if r.Ingest == nil {
			return runlog.Outcome{}, afErrors.Unavailable("ingestor")
		}
		n, err := r.Ingest.IngestAll(ctx)
		if err != nil {
			return runlog.Outcome{}, err
		}
		return runlog.Succeeded(n, fmt.Sprintf("ingested %d items", n)), nil

	case task.TypeWorkflow:
		if r.Engine == nil {
			return runlog.Outcome{}, afErrors.Unavailable("workflow engine")
		}
		today := r.now().Format(content.DateLayout)
		if _, err := r.Engine.RunWorkflow(ctx, t.TargetID, t.Config.Input, workflow.WithDate(today)); err != nil {
			return runlog.Outcome{}, err
		}
		return runlog.Succeeded(1, "workflow "+t.TargetID+" completed"), nil

	case task.TypeWorkflowItems, task.TypeAgentItems:
		fn, err := r.itemFunc(t)
		if err != nil {
			return runlog.Outcome{}, err
		}
		return r.processItems(ctx, run, t, fn, log)
	}
	return runlog.Outcome{}, afErrors.InvalidInput("type", "unknown task type "+string(t.Type))
}

func (r *Runner) itemFunc(t *task.ScheduleTask) (processor.ProcessFunc, error) {
	if r.Items == nil {
		return nil, afErrors.Unavailable("content store")
	}
	if t.Type == task.TypeAgentItems {
		if r.Agents == nil {
			return nil, afErrors.Unavailable("agent runner")
		}
		agentID := t.TargetID
		return func(ctx context.Context, prompt, date string) (string, error) {
			res, err := r.Agents.RunAgent(ctx, agentID, prompt, workflow.RunOptions{Date: date})
			if err != nil {
				return "", err
			}
			return res.Content, nil
		}, nil
	}
	if r.Engine == nil {
		return nil, afErrors.Unavailable("workflow engine")
	}
	workflowID := t.TargetID
	return func(ctx context.Context, prompt, date string) (string, error) {
		out, err := r.Engine.RunWorkflow(ctx, workflowID, prompt, workflow.WithDate(date))
		if err != nil {
			return "", err
		}
		return replyText(out)
	}, nil
}

func (r *Runner) processItems(ctx context.Context, run *runlog.Run, t *task.ScheduleTask, fn processor.ProcessFunc, log *logger.Logger) (runlog.Outcome, error) {
	cfg := r.config()
	opts := processor.Options{
		Dates:        content.Window(r.now(), orDefault(t.Config.WindowDays, cfg.WindowDays)),
		TargetFields: t.Config.TargetFields,
		Concurrency:  orDefault(t.Config.Concurrency, cfg.DefaultConcurrency),
		Delay:        t.Config.Delay(cfg.DefaultDelay),
		Prompt:       t.Config.Prompt,
	}
	if len(opts.TargetFields) == 0 {
		opts.TargetFields = cfg.TargetFields
	}

	p := processor.New(r.Items, log)
	p.Stagger = cfg.Stagger
	p.Metrics = r.Metrics
	sum, err := p.Process(ctx, fn, opts, func(ctx context.Context, pct int) {
		if perr := run.Progress(ctx, pct); perr != nil {
			log.Warn("progress update failed", logger.Fields(logger.FieldError, perr.Error()))
		}
	})
	if err != nil {
		return runlog.Outcome{}, err
	}
	msg := fmt.Sprintf("updated %d of %d items", sum.Updated, sum.Queued)
	if sum.Failed+sum.Unparsed > 0 {
		msg += fmt.Sprintf(" (%d failed, %d unparsed)", sum.Failed, sum.Unparsed)
	}
	return runlog.Succeeded(sum.Updated, msg), nil
}

// recordOutcome re-reads the schedule so fields edited during the run are
// kept, then stores LastRun, LastStatus and LastError.
func (r *Runner) recordOutcome(ctx context.Context, id string, runErr error, log *logger.Logger) {
	if r.Schedules == nil {
		return
	}
	current, err := r.Schedules.GetSchedule(ctx, id)
	if err != nil {
		if !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
			log.Error("schedule reload failed", logger.Fields(logger.FieldError, err.Error()))
		}
		return
	}
	current.ApplyOutcome(r.now(), runErr)
	if err := r.Schedules.SaveSchedule(ctx, current); err != nil {
		log.Error("schedule outcome save failed", logger.Fields(logger.FieldError, err.Error()))
	}
}

func (r *Runner) config() Config {
	cfg := r.Config
	cfg.ApplyDefaults()
	return cfg
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *logger.Logger {
	return logger.OrNop(r.Log).WithComponent("scheduler")
}

// replyText renders a workflow output as text for reply parsing.
func replyText(out any) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
