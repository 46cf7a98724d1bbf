package workflow

import "time"

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result holds the outcome of one workflow run.
type Result struct {
	WorkflowID string
	// Output is the terminal step's output, or a map of terminal step id to
	// output when there are several terminal steps.
	Output any
	// Outputs holds every settled step's output. Failed steps hold
	// {"error": message}.
	Outputs map[string]any
	Steps   map[string]StepResult
	// Failed lists failed step ids in settlement order.
	Failed   []string
	Batches  [][]string
	Duration time.Duration
}

// StepResult holds the outcome of a single step.
type StepResult struct {
	ID       string
	Status   string // "completed" | "failed"
	Batch    int
	Duration time.Duration
	Input    any
	Output   any
	Error    error
}

// ErrorPayload is the output recorded for a failed step.
func ErrorPayload(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
