// Package workflow runs multi-step pipelines whose steps form a dependency
// graph.
//
// Edges come from two places: a step's NextStepIDs and the source steps
// named in its InputMap. BuildGraph unions both. The Engine executes the
// graph in waves Kahn-style: every step whose predecessors have all settled
// runs concurrently with the rest of its batch, and the next batch starts only
// after the whole current batch has settled. A failing step records
// {"error": message} as its output and does not stop sibling or downstream
// steps.
//
//	eng := &workflow.Engine{Agents: agents, Workflows: defs}
//	res, err := eng.Run(ctx, def, "initial input", workflow.WithDate("2024-05-01"))
package workflow
