// Package workflow contains the execution core: the task state machine,
// the per-run event bus, and the engine that resolves task dependencies
// and drives every task to a terminal state through its agent's resilience
// pipeline.
package workflow
