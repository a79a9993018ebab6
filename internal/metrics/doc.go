// Package metrics provides internal prometheus collection for workflow
// runs, task executions, agent invocations, breaker transitions, and the
// HTTP surface. This package is internal and should not be imported by
// external projects.
package metrics
