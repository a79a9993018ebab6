// Package types defines the shared value types of the taskflow framework:
// the unified error taxonomy and the normalized agent invocation response
// exchanged between the workflow engine, the resilience pipeline, and the
// agent transports.
package types
