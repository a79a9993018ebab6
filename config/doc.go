// Package config defines the workflow configuration document (agent and
// task descriptors plus workflow-level execution policy) and provides
// loading (YAML or JSON, with environment overrides), defaulting, and
// validation. Descriptors are immutable once validated; the engine owns
// them for the duration of a run.
package config
