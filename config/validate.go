package config

import (
	"fmt"
	"net/url"

	"github.com/BaSui01/taskflow/types"
)

// Validate checks document well-formedness: required fields, unique names,
// enum values, policy bounds, reference integrity, and acyclicity of the
// task dependency graph. The first violation is returned as CONFIG_INVALID.
func Validate(cfg *WorkflowConfig) error {
	if cfg.Name == "" {
		return types.NewError(types.ErrConfigInvalid, "workflow name is required")
	}
	switch cfg.FailureStrategy {
	case StopOnFirstFailure, ContinueOnFailure, PartialCompletionAllowed:
	default:
		return types.Errorf(types.ErrConfigInvalid, "unknown failure_strategy %q", cfg.FailureStrategy)
	}
	if len(cfg.Tasks) == 0 {
		return types.NewError(types.ErrConfigInvalid, "workflow has no tasks")
	}

	agentNames := make(map[string]struct{}, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			return types.Errorf(types.ErrConfigInvalid, "agent #%d has no name", i)
		}
		if _, dup := agentNames[a.Name]; dup {
			return types.Errorf(types.ErrConfigInvalid, "duplicate agent name %q", a.Name)
		}
		agentNames[a.Name] = struct{}{}
		if err := validateAgent(a); err != nil {
			return err
		}
	}

	taskNames := make(map[string]struct{}, len(cfg.Tasks))
	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		if t.Name == "" {
			return types.Errorf(types.ErrConfigInvalid, "task #%d has no name", i)
		}
		if _, dup := taskNames[t.Name]; dup {
			return types.Errorf(types.ErrConfigInvalid, "duplicate task name %q", t.Name)
		}
		taskNames[t.Name] = struct{}{}
		if t.Agent == "" {
			return types.Errorf(types.ErrConfigInvalid, "task %q references no agent", t.Name)
		}
		if _, ok := agentNames[t.Agent]; !ok {
			return types.Errorf(types.ErrConfigInvalid, "task %q references unknown agent %q", t.Name, t.Agent)
		}
		if t.Action == "" {
			return types.Errorf(types.ErrConfigInvalid, "task %q has no action", t.Name)
		}
		if t.Retry != nil {
			if err := validateRetry(t.Retry, fmt.Sprintf("task %q", t.Name)); err != nil {
				return err
			}
		}
	}

	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				return types.Errorf(types.ErrConfigInvalid, "task %q depends on itself", t.Name)
			}
			if _, ok := taskNames[dep]; !ok {
				return types.Errorf(types.ErrConfigInvalid, "task %q depends on unknown task %q", t.Name, dep)
			}
		}
	}

	if cycle := findCycle(cfg.Tasks); cycle != "" {
		return types.Errorf(types.ErrConfigInvalid, "dependency cycle involving task %q", cycle)
	}
	return nil
}

func validateAgent(a *AgentConfig) error {
	switch a.Type {
	case AgentChatLLM, AgentJSONRPCTool, AgentGenericHTTP, AgentCustom:
	default:
		return types.Errorf(types.ErrConfigInvalid, "agent %q has unknown type %q", a.Name, a.Type)
	}
	if a.Type != AgentCustom {
		if a.Endpoint == "" {
			return types.Errorf(types.ErrConfigInvalid, "agent %q has no endpoint", a.Name)
		}
		if _, err := url.ParseRequestURI(a.Endpoint); err != nil {
			return types.Errorf(types.ErrConfigInvalid, "agent %q endpoint is not a valid URL", a.Name).WithCause(err)
		}
	}
	if a.Auth != nil {
		switch a.Auth.Type {
		case "bearer", "api_key", "basic":
		default:
			return types.Errorf(types.ErrConfigInvalid, "agent %q has unknown auth type %q", a.Name, a.Auth.Type)
		}
	}
	if a.Retry != nil {
		if err := validateRetry(a.Retry, fmt.Sprintf("agent %q", a.Name)); err != nil {
			return err
		}
	}
	if a.Breaker != nil && a.Breaker.FailureThreshold < 1 {
		return types.Errorf(types.ErrConfigInvalid, "agent %q breaker failure_threshold must be >= 1", a.Name)
	}
	if a.MaxConcurrency < 0 {
		return types.Errorf(types.ErrConfigInvalid, "agent %q max_concurrency must be >= 0", a.Name)
	}
	return nil
}

func validateRetry(r *RetryConfig, owner string) error {
	if r.MaxAttempts < 1 {
		return types.Errorf(types.ErrConfigInvalid, "%s retry max_attempts must be >= 1", owner)
	}
	if r.Multiplier <= 1 {
		return types.Errorf(types.ErrConfigInvalid, "%s retry multiplier must be > 1", owner)
	}
	if r.MaxDelay < r.InitialDelay {
		return types.Errorf(types.ErrConfigInvalid, "%s retry max_delay must be >= initial_delay", owner)
	}
	return nil
}

// findCycle runs a three-color DFS over the dependency graph and returns
// the name of a task on a cycle, or "" when the graph is acyclic.
func findCycle(tasks []TaskConfig) string {
	deps := make(map[string][]string, len(tasks))
	for i := range tasks {
		deps[tasks[i].Name] = tasks[i].DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = gray
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[name] = black
		return ""
	}

	for i := range tasks {
		if color[tasks[i].Name] == white {
			if c := visit(tasks[i].Name); c != "" {
				return c
			}
		}
	}
	return ""
}
