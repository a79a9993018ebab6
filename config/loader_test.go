package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"pgregory.net/rapid"
)

const sampleYAML = `
name: enrich-leads
description: Enrich and score inbound leads
version: "1.2"
parallel_execution: true
failure_strategy: partial_completion_allowed
global_timeout: 120
agents:
  - name: scorer
    type: chat_llm
    endpoint: https://llm.internal/v1/chat/completions
    timeout: 45
    auth:
      type: bearer
      token: secret
    params:
      model: gpt-4o-mini
      temperature: 0.2
  - name: crm
    type: generic_http
    endpoint: https://crm.internal/api
    retry:
      max_attempts: 5
      initial_delay: 0.5
      max_delay: 10
      multiplier: 2.0
      jitter: true
    breaker:
      failure_threshold: 3
      recovery_timeout: 60
tasks:
  - name: fetch
    agent: crm
    action: fetch_leads
    params:
      endpoint: /leads
      method: GET
  - name: score
    agent: scorer
    action: chat_completion
    depends_on: [fetch]
    params:
      prompt: "Score this lead: {{fetch}}"
`

func TestLoader_YAMLDocument(t *testing.T) {
	cfg, err := NewLoader().WithBytes([]byte(sampleYAML)).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Name != "enrich-leads" || !cfg.ParallelExecution {
		t.Fatalf("workflow header mismatched: %+v", cfg)
	}
	if cfg.FailureStrategy != PartialCompletionAllowed {
		t.Fatalf("failure_strategy = %q", cfg.FailureStrategy)
	}
	if cfg.GlobalTimeout.Std() != 2*time.Minute {
		t.Fatalf("global_timeout = %v, want 2m", cfg.GlobalTimeout.Std())
	}

	scorer, ok := cfg.Agent("scorer")
	if !ok {
		t.Fatal("agent scorer missing")
	}
	if scorer.Timeout.Std() != 45*time.Second {
		t.Fatalf("scorer timeout = %v", scorer.Timeout.Std())
	}
	// Declared no retry/breaker: defaults must be filled in.
	if scorer.Retry == nil || scorer.Retry.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("scorer retry defaults missing: %+v", scorer.Retry)
	}
	if scorer.Breaker == nil || scorer.Breaker.FailureThreshold != DefaultFailureThreshold {
		t.Fatalf("scorer breaker defaults missing: %+v", scorer.Breaker)
	}

	crm, _ := cfg.Agent("crm")
	if crm.Retry.MaxAttempts != 5 || crm.Retry.InitialDelay.Std() != 500*time.Millisecond {
		t.Fatalf("crm retry mismatched: %+v", crm.Retry)
	}
	if crm.Breaker.RecoveryTimeout.Std() != time.Minute {
		t.Fatalf("crm breaker mismatched: %+v", crm.Breaker)
	}

	score, _ := cfg.Task("score")
	if !reflect.DeepEqual(score.DependsOn, []string{"fetch"}) {
		t.Fatalf("score depends_on = %v", score.DependsOn)
	}
}

func TestLoader_JSONDocument(t *testing.T) {
	doc := `{
		"name": "mini",
		"agents": [{"name": "a", "type": "generic_http", "endpoint": "http://svc"}],
		"tasks": [{"name": "t", "agent": "a", "action": "ping"}]
	}`
	cfg, err := NewLoader().WithBytes([]byte(doc)).Load()
	if err != nil {
		t.Fatalf("JSON document rejected: %v", err)
	}
	if cfg.FailureStrategy != StopOnFirstFailure {
		t.Fatalf("default failure_strategy = %q", cfg.FailureStrategy)
	}
}

func TestLoader_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		t.Fatalf("load from file failed: %v", err)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(cfg.Tasks))
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("TF_TEST_PARALLEL_EXECUTION", "false")
	t.Setenv("TF_TEST_FAILURE_STRATEGY", "CONTINUE_ON_FAILURE")
	t.Setenv("TF_TEST_GLOBAL_TIMEOUT", "300")

	cfg, err := NewLoader().
		WithBytes([]byte(sampleYAML)).
		WithEnvPrefix("TF_TEST").
		Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ParallelExecution {
		t.Fatal("env override for parallel_execution ignored")
	}
	if cfg.FailureStrategy != ContinueOnFailure {
		t.Fatalf("failure_strategy = %q", cfg.FailureStrategy)
	}
	if cfg.GlobalTimeout.Std() != 5*time.Minute {
		t.Fatalf("global_timeout = %v", cfg.GlobalTimeout.Std())
	}
}

func TestLoader_RoundTripPreservesDocument(t *testing.T) {
	cfg, err := NewLoader().WithBytes([]byte(sampleYAML)).Load()
	if err != nil {
		t.Fatal(err)
	}
	out, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	again, err := NewLoader().WithBytes(out).Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, again) {
		t.Fatalf("round trip changed the document:\nfirst:  %+v\nsecond: %+v", cfg, again)
	}
}

// Randomized round trip: any valid generated document survives
// marshal/reload with order and values intact.
func TestLoader_RoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nAgents := rapid.IntRange(1, 4).Draw(t, "agents")
		nTasks := rapid.IntRange(1, 6).Draw(t, "tasks")

		cfg := &WorkflowConfig{
			Name:              rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(t, "name"),
			ParallelExecution: rapid.Bool().Draw(t, "parallel"),
			FailureStrategy: rapid.SampledFrom([]FailureStrategy{
				StopOnFirstFailure, ContinueOnFailure, PartialCompletionAllowed,
			}).Draw(t, "strategy"),
		}
		for i := 0; i < nAgents; i++ {
			cfg.Agents = append(cfg.Agents, AgentConfig{
				Name:     agentName(i),
				Type:     AgentGenericHTTP,
				Endpoint: "http://svc.internal/api",
				Timeout:  Seconds(float64(rapid.IntRange(1, 120).Draw(t, "timeout"))),
			})
		}
		for i := 0; i < nTasks; i++ {
			task := TaskConfig{
				Name:   taskName(i),
				Agent:  agentName(rapid.IntRange(0, nAgents-1).Draw(t, "agentRef")),
				Action: "ping",
			}
			// Dependencies only point backwards, keeping the graph acyclic.
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, "dep") {
					task.DependsOn = append(task.DependsOn, taskName(j))
				}
			}
			cfg.Tasks = append(cfg.Tasks, task)
		}

		ApplyDefaults(cfg)
		if err := Validate(cfg); err != nil {
			t.Fatalf("generated document invalid: %v", err)
		}

		out, err := Marshal(cfg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		again, err := NewLoader().WithBytes(out).Load()
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if !reflect.DeepEqual(cfg, again) {
			t.Fatalf("round trip changed the document")
		}
	})
}

func agentName(i int) string { return string(rune('a'+i)) + "gent" }
func taskName(i int) string  { return "t" + string(rune('0'+i)) }
