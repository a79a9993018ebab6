package workflow

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
)

func okStoreConfig(name string) *config.WorkflowConfig {
	return &config.WorkflowConfig{
		Name:            name,
		FailureStrategy: config.StopOnFirstFailure,
		Agents: []config.AgentConfig{{
			Name:   "a1",
			Type:   config.AgentCustom,
			Params: map[string]any{"variant": "ok"},
		}},
		Tasks: []config.TaskConfig{
			{Name: "t1", Agent: "a1", Action: "ping"},
			{Name: "t2", Agent: "a1", Action: "ping", DependsOn: []string{"t1"}},
		},
	}
}

func newTestStore() *Store {
	return NewStore(func(cfg *config.WorkflowConfig) *Engine {
		return New(cfg, WithLogger(zap.NewNop()), WithFactory(okFactory()))
	}, nil, zap.NewNop())
}

func waitTerminal(t *testing.T, s *Store, id string) *Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := s.Get(id)
		if !ok {
			t.Fatal("run vanished")
		}
		if run.Status != RunQueued && run.Status != RunRunning {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status")
	return nil
}

func TestStore_SubmitAndComplete(t *testing.T) {
	s := newTestStore()

	run, err := s.Submit(okStoreConfig("wf1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if run.ExecutionID == "" || run.TotalTasks != 2 {
		t.Fatalf("bad submission ack: %+v", run)
	}

	final := waitTerminal(t, s, run.ExecutionID)
	if final.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Result == nil || final.Result.State != WorkflowCompleted {
		t.Fatal("terminal result missing")
	}
	if progress, _ := s.Progress(run.ExecutionID); progress != 100 {
		t.Fatalf("progress = %v, want 100", progress)
	}
}

func TestStore_RejectsInvalidConfig(t *testing.T) {
	s := newTestStore()
	cfg := okStoreConfig("bad")
	cfg.Tasks[0].DependsOn = []string{"t2"} // cycle with t2→t1

	if _, err := s.Submit(cfg); err == nil {
		t.Fatal("cyclic workflow accepted")
	}
}

func TestStore_ListFiltersAndPaginates(t *testing.T) {
	s := newTestStore()
	var ids []string
	for i := 0; i < 5; i++ {
		run, err := s.Submit(okStoreConfig("wf"))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, run.ExecutionID)
	}
	for _, id := range ids {
		waitTerminal(t, s, id)
	}

	page, total := s.List(1, 2, "")
	if total != 5 || len(page) != 2 {
		t.Fatalf("page=%d total=%d, want 2/5", len(page), total)
	}
	completed, _ := s.List(1, 10, RunCompleted)
	if len(completed) != 5 {
		t.Fatalf("completed filter returned %d runs", len(completed))
	}
	none, _ := s.List(1, 10, RunFailed)
	if len(none) != 0 {
		t.Fatalf("failed filter returned %d runs", len(none))
	}
}

func TestStore_EventsLog(t *testing.T) {
	s := newTestStore()
	run, err := s.Submit(okStoreConfig("wf"))
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, s, run.ExecutionID)

	events, active, ok := s.Events(run.ExecutionID, 0)
	if !ok {
		t.Fatal("events lookup failed")
	}
	if active {
		t.Fatal("terminal run reported active")
	}
	if len(events) == 0 {
		t.Fatal("event log empty")
	}
	last := events[len(events)-1]
	if last.Type != EventWorkflowCompleted {
		t.Fatalf("last event = %s, want workflow_completed", last.Type)
	}
}

func TestStore_CancelUnknownRun(t *testing.T) {
	s := newTestStore()
	if err := s.Cancel("nope"); err == nil {
		t.Fatal("cancel of unknown run must fail")
	}
}
