package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
)

// RunStatus is the store-level view of one submitted run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partially_completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run tracks one submitted workflow from queueing to its terminal result.
type Run struct {
	ExecutionID string     `json:"execution_id"`
	Name        string     `json:"name"`
	Status      RunStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	TotalTasks  int        `json:"total_tasks"`
	// CurrentTask names a task observed RUNNING most recently.
	CurrentTask string `json:"current_task,omitempty"`
	// Result is set once the run is terminal.
	Result *Result `json:"result,omitempty"`

	progress float64
	cancel   context.CancelFunc
	events   []Event
}

// maxEventLog bounds the per-run event log kept for streaming clients.
const maxEventLog = 1000

// Store holds run state in memory for the lifetime of the process. Runs
// are not persisted across restarts.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	logger  *zap.Logger
	metrics *metrics.Collector
	factory EngineFactory
}

// EngineFactory builds the engine for a submitted configuration; it exists
// so the server can inject metrics and custom agent variants.
type EngineFactory func(cfg *config.WorkflowConfig) *Engine

// NewStore creates a run store.
func NewStore(factory EngineFactory, mc *metrics.Collector, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = func(cfg *config.WorkflowConfig) *Engine { return New(cfg) }
	}
	return &Store{
		runs:    make(map[string]*Run),
		logger:  logger.With(zap.String("component", "run_store")),
		metrics: mc,
		factory: factory,
	}
}

// Submit validates the configuration, registers a queued run, and starts
// it on its own goroutine. Configuration errors are returned synchronously.
func (s *Store) Submit(cfg *config.WorkflowConfig) (*Run, error) {
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	run := &Run{
		ExecutionID: uuid.NewString(),
		Name:        cfg.Name,
		Status:      RunQueued,
		CreatedAt:   time.Now(),
		TotalTasks:  len(cfg.Tasks),
	}
	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel

	s.mu.Lock()
	s.runs[run.ExecutionID] = run
	s.mu.Unlock()

	engine := s.factory(cfg)
	engine.Bus().Subscribe("run_store", func(ev Event) {
		s.observe(run.ExecutionID, ev)
	})

	// Snapshot before the run goroutine starts so the acknowledgment
	// always reports the queued status.
	s.mu.RLock()
	snap := run.snapshot()
	s.mu.RUnlock()

	go func() {
		defer cancel()
		now := time.Now()
		s.update(run.ExecutionID, func(r *Run) {
			r.Status = RunRunning
			r.StartedAt = &now
		})

		result, err := engine.Run(ctx)
		finished := time.Now()
		s.update(run.ExecutionID, func(r *Run) {
			r.FinishedAt = &finished
			if err != nil {
				r.Status = RunFailed
				s.logger.Error("workflow run rejected", zap.String("execution_id", r.ExecutionID), zap.Error(err))
				return
			}
			r.Result = result
			r.Status = statusForState(result.State)
			r.progress = result.Progress()
			r.CurrentTask = ""
		})
	}()

	return snap, nil
}

// Get returns a snapshot of the run.
func (s *Store) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return run.snapshot(), true
}

// List returns runs sorted newest first, optionally filtered by status,
// with 1-based pagination.
func (s *Store) List(page, pageSize int, status RunStatus) ([]*Run, int) {
	s.mu.RLock()
	all := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != "" && run.Status != status {
			continue
		}
		all = append(all, run.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []*Run{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// Cancel requests cancellation of a running workflow.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return types.Errorf(types.ErrConfigInvalid, "unknown execution id %s", id)
	}
	if run.Status != RunQueued && run.Status != RunRunning {
		s.mu.Unlock()
		return types.Errorf(types.ErrCancelled, "workflow already %s", run.Status)
	}
	cancel := run.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("workflow cancellation requested", zap.String("execution_id", id))
	return nil
}

// Progress returns the run's percent-complete.
func (s *Store) Progress(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return 0, false
	}
	return run.progress, true
}

// Events returns the run's event log entries from the given offset, plus
// whether the run is still producing events.
func (s *Store) Events(id string, from int) ([]Event, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false, false
	}
	active := run.Status == RunQueued || run.Status == RunRunning
	if from >= len(run.events) {
		return nil, active, true
	}
	out := make([]Event, len(run.events)-from)
	copy(out, run.events[from:])
	return out, active, true
}

// observe tracks progress and the currently running task off bus events.
func (s *Store) observe(id string, ev Event) {
	s.update(id, func(r *Run) {
		if len(r.events) < maxEventLog {
			r.events = append(r.events, ev)
		}
	})
	switch ev.Type {
	case EventTaskStarted:
		s.update(id, func(r *Run) { r.CurrentTask = ev.TaskName })
	case EventTaskCompleted, EventTaskFailed, EventTaskCancelled:
		s.update(id, func(r *Run) {
			if r.TotalTasks > 0 {
				r.progress += 100 / float64(r.TotalTasks)
				if r.progress > 100 {
					r.progress = 100
				}
			}
			if r.CurrentTask == ev.TaskName {
				r.CurrentTask = ""
			}
		})
	}
}

func (s *Store) update(id string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		fn(run)
	}
}

func (r *Run) snapshot() *Run {
	clone := *r
	clone.cancel = nil
	return &clone
}

// ProgressPercent exposes the internal progress on a snapshot.
func (r *Run) ProgressPercent() float64 { return r.progress }

func statusForState(state WorkflowState) RunStatus {
	switch state {
	case WorkflowCompleted:
		return RunCompleted
	case WorkflowPartiallyCompleted:
		return RunPartial
	case WorkflowCancelled:
		return RunCancelled
	default:
		return RunFailed
	}
}
