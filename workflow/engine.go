package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/agent"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/resilience"
	"github.com/BaSui01/taskflow/resilience/circuitbreaker"
	"github.com/BaSui01/taskflow/types"
)

// Engine executes one workflow run. Construct a fresh engine per run; it
// owns the run's agents, breakers, event bus, and execution records. All
// state-machine mutations happen on the Run goroutine; workers only report
// outcomes over the completion channel.
type Engine struct {
	cfg     *config.WorkflowConfig
	factory *agent.Factory
	bus     *Bus
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithFactory replaces the agent factory (to register custom variants).
func WithFactory(f *agent.Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithObserverQueue sets the per-observer event queue depth.
func WithObserverQueue(size int) Option {
	return func(e *Engine) { e.bus = NewBus(size, e.logger) }
}

// New creates an engine for one run of the given validated configuration.
func New(cfg *config.WorkflowConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer("taskflow/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"), zap.String("workflow", cfg.Name))
	if e.factory == nil {
		e.factory = agent.NewFactory(e.logger)
	}
	if e.bus == nil {
		e.bus = NewBus(0, e.logger)
	}
	if e.metrics != nil {
		e.bus.OnDropped(func(observer string, _ Event) {
			e.metrics.RecordEventDropped(observer)
		})
	}
	return e
}

// Bus returns the run's event bus. Subscribe before calling Run; the bus is
// closed (and drained) when Run returns.
func (e *Engine) Bus() *Bus { return e.bus }

// workerMsg is the only communication from workers back to the scheduler.
type workerMsg struct {
	task     string
	kind     msgKind
	attempt  int
	delay    time.Duration
	err      error
	resp     *types.InvokeResponse
	attempts int
}

type msgKind int

const (
	msgRetrying msgKind = iota
	msgResumed
	msgDone
)

// boundAgent couples a constructed agent with its resilience pipeline.
type boundAgent struct {
	cfg      *config.AgentConfig
	pipeline *resilience.Pipeline
}

// Run executes the workflow to a terminal state. It blocks until every
// task is terminal and never returns an error for agent failures; those
// are recorded per task. Only configuration problems are returned up front.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := config.Validate(e.cfg); err != nil {
		return nil, err
	}

	workflowID := uuid.NewString()
	agents, err := e.buildAgents(workflowID)
	if err != nil {
		return nil, err
	}

	res := e.newResult(workflowID)
	logger := e.logger.With(zap.String("workflow_id", workflowID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deadlineHit := false
	if d := e.cfg.GlobalTimeout.Std(); d > 0 {
		timer := time.AfterFunc(d, cancel)
		defer timer.Stop()
	}

	runCtx, span := e.tracer.Start(runCtx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.name", e.cfg.Name),
			attribute.String("workflow.id", workflowID),
		))
	defer span.End()

	logger.Info("workflow run starting",
		zap.Int("tasks", len(e.cfg.Tasks)),
		zap.Bool("parallel", e.cfg.ParallelExecution),
		zap.String("failure_strategy", string(e.cfg.FailureStrategy)))
	res.State = WorkflowRunning
	e.publish(Event{Type: EventWorkflowStarted, WorkflowID: workflowID, Payload: map[string]any{
		"name":        e.cfg.Name,
		"total_tasks": res.TotalTasks,
	}})

	ch := make(chan workerMsg, 16)
	stopping := false

	for {
		if stopping || runCtx.Err() != nil {
			break
		}
		batch := e.readyTasks(res)
		if len(batch) == 0 {
			break
		}
		if !e.cfg.ParallelExecution {
			batch = batch[:1]
		}

		inFlight := 0
		for _, t := range batch {
			rec := res.Tasks[t.Name]
			e.transition(res, rec, TaskReady, nil)
			e.transition(res, rec, TaskRunning, nil)
			bound := agents[t.Agent]
			params := bindParams(t.Params, res.Results)
			inFlight++
			go e.worker(runCtx, t, bound, params, ch)
		}

		// Barrier: the whole batch reaches terminal before the next ready
		// set is computed.
		for inFlight > 0 {
			msg := <-ch
			rec := res.Tasks[msg.task]
			switch msg.kind {
			case msgRetrying:
				e.transition(res, rec, TaskRetrying, map[string]any{
					"attempt": msg.attempt,
					"delay":   msg.delay.String(),
					"error":   msg.err.Error(),
				})
			case msgResumed:
				e.transition(res, rec, TaskRunning, map[string]any{"attempt": msg.attempt})
			case msgDone:
				inFlight--
				e.finishTask(res, rec, msg)
				if rec.State == TaskFailed {
					stopping = e.applyFailurePolicy(res, msg.task) || stopping
				}
			}
		}
	}

	// Whatever could not run (pending dependents of failures, the whole
	// remainder under stop-on-first-failure or cancellation) is cancelled.
	if runCtx.Err() != nil && ctx.Err() == nil {
		deadlineHit = true
	}
	for _, name := range e.taskOrder() {
		rec := res.Tasks[name]
		if !rec.State.Terminal() {
			e.transition(res, rec, TaskCancelled, nil)
		}
	}

	e.finishWorkflow(res, ctx.Err() != nil, deadlineHit)
	logger.Info("workflow run finished",
		zap.String("state", string(res.State)),
		zap.Int("completed", res.CompletedTasks),
		zap.Int("failed", res.FailedTasks),
		zap.Int("cancelled", res.CancelledTasks))
	span.SetAttributes(attribute.String("workflow.state", string(res.State)))

	e.bus.Close()
	return res, nil
}

// buildAgents constructs one agent and pipeline per descriptor. Breaker
// transitions are published as bus events.
func (e *Engine) buildAgents(workflowID string) (map[string]*boundAgent, error) {
	agents := make(map[string]*boundAgent, len(e.cfg.Agents))
	for i := range e.cfg.Agents {
		cfg := &e.cfg.Agents[i]
		a, err := e.factory.Create(*cfg)
		if err != nil {
			return nil, err
		}
		onChange := func(change circuitbreaker.StateChange) {
			e.publish(Event{
				Type:       breakerEventType(change.NewState),
				WorkflowID: workflowID,
				Payload: map[string]any{
					"agent":    change.Agent,
					"failures": change.Failures,
				},
			})
			if e.metrics != nil {
				e.metrics.RecordBreakerTransition(change.Agent, change.NewState.String())
			}
		}
		agents[cfg.Name] = &boundAgent{
			cfg:      cfg,
			pipeline: resilience.NewPipeline(cfg, a, onChange, e.logger),
		}
	}
	return agents, nil
}

func breakerEventType(s circuitbreaker.State) EventType {
	switch s {
	case circuitbreaker.StateOpen:
		return EventBreakerOpened
	case circuitbreaker.StateHalfOpen:
		return EventBreakerHalfOpen
	default:
		return EventBreakerClosed
	}
}

func (e *Engine) newResult(workflowID string) *Result {
	res := &Result{
		WorkflowID: workflowID,
		Name:       e.cfg.Name,
		State:      WorkflowPending,
		StartedAt:  time.Now(),
		TotalTasks: len(e.cfg.Tasks),
		Tasks:      make(map[string]*TaskExecution, len(e.cfg.Tasks)),
		Results:    make(map[string]map[string]any),
		Errors:     make(map[string]string),
	}
	for i := range e.cfg.Tasks {
		t := &e.cfg.Tasks[i]
		res.Tasks[t.Name] = &TaskExecution{
			Name:       t.Name,
			Agent:      t.Agent,
			Action:     t.Action,
			State:      TaskPending,
			WorkflowID: workflowID,
		}
	}
	return res
}

// readyTasks returns, in declaration order, the PENDING tasks whose
// dependencies have all completed, or failed with continue_on_failure,
// which keeps dependents eligible.
func (e *Engine) readyTasks(res *Result) []*config.TaskConfig {
	var ready []*config.TaskConfig
	for i := range e.cfg.Tasks {
		t := &e.cfg.Tasks[i]
		if res.Tasks[t.Name].State != TaskPending {
			continue
		}
		eligible := true
		for _, dep := range t.DependsOn {
			depRec := res.Tasks[dep]
			depCfg, _ := e.cfg.Task(dep)
			satisfied := depRec.State == TaskCompleted ||
				(depRec.State == TaskFailed && depCfg.ContinueOnFailure)
			if !satisfied {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, t)
		}
	}
	return ready
}

// worker performs one task invocation off the scheduler goroutine. It
// never touches the records; outcomes travel over ch.
func (e *Engine) worker(ctx context.Context, t *config.TaskConfig, bound *boundAgent, params map[string]any, ch chan<- workerMsg) {
	ctx, span := e.tracer.Start(ctx, "workflow.task",
		trace.WithAttributes(
			attribute.String("task.name", t.Name),
			attribute.String("task.agent", t.Agent),
		))
	defer span.End()

	opts := resilience.CallOptions{
		Timeout: t.EffectiveTimeout(bound.cfg),
		Retry:   t.Retry,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			ch <- workerMsg{task: t.Name, kind: msgRetrying, attempt: attempt, delay: delay, err: err}
		},
		OnAttempt: func(attempt int) {
			if attempt > 1 {
				ch <- workerMsg{task: t.Name, kind: msgResumed, attempt: attempt}
			}
		},
	}

	resp, attempts, err := bound.pipeline.Invoke(ctx, t.Action, params, opts)
	if e.metrics != nil {
		status := "success"
		latency := time.Duration(0)
		if resp != nil {
			latency = resp.Latency
		}
		if err != nil {
			status = string(types.GetErrorCode(err))
		}
		e.metrics.RecordInvocation(bound.cfg.Name, string(bound.cfg.Type), status, latency)
	}
	ch <- workerMsg{task: t.Name, kind: msgDone, resp: resp, err: err, attempts: attempts}
}

// finishTask applies a worker's final outcome to the record.
func (e *Engine) finishTask(res *Result, rec *TaskExecution, msg workerMsg) {
	rec.Attempts = msg.attempts
	switch {
	case msg.err == nil:
		rec.Result = msg.resp.Result
		res.Results[rec.Name] = msg.resp.Result
		e.transition(res, rec, TaskCompleted, map[string]any{"attempts": msg.attempts})
	case isCancellation(msg.err):
		rec.Error = msg.err.Error()
		e.transition(res, rec, TaskCancelled, map[string]any{"error": rec.Error})
	default:
		rec.Error = msg.err.Error()
		res.Errors[rec.Name] = rec.Error
		e.transition(res, rec, TaskFailed, map[string]any{
			"error":    rec.Error,
			"code":     string(types.GetErrorCode(msg.err)),
			"attempts": msg.attempts,
		})
	}
}

func isCancellation(err error) bool {
	return types.GetErrorCode(err) == types.ErrCancelled ||
		errors.Is(err, context.Canceled)
}

// applyFailurePolicy reacts to a FAILED task. It returns true when the
// whole run must stop dispatching.
func (e *Engine) applyFailurePolicy(res *Result, failed string) bool {
	t, _ := e.cfg.Task(failed)
	switch e.cfg.FailureStrategy {
	case config.StopOnFirstFailure:
		return true
	default:
		if !t.ContinueOnFailure {
			e.cancelDependents(res, failed)
		}
		return false
	}
}

// cancelDependents cancels every PENDING transitive dependent of the named
// task.
func (e *Engine) cancelDependents(res *Result, name string) {
	dependents := make(map[string][]string, len(e.cfg.Tasks))
	for i := range e.cfg.Tasks {
		t := &e.cfg.Tasks[i]
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	queue := []string{name}
	seen := map[string]bool{name: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range dependents[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			rec := res.Tasks[next]
			if rec.State == TaskPending {
				e.transition(res, rec, TaskCancelled, map[string]any{"cause": name})
			}
			queue = append(queue, next)
		}
	}
}

// taskOrder returns task names in declaration order.
func (e *Engine) taskOrder() []string {
	names := make([]string, len(e.cfg.Tasks))
	for i := range e.cfg.Tasks {
		names[i] = e.cfg.Tasks[i].Name
	}
	return names
}

// transition moves a task to a new state, stamps timestamps, maintains the
// terminal counters, and publishes the matching event. Illegal transitions
// are logged and ignored; they indicate an engine bug, not a task failure.
func (e *Engine) transition(res *Result, rec *TaskExecution, to TaskState, payload map[string]any) {
	from := rec.State
	if !CanTransition(from, to) {
		e.logger.Error("illegal task transition",
			zap.String("task", rec.Name),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return
	}
	rec.State = to

	now := time.Now()
	if to == TaskRunning && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if to.Terminal() {
		rec.FinishedAt = &now
		switch to {
		case TaskCompleted:
			res.CompletedTasks++
		case TaskFailed:
			res.FailedTasks++
		case TaskCancelled:
			res.CancelledTasks++
		}
		if e.metrics != nil {
			duration := time.Duration(0)
			if rec.StartedAt != nil {
				duration = now.Sub(*rec.StartedAt)
			}
			e.metrics.RecordTask(string(to), duration, rec.Attempts)
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["old_state"] = string(from)
	payload["new_state"] = string(to)
	if to == TaskCompleted && rec.Result != nil {
		payload["result"] = rec.Result
	}
	e.publish(Event{
		Type:       taskEventType(from, to),
		WorkflowID: rec.WorkflowID,
		TaskName:   rec.Name,
		Timestamp:  now,
		Payload:    payload,
	})
}

func taskEventType(from, to TaskState) EventType {
	switch to {
	case TaskReady:
		return EventTaskReady
	case TaskRunning:
		return EventTaskStarted
	case TaskRetrying:
		return EventTaskRetrying
	case TaskCompleted:
		return EventTaskCompleted
	case TaskFailed:
		return EventTaskFailed
	default:
		return EventTaskCancelled
	}
}

// finishWorkflow derives the aggregate state per the failure strategy.
func (e *Engine) finishWorkflow(res *Result, externallyCancelled, deadlineHit bool) {
	switch {
	case externallyCancelled:
		res.State = WorkflowCancelled
	case res.CompletedTasks == res.TotalTasks:
		res.State = WorkflowCompleted
	case deadlineHit:
		res.State = WorkflowFailed
	case e.cfg.FailureStrategy == config.PartialCompletionAllowed &&
		res.CompletedTasks > 0 && res.FailedTasks > 0:
		res.State = WorkflowPartiallyCompleted
	default:
		res.State = WorkflowFailed
	}
	res.FinishedAt = time.Now()

	eventType := EventWorkflowFailed
	if res.State == WorkflowCompleted || res.State == WorkflowPartiallyCompleted {
		eventType = EventWorkflowCompleted
	}
	e.publish(Event{
		Type:       eventType,
		WorkflowID: res.WorkflowID,
		Payload: map[string]any{
			"state":     string(res.State),
			"completed": res.CompletedTasks,
			"failed":    res.FailedTasks,
			"cancelled": res.CancelledTasks,
		},
	})
	if e.metrics != nil {
		e.metrics.RecordWorkflow(string(res.State), res.FinishedAt.Sub(res.StartedAt))
	}
}

func (e *Engine) publish(ev Event) {
	e.bus.Publish(ev)
}
