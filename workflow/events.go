package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names every observable transition of a run.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventTaskReady         EventType = "task_ready"
	EventTaskStarted       EventType = "task_started"
	EventTaskRetrying      EventType = "task_retrying"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventTaskCancelled     EventType = "task_cancelled"
	EventBreakerOpened     EventType = "breaker_opened"
	EventBreakerHalfOpen   EventType = "breaker_half_open"
	EventBreakerClosed     EventType = "breaker_closed"
)

// Event is the value message delivered to observers.
type Event struct {
	Type       EventType      `json:"event_type"`
	WorkflowID string         `json:"workflow_id"`
	TaskName   string         `json:"task_name,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Observer receives events. Implementations must not block; slow observers
// lose events once their queue fills.
type Observer func(Event)

// DroppedFunc is notified when an observer's queue overflows.
type DroppedFunc func(observer string, ev Event)

// DefaultObserverQueue is the per-observer queue depth.
const DefaultObserverQueue = 256

// Bus fans events out to observers. Each observer owns a bounded queue
// drained by its own goroutine, so publication never blocks the engine;
// events that do not fit are dropped with a logged warning. Delivery to a
// single observer preserves publication order.
type Bus struct {
	mu        sync.Mutex
	observers []*busObserver
	queueSize int
	onDropped DroppedFunc
	logger    *zap.Logger
	closed    bool
}

type busObserver struct {
	name string
	ch   chan Event
	done chan struct{}
}

// NewBus creates an event bus. queueSize <= 0 selects DefaultObserverQueue.
func NewBus(queueSize int, logger *zap.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultObserverQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		queueSize: queueSize,
		logger:    logger.With(zap.String("component", "event_bus")),
	}
}

// OnDropped installs the overflow callback (metrics hook).
func (b *Bus) OnDropped(fn DroppedFunc) {
	b.mu.Lock()
	b.onDropped = fn
	b.mu.Unlock()
}

// Subscribe registers an observer under a display name. Dispatch order
// across observers follows registration order.
func (b *Bus) Subscribe(name string, fn Observer) {
	obs := &busObserver{
		name: name,
		ch:   make(chan Event, b.queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(obs.done)
		for ev := range obs.ch {
			b.deliver(obs.name, fn, ev)
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(obs.ch)
		return
	}
	b.observers = append(b.observers, obs)
}

// Publish enqueues the event for every observer in registration order.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	observers := b.observers
	onDropped := b.onDropped
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	for _, obs := range observers {
		select {
		case obs.ch <- ev:
		default:
			b.logger.Warn("observer queue full, dropping event",
				zap.String("observer", obs.name),
				zap.String("event_type", string(ev.Type)),
				zap.String("task", ev.TaskName))
			if onDropped != nil {
				onDropped(obs.name, ev)
			}
		}
	}
}

// Close stops accepting events and waits for every observer queue to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	observers := b.observers
	b.mu.Unlock()

	for _, obs := range observers {
		close(obs.ch)
		<-obs.done
	}
}

// deliver invokes one observer with panic isolation; a panicking observer
// is logged and does not stop the engine.
func (b *Bus) deliver(name string, fn Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked",
				zap.String("observer", name),
				zap.Any("recover", r))
		}
	}()
	fn(ev)
}
