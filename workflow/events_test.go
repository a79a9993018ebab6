package workflow

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBus_DeliversInPublicationOrder(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	var mu sync.Mutex
	var got []EventType
	bus.Subscribe("obs", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	want := []EventType{EventWorkflowStarted, EventTaskReady, EventTaskStarted, EventTaskCompleted, EventWorkflowCompleted}
	for _, evType := range want {
		bus.Publish(Event{Type: evType, WorkflowID: "w"})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBus_SlowObserverDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(1, zap.NewNop())

	block := make(chan struct{})
	bus.Subscribe("slow", func(ev Event) { <-block })

	var mu sync.Mutex
	fast := 0
	bus.Subscribe("fast", func(ev Event) {
		mu.Lock()
		fast++
		mu.Unlock()
	})

	// With a queue of one and a blocked consumer, extra events are dropped
	// for the slow observer while the fast one keeps receiving. Each
	// publication waits for the fast observer to drain its one-slot queue,
	// which the blocked observer cannot do.
	dropped := 0
	bus.OnDropped(func(observer string, ev Event) {
		if observer == "slow" {
			dropped++
		}
	})
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventTaskStarted})
		deadline := time.Now().Add(time.Second)
		for {
			mu.Lock()
			n := fast
			mu.Unlock()
			if n > i || time.Now().After(deadline) {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	close(block)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if fast != 10 {
		t.Fatalf("fast observer got %d events, want 10", fast)
	}
	if dropped == 0 {
		t.Fatal("expected drops for the blocked observer")
	}
}

func TestBus_PanickingObserverIsIsolated(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	bus.Subscribe("bad", func(ev Event) { panic("observer bug") })

	var mu sync.Mutex
	good := 0
	bus.Subscribe("good", func(ev Event) {
		mu.Lock()
		good++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventTaskStarted})
	bus.Publish(Event{Type: EventTaskCompleted})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if good != 2 {
		t.Fatalf("good observer got %d events, want 2", good)
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	received := 0
	var mu sync.Mutex
	bus.Subscribe("obs", func(ev Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})
	bus.Close()
	bus.Publish(Event{Type: EventTaskStarted})
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if received != 0 {
		t.Fatalf("received %d events after close", received)
	}
}

func TestBus_StampsTimestamp(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	var mu sync.Mutex
	var ts time.Time
	bus.Subscribe("obs", func(ev Event) {
		mu.Lock()
		ts = ev.Timestamp
		mu.Unlock()
	})
	bus.Publish(Event{Type: EventTaskStarted})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if ts.IsZero() {
		t.Fatal("timestamp not stamped on publish")
	}
}
