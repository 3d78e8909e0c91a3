package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{})

	unsubscribe := bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		if len(received) == 2 {
			close(done)
		}
		mu.Unlock()
	})
	defer unsubscribe()

	runID := uuid.New()
	bus.Publish(Event{Kind: KindNodeStatusChanged, RunID: runID, NodeID: "A",
		From: domain.NodeStatusPending, To: domain.NodeStatusReady})
	bus.Publish(Event{Kind: KindRunFinished, RunID: runID, Status: domain.RunStatusCompleted})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0].Kind != KindNodeStatusChanged || received[1].Kind != KindRunFinished {
		t.Errorf("events out of order: %v, %v", received[0].Kind, received[1].Kind)
	}
	if received[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled on publish")
	}
}

func TestBus_PerNodeOrdering(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var statuses []domain.NodeStatus
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		if e.NodeID != "A" {
			return
		}
		mu.Lock()
		statuses = append(statuses, e.To)
		if len(statuses) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	transitions := []domain.NodeStatus{
		domain.NodeStatusReady,
		domain.NodeStatusRunning,
		domain.NodeStatusCompleted,
	}
	for _, to := range transitions {
		bus.Publish(Event{Kind: KindNodeStatusChanged, NodeID: "A", To: to})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range transitions {
		if statuses[i] != want {
			t.Errorf("event %d: expected %s, got %s", i, want, statuses[i])
		}
	}
}

func TestBus_SlowSubscriberBackpressure(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	entered := make(chan struct{})
	block := make(chan struct{})
	var mu sync.Mutex
	var kinds []Kind
	var dropped int

	bus.Subscribe(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		if e.Kind == KindBackpressure && e.Dropped > dropped {
			dropped = e.Dropped
		}
		first := len(kinds) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-block
		}
	})

	// Первое событие доходит до обработчика и блокирует его там.
	bus.Publish(Event{Kind: KindNodeLog, NodeID: "A"})
	<-entered

	// Очередь размера 1: одно событие помещается, остальные девять
	// отбрасываются, пока обработчик заблокирован.
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: KindNodeLog, NodeID: "A"})
	}
	close(block)

	// Backpressure-сигнал отдаётся перед следующим доставленным
	// событием, как только в очереди появляется место.
	deadline := time.After(2 * time.Second)
	for {
		bus.Publish(Event{Kind: KindRunProgress})
		mu.Lock()
		d := dropped
		mu.Unlock()
		if d > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a Backpressure event after drops")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if dropped < 9 {
		t.Errorf("Backpressure.Dropped = %d, want >= 9", dropped)
	}
	for i, k := range kinds[:2] {
		if k != KindNodeLog {
			t.Errorf("event %d: expected %s before Backpressure, got %s", i, KindNodeLog, k)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	unsubscribe := bus.Subscribe(func(Event) {})
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	unsubscribe()
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", bus.SubscriberCount())
	}

	// Публикация после отписки не должна паниковать
	bus.Publish(Event{Kind: KindRunProgress})
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe(func(Event) {})
	bus.Close()
	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Error("close should drop all subscribers")
	}
}
