package event

import (
	"sync/atomic"
	"testing"
	"time"
)

// waitCount polls an atomic counter until it reaches want or the
// deadline passes. Delivery through the bus is asynchronous.
func waitCount(t *testing.T, count *int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(count) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, atomic.LoadInt32(count))
}

// settle gives in-flight deliveries time to land.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	received := make(chan Event, 1)
	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
		select {
		case received <- e:
		default:
		}
	})
	defer unsub()

	bus.Publish(Event{Type: SessionCreated, Data: "test-session"})
	waitCount(t, &count, 1)

	e := <-received
	if e.Type != SessionCreated {
		t.Errorf("Expected SessionCreated, got %v", e.Type)
	}
	if e.Data != "test-session" {
		t.Errorf("Expected 'test-session', got %v", e.Data)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
	})
	defer unsub()

	bus.Publish(Event{Type: SessionCreated})
	bus.Publish(Event{Type: TerminalExited})
	bus.Publish(Event{Type: FileEdited})

	waitCount(t, &count, 3)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(Event{Type: SessionCreated})
	waitCount(t, &count, 1)

	unsub()
	settle()

	bus.Publish(Event{Type: SessionCreated})
	settle()
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected still 1 event after unsub, got %d", got)
	}
}

func TestBus_EventTypeFiltering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var sessionCount, terminalCount int32
	bus.Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&sessionCount, 1)
	})
	bus.Subscribe(TerminalExited, func(e Event) {
		atomic.AddInt32(&terminalCount, 1)
	})

	bus.Publish(Event{Type: SessionCreated})
	bus.Publish(Event{Type: SessionCreated})
	bus.Publish(Event{Type: TerminalExited})

	waitCount(t, &sessionCount, 2)
	waitCount(t, &terminalCount, 1)
	settle()
	if got := atomic.LoadInt32(&sessionCount); got != 2 {
		t.Errorf("Expected 2 session events, got %d", got)
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(SessionCreated, func(e Event) {
			atomic.AddInt32(&count, 1)
		})
	}

	bus.Publish(Event{Type: SessionCreated})
	waitCount(t, &count, 3)
}

func TestBus_DataRoundTrip(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	received := make(chan Event, 1)
	bus.Subscribe(FileEdited, func(e Event) {
		atomic.AddInt32(&count, 1)
		select {
		case received <- e:
		default:
		}
	})

	bus.Publish(Event{
		Type: FileEdited,
		Data: FileEditedData{SessionID: "sess-1", File: "/tmp/a.go"},
	})
	waitCount(t, &count, 1)

	e := <-received
	data, ok := e.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected decoded map data, got %T", e.Data)
	}
	if data["file"] != "/tmp/a.go" {
		t.Errorf("file = %v", data["file"])
	}
	if data["sessionID"] != "sess-1" {
		t.Errorf("sessionID = %v", data["sessionID"])
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Should not block or panic with no subscribers.
	bus.Publish(Event{Type: SessionCreated})
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	bus.Publish(Event{Type: SessionCreated})
	if unsub := bus.Subscribe(SessionCreated, func(Event) {}); unsub == nil {
		t.Fatal("Subscribe after close must still return an unsubscribe func")
	}
}

func TestGlobalBus_Reset(t *testing.T) {
	defer Reset()

	var count int32
	Subscribe(SessionCreated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	Publish(Event{Type: SessionCreated})
	waitCount(t, &count, 1)

	Reset()
	settle()

	Publish(Event{Type: SessionCreated})
	settle()
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected still 1 event after reset, got %d", got)
	}
}
