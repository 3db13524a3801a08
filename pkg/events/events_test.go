package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBusDispatchesToTypeAndAllSubscribers(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var typed, all []Event

	b.Subscribe(VectorAdd, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		typed = append(typed, e)
	})
	b.Subscribe(AllTypes, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, e)
	})

	b.Emit(Event{Type: VectorAdd, Payload: map[string]any{"id": "a"}})
	b.Emit(Event{Type: VectorDelete, Payload: map[string]any{"id": "b"}})

	mu.Lock()
	defer mu.Unlock()
	if len(typed) != 1 || typed[0].Type != VectorAdd {
		t.Fatalf("expected exactly one VectorAdd delivery, got %v", typed)
	}
	if len(all) != 2 {
		t.Fatalf("expected the wildcard subscriber to see both events, got %v", all)
	}
}

func TestAutoSaverSkipsOverlappingTicks(t *testing.T) {
	var calls int
	var mu sync.Mutex
	release := make(chan struct{})

	saver := NewAutoSaver(5*time.Millisecond, func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return nil
	}, nil)
	saver.Start()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	blocked := calls
	mu.Unlock()

	close(release)
	saver.Stop()

	if blocked != 1 {
		t.Fatalf("expected exactly one call while the first was still blocked, got %d", blocked)
	}
}

func TestAutoSaverReportsErrors(t *testing.T) {
	var gotErr error
	done := make(chan struct{})
	var once sync.Once
	saver := NewAutoSaver(2*time.Millisecond, func() error {
		return errors.New("boom")
	}, func(err error) {
		once.Do(func() {
			gotErr = err
			close(done)
		})
	})
	saver.Start()
	defer saver.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onError to fire")
	}
	if gotErr == nil || gotErr.Error() != "boom" {
		t.Fatalf("expected the boom error to be reported, got %v", gotErr)
	}
}
