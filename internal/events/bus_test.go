package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBusEmitReachesSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var calls atomic.Int32
	done := make(chan struct{}, 2)

	handler := func(ctx context.Context, ev Event) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}
	bus.Subscribe(EventCommandExecuted, "first", handler)
	bus.Subscribe(EventCommandExecuted, "second", handler)

	bus.Emit(context.Background(), Event{
		Type:    EventCommandExecuted,
		Source:  "test",
		Payload: CommandPayload{Profile: "minecraft", Command: "list"},
	})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not invoked")
		}
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestBusEmitOtherTypeIgnored(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	called := make(chan struct{}, 1)
	bus.Subscribe(EventServerMessage, "listener", func(ctx context.Context, ev Event) error {
		called <- struct{}{}
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})

	select {
	case <-called:
		t.Fatal("handler received an event of the wrong type")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	bus.Subscribe(EventSessionOpened, "gone", func(ctx context.Context, ev Event) error {
		t.Error("unsubscribed handler invoked")
		return nil
	})
	bus.Unsubscribe(EventSessionOpened, "gone")

	if n := bus.HandlerCount(EventSessionOpened); n != 0 {
		t.Errorf("handler count = %d, want 0", n)
	}

	bus.Emit(context.Background(), Event{Type: EventSessionOpened, Source: "test"})
	time.Sleep(50 * time.Millisecond)
}

func TestBusEmitSyncCollectsError(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	wantErr := errors.New("handler broke")
	bus.Subscribe(EventStateChange, "ok", func(ctx context.Context, ev Event) error {
		return nil
	})
	bus.Subscribe(EventStateChange, "broken", func(ctx context.Context, ev Event) error {
		return wantErr
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventStateChange, Source: "test"})
	if !errors.Is(err, wantErr) {
		t.Errorf("EmitSync error = %v, want %v", err, wantErr)
	}
}

func TestBusRecoverFromPanickingHandler(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	bus.Subscribe(EventSessionError, "panicky", func(ctx context.Context, ev Event) error {
		panic("boom")
	})

	// Must not crash the process.
	if err := bus.EmitSync(context.Background(), Event{Type: EventSessionError, Source: "test"}); err != nil {
		t.Errorf("EmitSync after panic = %v, want nil", err)
	}
}

func TestBusStoppedDropsEvents(t *testing.T) {
	bus := NewBus()

	called := make(chan struct{}, 1)
	bus.Subscribe(EventShutdown, "late", func(ctx context.Context, ev Event) error {
		called <- struct{}{}
		return nil
	})

	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})

	select {
	case <-called:
		t.Fatal("stopped bus dispatched an event")
	case <-time.After(100 * time.Millisecond):
	}
}
