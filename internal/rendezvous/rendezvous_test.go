package rendezvous

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAwaitTerminalWakesOnPublish(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	r.Register(id)

	done := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- r.AwaitTerminal(ctx, id)
	}()

	time.Sleep(10 * time.Millisecond)
	r.Publish(id)

	select {
	case woke := <-done:
		if !woke {
			t.Fatal("expected AwaitTerminal to report a wake, got timeout/false")
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitTerminal did not return after Publish")
	}
}

func TestAwaitTerminalUnregisteredReturnsFalse(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if r.AwaitTerminal(ctx, id) {
		t.Fatal("expected false for an id that was never registered")
	}
}

func TestAwaitTerminalContextCancelled(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	r.Register(id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if r.AwaitTerminal(ctx, id) {
		t.Fatal("expected false when the context deadline elapses before Publish")
	}
}

func TestPublishWithoutRegisterIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Publish(uuid.New())
}

func TestPublishOnlyWakesOnce(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	r.Register(id)
	r.Publish(id)
	r.Publish(id) // must not panic on double-close via the delete-then-close guard
}

func TestForgetRemovesWaiterWithoutWaking(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	r.Register(id)
	r.Forget(id)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if r.AwaitTerminal(ctx, id) {
		t.Fatal("expected false after Forget removed the waiter")
	}
}

func TestForgetThenPublishIsNoop(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	r.Register(id)
	r.Forget(id)
	r.Publish(id) // must not panic; the waiter is already gone
}
