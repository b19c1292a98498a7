package threading

import (
	"context"
	"testing"
	"time"
)

func TestFenceStartsOpen(t *testing.T) {
	f := NewFence()
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on fresh fence: %v", err)
	}
}

func TestFenceArmSignal(t *testing.T) {
	f := NewFence()
	f.Arm()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); err == nil {
		t.Fatal("armed fence did not block")
	}

	done := make(chan error, 1)
	go func() { done <- f.Wait(context.Background()) }()
	f.Signal()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}

	// signaling twice is harmless
	f.Signal()
	f.Arm()
	f.Arm()
	select {
	case <-f.Done():
		t.Fatal("re-armed fence is open")
	default:
	}
}
