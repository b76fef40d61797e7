package signals

import (
	"context"
	"testing"
	"time"

	"github.com/vegas-max/titan-arb/pkg/types"
)

func TestMemoryTransportSubscribeCancelClosesChannel(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := tr.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel, got a signal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel did not close after cancellation")
	}

	// The dropped subscriber must not panic later publishes.
	if err := tr.Publish(context.Background(), &types.ExecutionSignal{ID: "after-cancel"}); err != nil {
		t.Fatalf("Publish after cancel: %v", err)
	}
}

func TestMemoryTransportCloseThenCancelIsSafe(t *testing.T) {
	tr := NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := tr.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	cancel() // must not double-close the channel

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed by Close")
	}
}
