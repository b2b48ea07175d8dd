package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPublisherDelivers(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(4)
	defer pub.Close()

	event := OrderConfirmed{
		EventID:    "evt-1",
		OrderID:    "ord_abc",
		OccurredAt: time.Now().UTC(),
	}
	if err := pub.PublishOrderConfirmed(context.Background(), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-pub.Events():
		if got.OrderID != "ord_abc" {
			t.Fatalf("unexpected event: %+v", got)
		}
	default:
		t.Fatalf("expected buffered event")
	}
}

func TestMemoryPublisherNeverBlocks(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(1)
	defer pub.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := pub.PublishOrderConfirmed(ctx, OrderConfirmed{EventID: "evt"}); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
}

func TestMemoryPublisherClosed(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher(1)
	if err := pub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := pub.PublishOrderConfirmed(context.Background(), OrderConfirmed{}); err == nil {
		t.Fatalf("publish after close should fail")
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("double close should be a no-op: %v", err)
	}
}
