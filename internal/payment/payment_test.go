package payment

import (
	"context"
	"testing"

	"UCP-Commerce/internal/money"
)

func TestMockHandlerAuthorize(t *testing.T) {
	t.Parallel()

	handler := NewMockHandler()
	total, _ := money.Parse("99.98", "USD")

	result, err := handler.Authorize(context.Background(), total, Instrument{"token": "success_token"})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if result.Status != "paid" {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.Reference == "" {
		t.Fatalf("expected a payment reference")
	}

	// Missing token still authorizes; only the fail token declines.
	if _, err := handler.Authorize(context.Background(), total, nil); err != nil {
		t.Fatalf("nil instrument should authorize: %v", err)
	}
	if _, err := handler.Authorize(context.Background(), total, Instrument{"token": "fail_token"}); err == nil {
		t.Fatalf("fail token should decline")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(NewMockHandler()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register(NewMockHandler()); err == nil {
		t.Fatalf("duplicate registration should fail")
	}

	if _, ok := registry.Get(MockHandlerID); !ok {
		t.Fatalf("handler not found after registration")
	}
	if _, ok := registry.Get("stripe"); ok {
		t.Fatalf("unexpected handler")
	}

	descriptors := registry.Descriptors()
	if len(descriptors) != 1 || descriptors[0].ID != MockHandlerID {
		t.Fatalf("unexpected descriptors: %+v", descriptors)
	}
}
