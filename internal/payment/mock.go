package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"UCP-Commerce/internal/money"
)

// MockHandlerID is the handler id advertised in the discovery manifest.
const MockHandlerID = "mock_payment_handler"

const (
	successToken = "success_token"
	failToken    = "fail_token"
)

// MockHandler simulates a payment processor. It never moves money:
// any instrument authorizes unless it carries the reserved fail token.
type MockHandler struct{}

// NewMockHandler constructs the mock processor.
func NewMockHandler() MockHandler {
	return MockHandler{}
}

// Descriptor implements Handler.
func (MockHandler) Descriptor() Descriptor {
	return Descriptor{
		ID:           MockHandlerID,
		Name:         "dev.ucp.mock_payment",
		Version:      "2026-01-11",
		Spec:         "https://ucp.dev/specs/mock",
		ConfigSchema: "https://ucp.dev/schemas/mock.json",
		InstrumentSchemas: []string{
			"https://ucp.dev/schemas/shopping/types/card_payment_instrument.json",
		},
		Config: map[string]any{
			"supported_tokens": []string{successToken, failToken},
		},
	}
}

// Authorize implements Handler. The fail token is the only way to
// observe a declined payment in development.
func (MockHandler) Authorize(_ context.Context, _ money.Money, instrument Instrument) (Result, error) {
	if token, ok := instrument["token"].(string); ok && token == failToken {
		return Result{}, fmt.Errorf("payment declined by mock handler")
	}
	return Result{
		Status:    "paid",
		Reference: "pay_" + uuid.NewString(),
	}, nil
}
