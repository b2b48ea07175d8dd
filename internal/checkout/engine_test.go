package checkout

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"UCP-Commerce/internal/catalog"
	xerrors "UCP-Commerce/internal/errors"
	"UCP-Commerce/internal/events"
	"UCP-Commerce/internal/money"
	"UCP-Commerce/internal/payment"
)

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.Parse(amount, currency)
	if err != nil {
		t.Fatalf("parse money: %v", err)
	}
	return m
}

type testEnv struct {
	engine    *Engine
	catalog   *catalog.MemoryStore
	publisher *events.MemoryPublisher
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalogStore := catalog.NewMemoryStore([]catalog.Product{
		{ID: "prod_001", Name: "Red Roses Bouquet", Description: "Beautiful bouquet of 12 fresh red roses", Price: mustMoney(t, "49.99", "USD"), Inventory: 10, Category: "flowers"},
		{ID: "prod_007", Name: "Purple Lavender", Description: "Fragrant lavender stems", Price: mustMoney(t, "19.99", "USD"), Inventory: 3, Category: "flowers"},
		{ID: "prod_050", Name: "Import Special", Description: "Priced in euro", Price: mustMoney(t, "12.50", "EUR"), Inventory: 5, Category: "flowers"},
	})
	registry := payment.NewRegistry()
	if err := registry.Register(payment.NewMockHandler()); err != nil {
		t.Fatalf("register payment handler: %v", err)
	}
	publisher := events.NewMemoryPublisher(16)
	t.Cleanup(func() { publisher.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	engine := NewEngine(catalogStore, NewMemoryStore(catalogStore), registry,
		WithClock(clock.Now),
		WithPublisher(publisher),
	)
	return &testEnv{engine: engine, catalog: catalogStore, publisher: publisher, clock: clock}
}

func fullAddress() *Address {
	return &Address{Line1: "123 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US"}
}

func readySession(t *testing.T, env *testEnv) *Session {
	t.Helper()
	ctx := context.Background()
	session, err := env.engine.Create(ctx, CreateRequest{
		LineItems: []LineItemRequest{{ProductID: "prod_001", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	method := "standard"
	if _, err := env.engine.Update(ctx, session.ID, UpdateRequest{
		Customer:        &Customer{Email: "buyer@example.com", Name: "Buyer"},
		ShippingAddress: fullAddress(),
		ShippingMethod:  &method,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	return session
}

func TestCreateComputesTotals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	session, err := env.engine.Create(context.Background(), CreateRequest{
		LineItems: []LineItemRequest{
			{ProductID: "prod_001", Quantity: 2},
			{ProductID: "prod_007", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if session.Status != StatusOpen {
		t.Fatalf("expected open session, got %s", session.Status)
	}
	if got := session.Subtotal.String(); got != "119.97" {
		t.Fatalf("unexpected subtotal: %s", got)
	}
	if !session.Total.Equal(session.Subtotal) {
		t.Fatalf("total should equal subtotal: %s vs %s", session.Total, session.Subtotal)
	}
	if session.Currency != "USD" {
		t.Fatalf("unexpected currency: %s", session.Currency)
	}
	if len(session.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(session.LineItems))
	}
	first := session.LineItems[0]
	if first.UnitPrice.String() != "49.99" || first.TotalPrice.String() != "99.98" {
		t.Fatalf("line item snapshot wrong: %+v", first)
	}
	if !session.ExpiresAt.Equal(session.CreatedAt.Add(24 * time.Hour)) {
		t.Fatalf("expires_at should be created_at+24h")
	}

	// Creation must not touch inventory.
	product, _ := env.catalog.Get(context.Background(), "prod_001")
	if product.Inventory != 10 {
		t.Fatalf("create leaked an inventory decrement: %d", product.Inventory)
	}
}

func TestCreateFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Create(ctx, CreateRequest{LineItems: []LineItemRequest{{ProductID: "prod_999", Quantity: 1}}})
	if !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	_, err = env.engine.Create(ctx, CreateRequest{LineItems: []LineItemRequest{{ProductID: "prod_007", Quantity: 4}}})
	if !xerrors.IsCode(err, xerrors.CodeInsufficientInventory) {
		t.Fatalf("expected INSUFFICIENT_INVENTORY, got %v", err)
	}

	_, err = env.engine.Create(ctx, CreateRequest{LineItems: []LineItemRequest{{ProductID: "prod_001", Quantity: 0}}})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION for zero quantity, got %v", err)
	}

	_, err = env.engine.Create(ctx, CreateRequest{})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION for empty cart, got %v", err)
	}
}

func TestCreateRejectsMixedCurrencies(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.engine.Create(context.Background(), CreateRequest{
		LineItems: []LineItemRequest{
			{ProductID: "prod_001", Quantity: 1},
			{ProductID: "prod_050", Quantity: 1},
		},
	})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
	if !strings.Contains(err.Error(), "USD") || !strings.Contains(err.Error(), "EUR") {
		t.Fatalf("error should name both currencies: %v", err)
	}
}

func TestUpdatePartialSemantics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session, err := env.engine.Create(ctx, CreateRequest{
		LineItems: []LineItemRequest{{ProductID: "prod_001", Quantity: 2}},
		Customer:  &Customer{Email: "buyer@example.com"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	method := "express"
	updated, err := env.engine.Update(ctx, session.ID, UpdateRequest{
		ShippingAddress: fullAddress(),
		ShippingMethod:  &method,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Customer == nil || updated.Customer.Email != "buyer@example.com" {
		t.Fatalf("omitted customer field was reset: %+v", updated.Customer)
	}
	if updated.ShippingMethod != "express" {
		t.Fatalf("shipping method not applied")
	}
	// Shipping cost is not folded into the total: it stays equal to the
	// subtotal even once a shipping method is chosen.
	if !updated.Total.Equal(updated.Subtotal) {
		t.Fatalf("total drifted from subtotal: %s vs %s", updated.Total, updated.Subtotal)
	}
	if updated.Subtotal.String() != "99.98" {
		t.Fatalf("update recalculated totals: %s", updated.Subtotal)
	}

	if _, err := env.engine.Update(ctx, "cs_missing", UpdateRequest{}); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCompleteRequiresContactAndShipping(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session, err := env.engine.Create(ctx, CreateRequest{
		LineItems: []LineItemRequest{{ProductID: "prod_001", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, _, err = env.engine.Complete(ctx, session.ID, CompleteRequest{})
	if !xerrors.IsCode(err, xerrors.CodeValidation) || !strings.Contains(err.Error(), "email") {
		t.Fatalf("expected email validation, got %v", err)
	}

	if _, err := env.engine.Update(ctx, session.ID, UpdateRequest{Customer: &Customer{Email: "buyer@example.com"}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	_, _, err = env.engine.Complete(ctx, session.ID, CompleteRequest{})
	if !xerrors.IsCode(err, xerrors.CodeValidation) || !strings.Contains(err.Error(), "shipping address") {
		t.Fatalf("expected shipping address validation, got %v", err)
	}

	if _, err := env.engine.Update(ctx, session.ID, UpdateRequest{ShippingAddress: fullAddress()}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	_, _, err = env.engine.Complete(ctx, session.ID, CompleteRequest{})
	if !xerrors.IsCode(err, xerrors.CodeValidation) || !strings.Contains(err.Error(), "shipping method") {
		t.Fatalf("expected shipping method validation, got %v", err)
	}
}

func TestCompleteHappyPath(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session := readySession(t, env)

	completed, order, err := env.engine.Complete(ctx, session.ID, CompleteRequest{})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != StatusComplete {
		t.Fatalf("expected complete status, got %s", completed.Status)
	}
	if order.Status != OrderConfirmed {
		t.Fatalf("expected confirmed order, got %s", order.Status)
	}
	if order.PaymentStatus != "paid" {
		t.Fatalf("expected paid order, got %s", order.PaymentStatus)
	}
	if order.CheckoutSessionID != session.ID {
		t.Fatalf("order not linked to session")
	}
	if len(order.LineItems) != 1 || order.LineItems[0].TotalPrice.String() != "99.98" {
		t.Fatalf("order line items do not mirror session: %+v", order.LineItems)
	}
	if !order.Total.Equal(completed.Total) {
		t.Fatalf("order total mismatch")
	}

	product, _ := env.catalog.Get(ctx, "prod_001")
	if product.Inventory != 8 {
		t.Fatalf("inventory not decremented exactly once: %d", product.Inventory)
	}

	stored, err := env.engine.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if stored.Customer.Email != "buyer@example.com" {
		t.Fatalf("order customer snapshot wrong: %+v", stored.Customer)
	}

	select {
	case event := <-env.publisher.Events():
		if event.OrderID != order.ID || event.Currency != "USD" {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected an order confirmed event")
	}
}

func TestCompleteIsIdempotentOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session := readySession(t, env)

	if _, _, err := env.engine.Complete(ctx, session.ID, CompleteRequest{}); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	_, _, err := env.engine.Complete(ctx, session.ID, CompleteRequest{})
	if !xerrors.IsCode(err, xerrors.CodeInvalidState) {
		t.Fatalf("second complete should fail INVALID_STATE, got %v", err)
	}

	product, _ := env.catalog.Get(ctx, "prod_001")
	if product.Inventory != 8 {
		t.Fatalf("inventory double-decremented: %d", product.Inventory)
	}
}

func TestConcurrentCompleteExactlyOneWins(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session := readySession(t, env)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.engine.Complete(ctx, session.ID, CompleteRequest{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case xerrors.IsCode(err, xerrors.CodeInvalidState):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != racers-1 {
		t.Fatalf("expected exactly one winner, got %d wins %d losses", wins, losses)
	}

	product, _ := env.catalog.Get(ctx, "prod_001")
	if product.Inventory != 8 {
		t.Fatalf("inventory reflects more than one decrement: %d", product.Inventory)
	}
}

func TestCompleteDeclinedPaymentLeavesSessionOpen(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session := readySession(t, env)

	_, _, err := env.engine.Complete(ctx, session.ID, CompleteRequest{
		Payment: PaymentRequest{Instrument: payment.Instrument{"token": "fail_token"}},
	})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION for declined payment, got %v", err)
	}

	got, err := env.engine.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusOpen {
		t.Fatalf("declined payment must leave the session open, got %s", got.Status)
	}
	product, _ := env.catalog.Get(ctx, "prod_001")
	if product.Inventory != 10 {
		t.Fatalf("declined payment must not touch inventory: %d", product.Inventory)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session := readySession(t, env)

	cancelled, err := env.engine.Cancel(ctx, session.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	product, _ := env.catalog.Get(ctx, "prod_001")
	if product.Inventory != 10 {
		t.Fatalf("cancel must not touch inventory: %d", product.Inventory)
	}

	if _, err := env.engine.Cancel(ctx, session.ID); !xerrors.IsCode(err, xerrors.CodeInvalidState) {
		t.Fatalf("second cancel should fail INVALID_STATE, got %v", err)
	}
	if _, _, err := env.engine.Complete(ctx, session.ID, CompleteRequest{}); !xerrors.IsCode(err, xerrors.CodeInvalidState) {
		t.Fatalf("complete after cancel should fail INVALID_STATE, got %v", err)
	}
}

func TestExpiryHonouredOnStatusChecks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	session := readySession(t, env)

	env.clock.Advance(25 * time.Hour)

	got, err := env.engine.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected expired view, got %s", got.Status)
	}

	if _, err := env.engine.Update(ctx, session.ID, UpdateRequest{}); !xerrors.IsCode(err, xerrors.CodeInvalidState) {
		t.Fatalf("update of expired session should fail, got %v", err)
	}
	if _, _, err := env.engine.Complete(ctx, session.ID, CompleteRequest{}); !xerrors.IsCode(err, xerrors.CodeInvalidState) {
		t.Fatalf("complete of expired session should fail, got %v", err)
	}
	if _, err := env.engine.Cancel(ctx, session.ID); !xerrors.IsCode(err, xerrors.CodeInvalidState) {
		t.Fatalf("cancel of expired session should fail, got %v", err)
	}
}

func TestSessionResponseRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	session := readySession(t, env)

	// The snapshot in readySession predates the update; re-read for the full view.
	full, err := env.engine.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	response := full.ToResponse(env.clock.Now())

	encoded, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded SessionResponse
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Status != response.Status {
		t.Fatalf("status lost in round trip: %s vs %s", decoded.Status, response.Status)
	}
	if !decoded.Subtotal.Equal(response.Subtotal) || !decoded.Total.Equal(response.Total) {
		t.Fatalf("totals lost in round trip")
	}
	if len(decoded.LineItems) != len(response.LineItems) {
		t.Fatalf("line items lost in round trip")
	}
	for i := range decoded.LineItems {
		if decoded.LineItems[i].ID != response.LineItems[i].ID ||
			decoded.LineItems[i].Quantity != response.LineItems[i].Quantity ||
			!decoded.LineItems[i].UnitPrice.Equal(response.LineItems[i].UnitPrice) ||
			!decoded.LineItems[i].TotalPrice.Equal(response.LineItems[i].TotalPrice) {
			t.Fatalf("line item %d mismatch: %+v vs %+v", i, decoded.LineItems[i], response.LineItems[i])
		}
	}
}
