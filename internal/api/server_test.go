package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"UCP-Commerce/internal/agent"
	"UCP-Commerce/internal/catalog"
	"UCP-Commerce/internal/checkout"
	"UCP-Commerce/internal/federation"
	"UCP-Commerce/internal/llm"
	"UCP-Commerce/internal/money"
	"UCP-Commerce/internal/payment"
	redisstore "UCP-Commerce/internal/storage/redis"
)

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.Parse(amount, currency)
	if err != nil {
		t.Fatalf("parse money %s %s: %v", amount, currency, err)
	}
	return m
}

type testServer struct {
	server  *Server
	handler http.Handler
	catalog *catalog.MemoryStore
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	store := catalog.NewMemoryStore([]catalog.Product{
		{
			ID:          "prod_001",
			Name:        "Red Roses Bouquet",
			Description: "Beautiful bouquet of 12 fresh red roses",
			Price:       mustMoney(t, "49.99", "USD"),
			Inventory:   10,
			Category:    "flowers",
		},
		{
			ID:        "prod_012",
			Name:      "Succulent Garden",
			Price:     mustMoney(t, "29.99", "USD"),
			Inventory: 5,
			Category:  "plants",
		},
	})
	registry := payment.NewRegistry()
	if err := registry.Register(payment.NewMockHandler()); err != nil {
		t.Fatalf("register payment handler: %v", err)
	}
	engine := checkout.NewEngine(store, checkout.NewMemoryStore(store), registry)
	server := NewServer(":0", engine, store, registry, opts...)
	return &testServer{server: server, handler: server.Handler(), catalog: store}
}

func (ts *testServer) do(t *testing.T, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestDiscoveryManifest(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/.well-known/ucp", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var manifest Manifest
	decodeInto(t, rec, &manifest)
	if manifest.UCP.Version != "2026-01-11" {
		t.Fatalf("unexpected protocol version: %q", manifest.UCP.Version)
	}
	if _, ok := manifest.UCP.Services["dev.ucp.shopping"]; !ok {
		t.Fatalf("shopping service missing: %+v", manifest.UCP.Services)
	}
	if len(manifest.UCP.Capabilities) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(manifest.UCP.Capabilities))
	}
	if len(manifest.Payment.Handlers) != 1 || manifest.Payment.Handlers[0].ID != "mock_payment_handler" {
		t.Fatalf("unexpected payment handlers: %+v", manifest.Payment.Handlers)
	}
	if manifest.Merchant.Name != "UCP Custom Shop" {
		t.Fatalf("unexpected merchant: %+v", manifest.Merchant)
	}
}

func TestListProductsReturnsBareArray(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/products", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var products []catalog.Response
	decodeInto(t, rec, &products)
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].Price != "49.99" || products[0].Currency != "USD" {
		t.Fatalf("unexpected price encoding: %+v", products[0])
	}
}

func TestGetProductNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/products/prod_999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body struct {
		Error errorBody `json:"error"`
	}
	decodeInto(t, rec, &body)
	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestSearchProductsEnvelope(t *testing.T) {
	ts := newTestServer(t, WithShopName("Test Shop"))
	rec := ts.do(t, http.MethodGet, "/products/search?q=roses&max_price=60", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Shop     string             `json:"shop"`
		Products []catalog.Response `json:"products"`
	}
	decodeInto(t, rec, &body)
	if body.Shop != "Test Shop" {
		t.Fatalf("unexpected shop name: %q", body.Shop)
	}
	if len(body.Products) != 1 || body.Products[0].ID != "prod_001" {
		t.Fatalf("unexpected search results: %+v", body.Products)
	}
}

func TestSearchProductsRejectsBadMaxPrice(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/products/search?max_price=abc", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCheckoutLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// 创建会话。
	rec := ts.do(t, http.MethodPost, "/checkout-sessions", map[string]any{
		"line_items": []map[string]any{{"product_id": "prod_001", "quantity": 2}},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session checkout.SessionResponse
	decodeInto(t, rec, &session)
	if session.Status != "open" || session.Subtotal.String() != "99.98" {
		t.Fatalf("unexpected session: %+v", session)
	}

	// 补全客户与收货信息。
	rec = ts.do(t, http.MethodPut, "/checkout-sessions/"+session.ID, map[string]any{
		"customer": map[string]any{"email": "jane@example.com", "name": "Jane"},
		"shipping_address": map[string]any{
			"line1": "1 Main St", "city": "Springfield", "state": "IL",
			"postal_code": "62704", "country": "US",
		},
		"shipping_method": "standard",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// 完成结账。
	rec = ts.do(t, http.MethodPost, "/checkout-sessions/"+session.ID+"/complete", map[string]any{
		"payment": map[string]any{"handler": "mock_payment_handler", "instrument": map[string]any{"token": "success_token"}},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var completed checkout.SessionResponse
	decodeInto(t, rec, &completed)
	if completed.Status != "completed" || completed.Order == nil {
		t.Fatalf("unexpected completed session: %+v", completed)
	}
	if completed.Order.Status != "confirmed" || completed.Order.Payment.Status != "paid" {
		t.Fatalf("unexpected order: %+v", completed.Order)
	}

	// 订单可以独立查询。
	rec = ts.do(t, http.MethodGet, "/orders/"+completed.Order.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: expected 200, got %d", rec.Code)
	}

	// 库存应已扣减。
	product, err := ts.catalog.Get(context.Background(), "prod_001")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Inventory != 8 {
		t.Fatalf("expected inventory 8, got %d", product.Inventory)
	}
}

func TestCompleteWithoutContactFails(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/checkout-sessions", map[string]any{
		"line_items": []map[string]any{{"product_id": "prod_001", "quantity": 1}},
	}, nil)
	var session checkout.SessionResponse
	decodeInto(t, rec, &session)

	rec = ts.do(t, http.MethodPost, "/checkout-sessions/"+session.ID+"/complete", map[string]any{
		"payment": map[string]any{"handler": "mock_payment_handler"},
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateCheckoutIdempotencyReplay(t *testing.T) {
	ts := newTestServer(t, WithIdempotencyStore(redisstore.NewMemoryStore(time.Hour)))
	header := http.Header{"Idempotency-Key": []string{"key-123"}}
	body := map[string]any{
		"line_items": []map[string]any{{"product_id": "prod_001", "quantity": 1}},
	}

	first := ts.do(t, http.MethodPost, "/checkout-sessions", body, header)
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", first.Code)
	}
	second := ts.do(t, http.MethodPost, "/checkout-sessions", body, header)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	if !bytes.Equal(bytes.TrimSpace(first.Body.Bytes()), bytes.TrimSpace(second.Body.Bytes())) {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	// 不同键产生新会话。
	third := ts.do(t, http.MethodPost, "/checkout-sessions", body, http.Header{"Idempotency-Key": []string{"key-456"}})
	var a, b checkout.SessionResponse
	decodeInto(t, first, &a)
	decodeInto(t, third, &b)
	if a.ID == b.ID {
		t.Fatalf("expected distinct sessions, both %q", a.ID)
	}
}

// chatScript 逐轮返回脚本化的模型响应。
type chatScript struct {
	responses []*llm.Response
	err       error
	wait      time.Duration
}

func (c *chatScript) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c.wait > 0 {
		select {
		case <-time.After(c.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &llm.Response{Text: "ok"}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func chatRegistry(client llm.Client) *agent.Registry {
	searcher := federation.NewSearcher(federation.NewRegistry(nil))
	return agent.NewRegistry(func() *agent.Agent {
		return agent.New(client, nil, searcher)
	})
}

func TestChatPingFastPath(t *testing.T) {
	ts := newTestServer(t, WithAgents(chatRegistry(&chatScript{})))
	rec := ts.do(t, http.MethodPost, "/chat", map[string]any{"message": "ping"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body chatResponse
	decodeInto(t, rec, &body)
	if body.Response != "pong 🏓" {
		t.Fatalf("unexpected reply: %q", body.Response)
	}
}

func TestChatReturnsModelReply(t *testing.T) {
	ts := newTestServer(t, WithAgents(chatRegistry(&chatScript{
		responses: []*llm.Response{{Text: "We have lovely roses."}},
	})))
	rec := ts.do(t, http.MethodPost, "/chat", map[string]any{"message": "do you have roses?"}, nil)
	var body chatResponse
	decodeInto(t, rec, &body)
	if body.Response != "We have lovely roses." {
		t.Fatalf("unexpected reply: %q", body.Response)
	}
	if body.ConversationID == "" {
		t.Fatalf("expected conversation id to be assigned")
	}

	// 同一会话继续对话。
	rec = ts.do(t, http.MethodPost, "/chat", map[string]any{
		"message":         "and tulips?",
		"conversation_id": body.ConversationID,
	}, nil)
	var next chatResponse
	decodeInto(t, rec, &next)
	if next.ConversationID != body.ConversationID {
		t.Fatalf("conversation id changed: %q -> %q", body.ConversationID, next.ConversationID)
	}
}

func TestChatTimeoutDegradesGracefully(t *testing.T) {
	ts := newTestServer(t,
		WithAgents(chatRegistry(&chatScript{wait: 200 * time.Millisecond})),
		WithChatTimeout(20*time.Millisecond),
	)
	rec := ts.do(t, http.MethodPost, "/chat", map[string]any{"message": "slow question"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body chatResponse
	decodeInto(t, rec, &body)
	if body.Response != chatTimeoutReply {
		t.Fatalf("unexpected reply: %q", body.Response)
	}
}

func TestChatUpstreamFailureDegradesGracefully(t *testing.T) {
	ts := newTestServer(t, WithAgents(chatRegistry(&chatScript{err: context.Canceled})))
	rec := ts.do(t, http.MethodPost, "/chat", map[string]any{"message": "hello"}, nil)
	var body chatResponse
	decodeInto(t, rec, &body)
	if body.Response != chatFailureReply {
		t.Fatalf("unexpected reply: %q", body.Response)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t, WithAgents(chatRegistry(&chatScript{})))
	rec := ts.do(t, http.MethodPost, "/chat", map[string]any{"message": "  "}, nil)
	if rec.Code != http.StatusUnprocessableEntity && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d", rec.Code)
	}
}

func TestChatReset(t *testing.T) {
	registry := chatRegistry(&chatScript{responses: []*llm.Response{{Text: "hi"}}})
	ts := newTestServer(t, WithAgents(registry))

	rec := ts.do(t, http.MethodPost, "/chat", map[string]any{"message": "hello"}, nil)
	var body chatResponse
	decodeInto(t, rec, &body)

	rec = ts.do(t, http.MethodPost, "/chat/reset", map[string]any{"conversation_id": body.ConversationID}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var reset map[string]string
	decodeInto(t, rec, &reset)
	if reset["status"] != "ok" || reset["message"] != "Conversation reset" {
		t.Fatalf("unexpected reset body: %+v", reset)
	}
	ag, _ := registry.Acquire(body.ConversationID)
	if ag.HistoryLength() != 0 {
		t.Fatalf("expected history cleared, got %d", ag.HistoryLength())
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	var body map[string]string
	decodeInto(t, rec, &body)
	if body["status"] != "healthy" || !strings.Contains(body["service"], "shop") {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodOptions, "/products", nil, http.Header{
		"Origin":                        []string{"http://localhost:5173"},
		"Access-Control-Request-Method": []string{"GET"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("missing allow-origin header")
	}

	rec = ts.do(t, http.MethodGet, "/products", nil, http.Header{
		"Origin": []string{"http://evil.example.com"},
	})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow-origin for unlisted origin")
	}
}

func TestMetricsEndpointRenders(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/products", nil, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ucp_http_requests_total") {
		t.Fatalf("metrics output missing counters: %s", rec.Body.String())
	}
}
