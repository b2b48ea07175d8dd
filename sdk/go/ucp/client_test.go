package ucp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverParsesManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/ucp" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Manifest{
			UCP: ManifestProtocol{
				Version: "2026-01-11",
				Capabilities: []Capability{
					{Name: "dev.ucp.shopping.checkout"},
					{Name: "dev.ucp.shopping.order"},
				},
			},
			Payment: ManifestPayment{Handlers: []PaymentHandler{{ID: "mock_payment_handler"}}},
			Merchant: Merchant{Name: "UCP Flower Shop"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	manifest, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if manifest.UCP.Version != "2026-01-11" {
		t.Fatalf("unexpected version: %s", manifest.UCP.Version)
	}
	if len(manifest.UCP.Capabilities) != 2 {
		t.Fatalf("unexpected capabilities: %+v", manifest.UCP.Capabilities)
	}
	if manifest.Payment.Handlers[0].ID != "mock_payment_handler" {
		t.Fatalf("unexpected handlers: %+v", manifest.Payment.Handlers)
	}
}

func TestSearchProductsSendsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/search" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "roses" || q.Get("max_price") != "15" || q.Get("category") != "flowers" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(SearchResult{
			Shop: "Garden Paradise",
			Products: []Product{
				{ID: "gp_001", Name: "Red Roses Bouquet", Price: "12.99", Currency: "USD"},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.SearchProducts(context.Background(), SearchParams{
		Query:    "roses",
		MaxPrice: "15",
		Category: "flowers",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Shop != "Garden Paradise" || len(result.Products) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckoutLifecycleCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /checkout-sessions":
			var req CreateCheckoutRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode create: %v", err)
			}
			if len(req.LineItems) != 1 || req.LineItems[0].ProductID != "prod_001" {
				t.Fatalf("unexpected create payload: %+v", req)
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(CheckoutSession{ID: "cs_1", Status: "open"})
		case "PUT /checkout-sessions/cs_1":
			_ = json.NewEncoder(w).Encode(CheckoutSession{ID: "cs_1", Status: "open", Shipping: &Shipping{Method: "standard"}})
		case "POST /checkout-sessions/cs_1/complete":
			_ = json.NewEncoder(w).Encode(CheckoutSession{
				ID: "cs_1", Status: "complete",
				Order: &Order{ID: "ord_1", Status: "confirmed", Payment: Payment{Status: "paid"}},
			})
		case "GET /orders/ord_1":
			_ = json.NewEncoder(w).Encode(Order{ID: "ord_1", Status: "confirmed"})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	session, err := client.CreateCheckout(ctx, CreateCheckoutRequest{
		LineItems: []LineItemInput{{ProductID: "prod_001", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID != "cs_1" {
		t.Fatalf("unexpected session: %+v", session)
	}

	method := "standard"
	if _, err := client.UpdateCheckout(ctx, "cs_1", UpdateCheckoutRequest{ShippingMethod: &method}); err != nil {
		t.Fatalf("update: %v", err)
	}

	completed, err := client.CompleteCheckout(ctx, "cs_1", CompleteCheckoutRequest{
		Payment: PaymentInput{Handler: "mock_payment_handler"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Order == nil || completed.Order.Payment.Status != "paid" {
		t.Fatalf("expected embedded paid order: %+v", completed.Order)
	}

	if _, err := client.GetOrder(ctx, "ord_1"); err != nil {
		t.Fatalf("get order: %v", err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"checkout session not found"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetCheckout(context.Background(), "cs_missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
