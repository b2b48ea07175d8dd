package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"UCP-Commerce/sdk/go/ucp"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ucp.Product{{
			ID:       "prod_001",
			Name:     "Red Roses Bouquet",
			Price:    "49.99",
			Currency: "USD",
		}})
	})
	mux.HandleFunc("POST /checkout-sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ucp.CheckoutSession{
			ID:        "cs_demo",
			Status:    "incomplete",
			Subtotal:  ucp.Money{Amount: "49.99", Currency: "USD"},
			Total:     ucp.Money{Amount: "49.99", Currency: "USD"},
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
		})
	})
	mux.HandleFunc("PUT /checkout-sessions/cs_demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ucp.CheckoutSession{
			ID:       "cs_demo",
			Status:   "ready_for_payment",
			Customer: &ucp.Customer{Email: "demo@example.com"},
		})
	})
	mux.HandleFunc("POST /checkout-sessions/cs_demo/complete", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ucp.CheckoutSession{
			ID:     "cs_demo",
			Status: "completed",
			Order: &ucp.Order{
				ID:                "order_demo",
				CheckoutSessionID: "cs_demo",
				Status:            "confirmed",
				Payment:           ucp.Payment{Handler: "mock_payment_handler", Status: "paid"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := ucp.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	products, err := client.Products(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("catalog lists %d product(s), first: %s (%s %s)\n",
		len(products), products[0].Name, products[0].Price, products[0].Currency)

	session, err := client.CreateCheckout(ctx, ucp.CreateCheckoutRequest{
		LineItems: []ucp.LineItemInput{{ProductID: products[0].ID, Quantity: 1}},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("opened checkout %s (status=%s, total=%s %s)\n",
		session.ID, session.Status, session.Total.Amount, session.Total.Currency)

	session, err = client.UpdateCheckout(ctx, session.ID, ucp.UpdateCheckoutRequest{
		Customer: &ucp.Customer{Email: "demo@example.com"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("updated checkout %s (status=%s)\n", session.ID, session.Status)

	session, err = client.CompleteCheckout(ctx, session.ID, ucp.CompleteCheckoutRequest{
		Payment: ucp.PaymentInput{
			Handler:    "mock_payment_handler",
			Instrument: map[string]any{"token": "success_token"},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("completed checkout %s, order %s (status=%s)\n",
		session.ID, session.Order.ID, session.Order.Status)
}
