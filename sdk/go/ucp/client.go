package ucp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with a UCP-compliant merchant server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Manifest is the discovery document served at /.well-known/ucp.
type Manifest struct {
	UCP      ManifestProtocol `json:"ucp"`
	Payment  ManifestPayment  `json:"payment"`
	Merchant Merchant         `json:"merchant"`
}

// ManifestProtocol describes the protocol version and capabilities.
type ManifestProtocol struct {
	Version      string         `json:"version"`
	Services     map[string]any `json:"services,omitempty"`
	Capabilities []Capability   `json:"capabilities,omitempty"`
}

// Capability is a single declared protocol capability.
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Spec    string `json:"spec,omitempty"`
	Schema  string `json:"schema,omitempty"`
}

// ManifestPayment lists the payment handlers the merchant accepts.
type ManifestPayment struct {
	Handlers []PaymentHandler `json:"handlers"`
}

// PaymentHandler describes an accepted payment handler.
type PaymentHandler struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Version           string         `json:"version,omitempty"`
	Spec              string         `json:"spec,omitempty"`
	ConfigSchema      string         `json:"config_schema,omitempty"`
	InstrumentSchemas []string       `json:"instrument_schemas,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
}

// Merchant describes the shop behind the manifest.
type Merchant struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Product mirrors the catalog wire representation. Price is a decimal
// string such as "49.99".
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Inventory   int    `json:"inventory"`
	ImageURL    string `json:"image_url,omitempty"`
	Category    string `json:"category,omitempty"`
}

// SearchResult is the server-side search response: the shop's display
// name plus the matching products.
type SearchResult struct {
	Shop     string    `json:"shop"`
	Products []Product `json:"products"`
}

// SearchParams narrows a product search. Zero values are omitted.
type SearchParams struct {
	Query    string
	MaxPrice string
	Category string
}

// Money is the {"amount","currency"} wire form.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// LineItem is a priced line inside a session or order.
type LineItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	TotalPrice  Money  `json:"total_price"`
}

// Customer identifies the buyer.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Address is a shipping destination.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Shipping bundles the collected shipping information.
type Shipping struct {
	Address *Address `json:"address"`
	Method  string   `json:"method,omitempty"`
}

// Payment reports the collected payment handler and its status.
type Payment struct {
	Handler string `json:"handler"`
	Status  string `json:"status,omitempty"`
}

// CheckoutSession is the session wire representation.
type CheckoutSession struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	LineItems []LineItem `json:"line_items"`
	Subtotal  Money      `json:"subtotal"`
	Total     Money      `json:"total"`
	Customer  *Customer  `json:"customer,omitempty"`
	Shipping  *Shipping  `json:"shipping,omitempty"`
	Payment   *Payment   `json:"payment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Order     *Order     `json:"order,omitempty"`
}

// Order is the order wire representation.
type Order struct {
	ID                string     `json:"id"`
	CheckoutSessionID string     `json:"checkout_session_id"`
	Status            string     `json:"status"`
	LineItems         []LineItem `json:"line_items"`
	Subtotal          Money      `json:"subtotal"`
	Total             Money      `json:"total"`
	Customer          Customer   `json:"customer"`
	Shipping          Shipping   `json:"shipping"`
	Payment           Payment    `json:"payment"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LineItemInput names a product and quantity when opening a session.
type LineItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateCheckoutRequest opens a new checkout session.
type CreateCheckoutRequest struct {
	LineItems []LineItemInput `json:"line_items"`
	Customer  *Customer       `json:"customer,omitempty"`
}

// UpdateCheckoutRequest is a partial update; nil fields are left unchanged.
type UpdateCheckoutRequest struct {
	Customer        *Customer     `json:"customer,omitempty"`
	ShippingAddress *Address      `json:"shipping_address,omitempty"`
	ShippingMethod  *string       `json:"shipping_method,omitempty"`
	Payment         *PaymentInput `json:"payment,omitempty"`
}

// PaymentInput selects a payment handler and optional instrument data.
type PaymentInput struct {
	Handler    string         `json:"handler,omitempty"`
	Instrument map[string]any `json:"instrument,omitempty"`
}

// CompleteCheckoutRequest finalizes a session into an order.
type CompleteCheckoutRequest struct {
	Payment PaymentInput `json:"payment"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ucp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ucp api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for a merchant server. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// BaseURL returns the merchant base URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Discover fetches the merchant's discovery manifest.
func (c *Client) Discover(ctx context.Context) (*Manifest, error) {
	var manifest Manifest
	if err := c.get(ctx, "/.well-known/ucp", nil, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Products fetches the full catalog.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.get(ctx, "/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// Product fetches a single catalog entry.
func (c *Client) Product(ctx context.Context, id string) (*Product, error) {
	var product Product
	if err := c.get(ctx, "/products/"+url.PathEscape(id), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// SearchProducts runs a server-side catalog search.
func (c *Client) SearchProducts(ctx context.Context, params SearchParams) (*SearchResult, error) {
	query := url.Values{}
	if params.Query != "" {
		query.Set("q", params.Query)
	}
	if params.MaxPrice != "" {
		query.Set("max_price", params.MaxPrice)
	}
	if params.Category != "" {
		query.Set("category", params.Category)
	}
	var result SearchResult
	if err := c.get(ctx, "/products/search", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateCheckout opens a checkout session.
func (c *Client) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.send(ctx, http.MethodPost, "/checkout-sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCheckout fetches a checkout session by id.
func (c *Client) GetCheckout(ctx context.Context, id string) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.get(ctx, "/checkout-sessions/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateCheckout applies a partial update to an open session.
func (c *Client) UpdateCheckout(ctx context.Context, id string, req UpdateCheckoutRequest) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.send(ctx, http.MethodPut, "/checkout-sessions/"+url.PathEscape(id), req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CompleteCheckout finalizes a session; the response embeds the order.
func (c *Client) CompleteCheckout(ctx context.Context, id string, req CompleteCheckoutRequest) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.send(ctx, http.MethodPost, "/checkout-sessions/"+url.PathEscape(id)+"/complete", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CancelCheckout cancels an open session.
func (c *Client) CancelCheckout(ctx context.Context, id string) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.send(ctx, http.MethodPost, "/checkout-sessions/"+url.PathEscape(id)+"/cancel", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.get(ctx, "/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, nil, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode if the server returned a flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
