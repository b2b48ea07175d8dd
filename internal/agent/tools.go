package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"UCP-Commerce/internal/federation"
	"UCP-Commerce/internal/llm"
	"UCP-Commerce/internal/observability/metrics"
	"UCP-Commerce/sdk/go/ucp"
)

// maxSearchResults 限制回传给模型的联盟检索结果条数。
const maxSearchResults = 10

// ShopClient 是智能体操作主商家所需的最小客户端能力。
// *ucp.Client 满足该接口。
type ShopClient interface {
	Products(ctx context.Context) ([]ucp.Product, error)
	CreateCheckout(ctx context.Context, req ucp.CreateCheckoutRequest) (*ucp.CheckoutSession, error)
	UpdateCheckout(ctx context.Context, id string, req ucp.UpdateCheckoutRequest) (*ucp.CheckoutSession, error)
	CompleteCheckout(ctx context.Context, id string, req ucp.CompleteCheckoutRequest) (*ucp.CheckoutSession, error)
	CancelCheckout(ctx context.Context, id string) (*ucp.CheckoutSession, error)
	GetOrder(ctx context.Context, id string) (*ucp.Order, error)
}

// Searcher 是联盟检索能力。*federation.Searcher 满足该接口。
type Searcher interface {
	SearchAll(ctx context.Context, params federation.Params) []federation.TaggedProduct
}

// toolDefinitions 向模型声明全部可用工具。
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "search_all_shops",
			Description: "Search for products across all federated shops. Use this to find products matching criteria like name, price, or category.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "query": {"type": "string", "description": "Product name or keyword to search"},
                    "max_price": {"type": "number", "description": "Maximum price filter"},
                    "category": {"type": "string", "description": "Category: flowers, plants, or arrangements"}
                }
            }`),
		},
		{
			Name:        "list_products",
			Description: "List all available products in the main shop. Use this when the user wants to browse.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "get_product_details",
			Description: "Get detailed information about a specific product by its ID.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "product_id": {"type": "string", "description": "The product ID (e.g., 'prod_001')"}
                },
                "required": ["product_id"]
            }`),
		},
		{
			Name:        "create_checkout",
			Description: "Create a checkout session to purchase a product. Use this when the user wants to buy something.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "product_id": {"type": "string", "description": "The product ID to purchase"},
                    "quantity": {"type": "integer", "description": "Quantity to purchase (default: 1)"},
                    "customer_email": {"type": "string", "description": "Customer's email address if already known"}
                },
                "required": ["product_id"]
            }`),
		},
		{
			Name:        "update_checkout",
			Description: "Update a checkout session with customer and shipping information.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "checkout_id": {"type": "string", "description": "The checkout session ID"},
                    "customer_email": {"type": "string", "description": "Customer's email address"},
                    "customer_name": {"type": "string", "description": "Customer's name"},
                    "shipping_address": {
                        "type": "object",
                        "description": "Shipping address",
                        "properties": {
                            "line1": {"type": "string"},
                            "city": {"type": "string"},
                            "state": {"type": "string"},
                            "postal_code": {"type": "string"},
                            "country": {"type": "string"}
                        }
                    },
                    "shipping_method": {"type": "string", "description": "Shipping method (e.g., 'standard', 'express')"}
                },
                "required": ["checkout_id"]
            }`),
		},
		{
			Name:        "complete_checkout",
			Description: "Complete a checkout session and place the order. Use this after all customer and shipping info is collected.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "checkout_id": {"type": "string", "description": "The checkout session ID to complete"}
                },
                "required": ["checkout_id"]
            }`),
		},
		{
			Name:        "cancel_checkout",
			Description: "Cancel an open checkout session.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "checkout_id": {"type": "string", "description": "The checkout session ID to cancel"}
                },
                "required": ["checkout_id"]
            }`),
		},
		{
			Name:        "get_order",
			Description: "Get details of an order by its ID.",
			Parameters: json.RawMessage(`{
                "type": "object",
                "properties": {
                    "order_id": {"type": "string", "description": "The order ID"}
                },
                "required": ["order_id"]
            }`),
		},
	}
}

type searchArgs struct {
	Query    string   `json:"query"`
	MaxPrice *float64 `json:"max_price"`
	Category string   `json:"category"`
}

type productArgs struct {
	ProductID string `json:"product_id"`
}

type createCheckoutArgs struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	CustomerEmail string `json:"customer_email"`
}

type updateCheckoutArgs struct {
	CheckoutID      string       `json:"checkout_id"`
	CustomerEmail   string       `json:"customer_email"`
	CustomerName    string       `json:"customer_name"`
	ShippingAddress *ucp.Address `json:"shipping_address"`
	ShippingMethod  string       `json:"shipping_method"`
}

type checkoutArgs struct {
	CheckoutID string `json:"checkout_id"`
}

type orderArgs struct {
	OrderID string `json:"order_id"`
}

// executeTool 执行一次工具调用，结果始终以 JSON 字符串回传给模型。
// 未知工具与执行失败都折叠为 {"error": ...} 结果，不向调用方抛错。
func (a *Agent) executeTool(ctx context.Context, call *llm.ToolCall) string {
	result, err := a.dispatchTool(ctx, call)
	metrics.ObserveToolCall(call.Name, err == nil)
	if err != nil {
		return toolError(err.Error())
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return toolError("failed to encode tool result: " + err.Error())
	}
	return string(encoded)
}

func (a *Agent) dispatchTool(ctx context.Context, call *llm.ToolCall) (any, error) {
	switch call.Name {
	case "search_all_shops":
		var args searchArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		params := federation.Params{Query: args.Query, Category: args.Category}
		if args.MaxPrice != nil {
			max := decimal.NewFromFloat(*args.MaxPrice)
			params.MaxPrice = &max
		}
		results := a.searcher.SearchAll(ctx, params)
		if len(results) == 0 {
			return map[string]any{
				"message": "No products found matching your criteria",
				"results": []federation.TaggedProduct{},
			}, nil
		}
		total := len(results)
		if len(results) > maxSearchResults {
			results = results[:maxSearchResults]
		}
		return map[string]any{"total_results": total, "results": results}, nil

	case "list_products":
		products, err := a.shop.Products(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"products": products}, nil

	case "get_product_details":
		var args productArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		products, err := a.shop.Products(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			if p.ID == args.ProductID {
				return p, nil
			}
		}
		return map[string]any{"error": "Product not found"}, nil

	case "create_checkout":
		var args createCheckoutArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		quantity := args.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		req := ucp.CreateCheckoutRequest{
			LineItems: []ucp.LineItemInput{{ProductID: args.ProductID, Quantity: quantity}},
		}
		if args.CustomerEmail != "" {
			req.Customer = &ucp.Customer{Email: args.CustomerEmail}
		}
		session, err := a.shop.CreateCheckout(ctx, req)
		if err != nil {
			return nil, err
		}
		a.currentCheckoutID = session.ID
		return session, nil

	case "update_checkout":
		var args updateCheckoutArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		req := ucp.UpdateCheckoutRequest{ShippingAddress: args.ShippingAddress}
		if args.CustomerEmail != "" || args.CustomerName != "" {
			req.Customer = &ucp.Customer{Email: args.CustomerEmail, Name: args.CustomerName}
		}
		if args.ShippingMethod != "" {
			method := args.ShippingMethod
			req.ShippingMethod = &method
		}
		return a.shop.UpdateCheckout(ctx, args.CheckoutID, req)

	case "complete_checkout":
		var args checkoutArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		session, err := a.shop.CompleteCheckout(ctx, args.CheckoutID, ucp.CompleteCheckoutRequest{
			Payment: ucp.PaymentInput{Handler: "mock_payment_handler"},
		})
		if err != nil {
			return nil, err
		}
		if args.CheckoutID == a.currentCheckoutID {
			a.currentCheckoutID = ""
		}
		return session, nil

	case "cancel_checkout":
		var args checkoutArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		session, err := a.shop.CancelCheckout(ctx, args.CheckoutID)
		if err != nil {
			return nil, err
		}
		if args.CheckoutID == a.currentCheckoutID {
			a.currentCheckoutID = ""
		}
		return session, nil

	case "get_order":
		var args orderArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return a.shop.GetOrder(ctx, args.OrderID)

	default:
		return nil, fmt.Errorf("Unknown function: %s", call.Name)
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func toolError(message string) string {
	encoded, _ := json.Marshal(map[string]string{"error": message})
	return string(encoded)
}
