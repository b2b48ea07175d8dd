package checkout

import (
	"time"

	"UCP-Commerce/internal/money"
)

// LineItemResponse 是行项目的对外 JSON 结构。
type LineItemResponse struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	TotalPrice  money.Money `json:"total_price"`
}

// ShippingResponse 汇总收货信息。
type ShippingResponse struct {
	Address *Address `json:"address"`
	Method  string   `json:"method,omitempty"`
}

// PaymentResponse 汇总支付信息，不回传支付凭据。
type PaymentResponse struct {
	Handler string `json:"handler"`
	Status  string `json:"status,omitempty"`
}

// SessionResponse 是结账会话的对外 JSON 结构。
type SessionResponse struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	LineItems []LineItemResponse `json:"line_items"`
	Subtotal  money.Money        `json:"subtotal"`
	Total     money.Money        `json:"total"`
	Customer  *Customer          `json:"customer,omitempty"`
	Shipping  *ShippingResponse  `json:"shipping,omitempty"`
	Payment   *PaymentResponse   `json:"payment,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	Order     *OrderResponse     `json:"order,omitempty"`
}

// OrderResponse 是订单的对外 JSON 结构。
type OrderResponse struct {
	ID                string             `json:"id"`
	CheckoutSessionID string             `json:"checkout_session_id"`
	Status            string             `json:"status"`
	LineItems         []LineItemResponse `json:"line_items"`
	Subtotal          money.Money        `json:"subtotal"`
	Total             money.Money        `json:"total"`
	Customer          Customer           `json:"customer"`
	Shipping          ShippingResponse   `json:"shipping"`
	Payment           PaymentResponse    `json:"payment"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func lineItemResponses(items []LineItem) []LineItemResponse {
	out := make([]LineItemResponse, 0, len(items))
	for _, li := range items {
		out = append(out, LineItemResponse{
			ID:          li.ProductID,
			Name:        li.Name,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			TotalPrice:  li.TotalPrice,
		})
	}
	return out
}

// ToResponse 按给定时刻的有效状态渲染会话。
func (s *Session) ToResponse(now time.Time) SessionResponse {
	resp := SessionResponse{
		ID:        s.ID,
		Status:    string(s.EffectiveStatus(now)),
		LineItems: lineItemResponses(s.LineItems),
		Subtotal:  s.Subtotal,
		Total:     s.Total,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	if s.Customer != nil && s.Customer.Email != "" {
		customer := *s.Customer
		resp.Customer = &customer
	}
	if s.ShippingAddress != nil {
		address := *s.ShippingAddress
		resp.Shipping = &ShippingResponse{Address: &address, Method: s.ShippingMethod}
	}
	if s.Payment != nil && s.Payment.Handler != "" {
		resp.Payment = &PaymentResponse{Handler: s.Payment.Handler, Status: s.Payment.Status}
	}
	return resp
}

// ToResponse 渲染订单。
func (o *Order) ToResponse() OrderResponse {
	address := o.ShippingAddress
	return OrderResponse{
		ID:                o.ID,
		CheckoutSessionID: o.CheckoutSessionID,
		Status:            string(o.Status),
		LineItems:         lineItemResponses(o.LineItems),
		Subtotal:          o.Subtotal,
		Total:             o.Total,
		Customer:          o.Customer,
		Shipping:          ShippingResponse{Address: &address, Method: o.ShippingMethod},
		Payment:           PaymentResponse{Handler: o.PaymentHandler, Status: o.PaymentStatus},
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
