package events

import (
	"context"
	"time"
)

// OrderConfirmed 描述一笔订单确认事件，在结账完成后发布。
type OrderConfirmed struct {
	EventID           string    `json:"event_id"`
	OrderID           string    `json:"order_id"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	TotalAmount       string    `json:"total_amount"`
	Currency          string    `json:"currency"`
	CustomerEmail     string    `json:"customer_email"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Publisher 抽象订单事件的发布通道。发布失败不应阻断结账流程，
// 由调用方决定是否记录告警。
type Publisher interface {
	PublishOrderConfirmed(ctx context.Context, event OrderConfirmed) error
	Close() error
}
