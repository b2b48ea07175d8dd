package checkout

import (
	"time"

	"UCP-Commerce/internal/catalog"
	"UCP-Commerce/internal/money"
	"UCP-Commerce/internal/payment"
)

// SessionStatus 表示结账会话的生命周期状态。
type SessionStatus string

const (
	StatusOpen      SessionStatus = "open"
	StatusComplete  SessionStatus = "complete"
	StatusCancelled SessionStatus = "cancelled"
	StatusExpired   SessionStatus = "expired"
)

// OrderStatus 表示订单的履约状态。
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// LineItem 是下单时对商品的不可变快照。会话创建后单价与小计
// 不再随目录价格变化。
type LineItem struct {
	ProductID   string
	Name        string
	Description string
	Quantity    int
	UnitPrice   money.Money
	TotalPrice  money.Money
}

// Customer 描述买家信息。
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Address 描述收货地址。
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PaymentInfo 记录会话上收集到的支付方式与授权结果。
type PaymentInfo struct {
	Handler    string
	Instrument payment.Instrument
	Status     string
	Reference  string
}

// Session 是一次进行中的结账。行项目在创建后不可变，
// 仅 customer/shipping/payment 与状态字段允许更新。
type Session struct {
	ID              string
	Status          SessionStatus
	LineItems       []LineItem
	Subtotal        money.Money
	Total           money.Money
	Currency        string
	Customer        *Customer
	ShippingAddress *Address
	ShippingMethod  string
	Payment         *PaymentInfo
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// EffectiveStatus 返回考虑过期时间后的状态。过期不是一次主动迁移，
// 而是在每次状态检查时生效。
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status == StatusOpen && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return StatusExpired
	}
	return s.Status
}

// Items 返回库存扣减所需的商品数量清单。
func (s *Session) Items() []catalog.ItemQuantity {
	items := make([]catalog.ItemQuantity, 0, len(s.LineItems))
	for _, li := range s.LineItems {
		items = append(items, catalog.ItemQuantity{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return items
}

// Order 是结账完成瞬间的完整快照，创建后不再变更商业字段。
type Order struct {
	ID                string
	CheckoutSessionID string
	Status            OrderStatus
	LineItems         []LineItem
	Subtotal          money.Money
	Total             money.Money
	Currency          string
	Customer          Customer
	ShippingAddress   Address
	ShippingMethod    string
	PaymentHandler    string
	PaymentStatus     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
