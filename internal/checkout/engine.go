package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"UCP-Commerce/internal/catalog"
	xerrors "UCP-Commerce/internal/errors"
	"UCP-Commerce/internal/events"
	"UCP-Commerce/internal/money"
	"UCP-Commerce/internal/payment"
	"UCP-Commerce/pkg/logger"
)

// 会话默认有效期。
const defaultSessionTTL = 24 * time.Hour

// LineItemRequest 描述创建会话时的单个行项目。
type LineItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateRequest 描述创建结账会话的请求。
type CreateRequest struct {
	LineItems []LineItemRequest `json:"line_items"`
	Customer  *Customer         `json:"customer,omitempty"`
}

// PaymentRequest 描述支付方式与凭据。
type PaymentRequest struct {
	Handler    string             `json:"handler"`
	Instrument payment.Instrument `json:"instrument,omitempty"`
}

// UpdateRequest 描述部分更新请求，未提供的字段保持原值。
type UpdateRequest struct {
	Customer        *Customer       `json:"customer,omitempty"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	ShippingMethod  *string         `json:"shipping_method,omitempty"`
	Payment         *PaymentRequest `json:"payment,omitempty"`
}

// CompleteRequest 描述完成结账的请求。
type CompleteRequest struct {
	Payment PaymentRequest `json:"payment"`
}

// Engine 是结账与订单的状态机核心，协调目录、持久化、
// 支付处理器与订单事件。
type Engine struct {
	catalog   catalog.Store
	store     Store
	payments  *payment.Registry
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
	ttl       time.Duration
}

// Option 定义可选的 Engine 配置。
type Option func(*Engine)

// WithClock 注入时钟，仅测试使用。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSessionTTL 覆盖会话有效期。
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithPublisher 配置订单事件发布器。
func WithPublisher(pub events.Publisher) Option {
	return func(e *Engine) {
		e.publisher = pub
	}
}

// WithLogger 配置日志器。
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine 创建结账引擎。
func NewEngine(catalogStore catalog.Store, store Store, payments *payment.Registry, opts ...Option) *Engine {
	engine := &Engine{
		catalog:  catalogStore,
		store:    store,
		payments: payments,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		ttl:      defaultSessionTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Create 校验库存后对每个商品做快照并创建 OPEN 会话。
// 快照之后的价格变动不再影响会话金额。
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if len(req.LineItems) == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "line_items cannot be empty")
	}

	now := e.now()
	lineItems := make([]LineItem, 0, len(req.LineItems))
	subtotal := money.Money{}
	currency := ""

	for _, item := range req.LineItems {
		if item.Quantity <= 0 {
			return nil, xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("invalid quantity %d for product %s", item.Quantity, item.ProductID))
		}
		product, err := e.catalog.Get(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product.Inventory < item.Quantity {
			return nil, xerrors.New(xerrors.CodeInsufficientInventory,
				fmt.Sprintf("insufficient inventory for %s", product.Name),
				xerrors.WithMetadata("product_id", product.ID))
		}
		// 混合币种购物车直接拒绝，避免产生无定义的合计金额。
		if currency != "" && product.Price.Currency != currency {
			return nil, xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("mixed currencies in cart: %s and %s", currency, product.Price.Currency))
		}
		currency = product.Price.Currency

		lineTotal := product.Price.Mul(item.Quantity)
		lineItems = append(lineItems, LineItem{
			ProductID:   product.ID,
			Name:        product.Name,
			Description: product.Description,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			TotalPrice:  lineTotal,
		})
		sum, err := subtotal.Add(lineTotal)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "failed to total cart")
		}
		subtotal = sum
	}

	session := &Session{
		ID:        newID("cs"),
		Status:    StatusOpen,
		LineItems: lineItems,
		Subtotal:  subtotal,
		// 运费与税费尚未计入，总价等于小计。
		Total:     subtotal,
		Currency:  currency,
		Customer:  req.Customer,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(e.ttl),
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get 返回会话，状态按当前时刻折算过期。
func (e *Engine) Get(ctx context.Context, id string) (*Session, error) {
	session, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Status = session.EffectiveStatus(e.now())
	return session, nil
}

// Update 对 OPEN 会话做部分更新，金额永不重算。
func (e *Engine) Update(ctx context.Context, id string, req UpdateRequest) (*Session, error) {
	session, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if status := session.EffectiveStatus(e.now()); status != StatusOpen {
		return nil, xerrors.New(xerrors.CodeInvalidState, "cannot update a closed checkout session")
	}

	patch := &Session{ID: id}
	if req.Customer != nil {
		patch.Customer = req.Customer
	}
	if req.ShippingAddress != nil {
		patch.ShippingAddress = req.ShippingAddress
	}
	if req.ShippingMethod != nil {
		patch.ShippingMethod = *req.ShippingMethod
	}
	if req.Payment != nil {
		patch.Payment = &PaymentInfo{Handler: req.Payment.Handler, Instrument: req.Payment.Instrument}
	}
	if err := e.store.UpdateSession(ctx, patch); err != nil {
		return nil, err
	}
	return e.Get(ctx, id)
}

// Complete 完成结账：校验必填信息、调用支付处理器、在单个事务内
// 落订单并扣减库存。对同一会话并发调用时只有一个成功。
func (e *Engine) Complete(ctx context.Context, id string, req CompleteRequest) (*Session, *Order, error) {
	session, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	now := e.now()
	if status := session.EffectiveStatus(now); status != StatusOpen {
		return nil, nil, xerrors.New(xerrors.CodeInvalidState, "checkout session is not open")
	}
	if session.Customer == nil || session.Customer.Email == "" {
		return nil, nil, xerrors.New(xerrors.CodeValidation, "customer email is required")
	}
	if session.ShippingAddress == nil {
		return nil, nil, xerrors.New(xerrors.CodeValidation, "shipping address is required")
	}
	if session.ShippingMethod == "" {
		return nil, nil, xerrors.New(xerrors.CodeValidation, "shipping method is required")
	}

	handlerID := strings.TrimSpace(req.Payment.Handler)
	if handlerID == "" {
		handlerID = payment.MockHandlerID
	}
	handler, ok := e.payments.Get(handlerID)
	if !ok {
		return nil, nil, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("unknown payment handler %s", handlerID))
	}
	result, err := handler.Authorize(ctx, session.Total, req.Payment.Instrument)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeValidation, err, "payment was declined")
	}

	pay := PaymentInfo{
		Handler:    handlerID,
		Instrument: req.Payment.Instrument,
		Status:     result.Status,
		Reference:  result.Reference,
	}
	order := &Order{
		ID:                newID("ord"),
		CheckoutSessionID: session.ID,
		Status:            OrderConfirmed,
		LineItems:         append([]LineItem(nil), session.LineItems...),
		Subtotal:          session.Subtotal,
		Total:             session.Total,
		Currency:          session.Currency,
		Customer:          *session.Customer,
		ShippingAddress:   *session.ShippingAddress,
		ShippingMethod:    session.ShippingMethod,
		PaymentHandler:    handlerID,
		PaymentStatus:     result.Status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	completed, err := e.store.CompleteSession(ctx, session.ID, pay, order)
	if err != nil {
		return nil, nil, err
	}

	logger.Audit().Info("订单确认",
		"order_id", order.ID,
		"checkout_session_id", session.ID,
		"total", order.Total.String(),
		"currency", order.Currency,
		"customer_email", order.Customer.Email)

	if e.publisher != nil {
		event := events.OrderConfirmed{
			EventID:           uuid.NewString(),
			OrderID:           order.ID,
			CheckoutSessionID: session.ID,
			TotalAmount:       order.Total.String(),
			Currency:          order.Currency,
			CustomerEmail:     order.Customer.Email,
			OccurredAt:        now,
		}
		if err := e.publisher.PublishOrderConfirmed(ctx, event); err != nil {
			// 事件发布失败不回滚订单，仅记录。
			e.log.Warn("failed to publish order event", "order_id", order.ID, "error", err)
		}
	}
	return completed, order, nil
}

// Cancel 取消 OPEN 会话，无库存与订单副作用。
func (e *Engine) Cancel(ctx context.Context, id string) (*Session, error) {
	session, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if status := session.EffectiveStatus(e.now()); status != StatusOpen {
		return nil, xerrors.New(xerrors.CodeInvalidState, "checkout session is not open")
	}
	return e.store.CancelSession(ctx, id)
}

// GetOrder 返回订单。
func (e *Engine) GetOrder(ctx context.Context, id string) (*Order, error) {
	return e.store.GetOrder(ctx, id)
}

// Now 返回引擎时钟的当前时刻，供渲染层折算过期状态。
func (e *Engine) Now() time.Time {
	return e.now()
}
