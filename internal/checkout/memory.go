package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"UCP-Commerce/internal/catalog"
	xerrors "UCP-Commerce/internal/errors"
)

// MemoryStore 以内存方式保存会话与订单，用于单店部署与测试。
// 库存扣减委托给目录存储，其整体校验语义保证了无部分扣减。
type MemoryStore struct {
	mu       sync.Mutex
	catalog  catalog.Store
	sessions map[string]*Session
	orders   map[string]*Order
	now      func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(catalogStore catalog.Store) *MemoryStore {
	return &MemoryStore{
		catalog:  catalogStore,
		sessions: make(map[string]*Session),
		orders:   make(map[string]*Order),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cloneSession(s *Session) *Session {
	clone := *s
	clone.LineItems = append([]LineItem(nil), s.LineItems...)
	if s.Customer != nil {
		customer := *s.Customer
		clone.Customer = &customer
	}
	if s.ShippingAddress != nil {
		address := *s.ShippingAddress
		clone.ShippingAddress = &address
	}
	if s.Payment != nil {
		pay := *s.Payment
		clone.Payment = &pay
	}
	return &clone
}

func cloneOrder(o *Order) *Order {
	clone := *o
	clone.LineItems = append([]LineItem(nil), o.LineItems...)
	return &clone
}

// CreateSession 实现 Store 接口。
func (m *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return xerrors.New(xerrors.CodeInvalidState, fmt.Sprintf("checkout session %s already exists", session.ID))
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession 实现 Store 接口。
func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	return cloneSession(session), nil
}

// UpdateSession 实现 Store 接口。仅覆盖可变字段，行项目与金额保持不变。
func (m *MemoryStore) UpdateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	if stored.Status != StatusOpen {
		return xerrors.New(xerrors.CodeInvalidState, "cannot update a closed checkout session")
	}
	if session.Customer != nil {
		customer := *session.Customer
		stored.Customer = &customer
	}
	if session.ShippingAddress != nil {
		address := *session.ShippingAddress
		stored.ShippingAddress = &address
	}
	if session.ShippingMethod != "" {
		stored.ShippingMethod = session.ShippingMethod
	}
	if session.Payment != nil {
		pay := *session.Payment
		stored.Payment = &pay
	}
	stored.UpdatedAt = m.now()
	return nil
}

// CompleteSession 实现 Store 接口。状态检查、库存扣减与订单写入
// 在同一把锁内完成，输家观察到 INVALID_STATE。
func (m *MemoryStore) CompleteSession(ctx context.Context, id string, pay PaymentInfo, order *Order) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	if stored.Status != StatusOpen {
		return nil, xerrors.New(xerrors.CodeInvalidState, "checkout session is not open")
	}
	if order == nil || order.ID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "订单不能为空")
	}

	// 目录存储整体校验后才扣减，失败时会话保持 OPEN，等价于回滚。
	if err := m.catalog.DecrementInventory(ctx, itemQuantities(stored.LineItems)); err != nil {
		return nil, err
	}

	stored.Payment = &pay
	stored.Status = StatusComplete
	stored.UpdatedAt = m.now()
	m.orders[order.ID] = cloneOrder(order)
	return cloneSession(stored), nil
}

// CancelSession 实现 Store 接口。
func (m *MemoryStore) CancelSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	if stored.Status != StatusOpen {
		return nil, xerrors.New(xerrors.CodeInvalidState, "checkout session is not open")
	}
	stored.Status = StatusCancelled
	stored.UpdatedAt = m.now()
	return cloneSession(stored), nil
}

// GetOrder 实现 Store 接口。
func (m *MemoryStore) GetOrder(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "order not found")
	}
	return cloneOrder(order), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func itemQuantities(items []LineItem) []catalog.ItemQuantity {
	out := make([]catalog.ItemQuantity, 0, len(items))
	for _, li := range items {
		out = append(out, catalog.ItemQuantity{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return out
}
