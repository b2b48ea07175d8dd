package checkout

import (
	"context"
)

// Store 抽象结账会话与订单的持久化。实现方必须保证
// CompleteSession 与 CancelSession 的状态检查与写入是原子的：
// 对同一会话并发调用时至多一个成功，其余得到 INVALID_STATE。
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession 覆盖可变字段（customer/shipping/payment/updated_at）。
	// 会话不处于 OPEN 状态时返回 INVALID_STATE。
	UpdateSession(ctx context.Context, session *Session) error
	// CompleteSession 在单个事务内完成：状态 OPEN→COMPLETE 的检查写入、
	// 订单落库、每个行项目的库存扣减。任一步失败则整体回滚。
	CompleteSession(ctx context.Context, id string, pay PaymentInfo, order *Order) (*Session, error)
	// CancelSession 将 OPEN 会话置为 CANCELLED，无库存或订单副作用。
	CancelSession(ctx context.Context, id string) (*Session, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	Close() error
}
