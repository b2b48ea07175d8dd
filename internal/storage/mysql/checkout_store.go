package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"UCP-Commerce/internal/checkout"
	xerrors "UCP-Commerce/internal/errors"
	"UCP-Commerce/internal/money"
	"UCP-Commerce/internal/payment"
)

const sessionColumns = `id, status, line_items, subtotal, total, currency,
        customer, shipping_address, shipping_method, payment, created_at, updated_at, expires_at`

const orderColumns = `id, checkout_session_id, status, line_items, subtotal, total, currency,
        customer, shipping_address, shipping_method, payment_handler, payment_status, created_at, updated_at`

// lineItemRow 是行项目的落库 JSON 结构。
type lineItemRow struct {
	ProductID   string      `json:"product_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	TotalPrice  money.Money `json:"total_price"`
}

type paymentRow struct {
	Handler    string         `json:"handler"`
	Instrument map[string]any `json:"instrument,omitempty"`
	Status     string         `json:"status,omitempty"`
	Reference  string         `json:"reference,omitempty"`
}

func encodeLineItems(items []checkout.LineItem) ([]byte, error) {
	rows := make([]lineItemRow, 0, len(items))
	for _, li := range items {
		rows = append(rows, lineItemRow{
			ProductID:   li.ProductID,
			Name:        li.Name,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			TotalPrice:  li.TotalPrice,
		})
	}
	return json.Marshal(rows)
}

func decodeLineItems(raw []byte) ([]checkout.LineItem, error) {
	var rows []lineItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	items := make([]checkout.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, checkout.LineItem{
			ProductID:   row.ProductID,
			Name:        row.Name,
			Description: row.Description,
			Quantity:    row.Quantity,
			UnitPrice:   row.UnitPrice,
			TotalPrice:  row.TotalPrice,
		})
	}
	return items, nil
}

func encodeJSONColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// CreateSession 实现 checkout.Store。
func (s *Store) CreateSession(ctx context.Context, session *checkout.Session) error {
	if session == nil || session.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}

	lineItems, err := encodeLineItems(session.LineItems)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode line items")
	}
	customer, err := encodeJSONColumn(nullable(session.Customer))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode customer")
	}
	address, err := encodeJSONColumn(nullable(session.ShippingAddress))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode shipping address")
	}
	pay, err := encodeJSONColumn(paymentColumn(session.Payment))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode payment")
	}

	const stmt = `INSERT INTO checkout_sessions
        (id, status, line_items, subtotal, total, currency, customer, shipping_address,
         shipping_method, payment, created_at, updated_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		session.ID, string(session.Status), lineItems,
		session.Subtotal.Amount.StringFixed(2), session.Total.Amount.StringFixed(2), session.Currency,
		customer, address, session.ShippingMethod, pay,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(), session.ExpiresAt.Unix(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to insert checkout session")
	}
	return nil
}

// GetSession 实现 checkout.Store。
func (s *Store) GetSession(ctx context.Context, id string) (*checkout.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to load checkout session")
	}
	return session, nil
}

// UpdateSession 实现 checkout.Store。仅覆盖可变字段，更新语句带状态
// 谓词，非 OPEN 会话不会被改写。
func (s *Store) UpdateSession(ctx context.Context, session *checkout.Session) error {
	customer, err := encodeJSONColumn(nullable(session.Customer))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode customer")
	}
	address, err := encodeJSONColumn(nullable(session.ShippingAddress))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode shipping address")
	}
	pay, err := encodeJSONColumn(paymentColumn(session.Payment))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode payment")
	}

	const stmt = `UPDATE checkout_sessions SET
        customer = COALESCE(?, customer),
        shipping_address = COALESCE(?, shipping_address),
        shipping_method = IF(? = '', shipping_method, ?),
        payment = COALESCE(?, payment),
        updated_at = ?
        WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, stmt,
		customer, address, session.ShippingMethod, session.ShippingMethod, pay,
		s.now().Unix(), session.ID, string(checkout.StatusOpen))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to update checkout session")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to read update result")
	}
	if affected == 0 {
		return s.classifySessionWriteMiss(ctx, session.ID)
	}
	return nil
}

// CompleteSession 实现 checkout.Store。单个事务内锁定会话行做
// OPEN→COMPLETE 的检查写入、逐行锁定并扣减库存、订单落库。
func (s *Store) CompleteSession(ctx context.Context, id string, pay checkout.PaymentInfo, order *checkout.Order) (*checkout.Session, error) {
	if order == nil || order.ID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "订单不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to begin checkout transaction")
	}

	session, err := s.completeSessionTx(ctx, tx, id, pay, order)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to commit checkout transaction")
	}
	return session, nil
}

func (s *Store) completeSessionTx(ctx context.Context, tx *sql.Tx, id string, pay checkout.PaymentInfo, order *checkout.Order) (*checkout.Session, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = ? FOR UPDATE`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to lock checkout session")
	}
	if session.Status != checkout.StatusOpen {
		return nil, xerrors.New(xerrors.CodeInvalidState, "checkout session is not open")
	}

	if err := decrementInventoryTx(ctx, tx, session.Items()); err != nil {
		return nil, err
	}

	now := s.now()
	payEncoded, err := encodeJSONColumn(paymentColumn(&pay))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode payment")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = ?, payment = ?, updated_at = ? WHERE id = ?`,
		string(checkout.StatusComplete), payEncoded, now.Unix(), id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to complete checkout session")
	}

	if err := insertOrderTx(ctx, tx, order); err != nil {
		return nil, err
	}

	session.Status = checkout.StatusComplete
	session.Payment = &pay
	session.UpdatedAt = now
	return session, nil
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, order *checkout.Order) error {
	lineItems, err := encodeLineItems(order.LineItems)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode order line items")
	}
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode order customer")
	}
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode order address")
	}

	const stmt = `INSERT INTO orders
        (id, checkout_session_id, status, line_items, subtotal, total, currency, customer,
         shipping_address, shipping_method, payment_handler, payment_status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, stmt,
		order.ID, order.CheckoutSessionID, string(order.Status), lineItems,
		order.Subtotal.Amount.StringFixed(2), order.Total.Amount.StringFixed(2), order.Currency,
		customer, address, order.ShippingMethod, order.PaymentHandler, order.PaymentStatus,
		order.CreatedAt.Unix(), order.UpdatedAt.Unix(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to insert order")
	}
	return nil
}

// CancelSession 实现 checkout.Store。
func (s *Store) CancelSession(ctx context.Context, id string) (*checkout.Session, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(checkout.StatusCancelled), s.now().Unix(), id, string(checkout.StatusOpen))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to cancel checkout session")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to read cancel result")
	}
	if affected == 0 {
		return nil, s.classifySessionWriteMiss(ctx, id)
	}
	return s.GetSession(ctx, id)
}

// GetOrder 实现 checkout.Store。
func (s *Store) GetOrder(ctx context.Context, id string) (*checkout.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.New(xerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to load order")
	}
	return order, nil
}

// classifySessionWriteMiss 区分条件更新未命中的两种情况：
// 会话不存在（NOT_FOUND）或状态已关闭（INVALID_STATE）。
func (s *Store) classifySessionWriteMiss(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM checkout_sessions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return xerrors.New(xerrors.CodeNotFound, "checkout session not found")
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to inspect checkout session")
	}
	return xerrors.New(xerrors.CodeInvalidState, "checkout session is not open")
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func paymentColumn(pay *checkout.PaymentInfo) any {
	if pay == nil {
		return nil
	}
	return paymentRow{
		Handler:    pay.Handler,
		Instrument: map[string]any(pay.Instrument),
		Status:     pay.Status,
		Reference:  pay.Reference,
	}
}

func scanSession(row rowScanner) (*checkout.Session, error) {
	var (
		session   checkout.Session
		status    string
		lineItems []byte
		subtotal  string
		total     string
		customer  []byte
		address   []byte
		pay       []byte
		createdAt int64
		updatedAt int64
		expiresAt int64
	)
	if err := row.Scan(&session.ID, &status, &lineItems, &subtotal, &total, &session.Currency,
		&customer, &address, &session.ShippingMethod, &pay,
		&createdAt, &updatedAt, &expiresAt); err != nil {
		return nil, err
	}

	session.Status = checkout.SessionStatus(status)
	items, err := decodeLineItems(lineItems)
	if err != nil {
		return nil, fmt.Errorf("invalid line items for session %s: %w", session.ID, err)
	}
	session.LineItems = items

	if session.Subtotal, err = parseAmount(subtotal, session.Currency); err != nil {
		return nil, err
	}
	if session.Total, err = parseAmount(total, session.Currency); err != nil {
		return nil, err
	}

	if len(customer) > 0 {
		session.Customer = &checkout.Customer{}
		if err := json.Unmarshal(customer, session.Customer); err != nil {
			return nil, fmt.Errorf("invalid customer for session %s: %w", session.ID, err)
		}
	}
	if len(address) > 0 {
		session.ShippingAddress = &checkout.Address{}
		if err := json.Unmarshal(address, session.ShippingAddress); err != nil {
			return nil, fmt.Errorf("invalid shipping address for session %s: %w", session.ID, err)
		}
	}
	if len(pay) > 0 {
		var payRow paymentRow
		if err := json.Unmarshal(pay, &payRow); err != nil {
			return nil, fmt.Errorf("invalid payment for session %s: %w", session.ID, err)
		}
		session.Payment = &checkout.PaymentInfo{
			Handler:    payRow.Handler,
			Instrument: payment.Instrument(payRow.Instrument),
			Status:     payRow.Status,
			Reference:  payRow.Reference,
		}
	}

	session.CreatedAt = time.Unix(createdAt, 0).UTC()
	session.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	session.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &session, nil
}

func scanOrder(row rowScanner) (*checkout.Order, error) {
	var (
		order     checkout.Order
		status    string
		lineItems []byte
		subtotal  string
		total     string
		customer  []byte
		address   []byte
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&order.ID, &order.CheckoutSessionID, &status, &lineItems, &subtotal, &total,
		&order.Currency, &customer, &address, &order.ShippingMethod,
		&order.PaymentHandler, &order.PaymentStatus, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	order.Status = checkout.OrderStatus(status)
	items, err := decodeLineItems(lineItems)
	if err != nil {
		return nil, fmt.Errorf("invalid line items for order %s: %w", order.ID, err)
	}
	order.LineItems = items

	if order.Subtotal, err = parseAmount(subtotal, order.Currency); err != nil {
		return nil, err
	}
	if order.Total, err = parseAmount(total, order.Currency); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customer, &order.Customer); err != nil {
		return nil, fmt.Errorf("invalid customer for order %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("invalid address for order %s: %w", order.ID, err)
	}

	order.CreatedAt = time.Unix(createdAt, 0).UTC()
	order.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &order, nil
}

func parseAmount(raw, currency string) (money.Money, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return money.Money{}, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return money.Money{Amount: amount, Currency: currency}, nil
}
