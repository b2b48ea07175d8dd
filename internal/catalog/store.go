package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "UCP-Commerce/internal/errors"
)

// ItemQuantity 描述一次库存扣减中的单个商品与数量。
type ItemQuantity struct {
	ProductID string
	Quantity  int
}

// Store 抽象商品目录的读取与库存扣减。库存扣减只允许由结账引擎
// 在订单确认时调用。
type Store interface {
	Get(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context) ([]*Product, error)
	Search(ctx context.Context, filter Filter) ([]*Product, error)
	// DecrementInventory 原子地扣减一组商品的库存：全部校验通过后才落盘，
	// 任一商品缺失或库存不足时整体失败且不产生任何扣减。
	DecrementInventory(ctx context.Context, items []ItemQuantity) error
}

// MemoryStore 以内存方式保存商品目录，用于单店部署与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
	order    []string
}

// NewMemoryStore 创建 MemoryStore 并载入初始商品。
func NewMemoryStore(products []Product) *MemoryStore {
	store := &MemoryStore{products: make(map[string]*Product, len(products))}
	for i := range products {
		p := products[i]
		if p.ID == "" {
			continue
		}
		if _, ok := store.products[p.ID]; !ok {
			store.order = append(store.order, p.ID)
		}
		store.products[p.ID] = &p
	}
	return store
}

// Get 返回指定商品，未找到时返回 NOT_FOUND。
func (m *MemoryStore) Get(_ context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	product, ok := m.products[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
	}
	clone := *product
	return &clone, nil
}

// List 返回全部商品，保持载入顺序。
func (m *MemoryStore) List(_ context.Context) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Product, 0, len(m.order))
	for _, id := range m.order {
		clone := *m.products[id]
		results = append(results, &clone)
	}
	return results, nil
}

// Search 返回满足条件的商品。
func (m *MemoryStore) Search(ctx context.Context, filter Filter) ([]*Product, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*Product, 0, len(all))
	for _, p := range all {
		if filter.Matches(p) {
			results = append(results, p)
		}
	}
	return results, nil
}

// DecrementInventory 实现 Store 接口。先整体校验再整体扣减，
// 保证失败时没有部分扣减残留。
func (m *MemoryStore) DecrementInventory(_ context.Context, items []ItemQuantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		product, ok := m.products[item.ProductID]
		if !ok {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("product %s not found", item.ProductID))
		}
		if item.Quantity <= 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid quantity %d for product %s", item.Quantity, item.ProductID))
		}
		if product.Inventory < item.Quantity {
			return xerrors.New(xerrors.CodeInsufficientInventory,
				fmt.Sprintf("insufficient inventory for %s", product.Name),
				xerrors.WithMetadata("product_id", item.ProductID))
		}
	}
	for _, item := range items {
		m.products[item.ProductID].Inventory -= item.Quantity
	}
	return nil
}

// Categories 返回目录中出现过的全部分类，按字典序排列。
func (m *MemoryStore) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, p := range m.products {
		if p.Category != "" {
			seen[p.Category] = struct{}{}
		}
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories
}
