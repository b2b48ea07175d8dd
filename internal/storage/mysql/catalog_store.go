package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"UCP-Commerce/internal/catalog"
	xerrors "UCP-Commerce/internal/errors"
	"UCP-Commerce/internal/money"
)

const productColumns = `id, name, description, price, currency, inventory, image_url, category`

// SeedProducts 将目录种子写入商品表。已存在的商品保留当前库存，
// 只刷新展示字段与价格。
func (s *Store) SeedProducts(ctx context.Context, products []catalog.Product) error {
	const stmt = `INSERT INTO products (id, name, description, price, currency, inventory, image_url, category, position)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        name = VALUES(name), description = VALUES(description), price = VALUES(price),
        currency = VALUES(currency), image_url = VALUES(image_url), category = VALUES(category),
        position = VALUES(position)`

	for i, p := range products {
		if _, err := s.db.ExecContext(ctx, stmt,
			p.ID, p.Name, p.Description, p.Price.Amount.StringFixed(2), p.Price.Currency,
			p.Inventory, p.ImageURL, p.Category, i,
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to seed product "+p.ID)
		}
	}
	return nil
}

// Get 实现 catalog.Store。
func (s *Store) Get(ctx context.Context, id string) (*catalog.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	product, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to load product")
	}
	return product, nil
}

// List 实现 catalog.Store，按种子顺序返回。
func (s *Store) List(ctx context.Context) ([]*catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY position, id`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to list products")
	}
	defer rows.Close()

	var products []*catalog.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to scan product")
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to iterate products")
	}
	return products, nil
}

// Search 实现 catalog.Store。目录规模有限，过滤逻辑与内存实现共用，
// 保证两种驱动下的匹配语义一致。
func (s *Store) Search(ctx context.Context, filter catalog.Filter) ([]*catalog.Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]*catalog.Product, 0, len(products))
	for _, product := range products {
		if filter.Matches(product) {
			matched = append(matched, product)
		}
	}
	return matched, nil
}

// DecrementInventory 实现 catalog.Store。在单个事务内锁定所有相关
// 商品行，全部校验通过后才写入扣减。
func (s *Store) DecrementInventory(ctx context.Context, items []catalog.ItemQuantity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to begin inventory transaction")
	}
	if err := decrementInventoryTx(ctx, tx, items); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to commit inventory transaction")
	}
	return nil
}

func decrementInventoryTx(ctx context.Context, tx *sql.Tx, items []catalog.ItemQuantity) error {
	for _, item := range items {
		if item.Quantity <= 0 {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("invalid quantity %d for product %s", item.Quantity, item.ProductID))
		}

		var name string
		var inventory int
		err := tx.QueryRowContext(ctx,
			`SELECT name, inventory FROM products WHERE id = ? FOR UPDATE`, item.ProductID).
			Scan(&name, &inventory)
		if err == sql.ErrNoRows {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("product %s not found", item.ProductID))
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to lock product row")
		}
		if inventory < item.Quantity {
			return xerrors.New(xerrors.CodeInsufficientInventory,
				fmt.Sprintf("insufficient inventory for %s", name),
				xerrors.WithMetadata("product_id", item.ProductID))
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET inventory = inventory - ? WHERE id = ?`,
			item.Quantity, item.ProductID); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to decrement inventory")
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*catalog.Product, error) {
	var (
		product     catalog.Product
		description sql.NullString
		price       string
		currency    string
		imageURL    sql.NullString
		category    sql.NullString
	)
	if err := row.Scan(&product.ID, &product.Name, &description, &price, &currency,
		&product.Inventory, &imageURL, &category); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q for product %s: %w", price, product.ID, err)
	}
	product.Price = money.Money{Amount: amount, Currency: currency}
	product.Description = description.String
	product.ImageURL = imageURL.String
	product.Category = category.String
	return &product, nil
}
