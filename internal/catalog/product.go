package catalog

import (
	"strings"

	"github.com/shopspring/decimal"

	"UCP-Commerce/internal/money"
)

// Product 表示单个商户目录中的一件商品。
type Product struct {
	ID          string
	Name        string
	Description string
	Price       money.Money
	Inventory   int
	ImageURL    string
	Category    string
}

// Response 是商品的对外 JSON 结构，价格以字符串形式返回。
type Response struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Inventory   int    `json:"inventory"`
	ImageURL    string `json:"image_url,omitempty"`
	Category    string `json:"category,omitempty"`
}

// ToResponse 转换为对外结构。
func (p *Product) ToResponse() Response {
	return Response{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.String(),
		Currency:    p.Price.Currency,
		Inventory:   p.Inventory,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
	}
}

// Filter 描述商品检索条件。Query 对名称与描述做大小写不敏感的子串匹配，
// MaxPrice 为价格上限，Category 为分类精确匹配。
type Filter struct {
	Query    string
	MaxPrice *decimal.Decimal
	Category string
}

// Matches 判断商品是否满足检索条件。
func (f Filter) Matches(p *Product) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		name := strings.ToLower(p.Name)
		desc := strings.ToLower(p.Description)
		if !strings.Contains(name, q) && !strings.Contains(desc, q) {
			return false
		}
	}
	if f.MaxPrice != nil && p.Price.Amount.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	return true
}
