package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"UCP-Commerce/internal/money"
)

// seedFile 是目录种子文件的 YAML 结构。
type seedFile struct {
	Currency string        `yaml:"currency"`
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	Currency    string `yaml:"currency"`
	Inventory   int    `yaml:"inventory"`
	Image       string `yaml:"image"`
	Category    string `yaml:"category"`
}

// LoadSeed 从 YAML 文件载入商品目录。商品未指定币种时继承文件级币种。
func LoadSeed(path string) ([]Product, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录种子文件路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取目录种子文件失败: %w", err)
	}
	return parseSeed(content)
}

func parseSeed(content []byte) ([]Product, error) {
	var file seedFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析目录种子文件失败: %w", err)
	}

	defaultCurrency := file.Currency
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}

	products := make([]Product, 0, len(file.Products))
	for _, entry := range file.Products {
		if entry.ID == "" || entry.Name == "" {
			return nil, fmt.Errorf("商品条目缺少 id 或 name: %+v", entry)
		}
		currency := entry.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		price, err := money.Parse(entry.Price, currency)
		if err != nil {
			return nil, fmt.Errorf("商品 %s 价格非法: %w", entry.ID, err)
		}
		if entry.Inventory < 0 {
			return nil, fmt.Errorf("商品 %s 库存不能为负", entry.ID)
		}
		products = append(products, Product{
			ID:          entry.ID,
			Name:        entry.Name,
			Description: entry.Description,
			Price:       price,
			Inventory:   entry.Inventory,
			ImageURL:    entry.Image,
			Category:    entry.Category,
		})
	}
	return products, nil
}
