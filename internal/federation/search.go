package federation

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"UCP-Commerce/pkg/logger"
	"UCP-Commerce/sdk/go/ucp"
)

// defaultShopTimeout 限制单个商家的检索耗时，超时的商家按失败处理。
const defaultShopTimeout = 8 * time.Second

// fallbackImageURL 在商家未提供商品图片时使用。
const fallbackImageURL = "https://images.unsplash.com/photo-1596627685652-320c82276cb0?w=400"

// unparseablePrice 使无法解析价格的商品排在结果末尾。
var unparseablePrice = decimal.NewFromInt(999)

// Params 描述一次联盟检索的过滤条件。
type Params struct {
	Query    string
	MaxPrice *decimal.Decimal
	Category string
}

// TaggedProduct 是带商家标注的检索结果。
type TaggedProduct struct {
	ucp.Product
	ShopName string `json:"shop_name"`
	ShopURL  string `json:"shop_url"`
}

// Option 配置 Searcher。
type Option func(*Searcher)

// WithShopTimeout 覆盖单商家超时。
func WithShopTimeout(timeout time.Duration) Option {
	return func(s *Searcher) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithHTTPClient 覆盖底层 HTTP 客户端，供测试注入。
func WithHTTPClient(client *http.Client) Option {
	return func(s *Searcher) { s.httpClient = client }
}

// WithLogger 覆盖日志器。
func WithLogger(log *slog.Logger) Option {
	return func(s *Searcher) { s.log = log }
}

// Searcher 对注册的商家做并发扇出检索。
type Searcher struct {
	registry   *Registry
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// NewSearcher 创建 Searcher。
func NewSearcher(registry *Registry, opts ...Option) *Searcher {
	s := &Searcher{
		registry:   registry,
		timeout:    defaultShopTimeout,
		httpClient: &http.Client{},
		log:        logger.Named("federation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchAll 并发查询所有商家并按价格升序返回聚合结果。
// 单个商家失败（网络错误、非 2xx、超时）只会使其贡献为空。
func (s *Searcher) SearchAll(ctx context.Context, params Params) []TaggedProduct {
	shops := s.registry.Shops()
	results := make([][]TaggedProduct, len(shops))

	var wg sync.WaitGroup
	for i, shop := range shops {
		wg.Add(1)
		go func(i int, shop Shop) {
			defer wg.Done()
			shopCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results[i] = s.searchShop(shopCtx, shop, params)
		}(i, shop)
	}
	wg.Wait()

	var merged []TaggedProduct
	for _, r := range results {
		merged = append(merged, r...)
	}
	sortByPrice(merged)
	return merged
}

// searchShop 优先使用商家的服务端检索，失败时退回抓取整目录并本地过滤。
func (s *Searcher) searchShop(ctx context.Context, shop Shop, params Params) []TaggedProduct {
	client, err := ucp.NewClient(shop.BaseURL, s.httpClient)
	if err != nil {
		s.log.Warn("invalid shop url", "shop", shop.ID, "error", err)
		return nil
	}

	searchParams := ucp.SearchParams{Query: params.Query, Category: params.Category}
	if params.MaxPrice != nil {
		searchParams.MaxPrice = params.MaxPrice.String()
	}
	if result, err := client.SearchProducts(ctx, searchParams); err == nil {
		return s.tag(shop, result.Products)
	} else {
		s.log.Debug("server-side search failed, falling back to catalog fetch",
			"shop", shop.ID, "error", err)
	}

	products, err := client.Products(ctx)
	if err != nil {
		s.log.Warn("shop unreachable", "shop", shop.ID, "error", err)
		return nil
	}

	var matched []ucp.Product
	for _, p := range products {
		if matchesLocally(p, params) {
			matched = append(matched, p)
		}
	}
	return s.tag(shop, matched)
}

func (s *Searcher) tag(shop Shop, products []ucp.Product) []TaggedProduct {
	tagged := make([]TaggedProduct, 0, len(products))
	for _, p := range products {
		if p.ImageURL == "" {
			p.ImageURL = fallbackImageURL
		}
		tagged = append(tagged, TaggedProduct{Product: p, ShopName: shop.Name, ShopURL: shop.BaseURL})
	}
	return tagged
}

// matchesLocally 对整目录应用与服务端检索一致的过滤语义。
func matchesLocally(p ucp.Product, params Params) bool {
	if q := strings.ToLower(strings.TrimSpace(params.Query)); q != "" {
		name := strings.ToLower(p.Name)
		desc := strings.ToLower(p.Description)
		if !strings.Contains(name, q) && !strings.Contains(desc, q) {
			return false
		}
	}
	if params.MaxPrice != nil && priceOf(p).GreaterThan(*params.MaxPrice) {
		return false
	}
	if params.Category != "" && p.Category != params.Category {
		return false
	}
	return true
}

func priceOf(p ucp.Product) decimal.Decimal {
	amount, err := decimal.NewFromString(p.Price)
	if err != nil {
		return unparseablePrice
	}
	return amount
}

func sortByPrice(products []TaggedProduct) {
	sort.SliceStable(products, func(i, j int) bool {
		return priceOf(products[i].Product).LessThan(priceOf(products[j].Product))
	})
}
