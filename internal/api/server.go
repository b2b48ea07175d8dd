package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"time"

	"UCP-Commerce/internal/agent"
	"UCP-Commerce/internal/catalog"
	"UCP-Commerce/internal/checkout"
	xerrors "UCP-Commerce/internal/errors"
	"UCP-Commerce/internal/observability/metrics"
	"UCP-Commerce/internal/payment"
	redisstore "UCP-Commerce/internal/storage/redis"
	"UCP-Commerce/pkg/logger"
)

// defaultChatTimeout 限制单次对话处理的总时长。
const defaultChatTimeout = 30 * time.Second

// Server 暴露商户 REST 接口：发现清单、商品目录、结账会话、
// 订单查询与导购对话。
type Server struct {
	addr        string
	serviceName string
	shopName    string
	endpoint    string
	merchant    Merchant
	corsOrigins []string

	engine      *checkout.Engine
	catalog     catalog.Store
	payments    *payment.Registry
	agents      *agent.Registry
	idempotency redisstore.IdempotencyStore
	chatTimeout time.Duration
	log         *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithShopName 设置搜索响应中返回的店铺名。
func WithShopName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.shopName = name
		}
	}
}

// WithMerchant 覆盖发现清单中的商户信息。
func WithMerchant(m Merchant) Option {
	return func(s *Server) {
		s.merchant = m
	}
}

// WithEndpoint 设置发现清单中对外公布的接入地址。
func WithEndpoint(endpoint string) Option {
	return func(s *Server) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

// WithAgents 配置对话注册表，启用 /chat 接口。
func WithAgents(registry *agent.Registry) Option {
	return func(s *Server) {
		s.agents = registry
	}
}

// WithIdempotencyStore 配置创建结账会话的幂等缓存。
func WithIdempotencyStore(store redisstore.IdempotencyStore) Option {
	return func(s *Server) {
		s.idempotency = store
	}
}

// WithChatTimeout 设置单次对话处理的超时时间。
func WithChatTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.chatTimeout = timeout
		}
	}
}

// WithCORSOrigins 设置允许跨域访问的来源。
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer 构造商户 API 服务。
func NewServer(addr string, engine *checkout.Engine, catalogStore catalog.Store, payments *payment.Registry, opts ...Option) *Server {
	srv := &Server{
		addr:        addr,
		serviceName: "ucp-custom-shop",
		shopName:    "UCP Flower Shop",
		endpoint:    "http://localhost:8183",
		merchant:    defaultMerchant(),
		corsOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		engine:      engine,
		catalog:     catalogStore,
		payments:    payments,
		chatTimeout: defaultChatTimeout,
		log:         logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}
	return srv
}

// Handler 组装完整的路由与中间件，供测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/ucp", s.instrument("discovery", s.handleDiscovery))
	mux.HandleFunc("GET /products", s.instrument("products_list", s.handleListProducts))
	mux.HandleFunc("GET /products/search", s.instrument("products_search", s.handleSearchProducts))
	mux.HandleFunc("GET /products/{id}", s.instrument("products_get", s.handleGetProduct))

	mux.HandleFunc("POST /checkout-sessions", s.instrument("checkout_create", s.handleCreateCheckout))
	mux.HandleFunc("GET /checkout-sessions/{id}", s.instrument("checkout_get", s.handleGetCheckout))
	mux.HandleFunc("PUT /checkout-sessions/{id}", s.instrument("checkout_update", s.handleUpdateCheckout))
	mux.HandleFunc("POST /checkout-sessions/{id}/complete", s.instrument("checkout_complete", s.handleCompleteCheckout))
	mux.HandleFunc("POST /checkout-sessions/{id}/cancel", s.instrument("checkout_cancel", s.handleCancelCheckout))
	mux.HandleFunc("GET /orders/{id}", s.instrument("orders_get", s.handleGetOrder))

	mux.HandleFunc("POST /chat", s.instrument("chat", s.handleChat))
	mux.HandleFunc("POST /chat/reset", s.instrument("chat_reset", s.handleChatReset))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return s.withCORS(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("merchant api listening", "addr", s.addr, "shop", s.shopName)
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildManifest(s.endpoint, s.merchant, s.payments))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.serviceName,
	})
}

// instrument 记录每个接口的请求量与时延。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// withCORS 为浏览器前端放行配置的来源。
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, Request-Id")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody 是所有错误响应的统一包装。
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatusOf(err)
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		body.Message = coded.Message()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "code", body.Code, "err", err)
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func decodeBody(r *http.Request, out any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
