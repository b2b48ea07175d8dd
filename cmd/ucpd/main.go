package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"UCP-Commerce/internal/agent"
	"UCP-Commerce/internal/api"
	"UCP-Commerce/internal/catalog"
	"UCP-Commerce/internal/checkout"
	"UCP-Commerce/internal/config"
	"UCP-Commerce/internal/events"
	"UCP-Commerce/internal/federation"
	"UCP-Commerce/internal/llm"
	"UCP-Commerce/internal/llm/openai"
	"UCP-Commerce/internal/observability/metrics"
	"UCP-Commerce/internal/payment"
	mysqlstore "UCP-Commerce/internal/storage/mysql"
	redisstore "UCP-Commerce/internal/storage/redis"
	"UCP-Commerce/pkg/logger"
	"UCP-Commerce/sdk/go/ucp"
)

// main 是商户守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ucpd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("UCP_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "ucp.json")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	mainLog := logger.Named("ucpd")

	// 支付注册表目前只有开发用的 mock 处理器。
	payments := payment.NewRegistry()
	if err := payments.Register(payment.NewMockHandler()); err != nil {
		return err
	}

	// 目录种子。
	var seed []catalog.Product
	if cfg.Catalog.SeedFile != "" {
		seed, err = catalog.LoadSeed(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
	}

	// 存储驱动。
	var (
		catalogStore catalog.Store
		sessionStore checkout.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		memoryCatalog := catalog.NewMemoryStore(seed)
		catalogStore = memoryCatalog
		sessionStore = checkout.NewMemoryStore(memoryCatalog)
	case "mysql":
		store, err := mysqlstore.Open(ctx, mysqlstore.Config{
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			MaxIdleConns: cfg.Storage.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if len(seed) > 0 {
			if err := store.SeedProducts(ctx, seed); err != nil {
				return err
			}
		}
		catalogStore = store
		sessionStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}

	// 幂等缓存驱动。
	var idempotency redisstore.IdempotencyStore
	switch cfg.Cache.Driver {
	case "", "memory":
		idempotency = redisstore.NewMemoryStore(time.Duration(cfg.Cache.TTLHours) * time.Hour)
	case "redis":
		store, err := redisstore.NewRedisStore(ctx, redisstore.Config{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      time.Duration(cfg.Cache.TTLHours) * time.Hour,
		})
		if err != nil {
			return err
		}
		idempotency = store
	default:
		return fmt.Errorf("未知的缓存驱动: %s", cfg.Cache.Driver)
	}
	defer func() { _ = idempotency.Close() }()

	// 订单事件驱动。
	var publisher events.Publisher
	switch cfg.Events.Driver {
	case "", "memory":
		publisher = events.NewMemoryPublisher(256)
	case "rabbitmq":
		queue, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.Events.URL,
			Queue:   cfg.Events.Queue,
			Durable: cfg.Events.Durable,
		})
		if err != nil {
			return err
		}
		publisher = queue
	default:
		return fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
	defer func() { _ = publisher.Close() }()

	engine := checkout.NewEngine(catalogStore, sessionStore, payments,
		checkout.WithPublisher(publisher),
		checkout.WithLogger(logger.Named("checkout")),
	)

	serverOpts := []api.Option{
		api.WithShopName(cfg.Server.ShopName),
		api.WithEndpoint(cfg.Server.Endpoint),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithIdempotencyStore(idempotency),
		api.WithChatTimeout(time.Duration(cfg.Agent.ChatTimeoutSeconds) * time.Second),
	}
	if cfg.Merchant.Name != "" {
		serverOpts = append(serverOpts, api.WithMerchant(api.Merchant{
			Name:         cfg.Merchant.Name,
			Description:  cfg.Merchant.Description,
			SupportEmail: cfg.Merchant.SupportEmail,
			Language:     cfg.Merchant.Language,
		}))
	}

	// 导购智能体：缺少模型密钥时仅关闭 /chat，其余接口照常。
	if agents, err := buildAgents(cfg); err != nil {
		return err
	} else if agents != nil {
		serverOpts = append(serverOpts, api.WithAgents(agents))
	} else {
		mainLog.Warn("未配置大模型密钥，对话接口不可用")
	}

	server := api.NewServer(cfg.Server.Address, engine, catalogStore, payments, serverOpts...)

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				mainLog.Error("指标服务退出", "err", err)
			}
		}()
	}

	// 联盟演示店铺与主服务并行启动。
	for _, shopCfg := range cfg.Shops {
		shopServer, err := buildShopServer(shopCfg)
		if err != nil {
			return err
		}
		go func(name string) {
			if err := shopServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mainLog.Error("联盟店铺退出", "shop", name, "err", err)
			}
		}(shopCfg.Name)
	}

	return server.Start(ctx)
}

// buildAgents 组装对话注册表。未配置密钥时返回 nil。
func buildAgents(cfg *config.Config) (*agent.Registry, error) {
	llmClient, err := buildLLMClient(cfg)
	if err != nil || llmClient == nil {
		return nil, err
	}

	shopClient, err := ucp.NewClient(cfg.Server.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	var registry *federation.Registry
	if cfg.Federation.ShopsFile != "" {
		registry, err = federation.LoadRegistry(cfg.Federation.ShopsFile)
		if err != nil {
			return nil, err
		}
	} else {
		registry = federation.NewRegistry(nil)
	}
	searcher := federation.NewSearcher(registry,
		federation.WithShopTimeout(time.Duration(cfg.Federation.ShopTimeoutSeconds)*time.Second),
	)

	maxTurns := cfg.Agent.MaxTurns
	llmTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	return agent.NewRegistry(func() *agent.Agent {
		return agent.New(llmClient, shopClient, searcher,
			agent.WithMaxTurns(maxTurns),
			agent.WithLLMTimeout(llmTimeout),
		)
	}), nil
}

func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := cfg.LLM.ResolveAPIKey()
		if apiKey == "" {
			return nil, nil
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// buildShopServer 为联盟演示店铺构造一个纯内存的商户服务。
func buildShopServer(cfg config.ShopConfig) (*api.Server, error) {
	if cfg.Address == "" || cfg.SeedFile == "" {
		return nil, fmt.Errorf("联盟店铺 %q 缺少 address 或 seed_file", cfg.Name)
	}
	seed, err := catalog.LoadSeed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}

	payments := payment.NewRegistry()
	if err := payments.Register(payment.NewMockHandler()); err != nil {
		return nil, err
	}

	store := catalog.NewMemoryStore(seed)
	engine := checkout.NewEngine(store, checkout.NewMemoryStore(store), payments,
		checkout.WithLogger(logger.Named("checkout."+cfg.Name)),
	)

	opts := []api.Option{
		api.WithShopName(cfg.Name),
		api.WithLogger(logger.Named("api." + cfg.Name)),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, api.WithEndpoint(cfg.Endpoint))
	}
	return api.NewServer(cfg.Address, engine, store, payments, opts...), nil
}
