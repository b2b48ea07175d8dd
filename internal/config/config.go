package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述商户服务启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Merchant   MerchantConfig   `json:"merchant"`
	Catalog    CatalogConfig    `json:"catalog"`
	Storage    StorageConfig    `json:"storage"`
	Cache      CacheConfig      `json:"cache"`
	Events     EventsConfig     `json:"events"`
	LLM        LLMConfig        `json:"llm"`
	Agent      AgentConfig      `json:"agent"`
	Federation FederationConfig `json:"federation"`
	Shops      []ShopConfig     `json:"shops"`
	Logging    LoggingConfig    `json:"logging"`
}

// ShopConfig 描述随主服务一同启动的联盟演示店铺。
type ShopConfig struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Endpoint string `json:"endpoint"`
	SeedFile string `json:"seed_file"`
}

// ServerConfig 控制 API 服务的监听地址与对外信息。
type ServerConfig struct {
	Address     string   `json:"address"`
	Endpoint    string   `json:"endpoint"`
	ShopName    string   `json:"shop_name"`
	CORSOrigins []string `json:"cors_origins"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address"`
}

// MerchantConfig 是发现清单中的商户自述信息。
type MerchantConfig struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SupportEmail string `json:"support_email"`
	Language     string `json:"language"`
}

// CatalogConfig 指定商品目录的种子文件。
type CatalogConfig struct {
	SeedFile string `json:"seed_file"`
}

// StorageConfig 描述结账与目录数据的持久化后端。
type StorageConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// CacheConfig 描述幂等缓存后端。
type CacheConfig struct {
	Driver   string `json:"driver"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTLHours int    `json:"ttl_hours"`
}

// EventsConfig 描述订单事件的投递后端。
type EventsConfig struct {
	Driver  string `json:"driver"`
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LLMConfig 配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentConfig 控制导购智能体的行为边界。
type AgentConfig struct {
	MaxTurns           int `json:"max_turns"`
	ChatTimeoutSeconds int `json:"chat_timeout_seconds"`
}

// FederationConfig 指定联盟店铺注册表。
type FederationConfig struct {
	ShopsFile          string `json:"shops_file"`
	ShopTimeoutSeconds int    `json:"shop_timeout_seconds"`
}

// LoggingConfig 透传给 pkg/logger。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load 解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8183"
	}
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = "http://localhost:8183"
	}
	if c.Server.ShopName == "" {
		c.Server.ShopName = "UCP Flower Shop"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	if c.Catalog.SeedFile != "" && !filepath.IsAbs(c.Catalog.SeedFile) {
		c.Catalog.SeedFile = filepath.Join(baseDir, c.Catalog.SeedFile)
	}
	if c.Federation.ShopsFile != "" && !filepath.IsAbs(c.Federation.ShopsFile) {
		c.Federation.ShopsFile = filepath.Join(baseDir, c.Federation.ShopsFile)
	}
	for i := range c.Shops {
		if c.Shops[i].SeedFile != "" && !filepath.IsAbs(c.Shops[i].SeedFile) {
			c.Shops[i].SeedFile = filepath.Join(baseDir, c.Shops[i].SeedFile)
		}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = 24
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = 8
	}
	if c.Agent.ChatTimeoutSeconds <= 0 {
		c.Agent.ChatTimeoutSeconds = 30
	}
	if c.Federation.ShopTimeoutSeconds <= 0 {
		c.Federation.ShopTimeoutSeconds = 8
	}
}

// ResolveAPIKey 返回配置的密钥，环境变量优先。
func (c *LLMConfig) ResolveAPIKey() string {
	if c.APIKeyEnv != "" {
		if key := os.Getenv(c.APIKeyEnv); key != "" {
			return key
		}
	}
	return c.APIKey
}
