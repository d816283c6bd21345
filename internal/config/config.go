package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ShopMCP-Chain/pkg/logger"
)

// Config 描述了 ShopMCP 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging logger.Config `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Storage StorageConfig `json:"storage"`
	Catalog CatalogConfig `json:"catalog"`
	Ledger  LedgerConfig  `json:"ledger"`
	Events  EventsConfig  `json:"events"`
	Policy  PolicyConfig  `json:"policy"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与限流。
type ServerConfig struct {
	Address string `json:"address"`
	// RateLimitRPS 为每个会话（无会话时为每个客户端地址）的请求速率，0 表示不限流。
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
	// AllowedOrigins 限制工具 websocket 的来源，为空时不限制。
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// MetricsConfig 控制 /metrics 是否暴露。
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// StorageConfig 描述订单与会话的存储后端。
type StorageConfig struct {
	OrderStore   OrderStoreConfig   `json:"order_store"`
	SessionStore SessionStoreConfig `json:"session_store"`
}

// OrderStoreConfig 选择订单存储，支持 memory 与 mysql。
type OrderStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// SessionStoreConfig 选择会话存储，支持 memory 与 redis。
type SessionStoreConfig struct {
	Driver     string `json:"driver"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// CatalogConfig 选择商品目录来源：static 读取本地 YAML，remote 调用 HTTP 服务并在失败时回退。
type CatalogConfig struct {
	Source         string `json:"source"`
	File           string `json:"file"`
	RemoteURL      string `json:"remote_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxResults     int    `json:"max_results"`
}

// LedgerConfig 描述稳定币所在的链与收款地址。
type LedgerConfig struct {
	ChainConfig     string `json:"chain_config"`
	DefaultChain    string `json:"default_chain"`
	RPCURL          string `json:"rpc_url"`
	TokenAddress    string `json:"token_address"`
	// TokenDecimals 为空时取 6，显式的 0 表示不可分割的代币。
	TokenDecimals   *int   `json:"token_decimals,omitempty"`
	MerchantAddress string `json:"merchant_address"`
	// SignerKeyEnv 是保存本地签名私钥的环境变量名，未设置时不启用签名。
	SignerKeyEnv string `json:"signer_key_env"`
}

// EventsConfig 选择订单事件的投递方式，支持 memory 与 rabbitmq。
type EventsConfig struct {
	Driver   string `json:"driver"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// PolicyConfig 覆盖消费提醒阈值，单位为展示货币。
type PolicyConfig struct {
	LargeOrderThreshold string `json:"large_order_threshold"`
	HighValueThreshold  string `json:"high_value_threshold"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并应用环境变量覆盖与默认值。
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

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只依赖内存后端的配置，配置文件缺失时使用。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Validate 检查后端选择与必要参数是否匹配。
func (c *Config) Validate() error {
	switch c.Storage.OrderStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.OrderStore.DSN) == "" {
			return errors.New("storage.order_store.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的订单存储: %s", c.Storage.OrderStore.Driver)
	}
	switch c.Storage.SessionStore.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的会话存储: %s", c.Storage.SessionStore.Driver)
	}
	switch c.Catalog.Source {
	case "static":
	case "remote":
		if strings.TrimSpace(c.Catalog.RemoteURL) == "" {
			return errors.New("catalog.remote_url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的商品目录来源: %s", c.Catalog.Source)
	}
	if c.Ledger.TokenDecimals != nil && *c.Ledger.TokenDecimals < 0 {
		return fmt.Errorf("ledger.token_decimals 不能为负数: %d", *c.Ledger.TokenDecimals)
	}
	switch c.Events.Driver {
	case "memory", "none":
	case "rabbitmq":
		if strings.TrimSpace(c.Events.URL) == "" {
			return errors.New("events.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的事件投递方式: %s", c.Events.Driver)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv 允许通过环境变量覆盖部署相关的敏感参数。
func (c *Config) applyEnv(lookup lookupFunc) {
	set := func(name string, target *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	set("SHOPMCP_SERVER_ADDRESS", &c.Server.Address)
	set("SHOPMCP_ORDER_DSN", &c.Storage.OrderStore.DSN)
	set("SHOPMCP_REDIS_ADDRESS", &c.Storage.SessionStore.Address)
	set("SHOPMCP_REDIS_PASSWORD", &c.Storage.SessionStore.Password)
	set("SHOPMCP_RPC_URL", &c.Ledger.RPCURL)
	set("SHOPMCP_MERCHANT_ADDRESS", &c.Ledger.MerchantAddress)
	set("SHOPMCP_RABBITMQ_URL", &c.Events.URL)
	if v, ok := lookup("SHOPMCP_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("SHOPMCP_METRICS_ENABLED"); ok {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = enabled
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = int(c.Server.RateLimitRPS) * 2
		if c.Server.RateLimitBurst < 1 {
			c.Server.RateLimitBurst = 1
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}

	if c.Storage.OrderStore.Driver == "" {
		c.Storage.OrderStore.Driver = "memory"
	}
	if c.Storage.SessionStore.Driver == "" {
		c.Storage.SessionStore.Driver = "memory"
	}
	if c.Storage.SessionStore.TTLSeconds <= 0 {
		c.Storage.SessionStore.TTLSeconds = 24 * 60 * 60
	}
	if c.Storage.SessionStore.Prefix == "" {
		c.Storage.SessionStore.Prefix = "shopmcp:session:"
	}

	if c.Catalog.Source == "" {
		c.Catalog.Source = "static"
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		c.Catalog.TimeoutSeconds = 10
	}
	if c.Catalog.MaxResults <= 0 {
		c.Catalog.MaxResults = 10
	}

	if c.Ledger.TokenDecimals == nil {
		decimals := 6
		c.Ledger.TokenDecimals = &decimals
	}
	if c.Ledger.SignerKeyEnv == "" {
		c.Ledger.SignerKeyEnv = "SHOPMCP_SIGNER_KEY"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "shopmcp.orders"
	}

	if c.Policy.LargeOrderThreshold == "" {
		c.Policy.LargeOrderThreshold = "100"
	}
	if c.Policy.HighValueThreshold == "" {
		c.Policy.HighValueThreshold = "500"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	c.Catalog.File = resolvePath(baseDir, c.Catalog.File)
	c.Ledger.ChainConfig = resolvePath(baseDir, c.Ledger.ChainConfig)
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolvePath(c.Runtime.DataDir, c.Logging.Audit.Path)
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
