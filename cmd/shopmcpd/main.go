package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ShopMCP-Chain/internal/agent"
	"ShopMCP-Chain/internal/api"
	"ShopMCP-Chain/internal/catalog"
	"ShopMCP-Chain/internal/config"
	"ShopMCP-Chain/internal/events"
	"ShopMCP-Chain/internal/ledger"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/policy"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/internal/tools"
	"ShopMCP-Chain/pkg/clock"
	"ShopMCP-Chain/pkg/logger"
)

// main 是 ShopMCP 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("shopmcpd 运行失败: %v", err)
	}
}

// backends 汇总启动阶段并行初始化的外部依赖。
type backends struct {
	orders    order.Store
	sessions  session.Store
	publisher events.Publisher
	ledgers   *ledger.Registry
}

func (b *backends) Close() {
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			logger.L().Warn("关闭事件投递失败", slog.Any("error", err))
		}
	}
	if b.orders != nil {
		_ = b.orders.Close()
	}
	if b.sessions != nil {
		_ = b.sessions.Close()
	}
	b.ledgers.Close()
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	deps, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	cat, err := createCatalog(cfg.Catalog)
	if err != nil {
		return err
	}

	limits, err := spendingLimits(cfg.Policy)
	if err != nil {
		return err
	}

	clk := clock.System{}
	lifecycle := order.NewLifecycle(deps.orders, cat,
		order.WithClock(clk),
		order.WithPublisher(deps.publisher),
		order.WithSpendingLimits(limits),
	)

	opts := []agent.Option{
		agent.WithClock(clk),
		agent.WithMaxResults(cfg.Catalog.MaxResults),
		agent.WithMerchantAddress(cfg.Ledger.MerchantAddress),
	}
	if deps.ledgers != nil {
		l, err := deps.ledgers.Default()
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithLedger(l), agent.WithChainName(l.Name()))
	}
	signer, err := ledger.LocalSignerFromEnv(cfg.Ledger.SignerKeyEnv)
	if err != nil {
		return fmt.Errorf("加载签名私钥失败: %w", err)
	}
	if signer != nil {
		opts = append(opts, agent.WithSigner(signer))
	}

	ag := agent.New(cat, lifecycle, session.NewManager(deps.sessions, clk), opts...)

	registry, err := tools.NewShopRegistry(ag)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, ag,
		api.WithTools(registry),
		api.WithMetrics(cfg.Metrics.Enabled),
		api.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	logger.L().Info("shopmcpd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("order_store", cfg.Storage.OrderStore.Driver),
		slog.String("session_store", cfg.Storage.SessionStore.Driver),
		slog.String("catalog", cfg.Catalog.Source),
		slog.Bool("ledger", deps.ledgers != nil),
		slog.Bool("signer", signer != nil))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("shopmcpd 已退出")
	return nil
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("SHOPMCP_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "shopmcp.json")
	}
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
		log.Printf("配置文件 %s 不存在，使用内存后端默认配置", configPath)
		return config.Default("."), nil
	}
	return nil, err
}

// openBackends 并行连接存储、事件与链节点，任一失败时关闭已打开的部分。
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	deps := &backends{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		store, err := openOrderStore(gctx, cfg.Storage.OrderStore)
		deps.orders = store
		return err
	})
	g.Go(func() error {
		store, err := openSessionStore(gctx, cfg.Storage.SessionStore)
		deps.sessions = store
		return err
	})
	g.Go(func() error {
		publisher, err := openPublisher(cfg.Events)
		deps.publisher = publisher
		return err
	})
	if cfg.Ledger.ChainConfig != "" || cfg.Ledger.RPCURL != "" {
		g.Go(func() error {
			registry, err := ledger.NewRegistry(gctx, cfg.Ledger, ledger.DialEVM)
			if err != nil {
				return fmt.Errorf("初始化账本失败: %w", err)
			}
			deps.ledgers = registry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

func openOrderStore(ctx context.Context, cfg config.OrderStoreConfig) (order.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return order.NewMemoryStore(), nil
	case "mysql":
		store, err := order.NewMySQLStore(ctx, order.MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的订单存储: %s", cfg.Driver)
	}
}

func openSessionStore(ctx context.Context, cfg config.SessionStoreConfig) (session.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		store, err := session.NewRedisStore(ctx, session.RedisConfig{
			Address:  cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
			TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的会话存储: %s", cfg.Driver)
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "memory":
		return events.NewMemoryPublisher(1024), nil
	case "none":
		return events.Nop{}, nil
	case "rabbitmq":
		publisher, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.URL,
			Exchange: cfg.Exchange,
			Durable:  cfg.Durable,
		})
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("未知的事件投递方式: %s", cfg.Driver)
	}
}

func createCatalog(cfg config.CatalogConfig) (catalog.Catalog, error) {
	fallback := catalog.Fallback()
	if cfg.File != "" {
		static, err := catalog.LoadStaticCatalog(cfg.File)
		if err != nil {
			return nil, err
		}
		fallback = static
	}
	if cfg.Source != "remote" {
		return fallback, nil
	}
	remote, err := catalog.NewHTTPCatalog(catalog.HTTPConfig{
		BaseURL: cfg.RemoteURL,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return catalog.NewFallbackCatalog(remote, fallback), nil
}

func spendingLimits(cfg config.PolicyConfig) (policy.SpendingLimits, error) {
	limits := policy.Default()
	if cfg.LargeOrderThreshold != "" {
		v, err := decimal.NewFromString(cfg.LargeOrderThreshold)
		if err != nil {
			return limits, fmt.Errorf("policy.large_order_threshold 无效: %w", err)
		}
		limits.LargeOrder = v
	}
	if cfg.HighValueThreshold != "" {
		v, err := decimal.NewFromString(cfg.HighValueThreshold)
		if err != nil {
			return limits, fmt.Errorf("policy.high_value_threshold 无效: %w", err)
		}
		limits.HighValue = v
	}
	if limits.HighValue.LessThan(limits.LargeOrder) {
		return limits, errors.New("policy.high_value_threshold 不能低于 large_order_threshold")
	}
	return limits, nil
}
