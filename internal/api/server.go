package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ShopMCP-Chain/internal/agent"
	"ShopMCP-Chain/internal/observability/metrics"
	"ShopMCP-Chain/internal/tools"
)

// Server 负责暴露 REST 接口与工具调用接口。
type Server struct {
	addr           string
	agent          *agent.Agent
	tools          *tools.Registry
	metrics        bool
	limiter        *rateLimiter
	allowedOrigins []string
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithTools 挂载工具调用接口。
func WithTools(reg *tools.Registry) Option {
	return func(s *Server) { s.tools = reg }
}

// WithMetrics 控制是否暴露 /metrics。
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metrics = enabled }
}

// WithRateLimit 按会话（无会话时按客户端地址）限流，rps 不大于 0 时不限流。
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newRateLimiter(rps, burst)
		}
	}
}

// WithAllowedOrigins 限制工具 websocket 的来源。
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, opts ...Option) *Server {
	s := &Server{addr: addr, agent: ag}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /healthz", s.handleHealth)
	s.route(mux, "GET /.well-known/shopmcp.json", s.handleCapabilities)

	s.route(mux, "GET /api/v1/search", s.handleSearch)
	s.route(mux, "GET /api/v1/quote", s.handleQuote)
	s.route(mux, "GET /api/v1/session", s.handleSession)
	s.route(mux, "POST /api/v1/session/select", s.handleSelect)
	s.route(mux, "POST /api/v1/orders", s.handleCreateOrder)
	s.route(mux, "GET /api/v1/orders", s.handleListOrders)
	s.route(mux, "GET /api/v1/orders/{id}", s.handleOrderStatus)
	s.route(mux, "POST /api/v1/orders/{id}/confirm", s.handleConfirmOrder)
	s.route(mux, "POST /api/v1/orders/{id}/pay", s.handlePay)
	s.route(mux, "GET /api/v1/verify/{reference}", s.handleVerify)
	s.route(mux, "POST /api/v1/purchase", s.handlePurchase)
	s.route(mux, "POST /api/v1/wallet/link", s.handleLinkWallet)
	s.route(mux, "GET /api/v1/wallet", s.handleWalletStatus)
	s.route(mux, "GET /api/v1/wallet/balance", s.handleWalletBalance)
	s.route(mux, "POST /api/v1/wallet/sign", s.handleWalletSign)

	if s.tools != nil {
		s.route(mux, "GET /api/v1/tools", s.handleListTools)
		s.route(mux, "POST /api/v1/tools/{name}", s.handleInvokeTool)
		mux.Handle("GET /api/v1/tools/ws", tools.NewWSHandler(s.tools, s.allowedOrigins))
	}
	if s.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.middleware(handler)
	}
	return handler
}

// route 注册处理函数，并以路由模式为标签记录请求指标。
func (s *Server) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, observe(pattern, fn))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "SHUTTING_DOWN", "message": "服务已关闭"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
