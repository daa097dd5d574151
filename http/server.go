// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           5000,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   64 << 10,
	}
}

// NewHandler builds the routed handler wrapped in the middleware chain.
func NewHandler(config ServerConfig, h *Handlers) http.Handler {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, h)

	chain := Chain(
		RecoveryMiddleware(h.Logger),          // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(h.Logger),            // 2. 日志中间件
		SecurityHeadersMiddleware,             // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins), // 4. CORS中间件
		RequestSizeMiddleware(config.MaxBodyBytes),
	)
	return chain(mux)
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, h *Handlers) *Server {
	handler := NewHandler(config, h)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			// websocket connections reset their own deadlines after the upgrade
			WriteTimeout: config.Timeout,
			IdleTimeout:  120 * time.Second,
			ErrorLog:     zap.NewStdLog(h.Logger),
		},
		config: config,
		logger: h.Logger,
	}
}

// Start 启动服务器, blocking until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.String("ws", "/api/ws/predictions"),
	)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
