// Package http 提供节点的本地 HTTP API
//
// 路由：
//   - /health, /health/live, /health/ready  健康检查
//   - /metrics                              Prometheus 指标
//   - /api/v1/...                           链查询与区块头/区块提交
//   - /ws                                   链尖变化推送（配置了 Stream 时）
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weisyn/permnode/internal/api/http/handlers"
	"github.com/weisyn/permnode/internal/api/http/middleware"
	"github.com/weisyn/permnode/internal/api/websocket"
	apiconfig "github.com/weisyn/permnode/internal/config/api"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
)

// shutdownTimeout 关闭时等待活跃连接完成的最长时间
const shutdownTimeout = 5 * time.Second

// ServerDeps HTTP 服务器依赖
type ServerDeps struct {
	Options    apiconfig.HTTPConfig
	Logger     log.Logger
	Chain      handlers.ChainQuery
	WriteGate  writegate.WriteGate
	Gatherer   prometheus.Gatherer   // 为 nil 时不注册 /metrics
	Registerer prometheus.Registerer // 为 nil 时 API 指标注册到私有注册表
	Stream     *websocket.Hub        // 为 nil 时不注册 /ws
	Version    string
}

// Server HTTP服务器
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	opts       apiconfig.HTTPConfig
	logger     log.Logger
	stream     *websocket.Hub
}

// NewServer 创建服务器并注册全部路由，不监听端口
func NewServer(deps ServerDeps) *Server {
	// 未设置 GIN_MODE 时使用 release 模式并关闭 gin 自带输出
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
		gin.DefaultWriter = io.Discard
	}

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(deps.Logger),
		middleware.NewMetrics(reg).Middleware(),
		middleware.ErrorHandler(deps.Logger.GetZapLogger()),
	)

	s := &Server{
		router: router,
		opts:   deps.Options,
		logger: deps.Logger,
		stream: deps.Stream,
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps ServerDeps) {
	handlers.NewHealthHandler(deps.Chain, deps.WriteGate, deps.Version).RegisterRoutes(s.router)

	if deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if deps.Stream != nil {
		s.router.GET("/ws", deps.Stream.Handle)
	}

	v1 := s.router.Group("/api/v1")
	qps := deps.Options.ReadQPS
	if qps > 0 && deps.Options.WriteQPS > 0 {
		v1.Use(middleware.NewRateLimit(qps, deps.Options.WriteQPS).Middleware())
	}
	handlers.NewChainHandlers(deps.Chain, deps.Logger).RegisterRoutes(v1)
}

// Handler 返回路由引擎（测试使用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 返回实际监听地址；未启动时返回配置地址
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Address()
}

// Start 监听端口并在后台协程中提供服务
//
// 端口被占用时直接返回错误。
func (s *Server) Start() error {
	addr := s.opts.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("❌ HTTP服务器运行失败: %v", err)
		}
	}()

	s.logger.Infof("✅ HTTP服务器启动成功，监听地址: %s", ln.Addr())
	return nil
}

// Stop 优雅关闭服务器，等待活跃请求处理完成
func (s *Server) Stop(ctx context.Context) error {
	if s.stream != nil {
		s.stream.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(stopCtx); err != nil {
		s.logger.Errorf("HTTP服务器关闭出错: %v", err)
		return err
	}
	s.logger.Info("HTTP服务器已关闭")
	return nil
}
