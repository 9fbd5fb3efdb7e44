package http

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/weisyn/permnode/internal/api/websocket"
	"github.com/weisyn/permnode/internal/app/version"
	"github.com/weisyn/permnode/internal/core/chain/manager"
	"github.com/weisyn/permnode/pkg/interfaces/config"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
)

// ModuleInput 定义HTTP模块的输入依赖
type ModuleInput struct {
	fx.In

	Lifecycle fx.Lifecycle
	Provider  config.Provider
	Logger    log.Logger
	Manager   *manager.Manager
	WriteGate writegate.WriteGate

	Gatherer   prometheus.Gatherer   `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
	Stream     *websocket.Hub        `optional:"true"`
}

// Module 返回HTTP API模块
func Module() fx.Option {
	return fx.Module("api.http",
		fx.Provide(ProvideServer),
	)
}

// ProvideServer 创建HTTP服务器；配置禁用时不注册生命周期钩子
func ProvideServer(input ModuleInput) *Server {
	opts := input.Provider.GetAPI().HTTP
	logger := input.Logger.With("module", "api")

	server := NewServer(ServerDeps{
		Options:    opts,
		Logger:     logger,
		Chain:      input.Manager,
		WriteGate:  input.WriteGate,
		Gatherer:   input.Gatherer,
		Registerer: input.Registerer,
		Stream:     input.Stream,
		Version:    version.GetVersion(),
	})

	if !opts.Enabled {
		logger.Info("HTTP API在配置中被禁用")
		return server
	}
	input.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error { return server.Start() },
		OnStop:  server.Stop,
	})
	return server
}
