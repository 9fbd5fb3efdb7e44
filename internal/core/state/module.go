package state

import (
	"go.uber.org/fx"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
	stateif "github.com/weisyn/permnode/pkg/interfaces/state"
)

// ModuleInput 定义状态仓库模块的输入依赖
type ModuleInput struct {
	fx.In

	Store     storage.BadgerStore
	WriteGate writegate.WriteGate
	Logger    log.Logger
}

// ModuleOutput 定义状态仓库模块的输出服务
type ModuleOutput struct {
	fx.Out

	Repository     stateif.Repository
	RepositoryImpl *Repository
}

// Module 返回状态仓库模块
func Module() fx.Option {
	return fx.Module("state",
		fx.Provide(ProvideRepository),
	)
}

// ProvideRepository 创建状态仓库；链尖由共识管理器启动时 Initialize 加载
func ProvideRepository(input ModuleInput) ModuleOutput {
	repo := New(input.Store, input.WriteGate, input.Logger.With("module", "state"))
	return ModuleOutput{Repository: repo, RepositoryImpl: repo}
}
