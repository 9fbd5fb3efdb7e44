package manager

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	eventintegration "github.com/weisyn/permnode/internal/core/chain/integration/event"
	"github.com/weisyn/permnode/internal/core/chain/validation/rules"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/config"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	metricsiface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/metrics"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
	"github.com/weisyn/permnode/pkg/interfaces/state"
)

// ModuleInput 定义共识管理器模块的输入依赖
type ModuleInput struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Provider   config.Provider
	Logger     log.Logger
	Clock      clock.Clock
	State      state.Repository
	Store      storage.BadgerStore
	WriteGate  writegate.WriteGate

	MemoryStore storage.MemoryStore      `optional:"true"`
	EventBus    event.EventBus           `optional:"true"`
	Registerer  prometheus.Registerer    `optional:"true"`
	Banner      chain.PeerBanner         `optional:"true"`
	Sinks       []chain.NotificationSink `group:"notification_sinks"`
}

// ModuleOutput 定义共识管理器模块的输出服务
type ModuleOutput struct {
	fx.Out

	ConsensusManager chain.ConsensusManager
	Manager          *Manager
	MemoryReporter   metricsiface.MemoryReporter `group:"memory_reporters"`
}

// ProvideManager 按配置构造校验流水线与共识管理器，并在生命周期中启动
//
// 状态仓库损坏时写门闸进入只读，随后以退出码 1 请求关停。
func ProvideManager(input ModuleInput) (ModuleOutput, error) {
	logger := input.Logger.With("module", "consensus")
	consensusOpts := input.Provider.GetConsensus()
	chainOpts := input.Provider.GetBlockchain()

	validators, err := signature.NewKeySet(consensusOpts.AuthorizedValidators)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("parse authorized_validators: %w", err)
	}
	memberKeys := consensusOpts.AuthorizedMembers
	if len(memberKeys) == 0 {
		memberKeys = consensusOpts.AuthorizedValidators
	}
	members, err := signature.NewKeySet(memberKeys)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("parse authorized_members: %w", err)
	}

	pipeline, err := rules.BuildPipeline(rules.Dependencies{
		Consensus:  consensusOpts,
		ChainID:    chainOpts.ChainID,
		Clock:      input.Clock,
		Validators: validators,
		Members:    members,
	})
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("build validation pipeline: %w", err)
	}

	var sink chain.NotificationSink
	if len(input.Sinks) > 0 {
		sink = eventintegration.MultiSink(input.Sinks)
	}

	m, err := New(Options{
		Logger:        logger,
		Consensus:     consensusOpts,
		Chain:         chainOpts,
		Pipeline:      pipeline,
		State:         input.State,
		Store:         input.Store,
		Clock:         input.Clock,
		RejectedCache: input.MemoryStore,
		Sink:          sink,
		Banner:        input.Banner,
		WriteGate:     input.WriteGate,
		EventBus:      input.EventBus,
		Registerer:    input.Registerer,
		FatalFn: func(_ context.Context, reason error) {
			logger.Errorf("❌ 致命错误, 节点关停: %v", reason)
			if err := input.Shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
				logger.Errorf("请求关停失败: %v", err)
			}
		},
	})
	if err != nil {
		return ModuleOutput{}, err
	}

	input.Lifecycle.Append(fx.Hook{
		OnStart: m.Start,
		OnStop:  m.Stop,
	})

	return ModuleOutput{ConsensusManager: m, Manager: m, MemoryReporter: m}, nil
}
