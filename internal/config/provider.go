package config

import (
	"github.com/weisyn/permnode/internal/config/api"
	"github.com/weisyn/permnode/internal/config/blockchain"
	"github.com/weisyn/permnode/internal/config/clock"
	"github.com/weisyn/permnode/internal/config/consensus"
	"github.com/weisyn/permnode/internal/config/event"
	"github.com/weisyn/permnode/internal/config/log"
	"github.com/weisyn/permnode/internal/config/storage/badger"
	"github.com/weisyn/permnode/internal/config/storage/memory"
	"github.com/weisyn/permnode/pkg/interfaces/config"
	"github.com/weisyn/permnode/pkg/types"
)

// defaultDataDir 未配置 data_dir / storage.data_root 时的数据根目录
const defaultDataDir = "./data"

// Provider 实现配置提供者接口
type Provider struct {
	appConfig *types.AppConfig
}

// 编译时校验
var _ config.Provider = (*Provider)(nil)

// NewProvider 创建配置提供者
func NewProvider(appConfig *types.AppConfig) config.Provider {
	if appConfig == nil {
		appConfig = &types.AppConfig{}
	}
	return &Provider{
		appConfig: appConfig,
	}
}

// GetAPI 获取API服务配置
func (p *Provider) GetAPI() *api.APIOptions {
	return api.New(p.appConfig.API).GetOptions()
}

// GetBlockchain 获取区块链配置
func (p *Provider) GetBlockchain() *blockchain.BlockchainOptions {
	return blockchain.New(p.appConfig.Blockchain).GetOptions()
}

// GetConsensus 获取共识配置
func (p *Provider) GetConsensus() *consensus.ConsensusOptions {
	return consensus.New(p.appConfig.Consensus).GetOptions()
}

// GetLog 获取日志配置
func (p *Provider) GetLog() *log.LogOptions {
	return log.New(p.appConfig.Log).GetOptions()
}

// GetEvent 获取事件配置
func (p *Provider) GetEvent() *event.EventOptions {
	return event.New(p.appConfig.Event).GetOptions()
}

// GetClock 获取时钟配置
func (p *Provider) GetClock() *clock.ClockOptions {
	return clock.New(p.appConfig.Clock).GetOptions()
}

// GetBadger 获取BadgerDB存储配置
//
// storage.data_root 未配置时回退到 data_dir。
func (p *Provider) GetBadger() *badger.BadgerOptions {
	storage := p.appConfig.Storage
	if storage == nil || storage.DataRoot == nil {
		dataRoot := p.GetDataDir()
		merged := &types.UserStorageConfig{DataRoot: &dataRoot}
		if storage != nil {
			merged.InMemory = storage.InMemory
		}
		storage = merged
	}
	return badger.New(storage).GetOptions()
}

// GetMemory 获取内存存储配置
func (p *Provider) GetMemory() *memory.MemoryOptions {
	return memory.New(p.GetConsensus().RejectedCacheSizeMB).GetOptions()
}

// GetDataDir 获取数据根目录
func (p *Provider) GetDataDir() string {
	if p.appConfig.DataDir != nil && *p.appConfig.DataDir != "" {
		return *p.appConfig.DataDir
	}
	return defaultDataDir
}

// GetAppConfig 获取原始应用配置
func (p *Provider) GetAppConfig() *types.AppConfig {
	return p.appConfig
}
