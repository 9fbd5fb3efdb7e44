// Package config 定义各模块读取配置的入口接口
package config

import (
	apiconfig "github.com/weisyn/permnode/internal/config/api"
	blockchainconfig "github.com/weisyn/permnode/internal/config/blockchain"
	clockconfig "github.com/weisyn/permnode/internal/config/clock"
	consensusconfig "github.com/weisyn/permnode/internal/config/consensus"
	eventconfig "github.com/weisyn/permnode/internal/config/event"
	logconfig "github.com/weisyn/permnode/internal/config/log"
	badgerconfig "github.com/weisyn/permnode/internal/config/storage/badger"
	memoryconfig "github.com/weisyn/permnode/internal/config/storage/memory"
	"github.com/weisyn/permnode/pkg/types"
)

// Provider 配置提供者接口
type Provider interface {
	// === 核心配置 ===

	// GetAPI 获取API服务配置
	GetAPI() *apiconfig.APIOptions

	// GetBlockchain 获取区块链配置（链ID、创世参数）
	GetBlockchain() *blockchainconfig.BlockchainOptions

	// GetConsensus 获取共识管理器配置
	GetConsensus() *consensusconfig.ConsensusOptions

	// GetLog 获取日志配置
	GetLog() *logconfig.LogOptions

	// GetEvent 获取事件配置
	GetEvent() *eventconfig.EventOptions

	// GetClock 获取时钟配置
	GetClock() *clockconfig.ClockOptions

	// === 存储引擎配置 ===

	// GetBadger 获取BadgerDB存储配置
	GetBadger() *badgerconfig.BadgerOptions

	// GetMemory 获取内存存储配置
	GetMemory() *memoryconfig.MemoryOptions

	// GetDataDir 获取数据根目录
	GetDataDir() string

	// === 原始配置访问 ===

	// GetAppConfig 获取原始应用配置
	GetAppConfig() *types.AppConfig
}

// AppOptions 启动参数中携带的原始配置来源
//
// 由 app 层在装配时提供；未提供时 Provider 全部使用默认值。
type AppOptions interface {
	GetAppConfig() *types.AppConfig
}
