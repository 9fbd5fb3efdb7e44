// Package types provides configuration type definitions.
package types

// AppConfig 应用程序根配置
// 只包含JSON配置文件解析所需的结构，不包含任何内部字段
// 默认值和完整配置结构在 internal/config/*/defaults.go 和 internal/config/*/config.go 中定义
type AppConfig struct {
	// 应用程序基本信息
	AppName *string `json:"app_name,omitempty"` // 应用名称
	DataDir *string `json:"data_dir,omitempty"` // 数据目录路径

	// 区块链配置（链ID、创世参数）
	Blockchain *UserBlockchainConfig `json:"blockchain,omitempty"`

	// 共识管理器配置
	Consensus *UserConsensusConfig `json:"consensus,omitempty"`

	// 存储配置
	Storage *UserStorageConfig `json:"storage,omitempty"`

	// 日志配置
	Log *UserLogConfig `json:"log,omitempty"`

	// 事件总线配置
	Event *UserEventConfig `json:"event,omitempty"`

	// 时钟配置
	Clock *UserClockConfig `json:"clock,omitempty"`

	// API服务配置
	API *UserAPIConfig `json:"api,omitempty"`
}

// UserBlockchainConfig 用户区块链配置
type UserBlockchainConfig struct {
	ChainID *uint32 `json:"chain_id,omitempty"` // 链ID

	// 创世区块参数
	GenesisTimestamp  *int64  `json:"genesis_timestamp,omitempty"`  // unix 毫秒
	GenesisDifficulty *uint64 `json:"genesis_difficulty,omitempty"` // 创世难度
}

// UserConsensusConfig 用户共识配置
type UserConsensusConfig struct {
	// MaxReorgLength 单次重组允许回退的最大区块数
	MaxReorgLength *uint32 `json:"max_reorg_length,omitempty"`
	// RetainedDepth 活跃链尖以下保留的区块头深度（必须 >= MaxReorgLength）
	RetainedDepth *uint32 `json:"retained_depth,omitempty"`

	// ValidationRuleSet 每个阶段按顺序执行的规则名
	ValidationRuleSet *UserValidationRuleSet `json:"validation_rule_set,omitempty"`

	PartialValidationWorkers *int     `json:"partial_validation_workers,omitempty"` // 并行预校验的工作协程数
	FullRuleTimeout          *string  `json:"full_rule_timeout,omitempty"`          // 单条全量规则超时，如 "2s"
	MaxBlockTransactions     *int     `json:"max_block_transactions,omitempty"`
	MaxBlockSize             *int     `json:"max_block_size,omitempty"` // 字节
	MaxValueSize             *int     `json:"max_value_size,omitempty"` // 单个写集值上限（字节）
	MaxFutureDrift           *string  `json:"max_future_drift,omitempty"`
	MinDifficulty            *uint64  `json:"min_difficulty,omitempty"`
	MaxDifficulty            *uint64  `json:"max_difficulty,omitempty"`
	AuthorizedValidators     []string `json:"authorized_validators,omitempty"` // 压缩公钥 hex
	AuthorizedMembers        []string `json:"authorized_members,omitempty"`    // 可提交交易的成员公钥 hex
	RejectedCacheSize        *int     `json:"rejected_cache_size,omitempty"`   // 拒绝区块头缓存容量（MB）
}

// UserValidationRuleSet 每个校验阶段的规则列表
type UserValidationRuleSet struct {
	Header    []string `json:"header,omitempty"`
	Integrity []string `json:"integrity,omitempty"`
	Partial   []string `json:"partial,omitempty"`
	Full      []string `json:"full,omitempty"`
}

// UserStorageConfig 用户存储配置
type UserStorageConfig struct {
	DataRoot *string `json:"data_root,omitempty"` // 数据根目录（data_root）
	InMemory *bool   `json:"in_memory,omitempty"` // badger 内存模式（测试/演示）
}

// UserLogConfig 用户日志配置
type UserLogConfig struct {
	Level    *string `json:"level,omitempty"`     // 日志级别：debug, info, warn, error, fatal
	FilePath *string `json:"file_path,omitempty"` // 日志文件路径
	Console  *bool   `json:"console,omitempty"`   // 是否输出到控制台
}

// UserEventConfig 用户事件总线配置
type UserEventConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// UserClockConfig 用户时钟配置
type UserClockConfig struct {
	Type      *string `json:"type,omitempty"`       // system | ntp
	NTPServer *string `json:"ntp_server,omitempty"` // ntp 服务器地址
}

// UserAPIConfig 用户API服务配置
type UserAPIConfig struct {
	HTTPEnabled *bool   `json:"http_enabled,omitempty"` // 是否启用HTTP服务（默认true）
	HTTPHost    *string `json:"http_host,omitempty"`
	HTTPPort    *int    `json:"http_port,omitempty"` // HTTP监听端口
	ReadQPS     *int    `json:"read_qps,omitempty"`
	WriteQPS    *int    `json:"write_qps,omitempty"`

	StreamMaxClients *int `json:"stream_max_clients,omitempty"` // /ws 推送连接上限
}
