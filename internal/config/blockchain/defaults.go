package blockchain

// 区块链配置默认值
const (
	defaultChainID uint32 = 1

	// defaultGenesisTimestamp 2025-01-01T00:00:00Z（unix 毫秒）
	defaultGenesisTimestamp int64 = 1735689600000

	defaultGenesisDifficulty uint64 = 1
)
