package blockchain

import "github.com/weisyn/permnode/pkg/types"

// BlockchainOptions 区块链配置选项
type BlockchainOptions struct {
	ChainID uint32 `json:"chain_id"`

	// 创世区块参数：同一链的所有节点必须一致，否则创世哈希不同
	GenesisTimestamp  int64  `json:"genesis_timestamp"`
	GenesisDifficulty uint64 `json:"genesis_difficulty"`
}

// Config 区块链配置实现
type Config struct {
	options *BlockchainOptions
}

// New 创建区块链配置实现
func New(userConfig *types.UserBlockchainConfig) *Config {
	options := &BlockchainOptions{
		ChainID:           defaultChainID,
		GenesisTimestamp:  defaultGenesisTimestamp,
		GenesisDifficulty: defaultGenesisDifficulty,
	}
	if userConfig != nil {
		if userConfig.ChainID != nil {
			options.ChainID = *userConfig.ChainID
		}
		if userConfig.GenesisTimestamp != nil {
			options.GenesisTimestamp = *userConfig.GenesisTimestamp
		}
		if userConfig.GenesisDifficulty != nil {
			options.GenesisDifficulty = *userConfig.GenesisDifficulty
		}
	}
	return &Config{options: options}
}

// GetOptions 获取完整的区块链配置选项
func (c *Config) GetOptions() *BlockchainOptions {
	return c.options
}

// GenesisHeader 根据配置构造创世区块头
//
// 创世区块不含交易、不需要签名，MerkleRoot 为全零。
func (o *BlockchainOptions) GenesisHeader() *types.BlockHeader {
	return &types.BlockHeader{
		Version:    1,
		ChainID:    o.ChainID,
		Height:     0,
		Timestamp:  o.GenesisTimestamp,
		Difficulty: o.GenesisDifficulty,
	}
}

// GenesisBlock 根据配置构造创世区块
func (o *BlockchainOptions) GenesisBlock() *types.Block {
	return &types.Block{Header: o.GenesisHeader()}
}
