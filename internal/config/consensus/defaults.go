package consensus

import "time"

// 共识管理器配置默认值
const (
	// defaultMaxReorgLength 单次重组最多回退 20 个区块
	defaultMaxReorgLength uint32 = 20

	// defaultRetainedDepth 活跃链尖以下保留 100 个高度的区块头与撤销日志
	defaultRetainedDepth uint32 = 100

	defaultPartialValidationWorkers = 4
	defaultFullRuleTimeout          = 5 * time.Second

	defaultMaxBlockTransactions = 10000
	defaultMaxBlockSize         = 8 * 1024 * 1024
	defaultMaxValueSize         = 1024 * 1024

	defaultMaxFutureDrift = 15 * time.Second

	defaultMinDifficulty uint64 = 1
	defaultMaxDifficulty uint64 = 1 << 32

	// defaultRejectedCacheSizeMB 拒绝区块头缓存上限（MB）
	defaultRejectedCacheSizeMB = 16
)

// 默认规则集（按执行顺序）
var (
	defaultHeaderRules    = []string{"header_chain_id", "header_height", "header_difficulty", "header_timestamp", "header_signature"}
	defaultIntegrityRules = []string{"block_header_match", "tx_signature_format", "merkle_root"}
	defaultPartialRules   = []string{"block_size", "duplicate_tx", "write_set", "tx_signature"}
	defaultFullRules      = []string{"endorsement_policy", "mvcc_apply"}
)
