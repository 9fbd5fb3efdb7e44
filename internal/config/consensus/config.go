package consensus

import (
	"fmt"
	"time"

	"github.com/weisyn/permnode/pkg/types"
)

// RuleSetOptions 每个校验阶段按顺序执行的规则名
type RuleSetOptions struct {
	Header    []string `json:"header"`
	Integrity []string `json:"integrity"`
	Partial   []string `json:"partial"`
	Full      []string `json:"full"`
}

// ConsensusOptions 共识管理器配置选项
type ConsensusOptions struct {
	// === 重组控制 ===
	MaxReorgLength uint32 `json:"max_reorg_length"` // 单次重组最大回退深度
	RetainedDepth  uint32 `json:"retained_depth"`   // 区块头/撤销日志保留深度

	// === 校验流水线 ===
	ValidationRuleSet        RuleSetOptions `json:"validation_rule_set"`
	PartialValidationWorkers int            `json:"partial_validation_workers"`
	FullRuleTimeout          time.Duration  `json:"full_rule_timeout"`

	// === 区块限制 ===
	MaxBlockTransactions int `json:"max_block_transactions"`
	MaxBlockSize         int `json:"max_block_size"`
	MaxValueSize         int `json:"max_value_size"`

	// === 区块头限制 ===
	MaxFutureDrift time.Duration `json:"max_future_drift"`
	MinDifficulty  uint64        `json:"min_difficulty"`
	MaxDifficulty  uint64        `json:"max_difficulty"`

	// === 许可成员 ===
	AuthorizedValidators []string `json:"authorized_validators"` // 出块验证者公钥（hex）
	AuthorizedMembers    []string `json:"authorized_members"`    // 交易提交成员公钥（hex），为空时沿用验证者集合

	RejectedCacheSizeMB int `json:"rejected_cache_size_mb"`
}

// Config 共识配置实现
type Config struct {
	options *ConsensusOptions
}

// New 创建共识配置实现
func New(userConfig *types.UserConsensusConfig) *Config {
	options := createDefaultConsensusOptions()
	if userConfig != nil {
		applyUserConfig(options, userConfig)
	}
	return &Config{options: options}
}

// createDefaultConsensusOptions 创建默认共识配置
func createDefaultConsensusOptions() *ConsensusOptions {
	return &ConsensusOptions{
		MaxReorgLength: defaultMaxReorgLength,
		RetainedDepth:  defaultRetainedDepth,
		ValidationRuleSet: RuleSetOptions{
			Header:    append([]string(nil), defaultHeaderRules...),
			Integrity: append([]string(nil), defaultIntegrityRules...),
			Partial:   append([]string(nil), defaultPartialRules...),
			Full:      append([]string(nil), defaultFullRules...),
		},
		PartialValidationWorkers: defaultPartialValidationWorkers,
		FullRuleTimeout:          defaultFullRuleTimeout,
		MaxBlockTransactions:     defaultMaxBlockTransactions,
		MaxBlockSize:             defaultMaxBlockSize,
		MaxValueSize:             defaultMaxValueSize,
		MaxFutureDrift:           defaultMaxFutureDrift,
		MinDifficulty:            defaultMinDifficulty,
		MaxDifficulty:            defaultMaxDifficulty,
		RejectedCacheSizeMB:      defaultRejectedCacheSizeMB,
	}
}

// applyUserConfig 应用用户配置覆盖默认值
func applyUserConfig(options *ConsensusOptions, user *types.UserConsensusConfig) {
	if user.MaxReorgLength != nil {
		options.MaxReorgLength = *user.MaxReorgLength
	}
	if user.RetainedDepth != nil {
		options.RetainedDepth = *user.RetainedDepth
	}
	if rs := user.ValidationRuleSet; rs != nil {
		// 显式给出的阶段整体替换默认规则列表；空列表表示该阶段不运行任何规则
		if rs.Header != nil {
			options.ValidationRuleSet.Header = append([]string(nil), rs.Header...)
		}
		if rs.Integrity != nil {
			options.ValidationRuleSet.Integrity = append([]string(nil), rs.Integrity...)
		}
		if rs.Partial != nil {
			options.ValidationRuleSet.Partial = append([]string(nil), rs.Partial...)
		}
		if rs.Full != nil {
			options.ValidationRuleSet.Full = append([]string(nil), rs.Full...)
		}
	}
	if user.PartialValidationWorkers != nil && *user.PartialValidationWorkers > 0 {
		options.PartialValidationWorkers = *user.PartialValidationWorkers
	}
	if user.FullRuleTimeout != nil {
		if d, err := time.ParseDuration(*user.FullRuleTimeout); err == nil {
			options.FullRuleTimeout = d
		}
	}
	if user.MaxBlockTransactions != nil {
		options.MaxBlockTransactions = *user.MaxBlockTransactions
	}
	if user.MaxBlockSize != nil {
		options.MaxBlockSize = *user.MaxBlockSize
	}
	if user.MaxValueSize != nil {
		options.MaxValueSize = *user.MaxValueSize
	}
	if user.MaxFutureDrift != nil {
		if d, err := time.ParseDuration(*user.MaxFutureDrift); err == nil {
			options.MaxFutureDrift = d
		}
	}
	if user.MinDifficulty != nil {
		options.MinDifficulty = *user.MinDifficulty
	}
	if user.MaxDifficulty != nil {
		options.MaxDifficulty = *user.MaxDifficulty
	}
	if len(user.AuthorizedValidators) > 0 {
		options.AuthorizedValidators = append([]string(nil), user.AuthorizedValidators...)
	}
	if len(user.AuthorizedMembers) > 0 {
		options.AuthorizedMembers = append([]string(nil), user.AuthorizedMembers...)
	}
	if user.RejectedCacheSize != nil && *user.RejectedCacheSize > 0 {
		options.RejectedCacheSizeMB = *user.RejectedCacheSize
	}
}

// Validate 校验配置一致性
func (o *ConsensusOptions) Validate() error {
	if o.RetainedDepth < o.MaxReorgLength {
		return fmt.Errorf("retained_depth (%d) must be >= max_reorg_length (%d)", o.RetainedDepth, o.MaxReorgLength)
	}
	if o.MinDifficulty > o.MaxDifficulty {
		return fmt.Errorf("min_difficulty (%d) exceeds max_difficulty (%d)", o.MinDifficulty, o.MaxDifficulty)
	}
	if o.PartialValidationWorkers <= 0 {
		return fmt.Errorf("partial_validation_workers must be positive")
	}
	return nil
}

// GetOptions 获取完整的共识配置选项
func (c *Config) GetOptions() *ConsensusOptions {
	return c.options
}
