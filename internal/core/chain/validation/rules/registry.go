// Package rules 提供内置的四阶段校验规则
package rules

import (
	"fmt"

	consensusconfig "github.com/weisyn/permnode/internal/config/consensus"
	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
)

// 内置规则名
const (
	HeaderChainID    = "header_chain_id"
	HeaderHeight     = "header_height"
	HeaderDifficulty = "header_difficulty"
	HeaderTimestamp  = "header_timestamp"
	HeaderSignature  = "header_signature"

	BlockHeaderMatch  = "block_header_match"
	TxSignatureFormat = "tx_signature_format"
	MerkleRoot        = "merkle_root"

	BlockSize   = "block_size"
	DuplicateTx = "duplicate_tx"
	WriteSet    = "write_set"
	TxSignature = "tx_signature"

	EndorsementPolicy = "endorsement_policy"
	MVCCApply         = "mvcc_apply"
)

// Dependencies 规则构造所需的外部依赖
type Dependencies struct {
	Consensus *consensusconfig.ConsensusOptions
	ChainID   uint32
	Clock     clock.Clock

	// Validators 授权出块者；为空时接受任意合法公钥（仍校验签名）
	Validators *signature.KeySet
	// Members 授权交易提交者；为空时不限制
	Members *signature.KeySet
	// Policy 背书策略，nil 时使用 MemberPolicy(Members)
	Policy PolicyFunc
}

// NewRegistry 注册全部内置规则
func NewRegistry(deps Dependencies) *validation.Registry {
	opts := deps.Consensus
	validators := deps.Validators
	if validators == nil {
		validators, _ = signature.NewKeySet(nil)
	}
	policy := deps.Policy
	if policy == nil {
		policy = MemberPolicy(deps.Members)
	}

	r := validation.NewRegistry()

	r.Register(HeaderChainID, validation.StageHeader, func() (validation.Rule, error) {
		return &chainIDRule{chainID: deps.ChainID}, nil
	})
	r.Register(HeaderHeight, validation.StageHeader, func() (validation.Rule, error) {
		return &heightRule{}, nil
	})
	r.Register(HeaderDifficulty, validation.StageHeader, func() (validation.Rule, error) {
		return &difficultyRule{min: opts.MinDifficulty, max: opts.MaxDifficulty}, nil
	})
	r.Register(HeaderTimestamp, validation.StageHeader, func() (validation.Rule, error) {
		if deps.Clock == nil {
			return nil, fmt.Errorf("clock is required")
		}
		return &timestampRule{clock: deps.Clock, maxDrift: opts.MaxFutureDrift}, nil
	})
	r.Register(HeaderSignature, validation.StageHeader, func() (validation.Rule, error) {
		return &headerSignatureRule{validators: validators}, nil
	})

	r.Register(BlockHeaderMatch, validation.StageIntegrity, func() (validation.Rule, error) {
		return &headerMatchRule{}, nil
	})
	r.Register(TxSignatureFormat, validation.StageIntegrity, func() (validation.Rule, error) {
		return &txSignatureFormatRule{}, nil
	})
	r.Register(MerkleRoot, validation.StageIntegrity, func() (validation.Rule, error) {
		return &merkleRootRule{}, nil
	})

	r.Register(BlockSize, validation.StagePartial, func() (validation.Rule, error) {
		return &blockSizeRule{maxTxs: opts.MaxBlockTransactions, maxBytes: opts.MaxBlockSize}, nil
	})
	r.Register(DuplicateTx, validation.StagePartial, func() (validation.Rule, error) {
		return &duplicateTxRule{}, nil
	})
	r.Register(WriteSet, validation.StagePartial, func() (validation.Rule, error) {
		return &writeSetRule{maxValue: opts.MaxValueSize}, nil
	})
	r.Register(TxSignature, validation.StagePartial, func() (validation.Rule, error) {
		return &txSignatureRule{workers: opts.PartialValidationWorkers}, nil
	})

	r.Register(EndorsementPolicy, validation.StageFull, func() (validation.Rule, error) {
		return &policyRule{policy: policy}, nil
	})
	r.Register(MVCCApply, validation.StageFull, func() (validation.Rule, error) {
		return &mvccApplyRule{}, nil
	})

	return r
}

// BuildPipeline 按配置的规则集构造校验流水线
func BuildPipeline(deps Dependencies) (*validation.Pipeline, error) {
	if deps.Consensus == nil {
		return nil, fmt.Errorf("consensus options are required")
	}
	set := deps.Consensus.ValidationRuleSet
	return NewRegistry(deps).Build(validation.RuleSet{
		Header:    set.Header,
		Integrity: set.Integrity,
		Partial:   set.Partial,
		Full:      set.Full,
	}, validation.Options{
		FullRuleTimeout: deps.Consensus.FullRuleTimeout,
		Workers:         deps.Consensus.PartialValidationWorkers,
	})
}
