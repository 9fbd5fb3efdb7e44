package validation

import (
	"context"
	"fmt"

	"github.com/weisyn/permnode/pkg/types"
)

// Stage 校验阶段
type Stage int

const (
	StageHeader Stage = iota
	StageIntegrity
	StagePartial
	StageFull
)

// String 阶段名称
func (s Stage) String() string {
	switch s {
	case StageHeader:
		return "header"
	case StageIntegrity:
		return "integrity"
	case StagePartial:
		return "partial"
	case StageFull:
		return "full"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Kind 阶段失败对应的共识错误类别
func (s Stage) Kind() types.ErrorKind {
	switch s {
	case StageHeader:
		return types.KindHeaderInvalid
	case StageIntegrity:
		return types.KindIntegrityInvalid
	case StagePartial:
		return types.KindPartialValidationFailed
	case StageFull:
		return types.KindFullValidationFailed
	default:
		return types.KindUnknown
	}
}

// Rule 校验规则
//
// Validate 返回 nil 表示通过。返回的非 ConsensusError 错误由流水线包装为本阶段的错误类别。
type Rule interface {
	Name() string
	Stage() Stage
	Validate(ctx context.Context, vc *Context) error
}

// RuleFunc 以函数形式实现的规则
type RuleFunc struct {
	RuleName  string
	RuleStage Stage
	Fn        func(ctx context.Context, vc *Context) error
}

func (r *RuleFunc) Name() string { return r.RuleName }

func (r *RuleFunc) Stage() Stage { return r.RuleStage }

func (r *RuleFunc) Validate(ctx context.Context, vc *Context) error { return r.Fn(ctx, vc) }

// wrapRuleError 把规则错误统一为带规则名、高度、哈希的共识错误
func wrapRuleError(stage Stage, rule Rule, vc *Context, err error) *types.ConsensusError {
	ce, ok := types.AsConsensusError(err)
	if !ok {
		ce = &types.ConsensusError{Kind: stage.Kind(), Err: err}
	} else {
		copied := *ce
		ce = &copied
		if ce.Kind == types.KindUnknown {
			ce.Kind = stage.Kind()
		}
	}
	if ce.Rule == "" {
		ce.Rule = rule.Name()
	}
	if ce.Hash.IsZero() {
		ce.Height = vc.Height()
		ce.Hash = vc.Hash
	}
	if ce.Peer == "" {
		ce.Peer = vc.Peer
	}
	return ce
}
