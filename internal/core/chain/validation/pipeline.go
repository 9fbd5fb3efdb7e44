package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

// Options 流水线运行参数
type Options struct {
	// FullRuleTimeout 单条 Full 规则的超时，<=0 表示不限时
	FullRuleTimeout time.Duration
	// Workers 批量预校验的并发上限
	Workers int
}

// Pipeline 四阶段校验流水线
type Pipeline struct {
	stages [4][]Rule
	opts   Options
}

// NewPipeline 由各阶段的有序规则构造流水线，规则所属阶段必须与所在列表一致
func NewPipeline(header, integrity, partial, full []Rule, opts Options) (*Pipeline, error) {
	p := &Pipeline{opts: opts}
	for stage, rules := range [][]Rule{header, integrity, partial, full} {
		for _, r := range rules {
			if r.Stage() != Stage(stage) {
				return nil, fmt.Errorf("rule %s belongs to stage %s, configured under %s", r.Name(), r.Stage(), Stage(stage))
			}
		}
		p.stages[stage] = append([]Rule(nil), rules...)
	}
	if p.opts.Workers <= 0 {
		p.opts.Workers = 1
	}
	return p, nil
}

// RuleNames 返回阶段内按执行顺序排列的规则名
func (p *Pipeline) RuleNames(stage Stage) []string {
	names := make([]string, 0, len(p.stages[stage]))
	for _, r := range p.stages[stage] {
		names = append(names, r.Name())
	}
	return names
}

// ValidateHeader 运行区块头规则
func (p *Pipeline) ValidateHeader(ctx context.Context, vc *Context) error {
	return p.run(ctx, StageHeader, vc)
}

// ValidateIntegrity 运行完整性规则
func (p *Pipeline) ValidateIntegrity(ctx context.Context, vc *Context) error {
	if vc.Block == nil {
		return &types.ConsensusError{Kind: types.KindIntegrityInvalid, Reason: "block body missing", Height: vc.Height(), Hash: vc.Hash, Peer: vc.Peer}
	}
	return p.run(ctx, StageIntegrity, vc)
}

// ValidatePartial 运行部分校验规则
func (p *Pipeline) ValidatePartial(ctx context.Context, vc *Context) error {
	return p.run(ctx, StagePartial, vc)
}

// PrevalidateBlock 依次运行 Integrity 与 Partial 阶段
func (p *Pipeline) PrevalidateBlock(ctx context.Context, vc *Context) error {
	if err := p.ValidateIntegrity(ctx, vc); err != nil {
		return err
	}
	return p.ValidatePartial(ctx, vc)
}

// ValidateFull 在 vc.State 快照上运行全量规则
//
// 规则超时（context.DeadlineExceeded）按普通的全量校验失败处理。
// 状态读取失败（state.ErrStorage）原样返回，不包装为共识错误。
func (p *Pipeline) ValidateFull(ctx context.Context, vc *Context) error {
	if vc.State == nil {
		return &types.ConsensusError{Kind: types.KindFullValidationFailed, Reason: "state snapshot missing", Height: vc.Height(), Hash: vc.Hash}
	}
	for _, rule := range p.stages[StageFull] {
		ruleCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.opts.FullRuleTimeout > 0 {
			ruleCtx, cancel = context.WithTimeout(ctx, p.opts.FullRuleTimeout)
		}
		err := rule.Validate(ruleCtx, vc)
		timedOut := errors.Is(ruleCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			if errors.Is(err, state.ErrStorage) {
				return fmt.Errorf("full rule %s on %s: %w", rule.Name(), vc.Hash.Short(), err)
			}
			ce := wrapRuleError(StageFull, rule, vc, err)
			if timedOut || errors.Is(err, context.DeadlineExceeded) {
				ce.Kind = types.KindFullValidationFailed
				ce.Reason = fmt.Sprintf("rule exceeded %s", p.opts.FullRuleTimeout)
			}
			return ce
		}
	}
	return nil
}

// PrevalidateBatch 并发预校验互相独立的区块，返回与输入一一对应的错误
func (p *Pipeline) PrevalidateBatch(ctx context.Context, batch []*Context) []error {
	errs := make([]error, len(batch))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, vc := range batch {
		i, vc := i, vc
		g.Go(func() error {
			errs[i] = p.PrevalidateBlock(ctx, vc)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (p *Pipeline) run(ctx context.Context, stage Stage, vc *Context) error {
	for _, rule := range p.stages[stage] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rule.Validate(ctx, vc); err != nil {
			return wrapRuleError(stage, rule, vc, err)
		}
	}
	return nil
}
