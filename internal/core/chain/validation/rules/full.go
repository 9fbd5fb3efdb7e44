package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

// PolicyFunc 背书策略：对区块内每笔交易调用，返回错误即整个区块全量校验失败
type PolicyFunc func(ctx context.Context, tx *types.Transaction, snap state.Snapshot) error

// MemberPolicy 要求交易创建者属于授权成员集合；集合为空时不限制
func MemberPolicy(members *signature.KeySet) PolicyFunc {
	return func(_ context.Context, tx *types.Transaction, _ state.Snapshot) error {
		if members == nil || members.Len() == 0 {
			return nil
		}
		if !members.Contains(tx.Creator) {
			return fmt.Errorf("creator %x is not an authorized member", tx.Creator)
		}
		return nil
	}
}

type policyRule struct{ policy PolicyFunc }

func (r *policyRule) Name() string            { return EndorsementPolicy }
func (r *policyRule) Stage() validation.Stage { return validation.StageFull }

func (r *policyRule) Validate(ctx context.Context, vc *validation.Context) error {
	for i, tx := range vc.Block.Transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.policy(ctx, tx, vc.State); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

// mvccApplyRule 按区块内顺序校验读集版本并应用写集
//
// 后面的交易能看到前面交易的写入；任何读冲突都使整个区块无效。
type mvccApplyRule struct{}

func (r *mvccApplyRule) Name() string            { return MVCCApply }
func (r *mvccApplyRule) Stage() validation.Stage { return validation.StageFull }

func (r *mvccApplyRule) Validate(ctx context.Context, vc *validation.Context) error {
	snap := vc.State
	for i, tx := range vc.Block.Transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, rd := range tx.ReadSet {
			current, err := snap.Version(rd.Key)
			if err != nil {
				return readFailed(err)
			}
			if current != rd.Version {
				return fmt.Errorf("transaction %d read conflict on %q: read version %d, current %d", i, rd.Key, rd.Version, current)
			}
		}
		for _, w := range tx.WriteSet {
			var err error
			if w.IsDelete {
				err = snap.Delete(w.Key)
			} else {
				err = snap.Put(w.Key, w.Value)
			}
			if err != nil {
				return fmt.Errorf("transaction %d write %q: %w", i, w.Key, err)
			}
		}
	}
	return nil
}

// readFailed 快照读取失败不是对区块内容的判定，统一标记为存储错误
func readFailed(err error) error {
	if errors.Is(err, state.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", state.ErrStorage, err)
}
