package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
)

type chainIDRule struct{ chainID uint32 }

func (r *chainIDRule) Name() string            { return HeaderChainID }
func (r *chainIDRule) Stage() validation.Stage { return validation.StageHeader }

func (r *chainIDRule) Validate(_ context.Context, vc *validation.Context) error {
	if vc.Header.ChainID != r.chainID {
		return fmt.Errorf("chain id %d, expected %d", vc.Header.ChainID, r.chainID)
	}
	return nil
}

type heightRule struct{}

func (r *heightRule) Name() string            { return HeaderHeight }
func (r *heightRule) Stage() validation.Stage { return validation.StageHeader }

func (r *heightRule) Validate(_ context.Context, vc *validation.Context) error {
	if vc.Parent == nil {
		return fmt.Errorf("parent header missing")
	}
	if vc.Header.PrevHash != vc.Parent.Hash() {
		return fmt.Errorf("previous hash %s does not match parent %s", vc.Header.PrevHash.Short(), vc.Parent.Hash().Short())
	}
	if vc.Header.Height != vc.Parent.Height()+1 {
		return fmt.Errorf("height %d, expected %d", vc.Header.Height, vc.Parent.Height()+1)
	}
	return nil
}

type difficultyRule struct{ min, max uint64 }

func (r *difficultyRule) Name() string            { return HeaderDifficulty }
func (r *difficultyRule) Stage() validation.Stage { return validation.StageHeader }

func (r *difficultyRule) Validate(_ context.Context, vc *validation.Context) error {
	d := vc.Header.Difficulty
	if d < r.min || d > r.max {
		return fmt.Errorf("difficulty %d outside [%d, %d]", d, r.min, r.max)
	}
	return nil
}

// timestampRule 时间戳必须严格晚于父区块，且不超过本地时间加允许漂移
type timestampRule struct {
	clock    clock.Clock
	maxDrift time.Duration
}

func (r *timestampRule) Name() string            { return HeaderTimestamp }
func (r *timestampRule) Stage() validation.Stage { return validation.StageHeader }

func (r *timestampRule) Validate(_ context.Context, vc *validation.Context) error {
	if vc.Parent == nil {
		return fmt.Errorf("parent header missing")
	}
	ts := vc.Header.Timestamp
	if parentTS := vc.Parent.Header().Timestamp; ts <= parentTS {
		return fmt.Errorf("timestamp %d not after parent timestamp %d", ts, parentTS)
	}
	if limit := r.clock.UnixMilli() + r.maxDrift.Milliseconds(); ts > limit {
		return fmt.Errorf("timestamp %d too far in the future (limit %d)", ts, limit)
	}
	return nil
}

type headerSignatureRule struct{ validators *signature.KeySet }

func (r *headerSignatureRule) Name() string            { return HeaderSignature }
func (r *headerSignatureRule) Stage() validation.Stage { return validation.StageHeader }

func (r *headerSignatureRule) Validate(_ context.Context, vc *validation.Context) error {
	h := vc.Header
	if len(h.Signature) == 0 {
		return fmt.Errorf("header is not signed")
	}
	if r.validators.Len() > 0 && !r.validators.Contains(h.Validator) {
		return fmt.Errorf("validator %x is not authorized", h.Validator)
	}
	digest, err := h.SigningHash()
	if err != nil {
		return err
	}
	return signature.Verify(h.Validator, digest, h.Signature)
}
