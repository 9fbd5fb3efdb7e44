package rules

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	"github.com/weisyn/permnode/pkg/types"
)

type blockSizeRule struct{ maxTxs, maxBytes int }

func (r *blockSizeRule) Name() string            { return BlockSize }
func (r *blockSizeRule) Stage() validation.Stage { return validation.StagePartial }

func (r *blockSizeRule) Validate(_ context.Context, vc *validation.Context) error {
	if n := len(vc.Block.Transactions); r.maxTxs > 0 && n > r.maxTxs {
		return fmt.Errorf("%d transactions exceeds limit %d", n, r.maxTxs)
	}
	size, err := vc.Block.Size()
	if err != nil {
		return err
	}
	if r.maxBytes > 0 && size > r.maxBytes {
		return fmt.Errorf("block size %d exceeds limit %d", size, r.maxBytes)
	}
	return nil
}

type duplicateTxRule struct{}

func (r *duplicateTxRule) Name() string            { return DuplicateTx }
func (r *duplicateTxRule) Stage() validation.Stage { return validation.StagePartial }

func (r *duplicateTxRule) Validate(_ context.Context, vc *validation.Context) error {
	ids, err := vc.Block.TxIDs()
	if err != nil {
		return err
	}
	seen := make(map[types.Hash]int, len(ids))
	for i, id := range ids {
		if j, dup := seen[id]; dup {
			return fmt.Errorf("transaction %d duplicates transaction %d (%s)", i, j, id.Short())
		}
		seen[id] = i
	}
	return nil
}

// writeSetRule 写集结构检查：键非空、交易内不重复、值大小受限、删除不带值
type writeSetRule struct{ maxValue int }

func (r *writeSetRule) Name() string            { return WriteSet }
func (r *writeSetRule) Stage() validation.Stage { return validation.StagePartial }

func (r *writeSetRule) Validate(_ context.Context, vc *validation.Context) error {
	for i, tx := range vc.Block.Transactions {
		keys := make(map[string]struct{}, len(tx.WriteSet))
		for _, w := range tx.WriteSet {
			if w.Key == "" {
				return fmt.Errorf("transaction %d writes an empty key", i)
			}
			if _, dup := keys[w.Key]; dup {
				return fmt.Errorf("transaction %d writes key %q twice", i, w.Key)
			}
			keys[w.Key] = struct{}{}
			if w.IsDelete && len(w.Value) > 0 {
				return fmt.Errorf("transaction %d deletes key %q with a value", i, w.Key)
			}
			if r.maxValue > 0 && len(w.Value) > r.maxValue {
				return fmt.Errorf("transaction %d value for %q is %d bytes, limit %d", i, w.Key, len(w.Value), r.maxValue)
			}
		}
		for _, rd := range tx.ReadSet {
			if rd.Key == "" {
				return fmt.Errorf("transaction %d reads an empty key", i)
			}
		}
	}
	return nil
}

// txSignatureRule 并发验证全部交易签名
type txSignatureRule struct{ workers int }

func (r *txSignatureRule) Name() string            { return TxSignature }
func (r *txSignatureRule) Stage() validation.Stage { return validation.StagePartial }

func (r *txSignatureRule) Validate(ctx context.Context, vc *validation.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if r.workers > 0 {
		g.SetLimit(r.workers)
	}
	for i, tx := range vc.Block.Transactions {
		i, tx := i, tx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := tx.SigningHash()
			if err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			if err := signature.Verify(tx.Creator, digest, tx.Signature); err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
