package rules

import (
	"context"
	"fmt"

	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/merkle"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
)

// headerMatchRule 区块体携带的区块头哈希必须等于提交的哈希
type headerMatchRule struct{}

func (r *headerMatchRule) Name() string            { return BlockHeaderMatch }
func (r *headerMatchRule) Stage() validation.Stage { return validation.StageIntegrity }

func (r *headerMatchRule) Validate(_ context.Context, vc *validation.Context) error {
	if vc.Block.Header == nil {
		return fmt.Errorf("block has no header")
	}
	hash, err := vc.Block.Header.Hash()
	if err != nil {
		return err
	}
	if hash != vc.Hash {
		return fmt.Errorf("block header hash %s does not match %s", hash.Short(), vc.Hash.Short())
	}
	return nil
}

// txSignatureFormatRule 交易创建者公钥与签名的编码格式
type txSignatureFormatRule struct{}

func (r *txSignatureFormatRule) Name() string            { return TxSignatureFormat }
func (r *txSignatureFormatRule) Stage() validation.Stage { return validation.StageIntegrity }

func (r *txSignatureFormatRule) Validate(_ context.Context, vc *validation.Context) error {
	for i, tx := range vc.Block.Transactions {
		if tx == nil {
			return fmt.Errorf("transaction %d is nil", i)
		}
		if _, err := signature.ParsePublicKey(tx.Creator); err != nil {
			return fmt.Errorf("transaction %d creator: %w", i, err)
		}
		if _, err := signature.ParseSignature(tx.Signature); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

type merkleRootRule struct{}

func (r *merkleRootRule) Name() string            { return MerkleRoot }
func (r *merkleRootRule) Stage() validation.Stage { return validation.StageIntegrity }

func (r *merkleRootRule) Validate(_ context.Context, vc *validation.Context) error {
	root, err := merkle.BlockRoot(vc.Block)
	if err != nil {
		return err
	}
	if root != vc.Header.MerkleRoot {
		return fmt.Errorf("merkle root %s, header commits to %s", root.Short(), vc.Header.MerkleRoot.Short())
	}
	return nil
}
