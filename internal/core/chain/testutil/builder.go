// Package testutil 提供共识管理器测试用的已签名链构造器、通知记录器与内存存储
package testutil

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	blockchainconfig "github.com/weisyn/permnode/internal/config/blockchain"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/merkle"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	"github.com/weisyn/permnode/pkg/types"
)

// BlockInterval 相邻测试区块的时间戳间隔（毫秒）
const BlockInterval int64 = 1_000

// ChainBuilder 构造已签名的测试区块与交易
//
// 签名使用 RFC6979 确定性 nonce，相同输入总是得到相同的区块哈希；
// 需要在同一父区块上构造不同分叉时通过 salt 区分时间戳。
type ChainBuilder struct {
	t         testing.TB
	Chain     *blockchainconfig.BlockchainOptions
	Validator *btcec.PrivateKey
	Member    *btcec.PrivateKey
	Genesis   *types.Block

	nonce uint64
}

// NewChainBuilder 使用默认区块链配置创建构造器
func NewChainBuilder(t testing.TB) *ChainBuilder {
	t.Helper()
	validator, err := signature.GenerateKey()
	require.NoError(t, err)
	member, err := signature.GenerateKey()
	require.NoError(t, err)

	opts := blockchainconfig.New(nil).GetOptions()
	return &ChainBuilder{
		t:         t,
		Chain:     opts,
		Validator: validator,
		Member:    member,
		Genesis:   opts.GenesisBlock(),
	}
}

// ValidatorHex 验证者压缩公钥的 hex 编码
func (b *ChainBuilder) ValidatorHex() string {
	return hex.EncodeToString(signature.PublicKeyBytes(b.Validator))
}

// MemberHex 成员压缩公钥的 hex 编码
func (b *ChainBuilder) MemberHex() string {
	return hex.EncodeToString(signature.PublicKeyBytes(b.Member))
}

// Tx 构造由成员签名的交易
func (b *ChainBuilder) Tx(reads []types.KVRead, writes ...types.KVWrite) *types.Transaction {
	b.t.Helper()
	b.nonce++
	tx := &types.Transaction{
		Creator:  signature.PublicKeyBytes(b.Member),
		Nonce:    b.nonce,
		ReadSet:  reads,
		WriteSet: writes,
	}
	digest, err := tx.SigningHash()
	require.NoError(b.t, err)
	tx.Signature = signature.SignHash(b.Member, digest)
	return tx
}

// Put 写集条目
func Put(key, value string) types.KVWrite {
	return types.KVWrite{Key: key, Value: []byte(value)}
}

// Del 删除条目
func Del(key string) types.KVWrite {
	return types.KVWrite{Key: key, IsDelete: true}
}

// Read 读集条目
func Read(key string, version uint64) types.KVRead {
	return types.KVRead{Key: key, Version: version}
}

// Block 在 parent 之上构造一个已签名区块
func (b *ChainBuilder) Block(parent *types.BlockHeader, difficulty uint64, salt int64, txs ...*types.Transaction) *types.Block {
	b.t.Helper()
	block := &types.Block{
		Header: &types.BlockHeader{
			Version:    1,
			ChainID:    parent.ChainID,
			Height:     parent.Height + 1,
			PrevHash:   parent.MustHash(),
			Timestamp:  parent.Timestamp + BlockInterval + salt,
			Difficulty: difficulty,
			Validator:  signature.PublicKeyBytes(b.Validator),
		},
		Transactions: txs,
	}
	if block.Transactions == nil {
		block.Transactions = []*types.Transaction{}
	}
	b.Reseal(block)
	return block
}

// Extend 在 parent 之上构造 n 个连续区块；txs 可为 nil，按高度返回该区块的交易
func (b *ChainBuilder) Extend(parent *types.BlockHeader, n int, difficulty uint64, salt int64, txs func(height uint32) []*types.Transaction) []*types.Block {
	b.t.Helper()
	out := make([]*types.Block, 0, n)
	cur := parent
	for i := 0; i < n; i++ {
		var body []*types.Transaction
		if txs != nil {
			body = txs(cur.Height + 1)
		}
		blk := b.Block(cur, difficulty, salt, body...)
		out = append(out, blk)
		cur = blk.Header
	}
	return out
}

// Reseal 重新计算 MerkleRoot 并重新签名区块头
func (b *ChainBuilder) Reseal(block *types.Block) {
	b.t.Helper()
	root, err := merkle.BlockRoot(block)
	require.NoError(b.t, err)
	block.Header.MerkleRoot = root
	b.Sign(block.Header)
}

// Sign 用验证者私钥重新签名区块头
func (b *ChainBuilder) Sign(h *types.BlockHeader) {
	b.t.Helper()
	h.Signature = nil
	digest, err := h.SigningHash()
	require.NoError(b.t, err)
	h.Signature = signature.SignHash(b.Validator, digest)
}

// Headers 提取区块头
func Headers(blocks []*types.Block) []*types.BlockHeader {
	out := make([]*types.BlockHeader, len(blocks))
	for i, blk := range blocks {
		out[i] = blk.Header
	}
	return out
}

// Tip 最后一个区块的区块头
func Tip(blocks []*types.Block) *types.BlockHeader {
	return blocks[len(blocks)-1].Header
}
