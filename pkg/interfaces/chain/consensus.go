// Package chain 定义共识管理器的对外接口与通知契约
package chain

import (
	"context"

	"github.com/weisyn/permnode/pkg/types"
)

// HeaderInfo 区块头在共识管理器中的只读视图
type HeaderInfo struct {
	Height    uint32     `json:"height"`
	Hash      types.Hash `json:"hash"`
	PrevHash  types.Hash `json:"prev_hash"`
	ChainWork string     `json:"chain_work"` // 十进制
	Timestamp int64      `json:"timestamp"`
	HasBlock  bool       `json:"has_block"`
	Invalid   bool       `json:"invalid"`
	OnActive  bool       `json:"on_active_chain"`
	Peer      string     `json:"peer,omitempty"`
}

// ChainedBlock 连接/断开通知携带的区块
type ChainedBlock struct {
	Height uint32
	Hash   types.Hash
	Block  *types.Block
}

// PeerContext 最大重组长度违规时提供给封禁逻辑的上下文
type PeerContext struct {
	PeerID         string
	CandidateHash  types.Hash
	TipHeight      uint32
	ForkHeight     uint32
	MaxReorgLength uint32
}

// NotificationSink 链尖变化通知接收方
//
// 通知在共识管理器的独占区内同步投递：断开按高度严格递减，连接按高度严格递增，
// 断开通知先于链索引修改，连接通知后于链索引修改。实现不得回调共识管理器的写方法。
type NotificationSink interface {
	OnBlockConnected(ctx context.Context, block *ChainedBlock)
	OnBlockDisconnected(ctx context.Context, block *ChainedBlock)
	OnReorgFailed(ctx context.Context, failingHash types.Hash, err error)
	OnMaxReorgViolation(ctx context.Context, peer PeerContext)
}

// PeerBanner 节点封禁策略（由网络层实现）
type PeerBanner interface {
	BanPeer(ctx context.Context, peerID string, reason error)
}

// ConsensusManager 共识管理器
type ConsensusManager interface {
	// SubmitHeader 提交区块头；区块头规则拒绝时返回 HeaderInvalid，前序未知返回 UnknownPreviousHeader
	SubmitHeader(ctx context.Context, header *types.BlockHeader, peer string) (*HeaderInfo, error)

	// SubmitHeaders 按顺序提交一批区块头，遇到第一个错误即返回
	SubmitHeaders(ctx context.Context, headers []*types.BlockHeader, peer string) ([]*HeaderInfo, error)

	// SubmitBlock 提交区块体；预校验通过后尝试切换链尖
	SubmitBlock(ctx context.Context, hash types.Hash, block *types.Block, peer string) error

	// SubmitBlocks 并行预校验一批区块体后统一尝试切换链尖
	SubmitBlocks(ctx context.Context, blocks []*types.Block, peer string) error

	// GetTip 当前活跃链尖
	GetTip() HeaderInfo

	// GetHeaderByHash 按哈希查询任意已知区块头
	GetHeaderByHash(hash types.Hash) (*HeaderInfo, bool)

	// GetHeaderByHeight 按高度查询活跃链上的区块头
	GetHeaderByHeight(height uint32) (*HeaderInfo, bool)

	// IsInvalid 哈希是否在持久化无效集合中
	IsInvalid(hash types.Hash) bool
}
