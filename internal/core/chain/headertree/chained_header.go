// Package headertree 维护全部已知区块头组成的多分支树
//
// 区块头以哈希为键存放在树的 arena 中，父引用只保存父哈希，通过 arena 查找，
// 因此剪枝只需从 map 中删除节点，不存在悬挂指针或循环引用。
package headertree

import (
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/weisyn/permnode/pkg/types"
)

// Status 区块头状态位
type Status uint32

const (
	// StatusDataStored 区块体已下载并挂载
	StatusDataStored Status = 1 << iota
	// StatusPrevalidated 完整性与部分校验已通过
	StatusPrevalidated
	// StatusInvalid 区块或其祖先被证明无效
	StatusInvalid
	// StatusChainData 该区块及其全部祖先的区块体都已可用，可以直接连接
	StatusChainData
)

// ChainedHeader 区块头树中的节点
//
// 除区块体挂载与状态位外不可变。
type ChainedHeader struct {
	height uint32
	hash   types.Hash
	prev   types.Hash
	work   *uint256.Int
	header *types.BlockHeader
	peer   string
	seq    uint64

	block  atomic.Pointer[types.Block]
	status atomic.Uint32
}

// Height 区块高度
func (h *ChainedHeader) Height() uint32 { return h.height }

// Hash 区块哈希
func (h *ChainedHeader) Hash() types.Hash { return h.hash }

// PrevHash 父区块哈希，创世区块为零哈希
func (h *ChainedHeader) PrevHash() types.Hash { return h.prev }

// ChainWork 累计链权重（返回副本）
func (h *ChainedHeader) ChainWork() *uint256.Int { return h.work.Clone() }

// Header 区块头数据，调用方不得修改
func (h *ChainedHeader) Header() *types.BlockHeader { return h.header }

// Peer 首次提供该区块头的节点，本地产生时为空
func (h *ChainedHeader) Peer() string { return h.peer }

// Seq 插入序号，用于同权重时先到先得
func (h *ChainedHeader) Seq() uint64 { return h.seq }

// Block 已挂载的区块体，未下载时为 nil
func (h *ChainedHeader) Block() *types.Block { return h.block.Load() }

// HasBlock 区块体是否已挂载
func (h *ChainedHeader) HasBlock() bool { return h.block.Load() != nil }

// Status 当前状态位
func (h *ChainedHeader) Status() Status { return Status(h.status.Load()) }

// HasStatus 是否包含全部给定状态位
func (h *ChainedHeader) HasStatus(bits Status) bool { return h.Status()&bits == bits }

// IsInvalid 是否已被标记无效
func (h *ChainedHeader) IsInvalid() bool { return h.HasStatus(StatusInvalid) }

// HasChainData 从创世区块到该区块的区块体是否都已可用
func (h *ChainedHeader) HasChainData() bool { return h.HasStatus(StatusChainData) }

func (h *ChainedHeader) setStatus(bits Status) {
	for {
		old := h.status.Load()
		if h.status.CompareAndSwap(old, old|uint32(bits)) {
			return
		}
	}
}

// workBetter 判断 a 是否优于 b：权重更大，或权重相等且更早插入
func workBetter(a, b *ChainedHeader) bool {
	if c := a.work.Cmp(b.work); c != 0 {
		return c > 0
	}
	return a.seq < b.seq
}
