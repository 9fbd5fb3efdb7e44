// Package indexer 维护当前活跃链（创世到链尖）的按高度索引
package indexer

import (
	"fmt"
	"sync"

	"github.com/weisyn/permnode/internal/core/chain/headertree"
	"github.com/weisyn/permnode/pkg/types"
)

// Indexer 活跃链投影
//
// 只由共识管理器在独占区内通过 SetTip 修改；读方法可并发调用。
type Indexer struct {
	mu     sync.RWMutex
	chain  []*headertree.ChainedHeader
	byHash map[types.Hash]uint32
}

// New 以创世区块头为唯一元素创建索引
func New(genesis *headertree.ChainedHeader) *Indexer {
	return &Indexer{
		chain:  []*headertree.ChainedHeader{genesis},
		byHash: map[types.Hash]uint32{genesis.Hash(): 0},
	}
}

// Tip 当前链尖
func (ix *Indexer) Tip() *headertree.ChainedHeader {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.chain[len(ix.chain)-1]
}

// Height 当前链尖高度
func (ix *Indexer) Height() uint32 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return uint32(len(ix.chain) - 1)
}

// GetByHeight 返回活跃链上指定高度的区块头
func (ix *Indexer) GetByHeight(height uint32) (*headertree.ChainedHeader, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if int(height) >= len(ix.chain) {
		return nil, false
	}
	return ix.chain[height], true
}

// Contains 区块头是否在活跃链上
func (ix *Indexer) Contains(h *headertree.ChainedHeader) bool {
	return ix.ContainsHash(h.Hash())
}

// ContainsHash 哈希是否在活跃链上
func (ix *Indexer) ContainsHash(hash types.Hash) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byHash[hash]
	return ok
}

// SetTip 把链尖移动到当前链尖的子节点（连接）或父节点（断开）
//
// 其他任何移动都属于调用方的编程错误。
func (ix *Indexer) SetTip(h *headertree.ChainedHeader) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tip := ix.chain[len(ix.chain)-1]
	switch {
	case h.PrevHash() == tip.Hash() && h.Height() == tip.Height()+1:
		ix.chain = append(ix.chain, h)
		ix.byHash[h.Hash()] = h.Height()
		return nil
	case tip.Height() > 0 && tip.PrevHash() == h.Hash() && h.Height()+1 == tip.Height():
		ix.chain[len(ix.chain)-1] = nil
		ix.chain = ix.chain[:len(ix.chain)-1]
		delete(ix.byHash, tip.Hash())
		return nil
	default:
		return fmt.Errorf("indexer: %s(h=%d) is neither parent nor child of tip %s(h=%d)",
			h.Hash().Short(), h.Height(), tip.Hash().Short(), tip.Height())
	}
}

// Locator 返回用于同步的区块定位器：链尖开始的前 10 个连续哈希，之后步长翻倍，最后是创世区块
func (ix *Indexer) Locator() []types.Hash {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []types.Hash
	step := 1
	for h := len(ix.chain) - 1; h > 0; h -= step {
		out = append(out, ix.chain[h].Hash())
		if len(out) >= 10 {
			step *= 2
		}
	}
	return append(out, ix.chain[0].Hash())
}
