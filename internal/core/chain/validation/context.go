// Package validation 实现按阶段执行的区块校验流水线
//
// 四个阶段顺序固定：Header → Integrity → Partial → Full。
// 每个阶段是一组有序规则，阶段内遇到第一个失败即短路。
// 只有 Full 阶段的规则可以写状态，并且只能写入本区块的快照。
package validation

import (
	"github.com/weisyn/permnode/internal/core/chain/headertree"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

// Context 单个区块（头）的校验上下文，不持久化
type Context struct {
	// Header 被校验的区块头；Hash 为其哈希
	Header *types.BlockHeader
	Hash   types.Hash

	// Candidate 区块头已进入区块头树后的节点（Header 阶段为 nil）
	Candidate *headertree.ChainedHeader

	// Parent 父区块头
	Parent *headertree.ChainedHeader

	// PreviousTip 校验开始时的活跃链尖
	PreviousTip *headertree.ChainedHeader

	// Block 区块体（Integrity 阶段起必需）
	Block *types.Block

	// State 父区块状态上的快照（仅 Full 阶段）
	State state.Snapshot

	// Clock 时间源
	Clock clock.Clock

	// Peer 数据来源节点
	Peer string
}

// Height 被校验区块的高度
func (c *Context) Height() uint32 {
	if c.Header == nil {
		return 0
	}
	return c.Header.Height
}
