// Package merkle 计算区块交易的 Merkle 根
package merkle

import (
	"github.com/weisyn/permnode/pkg/types"
)

// CalcRoot 计算交易 ID 列表的 Merkle 根
//
// 叶子为交易 ID；内部节点为 DoubleSHA256(left || right)；奇数层复制最后一个节点。
// 空列表返回零哈希。复制规则使 [a,b,c] 与 [a,b,c,c] 的根相同，
// 重复交易由 duplicate_tx 规则单独拒绝。
func CalcRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// BlockRoot 计算区块交易体的 Merkle 根
func BlockRoot(block *types.Block) (types.Hash, error) {
	ids, err := block.TxIDs()
	if err != nil {
		return types.Hash{}, err
	}
	return CalcRoot(ids), nil
}

// Proof 返回 index 处叶子的兄弟路径（自底向上）
func Proof(leaves []types.Hash, index int) ([]types.Hash, bool) {
	if index < 0 || index >= len(leaves) {
		return nil, false
	}
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	var path []types.Hash
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		path = append(path, level[index^1])
		next := make([]types.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
		index /= 2
	}
	return path, true
}

// VerifyProof 使用兄弟路径重新计算根并与 root 比较
func VerifyProof(leaf types.Hash, index int, path []types.Hash, root types.Hash) bool {
	current := leaf
	for _, sibling := range path {
		if index%2 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
		index /= 2
	}
	return current == root
}

func hashPair(left, right types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return types.DoubleSHA256(buf[:])
}
