// Package state 定义世界状态仓库接口
//
// 世界状态是带版本号的键值集合。状态只能通过快照修改：
// 全量校验规则在快照上读写，校验通过后由共识管理器提交；
// 每次提交都会记录撤销日志，保证回滚后的状态与回滚目标区块提交后的状态逐字节一致。
package state

import (
	"context"
	"errors"

	"github.com/weisyn/permnode/pkg/types"
)

// ErrStorage 读取底层存储失败
//
// 这类错误与区块内容无关，不能据此判定区块无效。
var ErrStorage = errors.New("state storage unavailable")

// Snapshot 基于已提交链尖的未提交状态视图
//
// 快照只在共识管理器的独占区内使用，不支持并发访问。
type Snapshot interface {
	// BaseHash 快照所基于的区块哈希
	BaseHash() types.Hash

	// Height 快照将要提交的区块高度（BaseHeight+1）
	Height() uint32

	// Get 读取键，已删除或不存在时 ok=false
	Get(key string) (value []byte, ok bool, err error)

	// Version 返回键的当前版本；从未写入过的键返回 0
	Version(key string) (uint64, error)

	// Put 写入键，版本号加一
	Put(key string, value []byte) error

	// Delete 删除键（写墓碑），版本号加一
	Delete(key string) error

	// Writes 返回快照中的全部写入（按键排序）
	Writes() []types.StateWrite
}

// Repository 世界状态仓库
type Repository interface {
	// TipHash 已提交状态对应的区块哈希
	TipHash() types.Hash

	// TipHeight 已提交状态对应的区块高度
	TipHeight() uint32

	// Initialize 空仓库时以创世区块作为状态起点；已初始化时不做任何修改
	Initialize(ctx context.Context, genesisHash types.Hash) error

	// SnapshotAt 在 blockHash 的状态上创建快照，blockHash 必须等于已提交链尖
	SnapshotAt(ctx context.Context, blockHash types.Hash) (Snapshot, error)

	// Commit 原子提交快照，记录撤销日志并把链尖推进到 blockHash
	Commit(ctx context.Context, snap Snapshot, blockHash types.Hash) (*types.ChangeSet, error)

	// Discard 丢弃未提交快照
	Discard(snap Snapshot)

	// DisconnectTip 精确回滚链尖区块，返回被回滚区块的变更集
	DisconnectTip(ctx context.Context) (*types.ChangeSet, error)

	// RollbackTo 连续回滚直到链尖等于 blockHash
	RollbackTo(ctx context.Context, blockHash types.Hash) error

	// Reapply 原样重放之前回滚掉的变更集（不重新校验）
	Reapply(ctx context.Context, cs *types.ChangeSet) error

	// PruneJournal 删除高度低于 belowHeight 的撤销日志
	PruneJournal(ctx context.Context, belowHeight uint32) (int, error)

	// Get 读取已提交状态
	Get(ctx context.Context, key string) (types.StateEntry, bool, error)
}
