// Package state 实现基于 BadgerDB 的版本化世界状态仓库
//
// 每次提交在同一个 Badger 事务内写入新值、撤销日志和链尖记录；
// 回滚按撤销日志逆序恢复旧记录或删除提交前不存在的键，结果与目标区块提交后的状态逐字节一致。
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
	stateif "github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

var (
	errSnapshotConsumed = errors.New("snapshot already committed or discarded")
	errNotInitialized   = errors.New("state repository not initialized")
	errStopIteration    = errors.New("stop iteration")
)

// Repository 世界状态仓库
type Repository struct {
	store  storage.BadgerStore
	gate   writegate.WriteGate
	logger log.Logger

	mu          sync.RWMutex
	tip         tipRecord
	initialized bool
	open        map[*snapshot]struct{}
}

var _ stateif.Repository = (*Repository)(nil)

// New 创建状态仓库；gate 可为 nil（测试）
func New(store storage.BadgerStore, gate writegate.WriteGate, logger log.Logger) *Repository {
	return &Repository{
		store:  store,
		gate:   gate,
		logger: logger,
		open:   make(map[*snapshot]struct{}),
	}
}

// Initialize 加载链尖记录；空仓库时写入创世链尖
func (r *Repository) Initialize(ctx context.Context, genesisHash types.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := r.store.Get(ctx, []byte(keyTip))
	if err != nil {
		return fmt.Errorf("read state tip: %w", err)
	}
	if raw != nil {
		var tip tipRecord
		if err := types.Unmarshal(raw, &tip); err != nil {
			return fmt.Errorf("decode state tip: %w", err)
		}
		r.tip = tip
		r.initialized = true
		r.logger.Infof("状态仓库已加载: tip=%s height=%d", tip.Hash.Short(), tip.Height)
		return nil
	}

	if err := r.assertWritable(ctx, "state.initialize"); err != nil {
		return err
	}
	tip := tipRecord{Hash: genesisHash, Height: 0}
	data, err := types.CanonicalMarshal(&tip)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, []byte(keyTip), data); err != nil {
		return fmt.Errorf("write genesis state tip: %w", err)
	}
	r.tip = tip
	r.initialized = true
	r.logger.Infof("状态仓库以创世区块初始化: %s", genesisHash.Short())
	return nil
}

// TipHash 已提交状态对应的区块哈希
func (r *Repository) TipHash() types.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tip.Hash
}

// TipHeight 已提交状态对应的区块高度
func (r *Repository) TipHeight() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tip.Height
}

// OpenSnapshots 尚未提交或丢弃的快照数量
func (r *Repository) OpenSnapshots() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

// SnapshotAt 在已提交链尖上创建快照
func (r *Repository) SnapshotAt(ctx context.Context, blockHash types.Hash) (stateif.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, errNotInitialized
	}
	if blockHash != r.tip.Hash {
		return nil, fmt.Errorf("snapshot requested at %s but committed tip is %s", blockHash.Short(), r.tip.Hash.Short())
	}
	s := &snapshot{
		repo:    r,
		base:    r.tip.Hash,
		height:  r.tip.Height + 1,
		overlay: make(map[string]types.StateEntry),
	}
	r.open[s] = struct{}{}
	return s, nil
}

// Discard 丢弃快照
func (r *Repository) Discard(snap stateif.Snapshot) {
	s, ok := snap.(*snapshot)
	if !ok || s == nil {
		return
	}
	r.mu.Lock()
	delete(r.open, s)
	r.mu.Unlock()
	s.consumed = true
	s.overlay = nil
}

// Commit 原子提交快照
func (r *Repository) Commit(ctx context.Context, snap stateif.Snapshot, blockHash types.Hash) (*types.ChangeSet, error) {
	if err := r.assertWritable(ctx, "state.commit"); err != nil {
		return nil, err
	}
	s, ok := snap.(*snapshot)
	if !ok || s.repo != r {
		return nil, fmt.Errorf("snapshot does not belong to this repository")
	}
	if s.consumed {
		return nil, errSnapshotConsumed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s.base != r.tip.Hash {
		return nil, fmt.Errorf("stale snapshot: based on %s, tip is %s", s.base.Short(), r.tip.Hash.Short())
	}

	cs := &types.ChangeSet{
		BlockHash:  blockHash,
		ParentHash: s.base,
		Height:     s.height,
		Writes:     s.Writes(),
	}
	if err := r.applyChangeSet(ctx, cs); err != nil {
		return nil, err
	}

	delete(r.open, s)
	s.consumed = true
	return cs, nil
}

// Reapply 原样重放变更集，父区块必须是当前链尖
func (r *Repository) Reapply(ctx context.Context, cs *types.ChangeSet) error {
	if err := r.assertWritable(ctx, "state.reapply"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cs.ParentHash != r.tip.Hash || cs.Height != r.tip.Height+1 {
		return fmt.Errorf("changeset %s(h=%d) does not extend tip %s(h=%d)",
			cs.BlockHash.Short(), cs.Height, r.tip.Hash.Short(), r.tip.Height)
	}
	replay := &types.ChangeSet{
		BlockHash:  cs.BlockHash,
		ParentHash: cs.ParentHash,
		Height:     cs.Height,
		Writes:     cs.Writes,
	}
	if err := r.applyChangeSet(ctx, replay); err != nil {
		return err
	}
	cs.Undo = replay.Undo
	return nil
}

// applyChangeSet 在单个事务内写入新值、撤销日志与链尖；调用方持有 r.mu
func (r *Repository) applyChangeSet(ctx context.Context, cs *types.ChangeSet) error {
	newTip := tipRecord{Hash: cs.BlockHash, Height: cs.Height}
	err := r.store.RunInTransaction(ctx, func(tx storage.BadgerTransaction) error {
		cs.Undo = make([]types.StateUndo, 0, len(cs.Writes))
		for _, w := range cs.Writes {
			key := stateKey(w.Key)
			prevRaw, err := tx.Get(key)
			if err != nil {
				return err
			}
			undo := types.StateUndo{Key: w.Key}
			if prevRaw != nil {
				var prev types.StateEntry
				if err := types.Unmarshal(prevRaw, &prev); err != nil {
					return fmt.Errorf("decode state entry %q: %w", w.Key, err)
				}
				undo.Prev = &prev
			}
			cs.Undo = append(cs.Undo, undo)

			data, err := types.CanonicalMarshal(&w.Entry)
			if err != nil {
				return err
			}
			if err := tx.Set(key, data); err != nil {
				return err
			}
		}

		journal, err := types.CanonicalMarshal(cs)
		if err != nil {
			return err
		}
		if err := tx.Set(journalKey(cs.Height, cs.BlockHash), journal); err != nil {
			return err
		}
		return setTip(tx, newTip)
	})
	if err != nil {
		return fmt.Errorf("commit state for %s: %w", cs.BlockHash.Short(), err)
	}
	r.tip = newTip
	return nil
}

// DisconnectTip 按撤销日志回滚链尖区块
func (r *Repository) DisconnectTip(ctx context.Context) (*types.ChangeSet, error) {
	if err := r.assertWritable(ctx, "state.disconnect"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnectLocked(ctx)
}

func (r *Repository) disconnectLocked(ctx context.Context) (*types.ChangeSet, error) {
	if !r.initialized {
		return nil, errNotInitialized
	}
	if r.tip.Height == 0 {
		return nil, fmt.Errorf("cannot disconnect genesis state")
	}

	var cs types.ChangeSet
	jkey := journalKey(r.tip.Height, r.tip.Hash)
	err := r.store.RunInTransaction(ctx, func(tx storage.BadgerTransaction) error {
		raw, err := tx.Get(jkey)
		if err != nil {
			return err
		}
		if raw == nil {
			return fmt.Errorf("undo journal for %s(h=%d) is missing", r.tip.Hash.Short(), r.tip.Height)
		}
		if err := types.Unmarshal(raw, &cs); err != nil {
			return fmt.Errorf("decode undo journal: %w", err)
		}
		if cs.BlockHash != r.tip.Hash {
			return fmt.Errorf("undo journal belongs to %s, tip is %s", cs.BlockHash.Short(), r.tip.Hash.Short())
		}

		for i := len(cs.Undo) - 1; i >= 0; i-- {
			u := cs.Undo[i]
			if u.Prev == nil {
				if err := tx.Delete(stateKey(u.Key)); err != nil {
					return err
				}
				continue
			}
			data, err := types.CanonicalMarshal(u.Prev)
			if err != nil {
				return err
			}
			if err := tx.Set(stateKey(u.Key), data); err != nil {
				return err
			}
		}
		if err := tx.Delete(jkey); err != nil {
			return err
		}
		return setTip(tx, tipRecord{Hash: cs.ParentHash, Height: cs.Height - 1})
	})
	if err != nil {
		return nil, fmt.Errorf("disconnect state tip: %w", err)
	}
	r.tip = tipRecord{Hash: cs.ParentHash, Height: cs.Height - 1}
	return &cs, nil
}

// RollbackTo 连续回滚直到链尖等于 blockHash
func (r *Repository) RollbackTo(ctx context.Context, blockHash types.Hash) error {
	if err := r.assertWritable(ctx, "state.rollback"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.tip.Hash != blockHash {
		if r.tip.Height == 0 {
			return fmt.Errorf("%s is not an ancestor of the committed state", blockHash.Short())
		}
		if _, err := r.disconnectLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PruneJournal 删除高度低于 belowHeight 的撤销日志，返回删除条数
func (r *Repository) PruneJournal(ctx context.Context, belowHeight uint32) (int, error) {
	if belowHeight == 0 {
		return 0, nil
	}
	if err := r.assertWritable(ctx, "state.prune"); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := r.store.IteratePrefix(ctx, []byte(prefixJournal), func(key, _ []byte) error {
		h, ok := journalHeight(key)
		if !ok {
			return nil
		}
		if h >= belowHeight {
			return errStopIteration
		}
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return 0, fmt.Errorf("scan undo journal: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = r.store.RunInTransaction(ctx, func(tx storage.BadgerTransaction) error {
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune undo journal: %w", err)
	}
	return len(keys), nil
}

// Get 读取已提交状态；墓碑视为不存在
func (r *Repository) Get(ctx context.Context, key string) (types.StateEntry, bool, error) {
	e, found, err := r.readEntry(ctx, key)
	if err != nil || !found || e.Deleted {
		return types.StateEntry{}, false, err
	}
	return e, true, nil
}

// Dump 导出全部已提交状态记录（含墓碑），用于一致性比对
func (r *Repository) Dump(ctx context.Context) (map[string]types.StateEntry, error) {
	out := make(map[string]types.StateEntry)
	err := r.store.IteratePrefix(ctx, []byte(prefixState), func(key, value []byte) error {
		var e types.StateEntry
		if err := types.Unmarshal(value, &e); err != nil {
			return err
		}
		out[string(key[len(prefixState):])] = e
		return nil
	})
	return out, err
}

func (r *Repository) readEntry(ctx context.Context, key string) (types.StateEntry, bool, error) {
	raw, err := r.store.Get(ctx, stateKey(key))
	if err != nil {
		return types.StateEntry{}, false, fmt.Errorf("%w: read state %q: %w", stateif.ErrStorage, key, err)
	}
	if raw == nil {
		return types.StateEntry{}, false, nil
	}
	var e types.StateEntry
	if err := types.Unmarshal(raw, &e); err != nil {
		return types.StateEntry{}, false, fmt.Errorf("%w: decode state %q: %w", stateif.ErrStorage, key, err)
	}
	return e, true, nil
}

func (r *Repository) assertWritable(ctx context.Context, op string) error {
	if r.gate == nil {
		return nil
	}
	return r.gate.AssertWriteAllowed(ctx, op)
}

func setTip(tx storage.BadgerTransaction, tip tipRecord) error {
	data, err := types.CanonicalMarshal(&tip)
	if err != nil {
		return err
	}
	return tx.Set([]byte(keyTip), data)
}
