package testutil

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

// ErrDiskRead 模拟的底层读取错误
var ErrDiskRead = errors.New("badger: I/O error")

// FlakyState 包装状态仓库：可以让接下来的若干次快照读取失败，或在每次读取前执行回调
type FlakyState struct {
	state.Repository
	failReads atomic.Int32
	onRead    atomic.Pointer[func()]
}

// NewFlakyState 包装 repo
func NewFlakyState(repo state.Repository) *FlakyState {
	return &FlakyState{Repository: repo}
}

// FailNextReads 让接下来 n 次快照读取返回 ErrDiskRead
func (f *FlakyState) FailNextReads(n int) { f.failReads.Store(int32(n)) }

// OnRead 设置快照读取前的回调，传 nil 清除
func (f *FlakyState) OnRead(fn func()) {
	if fn == nil {
		f.onRead.Store(nil)
		return
	}
	f.onRead.Store(&fn)
}

func (f *FlakyState) SnapshotAt(ctx context.Context, blockHash types.Hash) (state.Snapshot, error) {
	snap, err := f.Repository.SnapshotAt(ctx, blockHash)
	if err != nil {
		return nil, err
	}
	return &flakySnapshot{Snapshot: snap, owner: f}, nil
}

func (f *FlakyState) Commit(ctx context.Context, snap state.Snapshot, blockHash types.Hash) (*types.ChangeSet, error) {
	return f.Repository.Commit(ctx, unwrapSnapshot(snap), blockHash)
}

func (f *FlakyState) Discard(snap state.Snapshot) {
	f.Repository.Discard(unwrapSnapshot(snap))
}

func (f *FlakyState) beforeRead() error {
	if fn := f.onRead.Load(); fn != nil {
		(*fn)()
	}
	for {
		n := f.failReads.Load()
		if n <= 0 {
			return nil
		}
		if f.failReads.CompareAndSwap(n, n-1) {
			return ErrDiskRead
		}
	}
}

type flakySnapshot struct {
	state.Snapshot
	owner *FlakyState
}

func (s *flakySnapshot) Get(key string) ([]byte, bool, error) {
	if err := s.owner.beforeRead(); err != nil {
		return nil, false, err
	}
	return s.Snapshot.Get(key)
}

func (s *flakySnapshot) Version(key string) (uint64, error) {
	if err := s.owner.beforeRead(); err != nil {
		return 0, err
	}
	return s.Snapshot.Version(key)
}

func unwrapSnapshot(snap state.Snapshot) state.Snapshot {
	if fs, ok := snap.(*flakySnapshot); ok {
		return fs.Snapshot
	}
	return snap
}
