// Package invalidset 持久化的无效区块集合
//
// 一旦区块被判定无效就永久记录，节点重启后加载到内存，后续同哈希的区块头和区块直接拒绝。
package invalidset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn/permnode/pkg/types"
)

const prefix = "inv/"

// Record 无效区块记录
type Record struct {
	Hash     types.Hash `cbor:"1,keyasint" json:"hash"`
	Height   uint32     `cbor:"2,keyasint" json:"height"`
	Reason   string     `cbor:"3,keyasint" json:"reason"`
	MarkedAt int64      `cbor:"4,keyasint" json:"marked_at"` // unix 毫秒
}

// Set 无效区块集合
type Set struct {
	store  storage.BadgerStore
	clock  clock.Clock
	logger log.Logger

	mu      sync.RWMutex
	records map[types.Hash]Record
}

// New 创建无效集合，调用 Load 之前集合为空
func New(store storage.BadgerStore, clk clock.Clock, logger log.Logger) *Set {
	return &Set{
		store:   store,
		clock:   clk,
		logger:  logger,
		records: make(map[types.Hash]Record),
	}
}

func key(hash types.Hash) []byte {
	return append([]byte(prefix), hash[:]...)
}

// Load 从存储加载全部记录
func (s *Set) Load(ctx context.Context) error {
	loaded := make(map[types.Hash]Record)
	err := s.store.IteratePrefix(ctx, []byte(prefix), func(_, value []byte) error {
		var r Record
		if err := types.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decode invalid record: %w", err)
		}
		loaded[r.Hash] = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("load invalid set: %w", err)
	}

	s.mu.Lock()
	s.records = loaded
	s.mu.Unlock()
	s.logger.Infof("已加载无效区块集合: %d 条", len(loaded))
	return nil
}

// IsInvalid 哈希是否已被标记无效
func (s *Set) IsInvalid(hash types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[hash]
	return ok
}

// Get 返回哈希对应的记录
func (s *Set) Get(hash types.Hash) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[hash]
	return r, ok
}

// MarkInvalid 标记单个区块无效；已存在的记录保持不变
func (s *Set) MarkInvalid(ctx context.Context, hash types.Hash, height uint32, reason error) error {
	return s.MarkMany(ctx, []Record{{Hash: hash, Height: height, Reason: errString(reason)}})
}

// MarkMany 在一个事务内批量写入记录
func (s *Set) MarkMany(ctx context.Context, records []Record) error {
	now := s.clock.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]Record, 0, len(records))
	for _, r := range records {
		if _, exists := s.records[r.Hash]; exists {
			continue
		}
		if r.MarkedAt == 0 {
			r.MarkedAt = now
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}

	err := s.store.RunInTransaction(ctx, func(tx storage.BadgerTransaction) error {
		for i := range fresh {
			data, err := types.CanonicalMarshal(&fresh[i])
			if err != nil {
				return err
			}
			if err := tx.Set(key(fresh[i].Hash), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist invalid set: %w", err)
	}

	for _, r := range fresh {
		s.records[r.Hash] = r
	}
	s.logger.Warnf("标记 %d 个区块无效, 首个=%s(h=%d) reason=%s", len(fresh), fresh[0].Hash.Short(), fresh[0].Height, fresh[0].Reason)
	return nil
}

// Len 记录条数
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All 按高度、哈希排序的全部记录
func (s *Set) All() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Hash.String() < out[j].Hash.String()
	})
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
