// Package blockstore 持久化活跃链上的区块
//
// 作为通知接收方挂在共识管理器之后：连接时写入区块与高度索引，断开时删除高度索引。
// 区块体以 snappy 压缩后的 CBOR 存储。
// 节点重启时按高度顺序重放活跃链，重建区块头树与链索引。
package blockstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn/permnode/pkg/types"
)

const (
	prefixBlock  = "blk/b/"
	prefixHeight = "blk/h/"
	keyTip       = "blk/tip"
)

type tipRecord struct {
	Hash   types.Hash `cbor:"1,keyasint"`
	Height uint32     `cbor:"2,keyasint"`
}

// Store 活跃链区块存储
type Store struct {
	store  storage.BadgerStore
	logger log.Logger

	mu      sync.Mutex
	lastErr error
}

var _ chain.NotificationSink = (*Store)(nil)

// New 创建区块存储
func New(store storage.BadgerStore, logger log.Logger) *Store {
	return &Store{store: store, logger: logger}
}

func blockKey(hash types.Hash) []byte {
	return append([]byte(prefixBlock), hash[:]...)
}

func heightKey(height uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte(prefixHeight), height)
}

// OnBlockConnected 写入区块、高度索引与链尖
func (s *Store) OnBlockConnected(ctx context.Context, b *chain.ChainedBlock) {
	if b.Block == nil {
		s.fail(fmt.Errorf("connected block %s has no body", b.Hash.Short()))
		return
	}
	err := s.store.RunInTransaction(ctx, func(tx storage.BadgerTransaction) error {
		data, err := encodeBlock(b.Block)
		if err != nil {
			return err
		}
		if err := tx.Set(blockKey(b.Hash), data); err != nil {
			return err
		}
		if err := tx.Set(heightKey(b.Height), b.Hash[:]); err != nil {
			return err
		}
		return setTip(tx, tipRecord{Hash: b.Hash, Height: b.Height})
	})
	if err != nil {
		s.fail(fmt.Errorf("store connected block %s: %w", b.Hash.Short(), err))
	}
}

// OnBlockDisconnected 删除高度索引并把链尖退回父区块；区块体保留
func (s *Store) OnBlockDisconnected(ctx context.Context, b *chain.ChainedBlock) {
	if b.Block == nil || b.Block.Header == nil {
		s.fail(fmt.Errorf("disconnected block %s has no body", b.Hash.Short()))
		return
	}
	parent := tipRecord{Hash: b.Block.Header.PrevHash, Height: b.Height - 1}
	err := s.store.RunInTransaction(ctx, func(tx storage.BadgerTransaction) error {
		if err := tx.Delete(heightKey(b.Height)); err != nil {
			return err
		}
		return setTip(tx, parent)
	})
	if err != nil {
		s.fail(fmt.Errorf("remove disconnected block %s: %w", b.Hash.Short(), err))
	}
}

// OnReorgFailed 无需持久化
func (s *Store) OnReorgFailed(context.Context, types.Hash, error) {}

// OnMaxReorgViolation 无需持久化
func (s *Store) OnMaxReorgViolation(context.Context, chain.PeerContext) {}

// LastError 最近一次写入失败（通知接口没有返回值）
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) fail(err error) {
	s.logger.Errorf("区块存储写入失败: %v", err)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Tip 已持久化的活跃链尖；空存储返回 ok=false
func (s *Store) Tip(ctx context.Context) (types.Hash, uint32, bool, error) {
	raw, err := s.store.Get(ctx, []byte(keyTip))
	if err != nil || raw == nil {
		return types.Hash{}, 0, false, err
	}
	var tip tipRecord
	if err := types.Unmarshal(raw, &tip); err != nil {
		return types.Hash{}, 0, false, fmt.Errorf("decode block tip: %w", err)
	}
	return tip.Hash, tip.Height, true, nil
}

// GetBlock 按哈希读取区块
func (s *Store) GetBlock(ctx context.Context, hash types.Hash) (*types.Block, bool, error) {
	raw, err := s.store.Get(ctx, blockKey(hash))
	if err != nil || raw == nil {
		return nil, false, err
	}
	blk, err := decodeBlock(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode block %s: %w", hash.Short(), err)
	}
	return blk, true, nil
}

// ActiveChain 按高度递增返回创世之后的活跃链区块
func (s *Store) ActiveChain(ctx context.Context) ([]*types.Block, error) {
	var hashes []types.Hash
	var expect uint32 = 1
	err := s.store.IteratePrefix(ctx, []byte(prefixHeight), func(key, value []byte) error {
		height := binary.BigEndian.Uint32(key[len(prefixHeight):])
		if height != expect {
			return fmt.Errorf("height index gap: expected %d, found %d", expect, height)
		}
		expect++
		h, err := types.HashFromBytes(value)
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan height index: %w", err)
	}

	out := make([]*types.Block, 0, len(hashes))
	for _, h := range hashes {
		blk, ok, err := s.GetBlock(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("block %s indexed but not stored", h.Short())
		}
		out = append(out, blk)
	}
	return out, nil
}

func setTip(tx storage.BadgerTransaction, tip tipRecord) error {
	data, err := types.CanonicalMarshal(&tip)
	if err != nil {
		return err
	}
	return tx.Set([]byte(keyTip), data)
}
