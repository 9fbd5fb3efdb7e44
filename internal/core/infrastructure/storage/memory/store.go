// Package memory 提供基于BigCache的内存缓存实现
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/allegro/bigcache/v3"
	memoryconfig "github.com/weisyn/permnode/internal/config/storage/memory"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	storage "github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
)

// Store 实现了MemoryStore接口，基于BigCache提供内存缓存功能
type Store struct {
	cache  *bigcache.BigCache
	logger log.Logger
	mutex  sync.RWMutex
	closed bool
}

// 编译时校验
var _ storage.MemoryStore = (*Store)(nil)

// New 创建一个新的BigCache内存存储实例
func New(config *memoryconfig.Config, logger log.Logger) (*Store, error) {
	opts := config.GetOptions()

	bigCacheConfig := bigcache.DefaultConfig(opts.LifeWindow)
	bigCacheConfig.Shards = 64
	bigCacheConfig.MaxEntriesInWindow = opts.MaxEntries
	bigCacheConfig.HardMaxCacheSize = opts.MaxMemoryMB
	bigCacheConfig.CleanWindow = opts.CleanWindow
	bigCacheConfig.Verbose = false

	cache, err := bigcache.New(context.Background(), bigCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("创建BigCache实例失败: %w", err)
	}

	return &Store{
		cache:  cache,
		logger: logger,
	}, nil
}

// Close 关闭缓存并释放资源
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	if err := s.cache.Close(); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// Get 获取缓存值
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("memory store closed")
	}

	value, err := s.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, false, nil
		}
		s.logger.Warnf("获取缓存键[%s]失败: %v", key, err)
		return nil, false, err
	}
	return value, true, nil
}

// Set 设置缓存值
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}

	if err := s.cache.Set(key, value); err != nil {
		s.logger.Warnf("设置缓存键[%s]失败: %v", key, err)
		return err
	}
	return nil
}

// Delete 删除缓存值
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}

	err := s.cache.Delete(key)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	return nil
}

// Count 返回当前条目数
func (s *Store) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return 0
	}
	return s.cache.Len()
}
