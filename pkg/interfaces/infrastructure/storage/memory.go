package storage

import "context"

// MemoryStore 内存缓存
//
// 条目在配置的生命周期窗口后过期，内存达到上限时最早写入的条目被淘汰。
type MemoryStore interface {
	// Get 获取缓存值，第二个返回值表示是否命中
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set 设置缓存值
	Set(ctx context.Context, key string, value []byte) error

	// Delete 删除缓存值
	Delete(ctx context.Context, key string) error

	// Count 返回当前条目数
	Count() int

	// Close 关闭缓存并释放资源
	Close() error
}
