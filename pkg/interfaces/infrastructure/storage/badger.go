// Package storage 定义存储引擎接口
package storage

import "context"

// BadgerStore 基于BadgerDB的持久化键值存储
type BadgerStore interface {
	// Close 关闭数据库连接，确保待处理数据写入磁盘
	Close() error

	// Get 获取指定键的值；键不存在时返回nil值和nil错误
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set 设置键值对
	Set(ctx context.Context, key, value []byte) error

	// Delete 删除指定键；键不存在时不返回错误
	Delete(ctx context.Context, key []byte) error

	// IteratePrefix 按键的字典序遍历前缀下的键值对；fn 返回错误时停止遍历
	IteratePrefix(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// RunInTransaction 在读写事务中执行操作
	// fn返回错误时事务回滚，成功时提交
	RunInTransaction(ctx context.Context, fn func(tx BadgerTransaction) error) error
}

// BadgerTransaction BadgerDB事务
type BadgerTransaction interface {
	// Get 获取指定键的值；键不存在时返回nil值和nil错误
	Get(key []byte) ([]byte, error)

	// Set 设置键值对
	Set(key, value []byte) error

	// Delete 删除指定键
	Delete(key []byte) error
}
