package badger

import (
	"errors"
	"fmt"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
)

var _ storage.BadgerTransaction = (*txn)(nil)

// errTxClosed 事务已提交或丢弃后继续使用
var errTxClosed = errors.New("事务已关闭")

// txn 单个读写事务，只在 RunInTransaction 的回调内有效
//
// 同一事务内的读可见本事务已写入但未提交的值。
type txn struct {
	inner  *badgerdb.Txn
	closed atomic.Bool
	writes int
}

func newTxn(db *badgerdb.DB) *txn {
	return &txn{inner: db.NewTransaction(true)}
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, errTxClosed
	}
	item, err := t.inner.Get(key)
	switch {
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txn) Set(key, value []byte) error {
	return t.write("写入", func() error { return t.inner.Set(key, value) })
}

func (t *txn) Delete(key []byte) error {
	return t.write("删除", func() error { return t.inner.Delete(key) })
}

// write 事务写入量超出 badger 单事务上限时返回 ErrTxnTooBig，
// 调用方需要拆分批次
func (t *txn) write(op string, fn func() error) error {
	if t.closed.Load() {
		return errTxClosed
	}
	if err := fn(); err != nil {
		if errors.Is(err, badgerdb.ErrTxnTooBig) {
			return fmt.Errorf("事务%s失败，写入量超过单事务上限(已写 %d 次): %w", op, t.writes, err)
		}
		return fmt.Errorf("事务%s失败: %w", op, err)
	}
	t.writes++
	return nil
}

// commit 无写入时直接丢弃
func (t *txn) commit() error {
	if !t.closed.CompareAndSwap(false, true) {
		return errTxClosed
	}
	if t.writes == 0 {
		t.inner.Discard()
		return nil
	}
	return t.inner.Commit()
}

// discard 已提交或已丢弃时无操作
func (t *txn) discard() {
	if t.closed.CompareAndSwap(false, true) {
		t.inner.Discard()
	}
}
