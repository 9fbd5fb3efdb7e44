package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	badgerconfig "github.com/weisyn/permnode/internal/config/storage/badger"
	clockimpl "github.com/weisyn/permnode/internal/core/infrastructure/clock"
	logimpl "github.com/weisyn/permnode/internal/core/infrastructure/log"
	"github.com/weisyn/permnode/internal/core/infrastructure/storage/badger"
)

// NewBadgerStore 创建内存模式的 Badger 存储，测试结束时关闭
func NewBadgerStore(t testing.TB) *badger.Store {
	t.Helper()
	store, err := badger.New(badgerconfig.NewInMemory(), logimpl.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewClockAfter 返回比 genesisMillis 晚一天的可控时钟，足够覆盖测试链的时间戳
func NewClockAfter(genesisMillis int64) *clockimpl.MockClock {
	return clockimpl.NewMockClock(time.UnixMilli(genesisMillis).Add(24 * time.Hour))
}
