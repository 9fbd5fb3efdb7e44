package blockstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/permnode/internal/core/chain/testutil"
	logimpl "github.com/weisyn/permnode/internal/core/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/types"
)

func chained(b *types.Block) *chain.ChainedBlock {
	return &chain.ChainedBlock{Height: b.Header.Height, Hash: b.Header.MustHash(), Block: b}
}

func TestStore_FollowsConnectAndDisconnect(t *testing.T) {
	// Arrange
	builder := testutil.NewChainBuilder(t)
	store := New(testutil.NewBadgerStore(t), logimpl.NewNop())
	ctx := context.Background()
	blocks := builder.Extend(builder.Genesis.Header, 3, 1, 0, func(uint32) []*types.Transaction {
		return []*types.Transaction{builder.Tx(nil, testutil.Put("k", "v"))}
	})

	_, _, ok, err := store.Tip(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Act
	for _, b := range blocks {
		store.OnBlockConnected(ctx, chained(b))
	}
	store.OnBlockDisconnected(ctx, chained(blocks[2]))

	// Assert
	require.NoError(t, store.LastError())
	hash, height, ok, err := store.Tip(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), height)
	assert.Equal(t, blocks[1].Header.MustHash(), hash)

	active, err := store.ActiveChain(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, blocks[0].Header.MustHash(), active[0].Header.MustHash())
	assert.Len(t, active[1].Transactions, 1)

	// 断开的区块体仍可按哈希读取
	_, found, err := store.GetBlock(ctx, blocks[2].Header.MustHash())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDecodeBlock_RejectsCorruptPayload(t *testing.T) {
	builder := testutil.NewChainBuilder(t)
	data, err := encodeBlock(builder.Genesis)
	require.NoError(t, err)

	blk, err := decodeBlock(data)
	require.NoError(t, err)
	assert.Equal(t, builder.Genesis.Header.MustHash(), blk.Header.MustHash())

	_, err = decodeBlock([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	assert.Error(t, err)
}
