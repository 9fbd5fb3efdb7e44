package headertree

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/permnode/pkg/types"
)

func genesisHeader() *types.BlockHeader {
	return &types.BlockHeader{Version: 1, ChainID: 7, Height: 0, Timestamp: 1_000, Difficulty: 1}
}

func child(parent *types.BlockHeader, difficulty uint64, salt int64) *types.BlockHeader {
	return &types.BlockHeader{
		Version:    1,
		ChainID:    parent.ChainID,
		Height:     parent.Height + 1,
		PrevHash:   parent.MustHash(),
		Timestamp:  parent.Timestamp + 1_000 + salt,
		Difficulty: difficulty,
	}
}

// extend 在 parent 之上插入 n 个难度为 difficulty 的区块头
func extend(t *testing.T, tree *Tree, parent *types.BlockHeader, n int, difficulty uint64, salt int64) []*ChainedHeader {
	t.Helper()
	out := make([]*ChainedHeader, 0, n)
	cur := parent
	for i := 0; i < n; i++ {
		next := child(cur, difficulty, salt)
		ch, err := tree.InsertHeader(next, "peer")
		require.NoError(t, err)
		out = append(out, ch)
		cur = next
	}
	return out
}

func newTree(t *testing.T) (*Tree, *types.BlockHeader) {
	t.Helper()
	g := genesisHeader()
	tree, err := New(g, nil)
	require.NoError(t, err)
	return tree, g
}

func TestInsertHeader_ComputesHeightAndWork(t *testing.T) {
	// Arrange
	tree, g := newTree(t)

	// Act
	chain := extend(t, tree, g, 3, 5, 0)

	// Assert
	tip := chain[2]
	assert.Equal(t, uint32(3), tip.Height())
	assert.Equal(t, uint256.NewInt(1+3*5), tip.ChainWork())
	assert.Equal(t, chain[1].Hash(), tip.PrevHash())
	assert.Equal(t, 4, tree.Len())

	// ChainWork 返回副本
	w := tip.ChainWork()
	w.SetUint64(0)
	assert.Equal(t, uint256.NewInt(16), tip.ChainWork())
}

func TestInsertHeader_Errors(t *testing.T) {
	tree, g := newTree(t)

	orphan := child(child(g, 1, 0), 1, 0)
	_, err := tree.InsertHeader(orphan, "p")
	assert.ErrorIs(t, err, types.ErrUnknownPreviousHeader)

	bad := child(g, 1, 0)
	bad.Height = 5
	_, err = tree.InsertHeader(bad, "p")
	assert.ErrorIs(t, err, types.ErrHeaderInvalid)

	h := child(g, 1, 0)
	first, err := tree.InsertHeader(h, "p")
	require.NoError(t, err)
	dup, err := tree.InsertHeader(h.Clone(), "q")
	require.NoError(t, err)
	assert.Same(t, first, dup)
	assert.Equal(t, "p", dup.Peer())
}

func TestInsertHeader_RejectsChildOfInvalid(t *testing.T) {
	tree, g := newTree(t)
	chain := extend(t, tree, g, 2, 1, 0)

	tree.MarkInvalid(chain[0])

	_, err := tree.InsertHeader(child(chain[1].Header(), 1, 0), "p")
	assert.ErrorIs(t, err, types.ErrHeaderInvalid)
	_, err = tree.InsertHeader(chain[1].Header(), "p")
	assert.ErrorIs(t, err, types.ErrHeaderInvalid)
}

func TestFindForkPointAndPath(t *testing.T) {
	tree, g := newTree(t)
	common := extend(t, tree, g, 2, 1, 0)
	a := extend(t, tree, common[1].Header(), 3, 1, 1)
	b := extend(t, tree, common[1].Header(), 1, 1, 2)

	fork, err := tree.FindForkPoint(a[2], b[0])
	require.NoError(t, err)
	assert.Equal(t, common[1].Hash(), fork.Hash())

	fork, err = tree.FindForkPoint(a[2], a[0])
	require.NoError(t, err)
	assert.Equal(t, a[0].Hash(), fork.Hash())

	path, err := tree.PathBetween(fork, a[2])
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, a[1].Hash(), path[0].Hash())
	assert.Equal(t, a[2].Hash(), path[1].Hash())

	_, err = tree.PathBetween(b[0], a[2])
	assert.Error(t, err)
}

func TestBestCandidate_TieBreaksByFirstSeen(t *testing.T) {
	tree, g := newTree(t)
	first := extend(t, tree, g, 3, 2, 1)
	second := extend(t, tree, g, 2, 3, 2) // 同样 6 的权重

	assert.Equal(t, first[2].Hash(), tree.BestCandidate().Hash())
	assert.Equal(t, 0, first[2].ChainWork().Cmp(second[1].ChainWork()))

	heavier := extend(t, tree, second[1].Header(), 1, 1, 3)
	assert.Equal(t, heavier[0].Hash(), tree.BestCandidate().Hash())
}

func attach(t *testing.T, tree *Tree, hs ...*ChainedHeader) {
	t.Helper()
	for _, h := range hs {
		require.NoError(t, tree.AttachBlock(h.Hash(), &types.Block{Header: h.Header()}))
	}
}

func TestConnectableCandidates_RequireBodiesFromGenesis(t *testing.T) {
	// Arrange
	tree, g := newTree(t)
	a := extend(t, tree, g, 3, 1, 1)
	b := extend(t, tree, g, 2, 5, 2)

	// Act：a 的区块体乱序到达，b 缺少第一个区块体
	attach(t, tree, a[2], a[0])
	beforeGap := tree.ConnectableCandidates(uint256.NewInt(0))
	attach(t, tree, a[1], b[1])
	afterGap := tree.ConnectableCandidates(uint256.NewInt(0))

	// Assert
	require.Len(t, beforeGap, 1)
	assert.Equal(t, a[0].Hash(), beforeGap[0].Hash())
	assert.False(t, a[2].HasChainData())

	require.Len(t, afterGap, 1)
	assert.Equal(t, a[2].Hash(), afterGap[0].Hash(), "filling the gap propagates to bodies already attached")
	assert.True(t, a[2].HasChainData())
	assert.False(t, b[1].HasChainData())

	attach(t, tree, b[0])
	cands := tree.ConnectableCandidates(a[2].ChainWork())
	require.Len(t, cands, 1)
	assert.Equal(t, b[1].Hash(), cands[0].Hash())
}

func TestConnectableCandidates_FallsBackToValidPrefix(t *testing.T) {
	// Arrange
	tree, g := newTree(t)
	main := extend(t, tree, g, 2, 1, 0)
	side := extend(t, tree, g, 4, 1, 1)
	attach(t, tree, main...)
	attach(t, tree, side...)

	// Act
	tree.MarkInvalid(side[3])
	cands := tree.ConnectableCandidates(main[1].ChainWork())

	// Assert
	require.Len(t, cands, 1)
	assert.Equal(t, side[2].Hash(), cands[0].Hash())

	tree.MarkInvalid(side[2])
	assert.Empty(t, tree.ConnectableCandidates(main[1].ChainWork()), "equal work is not an improvement")
}

func TestConnectableCandidates_Ordering(t *testing.T) {
	tree, g := newTree(t)
	x := extend(t, tree, g, 2, 1, 1)
	y := extend(t, tree, g, 2, 1, 2)
	z := extend(t, tree, g, 1, 3, 3)
	attach(t, tree, x...)
	attach(t, tree, y...)
	attach(t, tree, z...)

	cands := tree.ConnectableCandidates(uint256.NewInt(0))

	require.Len(t, cands, 3)
	assert.Equal(t, z[0].Hash(), cands[0].Hash())
	assert.Equal(t, x[1].Hash(), cands[1].Hash(), "equal work: first seen wins")
	assert.Equal(t, y[1].Hash(), cands[2].Hash())
}

func TestMarkInvalid_DescendantsOnly(t *testing.T) {
	tree, g := newTree(t)
	common := extend(t, tree, g, 1, 1, 0)
	bad := extend(t, tree, common[0].Header(), 3, 10, 1)
	sibling := extend(t, tree, common[0].Header(), 2, 1, 2)

	marked := tree.MarkInvalid(bad[1])

	assert.Equal(t, []types.Hash{bad[1].Hash(), bad[2].Hash()}, marked)
	assert.False(t, bad[0].IsInvalid())
	assert.True(t, bad[2].IsInvalid())
	assert.Equal(t, bad[0].Hash(), tree.BestCandidate().Hash())
	assert.False(t, sibling[1].IsInvalid())

	// 重复标记不再返回
	assert.Empty(t, tree.MarkInvalid(bad[1]))
}

func TestAttachBlockAndStatus(t *testing.T) {
	tree, g := newTree(t)
	chain := extend(t, tree, g, 1, 1, 0)

	assert.False(t, chain[0].HasBlock())
	require.NoError(t, tree.AttachBlock(chain[0].Hash(), &types.Block{Header: chain[0].Header()}))
	assert.True(t, chain[0].HasBlock())
	assert.True(t, chain[0].HasStatus(StatusDataStored))

	assert.True(t, tree.SetStatus(chain[0].Hash(), StatusPrevalidated))
	assert.True(t, chain[0].HasStatus(StatusDataStored|StatusPrevalidated))

	err := tree.AttachBlock(types.Hash{1}, &types.Block{})
	assert.ErrorIs(t, err, types.ErrUnknownBlock)
}

func TestPruneBelow_RemovesStaleBranches(t *testing.T) {
	tree, g := newTree(t)
	main := extend(t, tree, g, 10, 1, 0)
	stale := extend(t, tree, main[1].Header(), 3, 1, 9) // 高度 3..5
	for _, h := range main {
		require.NoError(t, tree.AttachBlock(h.Hash(), &types.Block{Header: h.Header()}))
	}
	onMain := make(map[types.Hash]bool)
	for _, h := range main {
		onMain[h.Hash()] = true
	}

	removed := tree.PruneBelow(5, func(h *ChainedHeader) bool { return onMain[h.Hash()] })

	assert.Equal(t, 3, removed)
	assert.False(t, tree.Contains(stale[0].Hash()))
	assert.False(t, tree.Contains(stale[2].Hash()), "后代随子树一起删除")
	assert.True(t, tree.Contains(main[0].Hash()))
	assert.Empty(t, tree.Children(main[1].Hash())[1:])
	assert.False(t, main[0].HasBlock(), "水位线以下的活跃链区块释放区块体")
	assert.True(t, main[9].HasBlock())
	assert.Equal(t, 11, tree.Len())
}
