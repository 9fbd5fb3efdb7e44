package reorg_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consensusconfig "github.com/weisyn/permnode/internal/config/consensus"
	"github.com/weisyn/permnode/internal/core/chain/fork/reorg"
	"github.com/weisyn/permnode/internal/core/chain/headertree"
	"github.com/weisyn/permnode/internal/core/chain/indexer"
	"github.com/weisyn/permnode/internal/core/chain/invalidset"
	"github.com/weisyn/permnode/internal/core/chain/testutil"
	"github.com/weisyn/permnode/internal/core/chain/validation/rules"
	logimpl "github.com/weisyn/permnode/internal/core/infrastructure/log"
	"github.com/weisyn/permnode/internal/core/infrastructure/writegate"
	stateimpl "github.com/weisyn/permnode/internal/core/state"
	wgif "github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

type harness struct {
	b       *testutil.ChainBuilder
	tree    *headertree.Tree
	index   *indexer.Indexer
	repo    *stateimpl.Repository
	invalid *invalidset.Set
	sink    *testutil.RecordingSink
	gate    *gateRecorder
	fatal   []error
	coord   *reorg.Coordinator
}

// gateRecorder 记录只读切换的写门闸
type gateRecorder struct {
	wgif.WriteGate
	readOnly []string
}

func (g *gateRecorder) EnterReadOnly(reason string) {
	g.readOnly = append(g.readOnly, reason)
	g.WriteGate.EnterReadOnly(reason)
}

func newHarness(t *testing.T, wrapState func(state.Repository) state.Repository) *harness {
	t.Helper()
	b := testutil.NewChainBuilder(t)
	clk := testutil.NewClockAfter(b.Genesis.Header.Timestamp)

	tree, err := headertree.New(b.Genesis.Header, b.Genesis)
	require.NoError(t, err)
	store := testutil.NewBadgerStore(t)
	gate := &gateRecorder{WriteGate: writegate.New()}
	repo := stateimpl.New(store, gate, logimpl.NewNop())
	require.NoError(t, repo.Initialize(context.Background(), tree.Genesis().Hash()))

	pipeline, err := rules.BuildPipeline(rules.Dependencies{
		Consensus: consensusconfig.New(nil).GetOptions(),
		ChainID:   b.Chain.ChainID,
		Clock:     clk,
	})
	require.NoError(t, err)

	h := &harness{
		b:       b,
		tree:    tree,
		index:   indexer.New(tree.Genesis()),
		repo:    repo,
		invalid: invalidset.New(store, clk, logimpl.NewNop()),
		sink:    testutil.NewRecordingSink(),
		gate:    gate,
	}
	var st state.Repository = repo
	if wrapState != nil {
		st = wrapState(repo)
	}
	h.coord, err = reorg.NewCoordinator(reorg.Options{
		Logger:          logimpl.NewNop(),
		Tree:            tree,
		Indexer:         h.index,
		Pipeline:        pipeline,
		State:           st,
		Sink:            h.sink,
		InvalidSet:      h.invalid,
		WriteGate:       gate,
		Clock:           clk,
		EnterReadOnlyFn: func(_ context.Context, reason error) { h.fatal = append(h.fatal, reason) },
	})
	require.NoError(t, err)
	return h
}

// add 把区块头和区块体加入区块头树，返回最后一个节点
func (h *harness) add(t *testing.T, blocks []*types.Block) *headertree.ChainedHeader {
	t.Helper()
	var last *headertree.ChainedHeader
	for _, blk := range blocks {
		ch, err := h.tree.InsertHeader(blk.Header, "peer-x")
		require.NoError(t, err)
		require.NoError(t, h.tree.AttachBlock(ch.Hash(), blk))
		last = ch
	}
	return last
}

// counterTxs 每个区块把 counter 读出并写回，形成链上的版本依赖
func (h *harness) counterTxs(offset uint64) func(height uint32) []*types.Transaction {
	return func(height uint32) []*types.Transaction {
		return []*types.Transaction{h.b.Tx(
			[]types.KVRead{testutil.Read("counter", uint64(height)-1+offset)},
			testutil.Put("counter", string(rune('a'+height))),
		)}
	}
}

func TestExecute_ConnectsFromGenesis(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	tip := h.add(t, h.b.Extend(h.b.Genesis.Header, 3, 1, 0, h.counterTxs(0)))

	// Act
	session, err := h.coord.Execute(context.Background(), h.tree.Genesis(), tip)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, reorg.ResultSwitched, session.Result)
	assert.Equal(t, 0, session.Disconnected)
	assert.Equal(t, 3, session.Connected)
	assert.Equal(t, tip.Hash(), h.index.Tip().Hash())
	assert.Equal(t, tip.Hash(), h.repo.TipHash())
	assert.Equal(t, []uint32{1, 2, 3}, h.sink.Heights(testutil.EventConnected))
	assert.True(t, tip.HasStatus(headertree.StatusPrevalidated))
	assert.Equal(t, 0, h.repo.OpenSnapshots())
}

func TestExecute_SwitchesBranch(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	ctx := context.Background()
	trunk := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, nil)
	forkPoint := h.add(t, trunk)
	_, err := h.coord.Execute(ctx, h.tree.Genesis(), forkPoint)
	require.NoError(t, err)

	a := h.add(t, h.b.Extend(testutil.Tip(trunk), 1, 1, 0, nil))
	_, err = h.coord.Execute(ctx, forkPoint, a)
	require.NoError(t, err)
	h.sink.Reset()

	b := h.add(t, h.b.Extend(testutil.Tip(trunk), 2, 1, 7, nil))

	// Act
	session, err := h.coord.Execute(ctx, forkPoint, b)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(1), session.Depth())
	assert.Equal(t, []uint32{3}, h.sink.Heights(testutil.EventDisconnected))
	assert.Equal(t, []uint32{3, 4}, h.sink.Heights(testutil.EventConnected))
	assert.Equal(t, b.Hash(), h.index.Tip().Hash())
	// 断开通知先于连接通知
	events := h.sink.Events()
	assert.Equal(t, testutil.EventDisconnected, events[0].Kind)
}

func TestExecute_RollsBackOnFullValidationFailure(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	ctx := context.Background()
	original := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, h.counterTxs(0))
	origTip := h.add(t, original)
	_, err := h.coord.Execute(ctx, h.tree.Genesis(), origTip)
	require.NoError(t, err)
	before, err := h.repo.Dump(ctx)
	require.NoError(t, err)
	h.sink.Reset()

	// 候选分支第 2 个区块读取了错误的版本
	good := h.b.Block(h.b.Genesis.Header, 1, 5, h.b.Tx([]types.KVRead{testutil.Read("counter", 0)}, testutil.Put("counter", "x")))
	bad := h.b.Block(good.Header, 1, 5, h.b.Tx([]types.KVRead{testutil.Read("counter", 9)}, testutil.Put("counter", "y")))
	after := h.b.Block(bad.Header, 1, 5)
	candidate := h.add(t, []*types.Block{good, bad, after})

	// Act
	session, err := h.coord.Execute(ctx, h.tree.Genesis(), candidate)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFullValidationFailed)
	var rerr *reorg.ReorgError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, reorg.ErrClassValidation, rerr.Class)
	ce, _ := types.AsConsensusError(err)
	assert.Equal(t, "peer-x", ce.Peer)
	assert.Equal(t, bad.Header.MustHash(), ce.Hash)

	assert.Equal(t, reorg.ResultRolledBack, session.Result)
	assert.Equal(t, origTip.Hash(), h.index.Tip().Hash())
	assert.Equal(t, origTip.Hash(), h.repo.TipHash())
	state, err := h.repo.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, state)

	// 断开 2,1 → 连接 1' → 回滚断开 1' → 重放 1,2
	assert.Equal(t, []uint32{2, 1, 1}, h.sink.Heights(testutil.EventDisconnected))
	assert.Equal(t, []uint32{1, 1, 2}, h.sink.Heights(testutil.EventConnected))
	assert.Equal(t, 1, h.sink.Count(testutil.EventReorgFailed))

	goodCH, _ := h.tree.Get(good.Header.MustHash())
	assert.False(t, goodCH.IsInvalid())
	assert.True(t, h.invalid.IsInvalid(bad.Header.MustHash()))
	assert.True(t, h.invalid.IsInvalid(after.Header.MustHash()))
	assert.Len(t, session.Invalidated, 2)
	assert.Empty(t, h.fatal)
	assert.Equal(t, 0, h.repo.OpenSnapshots())
}

func TestExecute_PrepareRejectsMissingBody(t *testing.T) {
	h := newHarness(t, nil)
	blocks := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, nil)
	_, err := h.tree.InsertHeader(blocks[0].Header, "p")
	require.NoError(t, err)
	tip, err := h.tree.InsertHeader(blocks[1].Header, "p")
	require.NoError(t, err)

	_, err = h.coord.Execute(context.Background(), h.tree.Genesis(), tip)

	var rerr *reorg.ReorgError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, reorg.ErrClassPrepare, rerr.Class)
	assert.Empty(t, h.sink.Events())
}

// failingState 在回滚阶段让 DisconnectTip 失败
type failingState struct {
	state.Repository
	failDisconnect bool
}

func (f *failingState) DisconnectTip(ctx context.Context) (*types.ChangeSet, error) {
	if f.failDisconnect {
		return nil, errors.New("disk gone")
	}
	return f.Repository.DisconnectTip(ctx)
}

func TestExecute_StateFailureIsFatal(t *testing.T) {
	// Arrange
	var fs *failingState
	h := newHarness(t, func(r state.Repository) state.Repository {
		fs = &failingState{Repository: r}
		return fs
	})
	ctx := context.Background()
	trunk := h.add(t, h.b.Extend(h.b.Genesis.Header, 1, 1, 0, nil))
	_, err := h.coord.Execute(ctx, h.tree.Genesis(), trunk)
	require.NoError(t, err)
	other := h.add(t, h.b.Extend(h.b.Genesis.Header, 2, 1, 3, nil))
	fs.failDisconnect = true

	// Act
	_, err = h.coord.Execute(ctx, h.tree.Genesis(), other)

	// Assert
	assert.ErrorIs(t, err, types.ErrStateRepositoryCorruption)
	ce, _ := types.AsConsensusError(err)
	assert.True(t, ce.IsFatal())
	require.Len(t, h.fatal, 1)
	require.Len(t, h.gate.readOnly, 1)
	assert.True(t, h.gate.IsReadOnly())

	// 只读后的写入被拒绝
	snap, err := h.repo.SnapshotAt(ctx, h.repo.TipHash())
	require.NoError(t, err)
	_, err = h.repo.Commit(ctx, snap, types.Hash{9})
	assert.ErrorIs(t, err, writegate.ErrWriteBlocked)
}

func TestExecute_StateReadFailureDoesNotInvalidate(t *testing.T) {
	// Arrange
	var flaky *testutil.FlakyState
	h := newHarness(t, func(r state.Repository) state.Repository {
		flaky = testutil.NewFlakyState(r)
		return flaky
	})
	ctx := context.Background()
	original := h.add(t, h.b.Extend(h.b.Genesis.Header, 1, 1, 0, h.counterTxs(0)))
	_, err := h.coord.Execute(ctx, h.tree.Genesis(), original)
	require.NoError(t, err)
	h.sink.Reset()

	candidate := h.add(t, h.b.Extend(h.b.Genesis.Header, 2, 1, 4, h.counterTxs(0)))
	flaky.FailNextReads(1)

	// Act
	session, err := h.coord.Execute(ctx, h.tree.Genesis(), candidate)

	// Assert
	require.ErrorIs(t, err, state.ErrStorage)
	require.ErrorIs(t, err, testutil.ErrDiskRead)
	assert.False(t, errors.Is(err, types.ErrFullValidationFailed))
	var rerr *reorg.ReorgError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, reorg.ErrClassStorage, rerr.Class)

	assert.Equal(t, reorg.ResultRolledBack, session.Result)
	assert.Empty(t, session.Invalidated)
	assert.False(t, candidate.IsInvalid())
	assert.Zero(t, h.invalid.Len())
	assert.Zero(t, h.sink.Count(testutil.EventReorgFailed))
	assert.Equal(t, original.Hash(), h.index.Tip().Hash())
	assert.Equal(t, original.Hash(), h.repo.TipHash())
	assert.Empty(t, h.fatal)

	// 存储恢复后同一候选可以正常连接
	_, err = h.coord.Execute(ctx, h.tree.Genesis(), candidate)
	require.NoError(t, err)
	assert.Equal(t, candidate.Hash(), h.index.Tip().Hash())
}
