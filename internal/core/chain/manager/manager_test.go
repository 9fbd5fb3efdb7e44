package manager_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consensusconfig "github.com/weisyn/permnode/internal/config/consensus"
	memoryconfig "github.com/weisyn/permnode/internal/config/storage/memory"
	"github.com/weisyn/permnode/internal/core/chain/blockstore"
	"github.com/weisyn/permnode/internal/core/chain/manager"
	"github.com/weisyn/permnode/internal/core/chain/testutil"
	"github.com/weisyn/permnode/internal/core/chain/validation/rules"
	clockimpl "github.com/weisyn/permnode/internal/core/infrastructure/clock"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	logimpl "github.com/weisyn/permnode/internal/core/infrastructure/log"
	"github.com/weisyn/permnode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/permnode/internal/core/infrastructure/storage/memory"
	"github.com/weisyn/permnode/internal/core/infrastructure/writegate"
	stateimpl "github.com/weisyn/permnode/internal/core/state"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	stateif "github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

const peerA, peerB = "peer-a", "peer-b"

// recordingBanner 记录封禁请求
type recordingBanner struct {
	mu     sync.Mutex
	peers  []string
	reason []error
}

func (b *recordingBanner) BanPeer(_ context.Context, peer string, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers = append(b.peers, peer)
	b.reason = append(b.reason, reason)
}

func (b *recordingBanner) banned() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.peers...)
}

type harness struct {
	b      *testutil.ChainBuilder
	clk    *clockimpl.MockClock
	store  *badger.Store
	opts   *consensusconfig.ConsensusOptions
	repo   *stateimpl.Repository
	sink   *testutil.RecordingSink
	banner *recordingBanner
	m      *manager.Manager
}

func newHarness(t *testing.T, tune func(*consensusconfig.ConsensusOptions)) *harness {
	t.Helper()
	b := testutil.NewChainBuilder(t)
	opts := consensusconfig.New(nil).GetOptions()
	opts.AuthorizedValidators = []string{b.ValidatorHex()}
	opts.AuthorizedMembers = []string{b.MemberHex()}
	if tune != nil {
		tune(opts)
	}
	h := &harness{
		b:     b,
		clk:   testutil.NewClockAfter(b.Genesis.Header.Timestamp),
		store: testutil.NewBadgerStore(t),
		opts:  opts,
	}
	h.start(t)
	return h
}

// start 在同一个 Badger 存储上创建并启动新的管理器，模拟节点（重新）启动
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.repo = stateimpl.New(h.store, nil, logimpl.NewNop())
	m, err := h.newManager(t, h.repo)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	h.m = m
}

func (h *harness) newManager(t *testing.T, repo stateif.Repository) (*manager.Manager, error) {
	t.Helper()
	validators, err := signature.NewKeySet(h.opts.AuthorizedValidators)
	require.NoError(t, err)
	members, err := signature.NewKeySet(h.opts.AuthorizedMembers)
	require.NoError(t, err)
	pipeline, err := rules.BuildPipeline(rules.Dependencies{
		Consensus:  h.opts,
		ChainID:    h.b.Chain.ChainID,
		Clock:      h.clk,
		Validators: validators,
		Members:    members,
	})
	require.NoError(t, err)

	cache, err := memory.New(memoryconfig.New(1), logimpl.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	h.sink = testutil.NewRecordingSink()
	h.banner = &recordingBanner{}
	return manager.New(manager.Options{
		Logger:        logimpl.NewNop(),
		Consensus:     h.opts,
		Chain:         h.b.Chain,
		Pipeline:      pipeline,
		State:         repo,
		Store:         h.store,
		Clock:         h.clk,
		RejectedCache: cache,
		Sink:          h.sink,
		Banner:        h.banner,
		WriteGate:     writegate.New(),
	})
}

// submit 依次提交区块头与区块体，返回第一个错误
func (h *harness) submit(t *testing.T, peer string, blocks ...*types.Block) error {
	t.Helper()
	ctx := context.Background()
	var first error
	for _, blk := range blocks {
		if _, err := h.m.SubmitHeader(ctx, blk.Header, peer); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		if err := h.m.SubmitBlock(ctx, blk.Header.MustHash(), blk, peer); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// counterTxs 每个区块读出 counter 的当前版本并写回
func (h *harness) counterTxs(height uint32) []*types.Transaction {
	return []*types.Transaction{h.b.Tx(
		[]types.KVRead{testutil.Read("counter", uint64(height)-1)},
		testutil.Put("counter", fmt.Sprintf("v%d", height)),
		testutil.Put(fmt.Sprintf("block/%d", height), "1"),
	)}
}

// counterTxsFailingAt 与 counterTxs 相同，但 bad 高度的区块读取一个不存在的版本
func (h *harness) counterTxsFailingAt(bad uint32) func(uint32) []*types.Transaction {
	return func(height uint32) []*types.Transaction {
		if height != bad {
			return h.counterTxs(height)
		}
		return []*types.Transaction{h.b.Tx(
			[]types.KVRead{testutil.Read("counter", 99)},
			testutil.Put("counter", "stale"),
		)}
	}
}

func (h *harness) dump(t *testing.T) map[string]types.StateEntry {
	t.Helper()
	d, err := h.repo.Dump(context.Background())
	require.NoError(t, err)
	return d
}

// assertNotificationOrder 断开按高度逐一递减，连接逐一递增，方向切换时高度相同
func assertNotificationOrder(t *testing.T, events []testutil.SinkEvent) {
	t.Helper()
	var prev *testutil.SinkEvent
	for i := range events {
		e := events[i]
		if e.Kind != testutil.EventConnected && e.Kind != testutil.EventDisconnected {
			continue
		}
		if prev != nil {
			switch {
			case prev.Kind == testutil.EventDisconnected && e.Kind == testutil.EventDisconnected:
				require.Equal(t, prev.Height-1, e.Height, "disconnect after h=%d", prev.Height)
			case prev.Kind == testutil.EventConnected && e.Kind == testutil.EventConnected:
				require.Equal(t, prev.Height+1, e.Height, "connect after h=%d", prev.Height)
			default:
				require.Equal(t, prev.Height, e.Height, "%s after %s h=%d", e.Kind, prev.Kind, prev.Height)
			}
		}
		prev = &events[i]
	}
}

func heightsOf(events []testutil.SinkEvent, kind testutil.EventKind) []uint32 {
	var out []uint32
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e.Height)
		}
	}
	return out
}

// seq 返回 from 到 to（含）的逐一递增或递减序列
func seq(from, to uint32) []uint32 {
	var out []uint32
	for i := from; ; {
		out = append(out, i)
		switch {
		case i == to:
			return out
		case from < to:
			i++
		default:
			i--
		}
	}
}

func TestSubmit_ExtendsActiveChain(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	blocks := h.b.Extend(h.b.Genesis.Header, 5, 1, 0, h.counterTxs)

	// Act
	err := h.submit(t, peerA, blocks...)

	// Assert
	require.NoError(t, err)
	tip := h.m.GetTip()
	assert.Equal(t, uint32(5), tip.Height)
	assert.Equal(t, testutil.Tip(blocks).MustHash(), tip.Hash)
	assert.True(t, tip.OnActive)
	assert.Equal(t, "6", tip.ChainWork)
	assert.Equal(t, seq(1, 5), h.sink.Heights(testutil.EventConnected))
	assert.Equal(t, tip.Hash, h.repo.TipHash())

	entry, ok, err := h.repo.Get(context.Background(), "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), entry.Version)

	byHeight, ok := h.m.GetHeaderByHeight(3)
	require.True(t, ok)
	assert.Equal(t, blocks[2].Header.MustHash(), byHeight.Hash)
	_, ok = h.m.GetHeaderByHeight(6)
	assert.False(t, ok)
}

func TestSubmitBlocks_PrevalidatesBatch(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	blocks := h.b.Extend(h.b.Genesis.Header, 6, 1, 0, h.counterTxs)

	// Act：区块头未知，由 SubmitBlocks 从区块体插入
	err := h.m.SubmitBlocks(context.Background(), blocks, peerA)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(6), h.m.GetTip().Height)
	assert.Equal(t, seq(1, 6), h.sink.Heights(testutil.EventConnected))
}

func TestSubmitHeaders_StopsAtFirstError(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	blocks := h.b.Extend(h.b.Genesis.Header, 3, 1, 0, nil)
	orphan := h.b.Extend(blocks[2].Header, 2, 1, 0, nil)

	// Act
	infos, err := h.m.SubmitHeaders(context.Background(),
		append(testutil.Headers(blocks[:2]), testutil.Headers(orphan)...), peerA)

	// Assert
	require.ErrorIs(t, err, types.ErrUnknownPreviousHeader)
	assert.Len(t, infos, 2)
	assert.Empty(t, h.banner.banned(), "unknown parent is not a ban reason")
	assert.Equal(t, uint32(0), h.m.GetTip().Height, "headers alone never move the tip")
}

func TestSubmitHeader_RejectsAndCaches(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	bad := h.b.Block(h.b.Genesis.Header, 1, 0)
	bad.Header.ChainID++
	h.b.Sign(bad.Header)

	// Act
	_, first := h.m.SubmitHeader(context.Background(), bad.Header, peerA)
	_, second := h.m.SubmitHeader(context.Background(), bad.Header, peerB)

	// Assert
	require.ErrorIs(t, first, types.ErrHeaderInvalid)
	ce, ok := types.AsConsensusError(first)
	require.True(t, ok)
	assert.Equal(t, rules.HeaderChainID, ce.Rule)

	require.ErrorIs(t, second, types.ErrHeaderInvalid)
	assert.Contains(t, second.Error(), "recently rejected")
	assert.Equal(t, []string{peerA, peerB}, h.banner.banned())

	_, known := h.m.GetHeaderByHash(bad.Header.MustHash())
	assert.False(t, known, "rejected header never enters the tree")
}

func TestSubmitHeader_FutureTimestampNotCached(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	blk := h.b.Block(h.b.Genesis.Header, 1, 0)
	blk.Header.Timestamp = h.clk.Now().Add(h.opts.MaxFutureDrift).UnixMilli() + 60_000
	h.b.Reseal(blk)

	// Act
	_, early := h.m.SubmitHeader(context.Background(), blk.Header, peerA)
	h.clk.Advance(h.opts.MaxFutureDrift + 2*time.Minute)
	_, later := h.m.SubmitHeader(context.Background(), blk.Header, peerA)

	// Assert
	require.ErrorIs(t, early, types.ErrHeaderInvalid)
	require.NoError(t, later)
}

func TestSubmitBlock_UnknownBlock(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	blk := h.b.Block(h.b.Genesis.Header, 1, 0)
	other := h.b.Block(h.b.Genesis.Header, 1, 7)

	// Act
	err := h.m.SubmitBlock(context.Background(), other.Header.MustHash(), blk, peerA)

	// Assert
	require.ErrorIs(t, err, types.ErrUnknownBlock)
	assert.Equal(t, uint32(0), h.m.GetTip().Height)
}

func TestSubmitBlock_IntegrityFailureKeepsHeader(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	good := h.b.Block(h.b.Genesis.Header, 1, 0, h.b.Tx(nil, testutil.Put("k", "v")))
	_, err := h.m.SubmitHeader(context.Background(), good.Header, peerA)
	require.NoError(t, err)
	forged := &types.Block{Header: good.Header, Transactions: []*types.Transaction{h.b.Tx(nil, testutil.Put("k", "evil"))}}

	// Act
	forgedErr := h.m.SubmitBlock(context.Background(), good.Header.MustHash(), forged, peerB)
	goodErr := h.m.SubmitBlock(context.Background(), good.Header.MustHash(), good, peerA)

	// Assert
	require.ErrorIs(t, forgedErr, types.ErrIntegrityInvalid)
	require.NoError(t, goodErr)
	assert.False(t, h.m.IsInvalid(good.Header.MustHash()))
	assert.Equal(t, uint32(1), h.m.GetTip().Height)
	assert.Equal(t, []string{peerB}, h.banner.banned())
}

func TestSubmitBlock_PartialFailureInvalidatesHeaderAndDescendants(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	tx := h.b.Tx(nil, testutil.Put("k", "v"))
	dup := h.b.Block(h.b.Genesis.Header, 1, 0, tx, tx)
	child := h.b.Block(dup.Header, 1, 0)
	_, err := h.m.SubmitHeaders(context.Background(), []*types.BlockHeader{dup.Header, child.Header}, peerA)
	require.NoError(t, err)

	// Act
	err = h.m.SubmitBlock(context.Background(), dup.Header.MustHash(), dup, peerA)

	// Assert
	require.ErrorIs(t, err, types.ErrPartialValidationFailed)
	assert.True(t, h.m.IsInvalid(dup.Header.MustHash()))
	assert.True(t, h.m.IsInvalid(child.Header.MustHash()))

	grandchild := h.b.Block(child.Header, 1, 0)
	_, err = h.m.SubmitHeader(context.Background(), grandchild.Header, peerB)
	require.ErrorIs(t, err, types.ErrHeaderInvalid)
	assert.True(t, h.m.IsInvalid(grandchild.Header.MustHash()), "descendant of an invalid block is persisted without running rules")
}

// P1：候选分支在全量校验中失败后，链尖与状态与尝试之前完全相同
func TestRollback_IsNoOp(t *testing.T) {
	cases := []struct{ n, m, k int }{
		{n: 1, m: 2, k: 1},
		{n: 2, m: 3, k: 3},
		{n: 3, m: 5, k: 2},
		{n: 4, m: 6, k: 5},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d_m=%d_k=%d", tc.n, tc.m, tc.k), func(t *testing.T) {
			// Arrange
			h := newHarness(t, nil)
			base := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, h.counterTxs)
			require.NoError(t, h.submit(t, peerA, base...))
			fork := testutil.Tip(base)

			a := h.b.Extend(fork, tc.n, 1, 0, h.counterTxs)
			require.NoError(t, h.submit(t, peerA, a...))
			before := h.dump(t)
			tipBefore := h.m.GetTip()

			bad := uint32(fork.Height) + uint32(tc.k)
			branch := h.b.Extend(fork, tc.m, 1, 5, h.counterTxsFailingAt(bad))

			// Act：整批预校验后只尝试一次最重的候选
			err := h.m.SubmitBlocks(context.Background(), branch, peerB)

			// Assert
			require.ErrorIs(t, err, types.ErrFullValidationFailed)
			ce, _ := types.AsConsensusError(err)
			assert.Equal(t, bad, ce.Height)
			assert.Equal(t, peerB, ce.Peer)

			assert.Equal(t, tipBefore.Hash, h.m.GetTip().Hash)
			assert.Equal(t, tipBefore.Height, h.m.GetTip().Height)
			assert.Equal(t, before, h.dump(t))
			assert.Equal(t, tipBefore.Hash, h.repo.TipHash())
			for _, blk := range branch[tc.k-1:] {
				assert.True(t, h.m.IsInvalid(blk.Header.MustHash()), "h=%d", blk.Header.Height)
			}
			for _, blk := range branch[:tc.k-1] {
				assert.False(t, h.m.IsInvalid(blk.Header.MustHash()), "h=%d", blk.Header.Height)
			}
			assertNotificationOrder(t, h.sink.Events())
		})
	}
}

// P3：回退深度超过上限时不发出任何连接/断开通知，链尖不变
func TestMaxReorgLength_Boundary(t *testing.T) {
	const limit = 3
	cases := []struct {
		name   string
		depth  int
		refuse bool
	}{
		{name: "at limit", depth: limit, refuse: false},
		{name: "beyond limit", depth: limit + 1, refuse: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			h := newHarness(t, func(o *consensusconfig.ConsensusOptions) { o.MaxReorgLength = limit })
			base := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, nil)
			own := h.b.Extend(testutil.Tip(base), tc.depth, 1, 0, nil)
			require.NoError(t, h.submit(t, peerA, append(base, own...)...))
			tipBefore := h.m.GetTip()
			h.sink.Reset()

			heavier := h.b.Extend(testutil.Tip(base), tc.depth+1, 1, 9, nil)

			// Act
			err := h.submit(t, peerB, heavier...)

			// Assert
			if !tc.refuse {
				require.NoError(t, err)
				assert.Equal(t, testutil.Tip(heavier).MustHash(), h.m.GetTip().Hash)
				assert.Equal(t, tc.depth, h.sink.Count(testutil.EventDisconnected))
				return
			}
			require.ErrorIs(t, err, types.ErrMaxReorgViolation)
			assert.Equal(t, tipBefore.Hash, h.m.GetTip().Hash)
			assert.Zero(t, h.sink.Count(testutil.EventConnected))
			assert.Zero(t, h.sink.Count(testutil.EventDisconnected))
			require.Equal(t, 1, h.sink.Count(testutil.EventViolation))
			v := h.sink.Events()[0].Peer
			assert.Equal(t, peerB, v.PeerID)
			assert.Equal(t, uint32(2), v.ForkHeight)
			assert.Equal(t, uint32(limit), v.MaxReorgLength)
			assert.Contains(t, h.banner.banned(), peerB)
		})
	}
}

// Scenario A：候选分支在 13 失败，回滚后重新连接原分支 11–14
func TestScenarioA_FailedReorgRestoresOriginalBranch(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	base := h.b.Extend(h.b.Genesis.Header, 10, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, base...))
	minerA := h.b.Extend(testutil.Tip(base), 4, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, minerA...))
	require.Equal(t, uint32(14), h.m.GetTip().Height)
	stateBefore := h.dump(t)
	h.sink.Reset()

	minerB := h.b.Extend(testutil.Tip(base), 5, 1, 3, h.counterTxsFailingAt(13))

	// Act
	err := h.submit(t, peerB, minerB...)

	// Assert
	require.ErrorIs(t, err, types.ErrFullValidationFailed)
	events := h.sink.Events()
	assert.Equal(t, append(seq(14, 11), seq(12, 11)...), heightsOf(events, testutil.EventDisconnected))
	assert.Equal(t, append(seq(11, 12), seq(11, 14)...), heightsOf(events, testutil.EventConnected))
	assertNotificationOrder(t, events)

	var connected []types.Hash
	for _, e := range events {
		if e.Kind == testutil.EventConnected {
			connected = append(connected, e.Hash)
		}
	}
	assert.Equal(t, minerB[0].Header.MustHash(), connected[0])
	assert.Equal(t, minerB[1].Header.MustHash(), connected[1])
	for i, blk := range minerA {
		assert.Equal(t, blk.Header.MustHash(), connected[2+i])
	}

	require.Equal(t, 1, h.sink.Count(testutil.EventReorgFailed))
	tip := h.m.GetTip()
	assert.Equal(t, uint32(14), tip.Height)
	assert.Equal(t, testutil.Tip(minerA).MustHash(), tip.Hash)
	assert.Equal(t, stateBefore, h.dump(t))

	assert.False(t, h.m.IsInvalid(minerB[0].Header.MustHash()))
	assert.False(t, h.m.IsInvalid(minerB[1].Header.MustHash()))
	for _, blk := range minerB[2:] {
		assert.True(t, h.m.IsInvalid(blk.Header.MustHash()), "h=%d", blk.Header.Height)
	}
	assert.Contains(t, h.banner.banned(), peerB)

	// 失败分支上的后续区块立即被拒绝，不再运行规则
	next := h.b.Block(testutil.Tip(minerB), 1, 0)
	_, err = h.m.SubmitHeader(context.Background(), next.Header, peerB)
	require.ErrorIs(t, err, types.ErrHeaderInvalid)

	// 节点继续延长自己的链
	require.NoError(t, h.submit(t, peerA, h.b.Extend(testutil.Tip(minerA), 1, 1, 0, h.counterTxs)...))
	assert.Equal(t, uint32(15), h.m.GetTip().Height)
}

// Scenario B：节点自身链已越过分叉点 30 个区块，更重的竞争分支被拒绝
func TestScenarioB_DeepCompetingBranchRefused(t *testing.T) {
	// Arrange
	h := newHarness(t, nil) // max_reorg_length = 20
	base := h.b.Extend(h.b.Genesis.Header, 10, 1, 0, nil)
	own := h.b.Extend(testutil.Tip(base), 30, 1, 0, nil)
	require.NoError(t, h.submit(t, peerA, append(base, own...)...))
	require.Equal(t, uint32(40), h.m.GetTip().Height)
	h.sink.Reset()

	competing := h.b.Extend(testutil.Tip(base), 10, 5, 1, nil) // 权重 50 > 30

	// Act
	err := h.submit(t, peerB, competing...)

	// Assert
	require.ErrorIs(t, err, types.ErrMaxReorgViolation)
	assert.Equal(t, testutil.Tip(own).MustHash(), h.m.GetTip().Hash)
	assert.Zero(t, h.sink.Count(testutil.EventConnected))
	assert.Zero(t, h.sink.Count(testutil.EventDisconnected))
	assert.Equal(t, 1, h.sink.Count(testutil.EventViolation), "the refused branch is remembered by its root")

	// 被拒绝分支上的后续区块立即被拒绝，不再运行规则，也不再次通知
	// 权重在 competing[6] 处超过链尖，之后的区块头已被拒绝，从 competing[6] 继续
	more := h.b.Extend(competing[6].Header, 2, 5, 7, nil)
	err = h.submit(t, peerB, more...)
	require.ErrorIs(t, err, types.ErrMaxReorgViolation)
	assert.Contains(t, err.Error(), "was refused")
	_, known := h.m.GetHeaderByHash(more[0].Header.MustHash())
	assert.False(t, known, "headers on a refused branch never enter the tree")
	assert.Equal(t, 1, h.sink.Count(testutil.EventViolation))

	require.NoError(t, h.submit(t, peerA, h.b.Extend(testutil.Tip(own), 1, 1, 0, nil)...))
	assert.Equal(t, uint32(41), h.m.GetTip().Height)
}

// Scenario B 的字面配置：节点在 20，对方在 40，分叉点 10；回退深度 10 未超过上限
func TestScenarioB_ShallowSideSwitches(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	base := h.b.Extend(h.b.Genesis.Header, 10, 1, 0, nil)
	nodeA := h.b.Extend(testutil.Tip(base), 10, 1, 0, nil)
	require.NoError(t, h.submit(t, peerA, append(base, nodeA...)...))
	h.sink.Reset()

	nodeB := h.b.Extend(testutil.Tip(base), 30, 1, 2, nil)

	// Act
	err := h.submit(t, peerB, nodeB...)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(40), h.m.GetTip().Height)
	assert.Equal(t, seq(20, 11), h.sink.Heights(testutil.EventDisconnected))
	assertNotificationOrder(t, h.sink.Events())
}

// Scenario C：tip 3 被两块的竞争分支替换
func TestScenarioC_ShortFork(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	base := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, base...))
	three := h.b.Block(testutil.Tip(base), 1, 0, h.counterTxs(3)...)
	require.NoError(t, h.submit(t, peerA, three))
	h.sink.Reset()

	fork := h.b.Extend(testutil.Tip(base), 2, 1, 4, h.counterTxs)

	// Act
	err := h.submit(t, peerB, fork...)

	// Assert
	require.NoError(t, err)
	tip := h.m.GetTip()
	assert.Equal(t, uint32(4), tip.Height)
	assert.Equal(t, testutil.Tip(fork).MustHash(), tip.Hash)

	events := h.sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, testutil.EventDisconnected, events[0].Kind)
	assert.Equal(t, three.Header.MustHash(), events[0].Hash)
	assert.Equal(t, testutil.EventConnected, events[1].Kind)
	assert.Equal(t, fork[0].Header.MustHash(), events[1].Hash)
	assert.Equal(t, testutil.EventConnected, events[2].Kind)
	assert.Equal(t, fork[1].Header.MustHash(), events[2].Hash)

	old, ok := h.m.GetHeaderByHash(three.Header.MustHash())
	require.True(t, ok)
	assert.False(t, old.OnActive)
	assert.False(t, old.Invalid)
}

func TestStart_ReplaysActiveChainAndInvalidSet(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	base := h.b.Extend(h.b.Genesis.Header, 3, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, base...))
	branch := h.b.Extend(testutil.Tip(base), 2, 1, 0, h.counterTxsFailingAt(4))
	require.Error(t, h.submit(t, peerB, branch...))
	stateBefore := h.dump(t)

	// Act
	h.start(t)

	// Assert
	tip := h.m.GetTip()
	assert.Equal(t, uint32(3), tip.Height)
	assert.Equal(t, testutil.Tip(base).MustHash(), tip.Hash)
	assert.Equal(t, stateBefore, h.dump(t))
	assert.True(t, h.m.IsInvalid(branch[0].Header.MustHash()))
	_, err := h.m.SubmitHeader(context.Background(), branch[1].Header, peerB)
	require.ErrorIs(t, err, types.ErrHeaderInvalid)

	require.NoError(t, h.submit(t, peerA, h.b.Extend(testutil.Tip(base), 1, 1, 0, h.counterTxs)...))
	assert.Equal(t, uint32(4), h.m.GetTip().Height)
}

func TestStart_RollsBackStateAheadOfBlockStore(t *testing.T) {
	// Arrange：模拟提交状态后、写入区块存储前崩溃
	h := newHarness(t, nil)
	blocks := h.b.Extend(h.b.Genesis.Header, 3, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, blocks...))
	blockstore.New(h.store, logimpl.NewNop()).OnBlockDisconnected(context.Background(),
		&chain.ChainedBlock{Height: 3, Hash: blocks[2].Header.MustHash(), Block: blocks[2]})

	// Act
	h.start(t)

	// Assert
	assert.Equal(t, uint32(2), h.m.GetTip().Height)
	assert.Equal(t, blocks[1].Header.MustHash(), h.repo.TipHash())
	entry, ok, err := h.repo.Get(context.Background(), "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), entry.Version)

	require.NoError(t, h.submit(t, peerA, blocks[2]))
	assert.Equal(t, uint32(3), h.m.GetTip().Height)
}

func TestStart_StateBehindBlockStoreIsCorruption(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	require.NoError(t, h.submit(t, peerA, h.b.Extend(h.b.Genesis.Header, 2, 1, 0, nil)...))
	freshRepo := stateimpl.New(testutil.NewBadgerStore(t), nil, logimpl.NewNop())
	m, err := h.newManager(t, freshRepo)
	require.NoError(t, err)

	// Act
	err = m.Start(context.Background())

	// Assert
	require.ErrorIs(t, err, types.ErrStateRepositoryCorruption)
	assert.True(t, errors.Is(err, types.ErrStateRepositoryCorruption))
}

func TestInvalidRecordsAndLocator(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	tx := h.b.Tx(nil, testutil.Put("k", "v"))
	good := h.b.Extend(h.b.Genesis.Header, 4, 1, 0, nil)
	require.NoError(t, h.submit(t, peerA, good...))
	dup := h.b.Block(testutil.Tip(good), 1, 0, tx, tx)

	// Act
	err := h.submit(t, peerB, dup)

	// Assert
	require.Error(t, err)
	records := h.m.InvalidRecords()
	require.Len(t, records, 1)
	assert.Equal(t, dup.Header.MustHash(), records[0].Hash)
	assert.Equal(t, uint32(5), records[0].Height)

	locator := h.m.Locator()
	require.NotEmpty(t, locator)
	assert.Equal(t, testutil.Tip(good).MustHash(), locator[0])
	assert.Equal(t, h.b.Genesis.Header.MustHash(), locator[len(locator)-1])
}

// 被拒绝分支上已知区块头的区块体同样立即被拒绝，不运行预校验
func TestRefusedBranch_RejectsKnownHeadersWithoutValidation(t *testing.T) {
	// Arrange
	h := newHarness(t, func(o *consensusconfig.ConsensusOptions) { o.MaxReorgLength = 2 })
	base := h.b.Extend(h.b.Genesis.Header, 1, 1, 0, nil)
	own := h.b.Extend(testutil.Tip(base), 3, 1, 0, nil)
	require.NoError(t, h.submit(t, peerA, append(base, own...)...))

	competing := h.b.Extend(testutil.Tip(base), 3, 2, 1, nil)
	_, err := h.m.SubmitHeaders(context.Background(), testutil.Headers(competing), peerB)
	require.NoError(t, err)
	require.ErrorIs(t, h.m.SubmitBlocks(context.Background(), competing[:2], peerB), types.ErrMaxReorgViolation)

	// 区块体与区块头承诺不符：若运行预校验会得到 IntegrityInvalid
	forged := &types.Block{Header: competing[2].Header, Transactions: []*types.Transaction{h.b.Tx(nil, testutil.Put("k", "v"))}}

	// Act
	err = h.m.SubmitBlock(context.Background(), competing[2].Header.MustHash(), forged, peerB)

	// Assert
	require.ErrorIs(t, err, types.ErrMaxReorgViolation)
	assert.False(t, errors.Is(err, types.ErrIntegrityInvalid))
	assert.False(t, h.m.IsInvalid(competing[2].Header.MustHash()))
	assert.Equal(t, 1, h.sink.Count(testutil.EventViolation))
	assert.Equal(t, testutil.Tip(own).MustHash(), h.m.GetTip().Hash)
}

// 被拒绝的分支根只保存在内存中：重启后该分支会被重新评估并再次拒绝
func TestRefusedBranch_ReevaluatedAfterRestart(t *testing.T) {
	// Arrange
	h := newHarness(t, func(o *consensusconfig.ConsensusOptions) { o.MaxReorgLength = 2 })
	base := h.b.Extend(h.b.Genesis.Header, 1, 1, 0, nil)
	own := h.b.Extend(testutil.Tip(base), 3, 1, 0, nil)
	require.NoError(t, h.submit(t, peerA, append(base, own...)...))
	competing := h.b.Extend(testutil.Tip(base), 3, 2, 1, nil)
	require.ErrorIs(t, h.submit(t, peerB, competing...), types.ErrMaxReorgViolation)

	// Act
	h.start(t)
	_, orphanErr := h.m.SubmitHeader(context.Background(), competing[2].Header, peerB)
	resubmitErr := h.submit(t, peerB, competing...)

	// Assert
	require.ErrorIs(t, orphanErr, types.ErrUnknownPreviousHeader, "side branches are not replayed")
	require.ErrorIs(t, resubmitErr, types.ErrMaxReorgViolation)
	assert.Equal(t, 1, h.sink.Count(testutil.EventViolation))
	assert.Equal(t, testutil.Tip(own).MustHash(), h.m.GetTip().Hash)
}

// 全量校验中读取状态失败：原分支保持不变，区块不被标记无效，存储恢复后可以连接
func TestSubmitBlock_StateReadFailureKeepsBlockValid(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	flaky := testutil.NewFlakyState(h.repo)
	m, err := h.newManager(t, flaky)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	h.m = m

	blocks := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, blocks[0]))
	stateBefore := h.dump(t)
	flaky.FailNextReads(1)

	// Act
	err = h.submit(t, peerA, blocks[1])

	// Assert
	require.ErrorIs(t, err, stateif.ErrStorage)
	assert.False(t, errors.Is(err, types.ErrFullValidationFailed))
	hash := blocks[1].Header.MustHash()
	assert.False(t, h.m.IsInvalid(hash))
	assert.Empty(t, h.m.InvalidRecords())
	assert.Empty(t, h.banner.banned())
	assert.Zero(t, h.sink.Count(testutil.EventReorgFailed))
	assert.Equal(t, uint32(1), h.m.GetTip().Height)
	assert.Equal(t, stateBefore, h.dump(t))

	require.NoError(t, h.m.SubmitBlock(context.Background(), hash, blocks[1], peerA))
	assert.Equal(t, hash, h.m.GetTip().Hash)
}

// 重组过程中调用方取消：恢复原分支，不标记任何区块无效
func TestSubmitBlock_CancelDuringReorgRestoresOriginalBranch(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	flaky := testutil.NewFlakyState(h.repo)
	m, err := h.newManager(t, flaky)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	h.m = m

	base := h.b.Extend(h.b.Genesis.Header, 2, 1, 0, h.counterTxs)
	own := h.b.Block(testutil.Tip(base), 1, 0, h.counterTxs(3)...)
	require.NoError(t, h.submit(t, peerA, append(base, own)...))
	competing := h.b.Extend(testutil.Tip(base), 2, 1, 6, h.counterTxs)
	require.NoError(t, h.submit(t, peerB, competing[0]), "equal work does not switch")
	stateBefore := h.dump(t)
	h.sink.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	flaky.OnRead(cancel) // 第一个候选区块的全量校验中取消

	// Act
	err = h.m.SubmitBlock(ctx, competing[1].Header.MustHash(), competing[1], peerB)

	// Assert
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, own.Header.MustHash(), h.m.GetTip().Hash)
	assert.Equal(t, own.Header.MustHash(), h.repo.TipHash())
	assert.Equal(t, stateBefore, h.dump(t))
	for _, blk := range competing {
		assert.False(t, h.m.IsInvalid(blk.Header.MustHash()), "h=%d", blk.Header.Height)
	}
	assert.Empty(t, h.m.InvalidRecords())
	assert.Zero(t, h.sink.Count(testutil.EventReorgFailed))
	assertNotificationOrder(t, h.sink.Events())

	flaky.OnRead(nil)
	require.NoError(t, h.m.SubmitBlock(context.Background(), competing[1].Header.MustHash(), competing[1], peerB))
	assert.Equal(t, testutil.Tip(competing).MustHash(), h.m.GetTip().Hash)
}

// 多个协程并发提交两条竞争分支：链尖切换串行执行，通知顺序保持连续
func TestSubmitBlocks_ConcurrentSubmittersSerialize(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	base := h.b.Extend(h.b.Genesis.Header, 3, 1, 0, h.counterTxs)
	require.NoError(t, h.submit(t, peerA, base...))
	branchA := h.b.Extend(testutil.Tip(base), 12, 1, 0, h.counterTxs)
	branchB := h.b.Extend(testutil.Tip(base), 10, 2, 8, h.counterTxs)
	h.sink.Reset()

	// Act
	var wg sync.WaitGroup
	submitAll := func(peer string, blocks []*types.Block) {
		defer wg.Done()
		for _, blk := range blocks {
			_ = h.m.SubmitBlock(context.Background(), blk.Header.MustHash(), blk, peer)
		}
	}
	for i := 0; i < 3; i++ {
		wg.Add(2)
		go submitAll(peerA, branchA)
		go submitAll(peerB, branchB)
	}
	wg.Wait()

	// Assert
	tip := h.m.GetTip()
	assert.Equal(t, testutil.Tip(branchB).MustHash(), tip.Hash, "the heavier branch wins regardless of arrival order")
	assert.Equal(t, tip.Hash, h.repo.TipHash())
	assertNotificationOrder(t, h.sink.Events())

	entry, ok, err := h.repo.Get(context.Background(), "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(tip.Height), entry.Version)
	assert.Empty(t, h.m.InvalidRecords())
}

func TestBestHeader_LeadsTipUntilBodiesArrive(t *testing.T) {
	// Arrange
	h := newHarness(t, nil)
	blocks := h.b.Extend(h.b.Genesis.Header, 3, 1, 0, nil)
	require.NoError(t, h.submit(t, peerA, blocks[0]))

	// Act
	_, err := h.m.SubmitHeaders(context.Background(), testutil.Headers(blocks[1:]), peerA)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, testutil.Tip(blocks).MustHash(), h.m.BestHeader().Hash)
	assert.False(t, h.m.BestHeader().HasBlock)
	assert.Equal(t, uint32(1), h.m.GetTip().Height)

	require.NoError(t, h.m.SubmitBlocks(context.Background(), blocks[1:], peerA))
	assert.Equal(t, h.m.GetTip().Hash, h.m.BestHeader().Hash)
}
