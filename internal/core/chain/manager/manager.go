// Package manager 实现共识管理器
//
// 管理器持有区块头树、链索引与校验流水线，接收区块头与区块体，
// 在独占区内挑选最重的可连接候选分支并交给重组协调器切换活跃链。
//
// 并发模型：
//   - 区块头规则与 Integrity/Partial 预校验在独占区之外执行，可以并发
//   - 链尖切换（含 Full 校验、状态提交、通知）在 connectMu 内串行执行
//   - 查询接口只读链索引与区块头树，不进入独占区
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	blockchainconfig "github.com/weisyn/permnode/internal/config/blockchain"
	consensusconfig "github.com/weisyn/permnode/internal/config/consensus"
	"github.com/weisyn/permnode/internal/core/chain/blockstore"
	"github.com/weisyn/permnode/internal/core/chain/fork/reorg"
	"github.com/weisyn/permnode/internal/core/chain/headertree"
	"github.com/weisyn/permnode/internal/core/chain/indexer"
	eventintegration "github.com/weisyn/permnode/internal/core/chain/integration/event"
	"github.com/weisyn/permnode/internal/core/chain/invalidset"
	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/chain/validation/rules"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	metricsiface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/metrics"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

const rejectedKeyPrefix = "rej:"

// Options 共识管理器依赖
type Options struct {
	Logger    log.Logger
	Consensus *consensusconfig.ConsensusOptions
	Chain     *blockchainconfig.BlockchainOptions
	Pipeline  *validation.Pipeline
	State     state.Repository
	Store     storage.BadgerStore
	Clock     clock.Clock

	RejectedCache storage.MemoryStore          // 可选：近期被区块头规则拒绝的哈希
	Sink          chain.NotificationSink       // 可选：额外的通知接收方
	Banner        chain.PeerBanner             // 可选
	WriteGate     writegate.WriteGate          // 可选
	EventBus      event.EventBus               // 可选
	Registerer    prometheus.Registerer        // 可选
	FatalFn       func(context.Context, error) // 可选：状态仓库损坏时调用
}

// Manager 共识管理器
type Manager struct {
	logger    log.Logger
	opts      *consensusconfig.ConsensusOptions
	tree      *headertree.Tree
	index     *indexer.Indexer
	pipeline  *validation.Pipeline
	state     state.Repository
	invalid   *invalidset.Set
	blocks    *blockstore.Store
	coord     *reorg.Coordinator
	sink      chain.NotificationSink
	banner    chain.PeerBanner
	rejected  storage.MemoryStore
	gate      writegate.WriteGate
	clock     clock.Clock
	metrics   *managerMetrics
	genesisID types.Hash

	// connectMu 链尖切换独占区
	connectMu sync.Mutex

	// violations 因超过最大重组长度被拒绝的分支根（分叉点之后的第一个区块）
	//
	// 只保存在内存中：重启后侧链不会重放，重新提交的分支会被再次评估。
	violationMu sync.RWMutex
	violations  map[types.Hash]struct{}
}

var _ chain.ConsensusManager = (*Manager)(nil)

// New 创建共识管理器；调用 Start 之后才接受数据
func New(o Options) (*Manager, error) {
	switch {
	case o.Logger == nil:
		return nil, fmt.Errorf("Logger 不能为空")
	case o.Consensus == nil:
		return nil, fmt.Errorf("Consensus 配置不能为空")
	case o.Chain == nil:
		return nil, fmt.Errorf("Chain 配置不能为空")
	case o.Pipeline == nil:
		return nil, fmt.Errorf("Pipeline 不能为空")
	case o.State == nil:
		return nil, fmt.Errorf("State 不能为空")
	case o.Store == nil:
		return nil, fmt.Errorf("Store 不能为空")
	case o.Clock == nil:
		return nil, fmt.Errorf("Clock 不能为空")
	}
	if err := o.Consensus.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consensus options: %w", err)
	}

	tree, err := headertree.New(o.Chain.GenesisHeader(), o.Chain.GenesisBlock())
	if err != nil {
		return nil, fmt.Errorf("create header tree: %w", err)
	}

	m := &Manager{
		logger:     o.Logger,
		opts:       o.Consensus,
		tree:       tree,
		index:      indexer.New(tree.Genesis()),
		pipeline:   o.Pipeline,
		state:      o.State,
		invalid:    invalidset.New(o.Store, o.Clock, o.Logger),
		blocks:     blockstore.New(o.Store, o.Logger),
		banner:     o.Banner,
		rejected:   o.RejectedCache,
		gate:       o.WriteGate,
		clock:      o.Clock,
		metrics:    newManagerMetrics(o.Registerer),
		genesisID:  tree.Genesis().Hash(),
		violations: make(map[types.Hash]struct{}),
	}

	// 区块存储排在最前：下游接收方收到连接通知时区块已持久化
	sinks := eventintegration.MultiSink{m.blocks}
	var publisher *reorg.EventPublisher
	if o.EventBus != nil {
		sinks = append(sinks, eventintegration.NewSink(o.EventBus, o.Clock, o.Logger))
		publisher = reorg.NewEventPublisher(o.EventBus, o.Clock)
	}
	if o.Sink != nil {
		sinks = append(sinks, o.Sink)
	}
	m.sink = countingSink{next: sinks, metrics: m.metrics}

	m.coord, err = reorg.NewCoordinator(reorg.Options{
		Logger:          o.Logger,
		Tree:            tree,
		Indexer:         m.index,
		Pipeline:        o.Pipeline,
		State:           o.State,
		Sink:            m.sink,
		InvalidSet:      m.invalid,
		WriteGate:       o.WriteGate,
		Clock:           o.Clock,
		EnterReadOnlyFn: o.FatalFn,
		EventPublisher:  publisher,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Start 恢复持久化状态：无效集合、活跃链与状态仓库链尖
//
// 区块存储在连接通知中写入，晚于状态提交；崩溃可能使状态仓库领先区块存储，
// 此时把状态回滚到区块存储的链尖。状态落后于区块存储说明回滚契约被破坏。
func (m *Manager) Start(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if err := m.invalid.Load(ctx); err != nil {
		return err
	}
	if err := m.replayActiveChain(ctx); err != nil {
		return m.corruption(ctx, "replay active chain", err)
	}
	if err := m.state.Initialize(ctx, m.genesisID); err != nil {
		return m.corruption(ctx, "initialize state repository", err)
	}

	tip := m.index.Tip()
	if m.state.TipHash() != tip.Hash() {
		if m.state.TipHeight() <= tip.Height() {
			return m.corruption(ctx, fmt.Sprintf("state tip %s(h=%d) does not match chain tip %s(h=%d)",
				m.state.TipHash().Short(), m.state.TipHeight(), tip.Hash().Short(), tip.Height()), nil)
		}
		m.logger.Warnf("状态仓库领先区块存储, 回滚到 %s(h=%d)", tip.Hash().Short(), tip.Height())
		if err := m.state.RollbackTo(ctx, tip.Hash()); err != nil {
			return m.corruption(ctx, "roll state back to chain tip", err)
		}
	}

	m.metrics.tipHeight.Set(float64(tip.Height()))
	m.metrics.headers.Set(float64(m.tree.Len()))
	m.metrics.invalidBlocks.Set(float64(m.invalid.Len()))
	m.logger.Infof("共识管理器已启动: 链尖=%s(h=%d) 无效区块=%d", tip.Hash().Short(), tip.Height(), m.invalid.Len())
	return nil
}

// replayActiveChain 把区块存储中的活跃链重新放入区块头树与链索引（不重新校验）
func (m *Manager) replayActiveChain(ctx context.Context) error {
	blocks, err := m.blocks.ActiveChain(ctx)
	if err != nil {
		return err
	}
	for _, blk := range blocks {
		ch, err := m.tree.InsertHeader(blk.Header, "")
		if err != nil {
			return fmt.Errorf("replay block h=%d: %w", blk.Header.Height, err)
		}
		if err := m.tree.AttachBlock(ch.Hash(), blk); err != nil {
			return err
		}
		m.tree.SetStatus(ch.Hash(), headertree.StatusPrevalidated)
		if err := m.index.SetTip(ch); err != nil {
			return err
		}
	}
	if len(blocks) > 0 {
		m.logger.Infof("已重放活跃链: %d 个区块", len(blocks))
	}
	return nil
}

// Stop 等待进行中的链尖切换结束
func (m *Manager) Stop(context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	if err := m.blocks.LastError(); err != nil {
		m.logger.Warnf("区块存储存在未恢复的写入错误: %v", err)
	}
	return nil
}

// SubmitHeader 校验并插入区块头
func (m *Manager) SubmitHeader(ctx context.Context, header *types.BlockHeader, peer string) (*chain.HeaderInfo, error) {
	if header == nil {
		return nil, m.reject(ctx, types.NewConsensusError(types.KindHeaderInvalid, "nil header").WithPeer(peer))
	}
	hash, err := header.Hash()
	if err != nil {
		return nil, m.reject(ctx, &types.ConsensusError{
			Kind: types.KindHeaderInvalid, Reason: "hash header", Height: header.Height, Peer: peer, Err: err,
		})
	}

	if existing, ok := m.tree.Get(hash); ok {
		if existing.IsInvalid() {
			return nil, m.reject(ctx, knownInvalid(header.Height, hash, peer))
		}
		info := m.info(existing)
		return &info, nil
	}
	if m.invalid.IsInvalid(hash) {
		return nil, m.reject(ctx, knownInvalid(header.Height, hash, peer))
	}
	if m.wasRejected(ctx, hash) {
		return nil, m.reject(ctx, types.NewConsensusError(types.KindHeaderInvalid, "header was recently rejected").
			WithBlock(header.Height, hash).WithPeer(peer))
	}

	parent, ok := m.tree.Get(header.PrevHash)
	if !ok {
		if m.invalid.IsInvalid(header.PrevHash) {
			return nil, m.rejectDescendant(ctx, header, hash, header.PrevHash, peer)
		}
		return nil, types.NewConsensusError(types.KindUnknownPreviousHeader, "previous header unknown").
			WithBlock(header.Height, hash).WithPeer(peer)
	}
	if parent.IsInvalid() {
		return nil, m.rejectDescendant(ctx, header, hash, parent.Hash(), peer)
	}
	if root, refused := m.refusedBranch(parent); refused {
		return nil, m.reject(ctx, refusedBranchError(header.Height, hash, root, peer))
	}

	vc := &validation.Context{
		Header:      header,
		Hash:        hash,
		Parent:      parent,
		PreviousTip: m.index.Tip(),
		Clock:       m.clock,
		Peer:        peer,
	}
	if err := m.pipeline.ValidateHeader(ctx, vc); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// 未来时间戳随时间推移可能变为合法，不缓存
		if ce, ok := types.AsConsensusError(err); ok && ce.Rule != rules.HeaderTimestamp {
			m.rememberRejected(ctx, hash)
		}
		return nil, m.reject(ctx, err)
	}

	ch, err := m.tree.InsertHeader(header, peer)
	if err != nil {
		return nil, m.reject(ctx, err)
	}
	m.metrics.headers.Set(float64(m.tree.Len()))
	m.logger.Debugf("接收区块头: %s(h=%d) peer=%s", hash.Short(), header.Height, peer)
	info := m.info(ch)
	return &info, nil
}

// SubmitHeaders 按顺序提交区块头，遇到第一个错误即停止
func (m *Manager) SubmitHeaders(ctx context.Context, headers []*types.BlockHeader, peer string) ([]*chain.HeaderInfo, error) {
	out := make([]*chain.HeaderInfo, 0, len(headers))
	for _, h := range headers {
		info, err := m.SubmitHeader(ctx, h, peer)
		if err != nil {
			return out, err
		}
		out = append(out, info)
	}
	return out, nil
}

// SubmitBlock 预校验区块体并尝试切换链尖
//
// 区块头未知时先按区块体中的区块头走 SubmitHeader；区块体的区块头与 hash 不符返回 UnknownBlock。
func (m *Manager) SubmitBlock(ctx context.Context, hash types.Hash, block *types.Block, peer string) error {
	ch, err := m.admitBody(ctx, hash, block, peer)
	if err != nil {
		return err
	}
	if !ch.HasStatus(headertree.StatusPrevalidated) {
		vc := m.bodyContext(ch, block, peer)
		if err := m.pipeline.PrevalidateBlock(ctx, vc); err != nil {
			return m.prevalidationFailed(ctx, ch, err)
		}
		if err := m.acceptBody(ch, block); err != nil {
			return err
		}
	}
	return m.trySwitchTip(ctx)
}

// SubmitBlocks 并行预校验一批区块体，之后统一尝试切换链尖
//
// 返回第一个失败的错误；其余通过预校验的区块仍会参与链尖切换。
func (m *Manager) SubmitBlocks(ctx context.Context, blocks []*types.Block, peer string) error {
	var (
		firstErr error
		batch    []*validation.Context
		nodes    []*headertree.ChainedHeader
	)
	for _, blk := range blocks {
		if blk == nil || blk.Header == nil {
			firstErr = firstNonNil(firstErr, m.reject(ctx,
				types.NewConsensusError(types.KindIntegrityInvalid, "block without header").WithPeer(peer)))
			continue
		}
		hash, err := blk.Header.Hash()
		if err != nil {
			firstErr = firstNonNil(firstErr, m.reject(ctx, &types.ConsensusError{
				Kind: types.KindIntegrityInvalid, Reason: "hash block header", Height: blk.Header.Height, Peer: peer, Err: err,
			}))
			continue
		}
		ch, err := m.admitBody(ctx, hash, blk, peer)
		if err != nil {
			firstErr = firstNonNil(firstErr, err)
			continue
		}
		if ch.HasStatus(headertree.StatusPrevalidated) {
			continue
		}
		batch = append(batch, m.bodyContext(ch, blk, peer))
		nodes = append(nodes, ch)
	}

	for i, err := range m.pipeline.PrevalidateBatch(ctx, batch) {
		if err != nil {
			firstErr = firstNonNil(firstErr, m.prevalidationFailed(ctx, nodes[i], err))
			continue
		}
		if err := m.acceptBody(nodes[i], batch[i].Block); err != nil {
			firstErr = firstNonNil(firstErr, err)
		}
	}

	if err := m.trySwitchTip(ctx); err != nil {
		return err
	}
	return firstErr
}

// admitBody 找到（必要时插入）区块体对应的区块头节点
func (m *Manager) admitBody(ctx context.Context, hash types.Hash, block *types.Block, peer string) (*headertree.ChainedHeader, error) {
	if block == nil || block.Header == nil {
		return nil, m.reject(ctx, types.NewConsensusError(types.KindIntegrityInvalid, "block without header").
			WithBlock(0, hash).WithPeer(peer))
	}
	if m.invalid.IsInvalid(hash) {
		return nil, m.reject(ctx, knownInvalid(block.Header.Height, hash, peer))
	}
	ch, ok := m.tree.Get(hash)
	if !ok {
		bodyHash, err := block.Header.Hash()
		if err != nil || bodyHash != hash {
			return nil, types.NewConsensusError(types.KindUnknownBlock, "no header known for block").
				WithBlock(block.Header.Height, hash).WithPeer(peer)
		}
		if _, err := m.SubmitHeader(ctx, block.Header, peer); err != nil {
			return nil, err
		}
		if ch, ok = m.tree.Get(hash); !ok {
			return nil, types.NewConsensusError(types.KindUnknownBlock, "header pruned before body arrived").
				WithBlock(block.Header.Height, hash).WithPeer(peer)
		}
	}
	if ch.IsInvalid() {
		return nil, m.reject(ctx, knownInvalid(ch.Height(), hash, peer))
	}
	if root, refused := m.refusedBranch(ch); refused {
		return nil, m.reject(ctx, refusedBranchError(ch.Height(), hash, root, peer))
	}
	return ch, nil
}

// refusedBranch 报告 h 是否位于因超长重组被拒绝的分支上（h 可以是分支根本身）
//
// 从 h 向下回溯到活跃链；没有被拒绝的分支时不回溯。
func (m *Manager) refusedBranch(h *headertree.ChainedHeader) (types.Hash, bool) {
	m.violationMu.RLock()
	defer m.violationMu.RUnlock()
	if len(m.violations) == 0 {
		return types.Hash{}, false
	}
	for cur, ok := h, true; ok && !m.index.Contains(cur); cur, ok = m.tree.Parent(cur) {
		if _, seen := m.violations[cur.Hash()]; seen {
			return cur.Hash(), true
		}
	}
	return types.Hash{}, false
}

func refusedBranchError(height uint32, hash, root types.Hash, peer string) error {
	return types.NewConsensusError(types.KindMaxReorgViolation,
		"branch rooted at "+root.Short()+" was refused for exceeding the max reorg length").
		WithBlock(height, hash).WithPeer(peer)
}

func (m *Manager) bodyContext(ch *headertree.ChainedHeader, block *types.Block, peer string) *validation.Context {
	parent, _ := m.tree.Parent(ch)
	return &validation.Context{
		Header:      ch.Header(),
		Hash:        ch.Hash(),
		Candidate:   ch,
		Parent:      parent,
		PreviousTip: m.index.Tip(),
		Block:       block,
		Clock:       m.clock,
		Peer:        peer,
	}
}

func (m *Manager) acceptBody(ch *headertree.ChainedHeader, block *types.Block) error {
	if err := m.tree.AttachBlock(ch.Hash(), block); err != nil {
		return err
	}
	m.tree.SetStatus(ch.Hash(), headertree.StatusPrevalidated)
	return nil
}

// prevalidationFailed 处理 Integrity/Partial 失败
//
// Integrity 失败说明区块体与区块头承诺不符，只拒绝区块体，同一区块头仍可等待正确的区块体；
// Partial 失败说明区块头承诺的内容本身无效，区块头及其后代被永久标记无效。
func (m *Manager) prevalidationFailed(ctx context.Context, ch *headertree.ChainedHeader, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if types.KindOf(err) == types.KindPartialValidationFailed {
		m.markInvalid(ctx, ch, err)
	}
	return m.reject(ctx, err)
}

// markInvalid 在区块头树中标记 ch 及其后代无效并持久化
func (m *Manager) markInvalid(ctx context.Context, ch *headertree.ChainedHeader, reason error) {
	marked := m.tree.MarkInvalid(ch)
	records := make([]invalidset.Record, 0, len(marked))
	for i, hash := range marked {
		rec := invalidset.Record{Hash: hash, Reason: reason.Error()}
		if i > 0 {
			rec.Reason = "descendant of invalid block " + ch.Hash().Short()
		}
		if h, ok := m.tree.Get(hash); ok {
			rec.Height = h.Height()
		}
		records = append(records, rec)
	}
	if err := m.invalid.MarkMany(ctx, records); err != nil {
		m.logger.Errorf("持久化无效区块失败: %v", err)
	}
	m.metrics.invalidBlocks.Set(float64(m.invalid.Len()))
}

// rejectDescendant 父区块已无效：直接拒绝并持久化，不运行规则
func (m *Manager) rejectDescendant(ctx context.Context, header *types.BlockHeader, hash, parent types.Hash, peer string) error {
	ce := types.NewConsensusError(types.KindHeaderInvalid, "descendant of invalid block "+parent.Short()).
		WithBlock(header.Height, hash).WithPeer(peer)
	if err := m.invalid.MarkInvalid(ctx, hash, header.Height, ce); err != nil {
		m.logger.Errorf("持久化无效区块失败: %v", err)
	}
	m.metrics.invalidBlocks.Set(float64(m.invalid.Len()))
	return m.reject(ctx, ce)
}

// trySwitchTip 在独占区内切换到最重的可连接候选分支，直到没有更重的候选
func (m *Manager) trySwitchTip(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.gate != nil && m.gate.IsReadOnly() {
		return types.NewConsensusError(types.KindStateRepositoryCorruption, "node is read-only: "+m.gate.ReadOnlyReason())
	}

	var firstErr error
	switched := false
	for {
		progressed, err := m.switchOnce(ctx, &firstErr)
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
		switched = true
	}
	if switched {
		m.prune(ctx)
	}
	return firstErr
}

// switchOnce 尝试一次切换；progressed 表示链尖或候选集合发生了变化，需要重新评估
//
// 只考虑区块体从创世区块起齐全、且比链尖更重的候选。每次失败的切换至少把一个区块头标记无效，
// 每次成功的切换都增加链尖权重，因此外层循环必然终止。
func (m *Manager) switchOnce(ctx context.Context, firstErr *error) (progressed bool, fatal error) {
	tip := m.index.Tip()
	for _, cand := range m.tree.ConnectableCandidates(tip.ChainWork()) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		fork, err := m.tree.FindForkPoint(tip, cand)
		if err != nil {
			m.logger.Debugf("跳过候选 %s: %v", cand.Hash().Short(), err)
			continue
		}
		root, err := m.tree.Ancestor(cand, fork.Height()+1)
		if err != nil {
			continue
		}
		if m.isRefusedRoot(root.Hash()) {
			continue
		}

		if depth := tip.Height() - fork.Height(); depth > m.opts.MaxReorgLength {
			*firstErr = firstNonNil(*firstErr, m.refuseDeepReorg(ctx, tip, fork, cand, root))
			continue
		}

		session, err := m.coord.Execute(ctx, fork, cand)
		m.metrics.observeReorg(session)
		if err == nil {
			return true, nil
		}

		var rerr *reorg.ReorgError
		if !errors.As(err, &rerr) {
			return false, err
		}
		switch rerr.Class {
		case reorg.ErrClassCorruption, reorg.ErrClassCanceled, reorg.ErrClassStorage:
			return false, err
		case reorg.ErrClassValidation:
			m.metrics.invalidBlocks.Set(float64(m.invalid.Len()))
			*firstErr = firstNonNil(*firstErr, m.reject(ctx, rerr.Err))
			return true, nil
		default:
			m.logger.Warnf("候选 %s 准备失败: %v", cand.Hash().Short(), err)
		}
	}
	return false, nil
}

func (m *Manager) isRefusedRoot(hash types.Hash) bool {
	m.violationMu.RLock()
	defer m.violationMu.RUnlock()
	_, seen := m.violations[hash]
	return seen
}

// refuseDeepReorg 拒绝超过最大重组长度的分支：不触碰状态，只通知并记住分支根
func (m *Manager) refuseDeepReorg(ctx context.Context, tip, fork, cand, root *headertree.ChainedHeader) error {
	m.violationMu.Lock()
	m.violations[root.Hash()] = struct{}{}
	m.violationMu.Unlock()
	pc := chain.PeerContext{
		PeerID:         cand.Peer(),
		CandidateHash:  cand.Hash(),
		TipHeight:      tip.Height(),
		ForkHeight:     fork.Height(),
		MaxReorgLength: m.opts.MaxReorgLength,
	}
	m.sink.OnMaxReorgViolation(ctx, pc)
	m.logger.Warnf("拒绝超长重组: 候选=%s(h=%d) 分叉点=%d 链尖=%d 上限=%d peer=%s",
		cand.Hash().Short(), cand.Height(), fork.Height(), tip.Height(), m.opts.MaxReorgLength, cand.Peer())

	ce := types.NewConsensusError(types.KindMaxReorgViolation,
		fmt.Sprintf("reorg depth %d exceeds limit %d", tip.Height()-fork.Height(), m.opts.MaxReorgLength)).
		WithBlock(cand.Height(), cand.Hash()).WithPeer(cand.Peer())
	return m.reject(ctx, ce)
}

// prune 剪掉保留深度之外的分支与撤销日志
func (m *Manager) prune(ctx context.Context) {
	tipHeight := m.index.Height()
	if tipHeight <= m.opts.RetainedDepth {
		return
	}
	horizon := tipHeight - m.opts.RetainedDepth
	removed := m.tree.PruneBelow(horizon, m.index.Contains)
	m.violationMu.Lock()
	for root := range m.violations {
		if !m.tree.Contains(root) {
			delete(m.violations, root)
		}
	}
	m.violationMu.Unlock()
	journals, err := m.state.PruneJournal(ctx, horizon)
	if err != nil {
		m.logger.Warnf("裁剪撤销日志失败: %v", err)
	}
	m.metrics.headers.Set(float64(m.tree.Len()))
	if removed > 0 || journals > 0 {
		m.logger.Debugf("裁剪完成: 高度<%d 区块头=%d 撤销日志=%d", horizon, removed, journals)
	}
}

// corruption 启动阶段发现的不一致：进入只读并返回致命错误
func (m *Manager) corruption(ctx context.Context, reason string, cause error) error {
	ce := &types.ConsensusError{Kind: types.KindStateRepositoryCorruption, Reason: reason, Err: cause}
	m.logger.Errorf("❌ %v", ce)
	if m.gate != nil {
		m.gate.EnterReadOnly(ce.Error())
	}
	return ce
}

// reject 统计并在需要时通知封禁来源节点
func (m *Manager) reject(ctx context.Context, err error) error {
	m.metrics.observeFailure(err)
	ce, ok := types.AsConsensusError(err)
	if ok && m.banner != nil && ce.ShouldBanPeer() {
		m.banner.BanPeer(ctx, ce.Peer, ce)
	}
	m.logger.Debugf("拒绝: %v", err)
	return err
}

func (m *Manager) wasRejected(ctx context.Context, hash types.Hash) bool {
	if m.rejected == nil {
		return false
	}
	_, ok, err := m.rejected.Get(ctx, rejectedKeyPrefix+hash.String())
	return err == nil && ok
}

func (m *Manager) rememberRejected(ctx context.Context, hash types.Hash) {
	if m.rejected == nil {
		return
	}
	if err := m.rejected.Set(ctx, rejectedKeyPrefix+hash.String(), []byte{1}); err != nil {
		m.logger.Debugf("记录被拒绝的区块头失败: %v", err)
	}
}

// GetTip 当前活跃链尖
func (m *Manager) GetTip() chain.HeaderInfo {
	return m.info(m.index.Tip())
}

// GetHeaderByHash 按哈希查询区块头树中的区块头
func (m *Manager) GetHeaderByHash(hash types.Hash) (*chain.HeaderInfo, bool) {
	ch, ok := m.tree.Get(hash)
	if !ok {
		return nil, false
	}
	info := m.info(ch)
	return &info, true
}

// GetHeaderByHeight 按高度查询活跃链上的区块头
func (m *Manager) GetHeaderByHeight(height uint32) (*chain.HeaderInfo, bool) {
	ch, ok := m.index.GetByHeight(height)
	if !ok {
		return nil, false
	}
	info := m.info(ch)
	return &info, true
}

// IsInvalid 哈希是否已被判定无效
func (m *Manager) IsInvalid(hash types.Hash) bool {
	if m.invalid.IsInvalid(hash) {
		return true
	}
	ch, ok := m.tree.Get(hash)
	return ok && ch.IsInvalid()
}

// InvalidRecords 持久化无效集合的全部记录
func (m *Manager) InvalidRecords() []invalidset.Record {
	return m.invalid.All()
}

// BestHeader 区块头树中权重最大的有效区块头（区块体不一定已到达）
//
// 与链尖的高度差即同步进度。
func (m *Manager) BestHeader() chain.HeaderInfo {
	return m.info(m.tree.BestCandidate())
}

// Locator 活跃链的区块定位器（同步请求使用）
func (m *Manager) Locator() []types.Hash {
	return m.index.Locator()
}

// GetBlock 从区块存储读取活跃链区块
func (m *Manager) GetBlock(ctx context.Context, hash types.Hash) (*types.Block, bool, error) {
	return m.blocks.GetBlock(ctx, hash)
}

func (m *Manager) info(ch *headertree.ChainedHeader) chain.HeaderInfo {
	return chain.HeaderInfo{
		Height:    ch.Height(),
		Hash:      ch.Hash(),
		PrevHash:  ch.PrevHash(),
		ChainWork: ch.ChainWork().Dec(),
		Timestamp: ch.Header().Timestamp,
		HasBlock:  ch.HasBlock(),
		Invalid:   ch.IsInvalid(),
		OnActive:  m.index.Contains(ch),
		Peer:      ch.Peer(),
	}
}

func knownInvalid(height uint32, hash types.Hash, peer string) *types.ConsensusError {
	return types.NewConsensusError(types.KindHeaderInvalid, "block is known invalid").WithBlock(height, hash).WithPeer(peer)
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// ModuleName 内存上报模块名
func (m *Manager) ModuleName() string { return "consensus.manager" }

// CollectMemoryStats 上报区块头树规模与拒绝缓存条目数
func (m *Manager) CollectMemoryStats() metricsiface.ModuleMemoryStats {
	stats := metricsiface.ModuleMemoryStats{
		Module:  m.ModuleName(),
		Objects: int64(m.tree.Len()),
	}
	if m.rejected != nil {
		stats.CacheItems = int64(m.rejected.Count())
	}
	return stats
}
