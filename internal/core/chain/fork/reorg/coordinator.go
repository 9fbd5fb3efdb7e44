// Package reorg 实现活跃链切换的协调器
//
// 一次切换依次执行 Disconnect（回退到分叉点）与 Connect（逐块全量校验并提交候选分支）。
// 任一候选区块全量校验失败时，已连接的候选区块被逆序断开，原活跃链通过之前捕获的变更集原样重放，
// 失败区块及其后代被永久标记无效。全量校验中读取状态失败同样回滚，但不标记任何区块。
// 状态仓库在回滚或重放中出错视为不可恢复，节点进入只读。
package reorg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weisyn/permnode/internal/core/chain/headertree"
	"github.com/weisyn/permnode/internal/core/chain/indexer"
	"github.com/weisyn/permnode/internal/core/chain/invalidset"
	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

// Coordinator 重组协调器
//
// 调用方必须持有共识管理器的独占锁；协调器本身不做并发控制。
type Coordinator struct {
	logger   log.Logger
	tree     *headertree.Tree
	index    *indexer.Indexer
	pipeline *validation.Pipeline
	state    state.Repository
	sink     chain.NotificationSink
	invalid  *invalidset.Set
	gate     writegate.WriteGate
	clock    clock.Clock

	// enterReadOnlyFn 状态仓库损坏后的致命处理钩子（节点中触发 fx 关停）
	enterReadOnlyFn func(ctx context.Context, reason error)

	eventPublisher *EventPublisher
}

// Options 协调器依赖
type Options struct {
	Logger          log.Logger
	Tree            *headertree.Tree
	Indexer         *indexer.Indexer
	Pipeline        *validation.Pipeline
	State           state.Repository
	Sink            chain.NotificationSink
	InvalidSet      *invalidset.Set
	WriteGate       writegate.WriteGate // 可选
	Clock           clock.Clock
	EnterReadOnlyFn func(ctx context.Context, reason error) // 可选
	EventPublisher  *EventPublisher                         // 可选
}

// NewCoordinator 创建协调器
func NewCoordinator(opts Options) (*Coordinator, error) {
	switch {
	case opts.Logger == nil:
		return nil, fmt.Errorf("Logger 不能为空")
	case opts.Tree == nil:
		return nil, fmt.Errorf("Tree 不能为空")
	case opts.Indexer == nil:
		return nil, fmt.Errorf("Indexer 不能为空")
	case opts.Pipeline == nil:
		return nil, fmt.Errorf("Pipeline 不能为空")
	case opts.State == nil:
		return nil, fmt.Errorf("State 不能为空")
	case opts.Sink == nil:
		return nil, fmt.Errorf("Sink 不能为空")
	case opts.InvalidSet == nil:
		return nil, fmt.Errorf("InvalidSet 不能为空")
	case opts.Clock == nil:
		return nil, fmt.Errorf("Clock 不能为空")
	}
	return &Coordinator{
		logger:          opts.Logger,
		tree:            opts.Tree,
		index:           opts.Indexer,
		pipeline:        opts.Pipeline,
		state:           opts.State,
		sink:            opts.Sink,
		invalid:         opts.InvalidSet,
		gate:            opts.WriteGate,
		clock:           opts.Clock,
		enterReadOnlyFn: opts.EnterReadOnlyFn,
		eventPublisher:  opts.EventPublisher,
	}, nil
}

// disconnected 被断开的原活跃链区块及其变更集
type disconnected struct {
	header *headertree.ChainedHeader
	cs     *types.ChangeSet
}

// Execute 把活跃链从当前链尖切换到 candidate，fork 为二者的共同祖先
//
// fork 到 candidate 之间的全部区块必须已有区块体。返回的会话记录了结果；
// 校验失败时错误链中包含带失败区块与来源节点的 *types.ConsensusError。
func (c *Coordinator) Execute(ctx context.Context, fork, candidate *headertree.ChainedHeader) (*ReorgSession, error) {
	from := c.index.Tip()
	session := &ReorgSession{
		ID:            uuid.NewString(),
		FromHash:      from.Hash(),
		FromHeight:    from.Height(),
		ForkHeight:    fork.Height(),
		ToHeight:      candidate.Height(),
		CandidateHash: candidate.Hash(),
		CreatedAt:     c.clock.Now(),
		Result:        ResultFailed,
	}

	// Prepare
	c.enterPhase(ctx, session, PhasePrepare)
	if !c.index.Contains(fork) {
		return session, c.prepareError(ctx, session, fmt.Errorf("fork point %s is not on the active chain", fork.Hash().Short()))
	}
	toConnect, err := c.tree.PathBetween(fork, candidate)
	if err != nil {
		return session, c.prepareError(ctx, session, err)
	}
	for _, h := range toConnect {
		if !h.HasBlock() {
			return session, c.prepareError(ctx, session, fmt.Errorf("block %s(h=%d) body missing", h.Hash().Short(), h.Height()))
		}
		if h.IsInvalid() {
			return session, c.prepareError(ctx, session, fmt.Errorf("block %s(h=%d) is invalid", h.Hash().Short(), h.Height()))
		}
	}

	wctx := context.WithoutCancel(ctx)
	if c.gate != nil {
		token, err := c.gate.EnableWriteFence("reorg:" + session.ID)
		if err != nil {
			return session, c.prepareError(ctx, session, err)
		}
		defer func() { _ = c.gate.DisableWriteFence(token) }()
		wctx = writegate.WithWriteToken(wctx, token)
	}

	c.logger.Infof("🔁 重组开始: id=%s from=%s(h=%d) fork=%d to=%s(h=%d)",
		session.ID, from.Hash().Short(), session.FromHeight, session.ForkHeight, candidate.Hash().Short(), session.ToHeight)

	// Disconnect：链尖到分叉点之间按高度递减断开
	c.enterPhase(ctx, session, PhaseDisconnect)
	var undone []disconnected
	for tip := c.index.Tip(); tip.Height() > fork.Height(); tip = c.index.Tip() {
		cs, err := c.disconnectTip(wctx, tip)
		if err != nil {
			return session, c.corrupt(wctx, session, err)
		}
		undone = append(undone, disconnected{header: tip, cs: cs})
	}
	session.Disconnected = len(undone)

	// Connect：按高度递增逐块全量校验并提交
	c.enterPhase(ctx, session, PhaseConnect)
	var connected []*headertree.ChainedHeader
	for _, h := range toConnect {
		verr, fatal := c.connectBlock(ctx, wctx, h, from)
		if fatal != nil {
			return session, c.corrupt(wctx, session, fatal)
		}
		if verr != nil {
			session.Connected = len(connected)
			return session, c.rollback(ctx, wctx, session, h, verr, connected, undone)
		}
		connected = append(connected, h)
	}
	session.Connected = len(connected)

	c.enterPhase(ctx, session, PhaseCommit)
	session.Result = ResultSwitched
	c.logger.Infof("✅ 重组完成: id=%s 断开=%d 连接=%d 新链尖=%s(h=%d)",
		session.ID, session.Disconnected, session.Connected, candidate.Hash().Short(), candidate.Height())
	return session, nil
}

// disconnectTip 断开当前链尖：先通知，再回滚状态，最后移动链索引
func (c *Coordinator) disconnectTip(wctx context.Context, tip *headertree.ChainedHeader) (*types.ChangeSet, error) {
	parent, ok := c.tree.Parent(tip)
	if !ok {
		return nil, fmt.Errorf("parent of active block %s(h=%d) is not in the header tree", tip.Hash().Short(), tip.Height())
	}
	c.sink.OnBlockDisconnected(wctx, chainedBlock(tip))

	cs, err := c.state.DisconnectTip(wctx)
	if err != nil {
		return nil, err
	}
	if cs.BlockHash != tip.Hash() {
		return nil, fmt.Errorf("state disconnected %s, active tip is %s", cs.BlockHash.Short(), tip.Hash().Short())
	}
	if err := c.index.SetTip(parent); err != nil {
		return nil, err
	}
	return cs, nil
}

// connectBlock 校验并提交单个区块
//
// verr 为校验失败（可恢复）；fatal 为状态仓库或链索引错误（不可恢复）。
func (c *Coordinator) connectBlock(ctx, wctx context.Context, h *headertree.ChainedHeader, previousTip *headertree.ChainedHeader) (verr, fatal error) {
	parent, ok := c.tree.Parent(h)
	if !ok {
		return nil, fmt.Errorf("parent of %s(h=%d) is not in the header tree", h.Hash().Short(), h.Height())
	}
	vc := &validation.Context{
		Header:      h.Header(),
		Hash:        h.Hash(),
		Candidate:   h,
		Parent:      parent,
		PreviousTip: previousTip,
		Block:       h.Block(),
		Clock:       c.clock,
		Peer:        h.Peer(),
	}

	if !h.HasStatus(headertree.StatusPrevalidated) {
		if err := c.pipeline.PrevalidateBlock(ctx, vc); err != nil {
			return err, nil
		}
		c.tree.SetStatus(h.Hash(), headertree.StatusPrevalidated)
	}

	snap, err := c.state.SnapshotAt(wctx, parent.Hash())
	if err != nil {
		return nil, err
	}
	vc.State = snap
	if err := c.pipeline.ValidateFull(ctx, vc); err != nil {
		c.state.Discard(snap)
		return err, nil
	}
	if _, err := c.state.Commit(wctx, snap, h.Hash()); err != nil {
		c.state.Discard(snap)
		return nil, err
	}
	if err := c.index.SetTip(h); err != nil {
		return nil, err
	}
	c.sink.OnBlockConnected(wctx, chainedBlock(h))
	return nil, nil
}

// rollback 撤销本次已连接的候选区块，重放原活跃链，并标记失败区块无效
func (c *Coordinator) rollback(ctx, wctx context.Context, session *ReorgSession, failing *headertree.ChainedHeader,
	verr error, connected []*headertree.ChainedHeader, undone []disconnected) error {

	session.FailingHash = failing.Hash()
	c.logger.Warnf("重组校验失败, 开始回滚: id=%s failing=%s(h=%d) err=%v",
		session.ID, failing.Hash().Short(), failing.Height(), verr)

	c.enterPhase(ctx, session, PhaseRollback)
	for i := len(connected) - 1; i >= 0; i-- {
		if _, err := c.disconnectTip(wctx, connected[i]); err != nil {
			return c.corrupt(wctx, session, err)
		}
	}

	c.enterPhase(ctx, session, PhaseReconnect)
	for i := len(undone) - 1; i >= 0; i-- {
		d := undone[i]
		if err := c.state.Reapply(wctx, d.cs); err != nil {
			return c.corrupt(wctx, session, err)
		}
		if err := c.index.SetTip(d.header); err != nil {
			return c.corrupt(wctx, session, err)
		}
		c.sink.OnBlockConnected(wctx, chainedBlock(d.header))
	}

	session.Result = ResultRolledBack

	// 调用方取消或存储读取失败都不代表区块无效
	if ctx.Err() != nil && errors.Is(verr, ctx.Err()) {
		return &ReorgError{Class: ErrClassCanceled, Phase: PhaseConnect, Err: verr}
	}
	if errors.Is(verr, state.ErrStorage) {
		c.logger.Warnf("重组因状态读取失败回滚, 区块保持有效: id=%s failing=%s(h=%d) err=%v",
			session.ID, failing.Hash().Short(), failing.Height(), verr)
		return &ReorgError{Class: ErrClassStorage, Phase: PhaseConnect, Err: verr}
	}

	ce, ok := types.AsConsensusError(verr)
	if !ok {
		ce = &types.ConsensusError{Kind: types.KindFullValidationFailed, Err: verr}
	}
	ce = ce.WithBlock(failing.Height(), failing.Hash())
	if ce.Peer == "" {
		ce = ce.WithPeer(failing.Peer())
	}

	session.Invalidated = c.tree.MarkInvalid(failing)
	records := make([]invalidset.Record, 0, len(session.Invalidated))
	for i, hash := range session.Invalidated {
		rec := invalidset.Record{Hash: hash, Reason: ce.Error()}
		if i > 0 {
			rec.Reason = "descendant of invalid block " + failing.Hash().Short()
		}
		if h, ok := c.tree.Get(hash); ok {
			rec.Height = h.Height()
		}
		records = append(records, rec)
	}
	if err := c.invalid.MarkMany(wctx, records); err != nil {
		c.logger.Errorf("持久化无效区块失败: %v", err)
	}

	c.sink.OnReorgFailed(wctx, failing.Hash(), ce)
	c.logger.Warnf("重组已回滚: id=%s 链尖=%s(h=%d) 标记无效=%d",
		session.ID, c.index.Tip().Hash().Short(), c.index.Height(), len(session.Invalidated))
	return &ReorgError{Class: ErrClassValidation, Phase: PhaseConnect, Err: ce}
}

// corrupt 状态仓库违反回滚契约：进入只读并调用致命钩子
func (c *Coordinator) corrupt(ctx context.Context, session *ReorgSession, cause error) error {
	ce := &types.ConsensusError{
		Kind:   types.KindStateRepositoryCorruption,
		Reason: fmt.Sprintf("reorg %s failed during %s", session.ID, session.Phase),
		Err:    cause,
	}
	c.logger.Errorf("❌ 状态仓库损坏, 节点进入只读: %v", ce)
	if c.gate != nil {
		c.gate.EnterReadOnly(ce.Error())
	}
	c.eventPublisher.PublishCorruption(ctx, session, ce)
	if c.enterReadOnlyFn != nil {
		c.enterReadOnlyFn(ctx, ce)
	}
	return &ReorgError{Class: ErrClassCorruption, Phase: session.Phase, Err: ce}
}

func (c *Coordinator) prepareError(ctx context.Context, session *ReorgSession, err error) error {
	c.eventPublisher.PublishPhase(ctx, session, PhasePrepare, err)
	return &ReorgError{Class: ErrClassPrepare, Phase: PhasePrepare, Err: err}
}

func (c *Coordinator) enterPhase(ctx context.Context, session *ReorgSession, phase Phase) {
	session.Phase = phase
	c.eventPublisher.PublishPhase(ctx, session, phase, nil)
	c.logger.Debugf("重组阶段: id=%s phase=%s elapsed=%s", session.ID, phase, c.clock.Since(session.CreatedAt).Round(time.Millisecond))
}

func chainedBlock(h *headertree.ChainedHeader) *chain.ChainedBlock {
	return &chain.ChainedBlock{Height: h.Height(), Hash: h.Hash(), Block: h.Block()}
}
