// Package event 把共识管理器的链尖通知转发到事件总线
package event

import (
	"context"

	eventconstants "github.com/weisyn/permnode/pkg/constants/events"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/types"
)

// Sink 以同步方式发布链尖事件
//
// EventBus.Publish 在同步订阅者全部返回后才返回，订阅者看到的事件顺序与通知顺序一致。
type Sink struct {
	bus    event.EventBus
	clock  clock.Clock
	logger log.Logger
}

var _ chain.NotificationSink = (*Sink)(nil)

// NewSink 创建事件总线通知接收方
func NewSink(bus event.EventBus, clk clock.Clock, logger log.Logger) *Sink {
	return &Sink{bus: bus, clock: clk, logger: logger}
}

func (s *Sink) OnBlockConnected(_ context.Context, b *chain.ChainedBlock) {
	data := &types.BlockConnectedEventData{
		Height:    b.Height,
		Hash:      b.Hash,
		Timestamp: s.clock.Now(),
	}
	if b.Block != nil {
		data.ParentHash = b.Block.Header.PrevHash
		data.TxCount = len(b.Block.Transactions)
	}
	s.bus.Publish(eventconstants.EventTypeBlockConnected, data)
}

func (s *Sink) OnBlockDisconnected(_ context.Context, b *chain.ChainedBlock) {
	data := &types.BlockDisconnectedEventData{
		Height:    b.Height,
		Hash:      b.Hash,
		Timestamp: s.clock.Now(),
	}
	if b.Block != nil {
		data.ParentHash = b.Block.Header.PrevHash
	}
	s.bus.Publish(eventconstants.EventTypeBlockDisconnected, data)
}

func (s *Sink) OnReorgFailed(_ context.Context, failing types.Hash, err error) {
	data := &types.ReorgFailedEventData{
		FailingHash: failing,
		Kind:        types.KindOf(err).String(),
		Timestamp:   s.clock.Now(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	s.logger.Warnf("重组失败: failing=%s err=%v", failing.Short(), err)
	s.bus.Publish(eventconstants.EventTypeReorgFailed, data)
}

func (s *Sink) OnMaxReorgViolation(_ context.Context, p chain.PeerContext) {
	s.bus.Publish(eventconstants.EventTypeMaxReorgViolation, &types.MaxReorgViolationEventData{
		PeerID:         p.PeerID,
		CandidateHash:  p.CandidateHash,
		TipHeight:      p.TipHeight,
		ForkHeight:     p.ForkHeight,
		MaxReorgLength: p.MaxReorgLength,
		Timestamp:      s.clock.Now(),
	})
}

// MultiSink 按注册顺序把通知依次投递给多个接收方
type MultiSink []chain.NotificationSink

var _ chain.NotificationSink = MultiSink(nil)

func (m MultiSink) OnBlockConnected(ctx context.Context, b *chain.ChainedBlock) {
	for _, s := range m {
		s.OnBlockConnected(ctx, b)
	}
}

func (m MultiSink) OnBlockDisconnected(ctx context.Context, b *chain.ChainedBlock) {
	for _, s := range m {
		s.OnBlockDisconnected(ctx, b)
	}
}

func (m MultiSink) OnReorgFailed(ctx context.Context, failing types.Hash, err error) {
	for _, s := range m {
		s.OnReorgFailed(ctx, failing, err)
	}
}

func (m MultiSink) OnMaxReorgViolation(ctx context.Context, p chain.PeerContext) {
	for _, s := range m {
		s.OnMaxReorgViolation(ctx, p)
	}
}
