package reorg

import (
	"context"

	eventconstants "github.com/weisyn/permnode/pkg/constants/events"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/permnode/pkg/types"
)

// EventPublisher 封装重组阶段事件发布逻辑；eventBus 为 nil 时不发布
type EventPublisher struct {
	eventBus event.EventBus
	clock    clock.Clock
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(eventBus event.EventBus, clk clock.Clock) *EventPublisher {
	return &EventPublisher{eventBus: eventBus, clock: clk}
}

// PublishPhase 发布阶段变化事件
func (p *EventPublisher) PublishPhase(_ context.Context, session *ReorgSession, phase Phase, err error) {
	if p == nil || p.eventBus == nil {
		return
	}
	data := &types.ReorgPhaseEventData{
		SessionID:  session.ID,
		Phase:      string(phase),
		FromHeight: session.FromHeight,
		ForkHeight: session.ForkHeight,
		ToHeight:   session.ToHeight,
		Timestamp:  p.clock.Now(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	p.eventBus.Publish(eventconstants.EventTypeReorgPhase, data)
}

// PublishCorruption 发布状态仓库损坏事件
func (p *EventPublisher) PublishCorruption(_ context.Context, session *ReorgSession, err error) {
	if p == nil || p.eventBus == nil {
		return
	}
	p.eventBus.Publish(eventconstants.EventTypeCorruptionDetected, &types.ReorgPhaseEventData{
		SessionID:  session.ID,
		Phase:      string(session.Phase),
		FromHeight: session.FromHeight,
		ForkHeight: session.ForkHeight,
		ToHeight:   session.ToHeight,
		Error:      err.Error(),
		Timestamp:  p.clock.Now(),
	})
}
