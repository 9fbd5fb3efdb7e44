// 基于asaskevich/EventBus的事件总线实现

package event

import (
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	eventconfig "github.com/weisyn/permnode/internal/config/event"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
)

// EventBus 是基于asaskevich/EventBus的实现
//
// 事件系统未启用时所有操作静默成功，发布的事件被丢弃。
type EventBus struct {
	bus    evbus.Bus
	config *eventconfig.Config
	logger log.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// 编译时校验
var _ event.EventBus = (*EventBus)(nil)

// New 创建事件总线实例
func New(config *eventconfig.Config, logger log.Logger) *EventBus {
	return &EventBus{
		bus:    evbus.New(),
		config: config,
		logger: logger,
	}
}

// Subscribe 同步订阅
func (eb *EventBus) Subscribe(eventType event.EventType, handler interface{}) error {
	if !eb.config.IsEnabled() {
		return nil
	}
	return eb.bus.Subscribe(string(eventType), handler)
}

// SubscribeAsync 异步订阅
func (eb *EventBus) SubscribeAsync(eventType event.EventType, handler interface{}, transactional bool) error {
	if !eb.config.IsEnabled() {
		return nil
	}
	return eb.bus.SubscribeAsync(string(eventType), handler, transactional)
}

// Publish 发布事件
func (eb *EventBus) Publish(eventType event.EventType, args ...interface{}) {
	if !eb.config.IsEnabled() {
		eb.dropped.Add(1)
		return
	}
	eb.published.Add(1)
	eb.bus.Publish(string(eventType), args...)
}

// Unsubscribe 取消订阅
func (eb *EventBus) Unsubscribe(eventType event.EventType, handler interface{}) error {
	if !eb.config.IsEnabled() {
		return nil
	}
	return eb.bus.Unsubscribe(string(eventType), handler)
}

// WaitAsync 等待异步处理完成
func (eb *EventBus) WaitAsync() {
	if !eb.config.IsEnabled() {
		return
	}
	eb.bus.WaitAsync()
}

// HasCallback 检查是否有回调
func (eb *EventBus) HasCallback(eventType event.EventType) bool {
	if !eb.config.IsEnabled() {
		return false
	}
	return eb.bus.HasCallback(string(eventType))
}

// Stats 返回已发布与被丢弃的事件数
func (eb *EventBus) Stats() (published, dropped uint64) {
	return eb.published.Load(), eb.dropped.Load()
}
