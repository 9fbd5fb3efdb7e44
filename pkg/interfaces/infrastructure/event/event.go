// Package event 定义事件总线接口
package event

import "github.com/weisyn/permnode/pkg/types"

// EventType 事件类型
type EventType = types.EventType

// EventBus 事件总线接口
//
// Publish 对同步订阅者是同步调用：返回时所有同步处理器都已执行完毕。
type EventBus interface {
	// Subscribe 同步订阅
	Subscribe(eventType EventType, handler interface{}) error
	// SubscribeAsync 异步订阅
	SubscribeAsync(eventType EventType, handler interface{}, transactional bool) error
	// Publish 发布事件
	Publish(eventType EventType, args ...interface{})
	// Unsubscribe 取消订阅
	Unsubscribe(eventType EventType, handler interface{}) error
	// WaitAsync 等待异步处理完成
	WaitAsync()
	// HasCallback 是否存在订阅者
	HasCallback(eventType EventType) bool
}
