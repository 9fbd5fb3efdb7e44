// Package events 提供链域事件类型常量定义
//
// 命名规范：domain.category.action
package events

import (
	"github.com/weisyn/permnode/pkg/types"
)

// EventType 全局事件类型别名，兼容标准事件接口
type EventType = types.EventType

// 活跃链变更事件（同步发布，顺序与链尖变化严格一致）
const (
	// EventTypeBlockConnected 区块连接到活跃链
	// 数据：*types.BlockConnectedEventData
	EventTypeBlockConnected EventType = "chain.block.connected"

	// EventTypeBlockDisconnected 区块从活跃链断开
	// 数据：*types.BlockDisconnectedEventData
	EventTypeBlockDisconnected EventType = "chain.block.disconnected"
)

// 重组事件
const (
	// EventTypeReorgFailed 重组在连接阶段失败并已回滚
	// 数据：*types.ReorgFailedEventData
	EventTypeReorgFailed EventType = "chain.reorg.failed"

	// EventTypeMaxReorgViolation 候选分支超过最大重组深度被拒绝
	// 数据：*types.MaxReorgViolationEventData
	EventTypeMaxReorgViolation EventType = "chain.reorg.max_violation"

	// EventTypeReorgPhase 重组会话阶段变化
	// 数据：*types.ReorgPhaseEventData
	EventTypeReorgPhase EventType = "chain.reorg.phase"
)

// 系统事件
const (
	// EventTypeCorruptionDetected 状态仓库损坏，节点进入只读
	EventTypeCorruptionDetected EventType = "system.corruption.detected"
)
