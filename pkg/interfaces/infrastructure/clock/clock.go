// Package clock 定义节点统一的时间源接口
package clock

import "time"

// Clock 节点时间源
//
// 区块头时间戳规则与无效记录的时间戳都从这里取"当前时间"，
// 测试中替换为可控实现。
type Clock interface {
	Now() time.Time

	// Since 等价于 Now().Sub(t)
	Since(t time.Time) time.Duration

	// UnixMilli 当前毫秒时间戳，与区块头 Timestamp 同一单位
	UnixMilli() int64

	// Source 时间来源描述，例如 "system"、"ntp:pool.ntp.org"
	Source() string
}
