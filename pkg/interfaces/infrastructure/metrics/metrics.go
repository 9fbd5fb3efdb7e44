// Package metrics 定义模块内存上报接口
//
// 核心模块实现 MemoryReporter，并以 fx 组 "memory_reporters" 提供，
// 由 internal/core/infrastructure/metrics 的 MemoryDoctor 周期性采集。
package metrics

// ModuleMemoryStats 模块自行上报的逻辑内存状态
//
// 不追求绝对精确，关键是能反映趋势和相对大小。
type ModuleMemoryStats struct {
	Module      string `json:"module"`       // 模块名称：consensus.manager / state ...
	Objects     int64  `json:"objects"`      // 主要对象数：区块头数量 / 快照数量 ...
	ApproxBytes int64  `json:"approx_bytes"` // 估算字节数，无法估算时为 0
	CacheItems  int64  `json:"cache_items"`  // 缓存条目
	QueueLength int64  `json:"queue_length"` // 队列 / 待处理列表长度
}

// MemoryReporter 模块内存上报接口
type MemoryReporter interface {
	// ModuleName 返回模块名称
	ModuleName() string

	// CollectMemoryStats 收集当前模块的内存统计信息
	CollectMemoryStats() ModuleMemoryStats
}
