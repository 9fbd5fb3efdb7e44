package memory

import "time"

// MemoryOptions 内存存储配置选项
type MemoryOptions struct {
	MaxMemoryMB int           `json:"max_memory_mb"` // 最大内存使用量（MB）
	MaxEntries  int           `json:"max_entries"`   // 窗口内最大条目数（用于预分配）
	LifeWindow  time.Duration `json:"life_window"`   // 条目存活时间
	CleanWindow time.Duration `json:"clean_window"`  // 过期清理间隔
}

// Config 内存存储配置实现
type Config struct {
	options *MemoryOptions
}

// New 创建内存存储配置实现；maxMemoryMB <= 0 时使用默认值
func New(maxMemoryMB int) *Config {
	options := &MemoryOptions{
		MaxMemoryMB: defaultMaxMemoryMB,
		MaxEntries:  defaultMaxEntries,
		LifeWindow:  defaultLifeWindow,
		CleanWindow: defaultCleanWindow,
	}
	if maxMemoryMB > 0 {
		options.MaxMemoryMB = maxMemoryMB
	}
	return &Config{options: options}
}

// GetOptions 获取完整的内存存储配置选项
func (c *Config) GetOptions() *MemoryOptions {
	return c.options
}
