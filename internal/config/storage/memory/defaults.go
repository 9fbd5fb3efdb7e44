package memory

import "time"

const (
	// defaultMaxMemoryMB bigcache 硬上限（MB）
	defaultMaxMemoryMB = 64

	defaultMaxEntries = 100000

	// defaultLifeWindow 条目存活时间
	defaultLifeWindow = 30 * time.Minute

	defaultCleanWindow = time.Minute
)
