package event

// 事件系统默认值
const (
	defaultEnabled        = true
	defaultMaxSubscribers = 256
)
