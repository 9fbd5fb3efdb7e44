package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	infraClock "github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
)

const (
	retryInitial = 5 * time.Second
	retryMax     = 5 * time.Minute
)

// offsetQuery 返回本地时钟相对 NTP 服务器的偏移，测试中替换
type offsetQuery func(server string, timeout time.Duration) (time.Duration, error)

func queryNTPOffset(server string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// SyncStatus NTP 同步状态快照
type SyncStatus struct {
	Server    string
	Healthy   bool
	Offset    time.Duration
	LastSync  time.Time
	LastError error
}

// NTPClock 本机时间加上最近一次测得的 NTP 偏移
//
// 同步在 Now 调用路径上惰性触发，不启动后台协程。失败时沿用上次偏移，
// 重试间隔从 5s 起翻倍，上限 5min；成功后恢复为 interval。
type NTPClock struct {
	server    string
	query     offsetQuery
	timeout   time.Duration
	interval  time.Duration
	threshold time.Duration

	mu       sync.Mutex
	offset   time.Duration
	lastSync time.Time
	lastErr  error
	retry    time.Duration
}

// NewNTPClock 创建 NTP 时钟并立即同步一次
//
// threshold 为 0 时不按偏移大小判定健康状态。首次同步失败不返回错误，
// 偏移为零，健康状态为 false。
func NewNTPClock(server string, interval, timeout, threshold time.Duration) *NTPClock {
	return newNTPClock(server, interval, timeout, threshold, queryNTPOffset)
}

func newNTPClock(server string, interval, timeout, threshold time.Duration, q offsetQuery) *NTPClock {
	c := &NTPClock{
		server:    server,
		query:     q,
		timeout:   timeout,
		interval:  interval,
		threshold: threshold,
	}
	c.mu.Lock()
	c.syncLocked()
	c.mu.Unlock()
	return c
}

func (c *NTPClock) Now() time.Time {
	c.mu.Lock()
	if time.Since(c.lastSync) >= c.nextSyncAfterLocked() {
		c.syncLocked()
	}
	offset := c.offset
	c.mu.Unlock()
	return time.Now().Add(offset)
}

func (c *NTPClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *NTPClock) UnixMilli() int64                { return c.Now().UnixMilli() }
func (c *NTPClock) Source() string                  { return "ntp:" + c.server }

// Status 返回同步状态；最近一次同步失败或偏移超出阈值时 Healthy 为 false
func (c *NTPClock) Status() SyncStatus {
	c.mu.Lock()
	s := SyncStatus{Server: c.server, Offset: c.offset, LastSync: c.lastSync, LastError: c.lastErr}
	c.mu.Unlock()

	s.Healthy = s.LastError == nil
	if c.threshold > 0 && (s.Offset > c.threshold || s.Offset < -c.threshold) {
		s.Healthy = false
	}
	return s
}

func (c *NTPClock) nextSyncAfterLocked() time.Duration {
	if c.retry > 0 {
		return c.retry
	}
	return c.interval
}

func (c *NTPClock) syncLocked() {
	offset, err := c.query(c.server, c.timeout)
	c.lastSync = time.Now()
	c.lastErr = err
	if err != nil {
		switch {
		case c.retry == 0:
			c.retry = retryInitial
		case c.retry < retryMax:
			c.retry = min(c.retry*2, retryMax)
		}
		return
	}
	c.offset = offset
	c.retry = 0
}

var _ infraClock.Clock = (*NTPClock)(nil)
