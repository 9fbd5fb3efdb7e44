package clock

import (
	"time"

	infraClock "github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
)

// SystemClock 直接读取本机时间，不做校正
type SystemClock struct{}

// NewSystemClock 创建系统时钟
func NewSystemClock() *SystemClock { return &SystemClock{} }

func (SystemClock) Now() time.Time                    { return time.Now() }
func (c SystemClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c SystemClock) UnixMilli() int64                { return c.Now().UnixMilli() }
func (SystemClock) Source() string                    { return "system" }

var _ infraClock.Clock = SystemClock{}
