package clock

import (
	"os"
	"time"

	"github.com/weisyn/permnode/pkg/types"
)

// ClockOptions 时钟配置
type ClockOptions struct {
	Type            string        `json:"type"` // system | ntp
	NTPServer       string        `json:"ntp_server"`
	SyncInterval    time.Duration `json:"sync_interval"`
	OffsetThreshold time.Duration `json:"offset_threshold"` // 超过该偏移时记录告警
	QueryTimeout    time.Duration `json:"query_timeout"`
}

// Config 提供访问选项
type Config struct {
	options *ClockOptions
}

// New 创建时钟配置
//
// 优先级：环境变量 CLOCK_TYPE / CLOCK_NTP_SERVER > 配置文件 > 默认值。
func New(userConfig *types.UserClockConfig) *Config {
	opts := &ClockOptions{
		Type:            defaultType,
		NTPServer:       defaultNTPServer,
		SyncInterval:    defaultSyncInterval,
		OffsetThreshold: defaultOffsetThreshold,
		QueryTimeout:    defaultQueryTimeout,
	}

	if userConfig != nil {
		if userConfig.Type != nil {
			opts.Type = *userConfig.Type
		}
		if userConfig.NTPServer != nil {
			opts.NTPServer = *userConfig.NTPServer
		}
	}

	if v := os.Getenv("CLOCK_TYPE"); v != "" {
		opts.Type = v
	}
	if v := os.Getenv("CLOCK_NTP_SERVER"); v != "" {
		opts.NTPServer = v
	}

	return &Config{options: opts}
}

func (c *Config) GetOptions() *ClockOptions { return c.options }
