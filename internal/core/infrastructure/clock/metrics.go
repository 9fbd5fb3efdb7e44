package clock

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	clockOffsetDesc = prometheus.NewDesc(
		"permnode_clock_offset_seconds",
		"NTP offset applied to local time; positive means local time is behind",
		[]string{"server"}, nil,
	)
	clockLastSyncDesc = prometheus.NewDesc(
		"permnode_clock_last_sync_unix",
		"Unix time of the last NTP sync attempt",
		[]string{"server"}, nil,
	)
	clockHealthyDesc = prometheus.NewDesc(
		"permnode_clock_healthy",
		"1 when the last NTP sync succeeded and the offset is within threshold",
		[]string{"server"}, nil,
	)
)

// statusCollector 在每次抓取时读取一次同步状态
type statusCollector struct {
	status func() SyncStatus
}

func (c statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- clockOffsetDesc
	ch <- clockLastSyncDesc
	ch <- clockHealthyDesc
}

func (c statusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.status()
	healthy := 0.0
	if s.Healthy {
		healthy = 1
	}
	ch <- prometheus.MustNewConstMetric(clockOffsetDesc, prometheus.GaugeValue, s.Offset.Seconds(), s.Server)
	ch <- prometheus.MustNewConstMetric(clockLastSyncDesc, prometheus.GaugeValue, float64(s.LastSync.Unix()), s.Server)
	ch <- prometheus.MustNewConstMetric(clockHealthyDesc, prometheus.GaugeValue, healthy, s.Server)
}

// RegisterClockMetrics 注册 NTP 时钟状态指标
func RegisterClockMetrics(reg prometheus.Registerer, c *NTPClock) error {
	return reg.Register(statusCollector{status: c.Status})
}
