package metrics

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pbnjay/memory"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	metricsiface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/metrics"
)

// MemoryDoctorConfig MemoryDoctor 配置
type MemoryDoctorConfig struct {
	// SampleInterval 采样间隔
	SampleInterval time.Duration

	// WindowSize 保留最近 N 次样本用于趋势判定
	WindowSize int

	// GoroutineWarnThreshold Goroutine 数量告警阈值
	GoroutineWarnThreshold int

	// HeapGrowthSoftLimitBytes 窗口内允许的最大 RSS 增长
	HeapGrowthSoftLimitBytes uint64

	// RSSWarnRatio RSS 占系统物理内存的告警比例
	RSSWarnRatio float64
}

// DefaultMemoryDoctorConfig 返回默认配置
func DefaultMemoryDoctorConfig() MemoryDoctorConfig {
	return MemoryDoctorConfig{
		SampleInterval:           10 * time.Second,
		WindowSize:               30,
		GoroutineWarnThreshold:   5000,
		HeapGrowthSoftLimitBytes: 100 * 1024 * 1024, // 100MB
		RSSWarnRatio:             0.8,
	}
}

// HeapSample 一次采样
//
// HeapAlloc 可能包含 Badger value log 的 mmap 区域而虚高，判断内存压力以 RSS 为准。
type HeapSample struct {
	Time         time.Time                        `json:"time"`
	HeapAlloc    uint64                           `json:"heap_alloc"`
	HeapInuse    uint64                           `json:"heap_inuse"`
	Sys          uint64                           `json:"sys"`
	RSSBytes     uint64                           `json:"rss_bytes"`
	SystemTotal  uint64                           `json:"system_total"`
	SystemFree   uint64                           `json:"system_free"`
	NumGC        uint32                           `json:"num_gc"`
	NumGoroutine int                              `json:"num_goroutine"`
	Modules      []metricsiface.ModuleMemoryStats `json:"modules"`
}

// MemoryDoctor 周期性采样进程与模块的内存状态，并导出为 prometheus 指标
type MemoryDoctor struct {
	cfg       MemoryDoctorConfig
	logger    log.Logger
	reporters []metricsiface.MemoryReporter

	mu      sync.RWMutex
	history []HeapSample

	rss          prometheus.Gauge
	systemFree   prometheus.Gauge
	goroutines   prometheus.Gauge
	moduleObjs   *prometheus.GaugeVec
	moduleCaches *prometheus.GaugeVec
}

// NewMemoryDoctor 创建 MemoryDoctor 并在 reg 上注册指标
func NewMemoryDoctor(cfg MemoryDoctorConfig, reg prometheus.Registerer, logger log.Logger, reporters []metricsiface.MemoryReporter) (*MemoryDoctor, error) {
	def := DefaultMemoryDoctorConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.GoroutineWarnThreshold <= 0 {
		cfg.GoroutineWarnThreshold = def.GoroutineWarnThreshold
	}
	if cfg.HeapGrowthSoftLimitBytes == 0 {
		cfg.HeapGrowthSoftLimitBytes = def.HeapGrowthSoftLimitBytes
	}
	if cfg.RSSWarnRatio <= 0 {
		cfg.RSSWarnRatio = def.RSSWarnRatio
	}

	d := &MemoryDoctor{
		cfg:       cfg,
		logger:    logger,
		reporters: reporters,
		history:   make([]HeapSample, 0, cfg.WindowSize),
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memory", Name: "rss_bytes",
			Help: "Resident set size of the node process",
		}),
		systemFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memory", Name: "system_free_bytes",
			Help: "Free physical memory of the host, 0 if unknown",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memory", Name: "goroutines",
			Help: "Goroutines observed at the last sample",
		}),
		moduleObjs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memory", Name: "module_objects",
			Help: "Objects reported by each module",
		}, []string{"module"}),
		moduleCaches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memory", Name: "module_cache_items",
			Help: "Cache items reported by each module",
		}, []string{"module"}),
	}
	if reg != nil {
		total := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memory", Name: "system_total_bytes",
			Help: "Total physical memory of the host, 0 if unknown",
		}, func() float64 { return float64(memory.TotalMemory()) })
		for _, c := range []prometheus.Collector{d.rss, d.systemFree, total, d.goroutines, d.moduleObjs, d.moduleCaches} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// Start 运行采样循环直到 ctx 取消
func (d *MemoryDoctor) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SampleOnce()
		}
	}
}

// SampleOnce 执行一次采样
func (d *MemoryDoctor) SampleOnce() HeapSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := HeapSample{
		Time:         time.Now(),
		HeapAlloc:    ms.HeapAlloc,
		HeapInuse:    ms.HeapInuse,
		Sys:          ms.Sys,
		RSSBytes:     readRSSBytes(),
		SystemTotal:  memory.TotalMemory(),
		SystemFree:   memory.FreeMemory(),
		NumGC:        ms.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
	for _, r := range d.reporters {
		st := r.CollectMemoryStats()
		if st.Module == "" {
			st.Module = r.ModuleName()
		}
		s.Modules = append(s.Modules, st)
		d.moduleObjs.WithLabelValues(st.Module).Set(float64(st.Objects))
		d.moduleCaches.WithLabelValues(st.Module).Set(float64(st.CacheItems))
	}
	d.rss.Set(float64(s.RSSBytes))
	d.systemFree.Set(float64(s.SystemFree))
	d.goroutines.Set(float64(s.NumGoroutine))

	d.mu.Lock()
	d.history = append(d.history, s)
	if len(d.history) > d.cfg.WindowSize {
		d.history = d.history[len(d.history)-d.cfg.WindowSize:]
	}
	first := d.history[0]
	d.mu.Unlock()

	if d.logger != nil {
		if s.NumGoroutine > d.cfg.GoroutineWarnThreshold {
			d.logger.Warnf("⚠️ Goroutine 数量过高: %d (阈值 %d)", s.NumGoroutine, d.cfg.GoroutineWarnThreshold)
		}
		if s.RSSBytes > first.RSSBytes && s.RSSBytes-first.RSSBytes > d.cfg.HeapGrowthSoftLimitBytes {
			d.logger.Warnf("⚠️ RSS 在采样窗口内增长 %d MB", (s.RSSBytes-first.RSSBytes)/1024/1024)
		}
		if s.SystemTotal > 0 && float64(s.RSSBytes) > d.cfg.RSSWarnRatio*float64(s.SystemTotal) {
			d.logger.Warnf("⚠️ RSS 占物理内存过高: rss=%dMB total=%dMB free=%dMB",
				s.RSSBytes>>20, s.SystemTotal>>20, s.SystemFree>>20)
		}
	}
	return s
}

// History 返回采样窗口的副本
func (d *MemoryDoctor) History() []HeapSample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]HeapSample(nil), d.history...)
}

// readRSSBytes 读取 /proc/self/status 中的 VmRSS；非 Linux 平台返回 0
func readRSSBytes() uint64 {
	file, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		// 格式：VmRSS:    12345 kB
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb * 1024
			}
		}
		return 0
	}
	return 0
}
