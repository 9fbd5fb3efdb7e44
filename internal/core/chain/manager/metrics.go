package manager

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/weisyn/permnode/internal/core/chain/fork/reorg"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/types"
)

const (
	metricsNamespace = "permnode"
	metricsSubsystem = "consensus"
)

// managerMetrics 共识管理器指标
type managerMetrics struct {
	tipHeight          prometheus.Gauge
	headers            prometheus.Gauge
	invalidBlocks      prometheus.Gauge
	reorgs             *prometheus.CounterVec
	reorgDepth         prometheus.Histogram
	validationFailures *prometheus.CounterVec
	violations         prometheus.Counter
	notifications      *prometheus.CounterVec
}

// newManagerMetrics 在 reg 上注册指标；reg 为 nil 时使用私有注册表（测试中多实例共存）
func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &managerMetrics{
		tipHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tip_height",
			Help:      "Height of the active chain tip",
		}),
		headers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "header_tree_size",
			Help:      "Number of headers held in the header tree",
		}),
		invalidBlocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "invalid_blocks",
			Help:      "Number of block hashes in the persisted invalid set",
		}),
		reorgs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reorgs_total",
			Help:      "Tip switch attempts by result",
		}, []string{"result"}),
		reorgDepth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reorg_depth",
			Help:      "Blocks disconnected by successful tip switches",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20, 50, 100},
		}),
		validationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "validation_failures_total",
			Help:      "Rejected headers and blocks by error kind",
		}, []string{"kind"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "max_reorg_violations_total",
			Help:      "Candidate branches refused for exceeding the maximum reorg length",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "notifications_total",
			Help:      "Notifications delivered to sinks by type",
		}, []string{"type"}),
	}
}

func (m *managerMetrics) observeReorg(session *reorg.ReorgSession) {
	if session == nil {
		return
	}
	m.reorgs.WithLabelValues(string(session.Result)).Inc()
	if session.Result == reorg.ResultSwitched {
		m.reorgDepth.Observe(float64(session.Depth()))
	}
}

func (m *managerMetrics) observeFailure(err error) {
	m.validationFailures.WithLabelValues(types.KindOf(err).String()).Inc()
}

// countingSink 统计投递给下游的通知
type countingSink struct {
	next    chain.NotificationSink
	metrics *managerMetrics
}

func (s countingSink) OnBlockConnected(ctx context.Context, b *chain.ChainedBlock) {
	s.metrics.notifications.WithLabelValues("connected").Inc()
	s.metrics.tipHeight.Set(float64(b.Height))
	s.next.OnBlockConnected(ctx, b)
}

func (s countingSink) OnBlockDisconnected(ctx context.Context, b *chain.ChainedBlock) {
	s.metrics.notifications.WithLabelValues("disconnected").Inc()
	if b.Height > 0 {
		s.metrics.tipHeight.Set(float64(b.Height - 1))
	}
	s.next.OnBlockDisconnected(ctx, b)
}

func (s countingSink) OnReorgFailed(ctx context.Context, failing types.Hash, err error) {
	s.metrics.notifications.WithLabelValues("reorg_failed").Inc()
	s.next.OnReorgFailed(ctx, failing, err)
}

func (s countingSink) OnMaxReorgViolation(ctx context.Context, p chain.PeerContext) {
	s.metrics.notifications.WithLabelValues("max_reorg_violation").Inc()
	s.metrics.violations.Inc()
	s.next.OnMaxReorgViolation(ctx, p)
}
