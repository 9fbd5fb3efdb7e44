// Package chain 组装链域的共识管理组件
//
// 🔗 **Chain 模块**
//
// 本包把链域各子组件装配为一个 fx 模块：
// - 共识管理器（manager）：区块头树、链索引、校验流水线、连接/断开/回滚协调
// - 通知接收方：日志接收方默认注册到 notification_sinks 组，事件总线接收方由管理器按需创建
// - 运行时监控：周期性输出内存、协程数量与当前链尖
//
// 📦 **导出服务**：
// - chain.ConsensusManager
// - *manager.Manager（供 API 层查询无效记录与定位器）
package chain

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/fx"

	"github.com/weisyn/permnode/internal/core/chain/manager"
	chainif "github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/types"
)

// runtimeMonitorInterval 运行时监控输出间隔
const runtimeMonitorInterval = 30 * time.Second

// goroutineWarningThreshold 协程数超过该值时输出 WARN
const goroutineWarningThreshold = 1000

// Module 返回链域模块
func Module() fx.Option {
	return fx.Module("chain",
		fx.Provide(manager.ProvideManager),
		fx.Provide(
			fx.Annotate(
				NewLogSink,
				fx.As(new(chainif.NotificationSink)),
				fx.ResultTags(`group:"notification_sinks"`),
			),
		),
		fx.Invoke(registerRuntimeMonitor),
	)
}

// LogSink 把链尖通知写入结构化日志
type LogSink struct {
	logger log.Logger
}

// NewLogSink 创建日志通知接收方
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{logger: logger.With("module", "chain.notify")}
}

func (s *LogSink) OnBlockConnected(_ context.Context, b *chainif.ChainedBlock) {
	s.logger.Infof("🔗 区块已连接: height=%d hash=%s", b.Height, b.Hash.Short())
}

func (s *LogSink) OnBlockDisconnected(_ context.Context, b *chainif.ChainedBlock) {
	s.logger.Infof("↩️ 区块已断开: height=%d hash=%s", b.Height, b.Hash.Short())
}

func (s *LogSink) OnReorgFailed(_ context.Context, failing types.Hash, err error) {
	s.logger.Warnf("⚠️ 重组失败, 已恢复原分支: failing=%s kind=%s err=%v",
		failing.Short(), types.KindOf(err), err)
}

func (s *LogSink) OnMaxReorgViolation(_ context.Context, p chainif.PeerContext) {
	s.logger.Warnf("⛔ 拒绝超过最大重组长度的分支: peer=%s candidate=%s tip=%d fork=%d max=%d",
		p.PeerID, p.CandidateHash.Short(), p.TipHeight, p.ForkHeight, p.MaxReorgLength)
}

func registerRuntimeMonitor(lc fx.Lifecycle, logger log.Logger, cm chainif.ConsensusManager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go runRuntimeMonitor(ctx, logger.With("module", "chain.monitor"), cm, runtimeMonitorInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// runRuntimeMonitor 仅用于现场排障，不参与任何共识逻辑
func runRuntimeMonitor(ctx context.Context, logger log.Logger, cm chainif.ConsensusManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastGoroutines := runtime.NumGoroutine()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			numG := runtime.NumGoroutine()
			tip := cm.GetTip()

			logger.Infof("[RuntimeMonitor] tip=%d/%s goroutines=%d heap_alloc=%dMB heap_inuse=%dMB sys=%dMB num_gc=%d",
				tip.Height, tip.Hash.Short(), numG, m.Alloc/1024/1024, m.HeapInuse/1024/1024, m.Sys/1024/1024, m.NumGC)
			if numG > goroutineWarningThreshold {
				logger.Warnf("[RuntimeMonitor] 协程数量过多: current=%d last=%d", numG, lastGoroutines)
			}
			lastGoroutines = numG
		}
	}
}
