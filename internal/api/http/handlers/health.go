package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httptypes "github.com/weisyn/permnode/internal/api/http/types"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
)

// HealthHandler 健康检查端点处理器
//
// 提供三层健康检查端点：
// - /health: 完整健康报告
// - /health/live: 存活检查（进程是否响应）
// - /health/ready: 就绪检查（写门闸不在只读模式）
type HealthHandler struct {
	cm        chain.ConsensusManager
	gate      writegate.WriteGate
	version   string
	startTime time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cm chain.ConsensusManager, gate writegate.WriteGate, version string) *HealthHandler {
	return &HealthHandler{
		cm:        cm,
		gate:      gate,
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterRoutes 注册健康检查路由
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.GetHealth)
	r.GET("/health/live", h.GetLiveness)
	r.GET("/health/ready", h.GetReadiness)
}

// GetHealth 完整健康报告
//
// 状态仓库损坏进入只读模式后报告 unhealthy，并给出只读原因。
func (h *HealthHandler) GetHealth(c *gin.Context) {
	tip := h.cm.GetTip()
	components := map[string]interface{}{
		"consensus": gin.H{
			"status":     "healthy",
			"tip_height": tip.Height,
			"tip_hash":   tip.Hash.String(),
		},
	}

	status, readiness := "healthy", "ready"
	storage := gin.H{"status": "healthy", "read_only": false}
	if h.gate != nil && h.gate.IsReadOnly() {
		status, readiness = "unhealthy", "not_ready"
		storage = gin.H{"status": "read_only", "read_only": true, "reason": h.gate.ReadOnlyReason()}
	}
	components["storage"] = storage

	c.JSON(http.StatusOK, &httptypes.HealthResponse{
		Status:     status,
		Liveness:   "ok",
		Readiness:  readiness,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Timestamp:  time.Now().Format(time.RFC3339),
		Components: components,
	})
}

// GetLiveness 存活检查，能执行到这里即表示进程存活
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetReadiness 就绪检查
//
// 返回：
// - 200 OK：可对外服务
// - 503 Service Unavailable：节点处于只读模式
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	if h.gate != nil && h.gate.IsReadOnly() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": h.gate.ReadOnlyReason(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
