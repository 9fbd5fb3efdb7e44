package api

import (
	"go.uber.org/fx"

	"github.com/weisyn/permnode/internal/api/http"
	"github.com/weisyn/permnode/internal/api/websocket"
)

// Module 返回API模块选项
//
// WebSocket 推送中心同时注册为链尖通知接收方，由 HTTP 服务器挂载到 /ws；
// fx.Invoke 确保服务器实例被创建并挂上生命周期钩子。
func Module() fx.Option {
	return fx.Module("api",
		websocket.Module(),
		http.Module(),
		fx.Invoke(func(*http.Server) {}),
	)
}
