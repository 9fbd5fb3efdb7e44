package api

import "time"

// API服务配置默认值
const (
	defaultHTTPEnabled      = true
	defaultHTTPHost         = "127.0.0.1"
	defaultHTTPPort         = 28680
	defaultHTTPReadTimeout  = 10 * time.Second
	defaultHTTPWriteTimeout = 10 * time.Second
	defaultHTTPReadQPS      = 100
	defaultHTTPWriteQPS     = 20

	defaultStreamMaxClients = 64
	defaultStreamSendBuffer = 256
)
