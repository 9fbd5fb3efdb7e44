package api

import (
	"fmt"
	"time"

	"github.com/weisyn/permnode/pkg/types"
)

// APIOptions API服务配置选项
type APIOptions struct {
	HTTP HTTPConfig `json:"http"`
}

// HTTPConfig HTTP API配置
type HTTPConfig struct {
	Enabled      bool          `json:"enabled"` // 是否启用HTTP服务
	Host         string        `json:"host"`    // 监听地址
	Port         int           `json:"port"`    // 监听端口
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	ReadQPS      int           `json:"read_qps"`  // 每个客户端的读请求限流
	WriteQPS     int           `json:"write_qps"` // 每个客户端的提交请求限流

	// /ws 推送连接上限与每连接发送缓冲
	StreamMaxClients int `json:"stream_max_clients"`
	StreamSendBuffer int `json:"stream_send_buffer"`
}

// Address 返回监听地址
func (h HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Config API配置实现
type Config struct {
	options *APIOptions
}

// New 创建API配置实现
func New(userConfig *types.UserAPIConfig) *Config {
	options := &APIOptions{
		HTTP: HTTPConfig{
			Enabled:      defaultHTTPEnabled,
			Host:         defaultHTTPHost,
			Port:         defaultHTTPPort,
			ReadTimeout:  defaultHTTPReadTimeout,
			WriteTimeout: defaultHTTPWriteTimeout,
			ReadQPS:      defaultHTTPReadQPS,
			WriteQPS:     defaultHTTPWriteQPS,

			StreamMaxClients: defaultStreamMaxClients,
			StreamSendBuffer: defaultStreamSendBuffer,
		},
	}
	if userConfig != nil {
		if userConfig.HTTPEnabled != nil {
			options.HTTP.Enabled = *userConfig.HTTPEnabled
		}
		if userConfig.HTTPHost != nil {
			options.HTTP.Host = *userConfig.HTTPHost
		}
		if userConfig.HTTPPort != nil {
			options.HTTP.Port = *userConfig.HTTPPort
		}
		if userConfig.ReadQPS != nil && *userConfig.ReadQPS > 0 {
			options.HTTP.ReadQPS = *userConfig.ReadQPS
		}
		if userConfig.WriteQPS != nil && *userConfig.WriteQPS > 0 {
			options.HTTP.WriteQPS = *userConfig.WriteQPS
		}
		if userConfig.StreamMaxClients != nil && *userConfig.StreamMaxClients > 0 {
			options.HTTP.StreamMaxClients = *userConfig.StreamMaxClients
		}
	}
	return &Config{options: options}
}

// GetOptions 获取完整的API配置选项
func (c *Config) GetOptions() *APIOptions {
	return c.options
}
