// Package app 装配并运行许可链节点
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/weisyn/permnode/pkg/types"
)

// stopTimeout 停止应用时等待各生命周期钩子的最长时间（含数据库落盘）
const stopTimeout = 60 * time.Second

// EnvConfigPath 覆盖配置文件路径的环境变量
const EnvConfigPath = "PERMNODE_CONFIG"

// LoadConfigFile 读取并解析 JSON 配置文件
//
// 指针字段为 nil 表示用户未设置，由各配置域的默认值补齐。
func LoadConfigFile(path string) (*types.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg types.AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath 环境变量优先于命令行参数
func ResolveConfigPath(flagPath string) string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	return flagPath
}

// createDataDirectories 根据配置创建数据与日志目录
func createDataDirectories(cfg *types.AppConfig) error {
	var directories []string
	if cfg.DataDir != nil {
		directories = append(directories, *cfg.DataDir)
	}
	if cfg.Storage != nil && cfg.Storage.DataRoot != nil {
		directories = append(directories, *cfg.Storage.DataRoot)
	}
	if cfg.Log != nil && cfg.Log.FilePath != nil {
		directories = append(directories, filepath.Dir(*cfg.Log.FilePath))
	}
	for _, dir := range directories {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// App 是节点应用的对外接口
type App interface {
	// Stop 停止应用
	Stop() error

	// Wait 阻塞到收到退出信号或模块请求关停，返回进程退出码
	Wait() int
}

type internalApp struct {
	bootstrap *Bootstrap
}

func (a *internalApp) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return a.bootstrap.StopApp(ctx)
}

func (a *internalApp) Wait() int {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	code := 0
	select {
	case sig := <-signals:
		fmt.Printf("\n🛑 收到信号 %v，正在优雅退出...\n", sig)
	case shutdown := <-a.bootstrap.Done():
		code = shutdown.ExitCode
		fmt.Printf("🛑 节点请求关停 (exit code %d)\n", code)
	}

	if err := a.Stop(); err != nil {
		fmt.Printf("⚠️ 停止应用时出错: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// Start 装配并启动节点
func Start(appOptions ...Option) (App, error) {
	opts := newOptions(appOptions...)
	if err := opts.resolve(); err != nil {
		return nil, err
	}
	if err := createDataDirectories(opts.appConfig); err != nil {
		return nil, err
	}

	bootstrap := NewBootstrap(opts)
	if err := bootstrap.CreateFxApp(); err != nil {
		return nil, fmt.Errorf("创建应用失败: %w", err)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()
	if err := bootstrap.StartApp(startupCtx); err != nil {
		return nil, err
	}
	return &internalApp{bootstrap: bootstrap}, nil
}
