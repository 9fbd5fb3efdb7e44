package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weisyn/permnode/internal/app"
	"github.com/weisyn/permnode/pkg/types"
)

type runFlags struct {
	configPath string
	dataDir    string
	httpPort   int
	noAPI      bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动节点",
	Example: `  permnode run --config ./config.json
  permnode run --config ./config.json --data-dir /var/lib/permnode --http-port 28681`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(runOpts)
		if err != nil {
			return err
		}

		options := []app.Option{app.WithAppConfig(cfg)}
		if runOpts.noAPI {
			options = append(options, app.WithoutAPI())
		}

		fmt.Println("🚀 permnode 启动中...")
		node, err := app.Start(options...)
		if err != nil {
			return err
		}
		fmt.Println("✅ 节点已启动，按 Ctrl+C 停止")

		if code := node.Wait(); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.configPath, "config", "c", "", "配置文件路径（环境变量 "+app.EnvConfigPath+" 优先）")
	runCmd.Flags().StringVar(&runOpts.dataDir, "data-dir", "", "数据目录（覆盖配置文件）")
	runCmd.Flags().IntVar(&runOpts.httpPort, "http-port", 0, "HTTP端口（覆盖配置文件）")
	runCmd.Flags().BoolVar(&runOpts.noAPI, "no-api", false, "不启动HTTP API")
}

// loadRunConfig 读取配置文件并应用命令行覆盖项
func loadRunConfig(f runFlags) (*types.AppConfig, error) {
	cfg := &types.AppConfig{}
	if path := app.ResolveConfigPath(f.configPath); path != "" {
		loaded, err := app.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if f.dataDir != "" {
		dir := f.dataDir
		cfg.DataDir = &dir
	}
	if f.httpPort != 0 {
		if cfg.API == nil {
			cfg.API = &types.UserAPIConfig{}
		}
		port := f.httpPort
		cfg.API.HTTPPort = &port
	}
	return cfg, nil
}
