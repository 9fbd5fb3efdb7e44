package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/weisyn/permnode/internal/app"
	"github.com/weisyn/permnode/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "查看或生成配置文件",
}

var (
	showConfigPath string
	initOut        string
	initForce      bool
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "输出补齐默认值后的生效配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(runFlags{configPath: showConfigPath})
		if err != nil {
			return err
		}
		p := config.NewProvider(cfg)
		consensus := p.GetConsensus()
		if err := consensus.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️ 共识配置无效: %v\n", err)
		}

		effective := map[string]interface{}{
			"data_dir":   p.GetDataDir(),
			"blockchain": p.GetBlockchain(),
			"consensus":  consensus,
			"storage":    p.GetBadger(),
			"memory":     p.GetMemory(),
			"log":        p.GetLog(),
			"event":      p.GetEvent(),
			"clock":      p.GetClock(),
			"api":        p.GetAPI(),
		}
		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		if isTerminal(out) {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(effective)
	},
}

var configInitCmd = &cobra.Command{
	Use:     "init",
	Short:   "生成配置模板",
	Example: "  permnode config init --out ./config.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		if initOut == "" {
			return fmt.Errorf("必须指定 --out")
		}
		if _, err := os.Stat(initOut); err == nil && !initForce {
			return fmt.Errorf("文件已存在: %s（使用 --force 覆盖）", initOut)
		}
		if dir := filepath.Dir(initOut); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("创建目录失败: %w", err)
			}
		}
		if err := os.WriteFile(initOut, []byte(configTemplate), 0o644); err != nil {
			return fmt.Errorf("写入配置失败: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ 配置模板已写入 %s\n", initOut)
		fmt.Fprintln(cmd.OutOrStdout(), "💡 使用 'permnode keygen' 生成验证者密钥并填入 consensus.authorized_validators")
		return nil
	},
}

// configTemplate 未列出的字段使用默认值
const configTemplate = `{
  "app_name": "permnode",
  "data_dir": "./data",
  "blockchain": {
    "chain_id": 1001
  },
  "consensus": {
    "max_reorg_length": 20,
    "retained_depth": 100,
    "partial_validation_workers": 4,
    "full_rule_timeout": "2s",
    "max_future_drift": "2m",
    "authorized_validators": [],
    "authorized_members": []
  },
  "log": {
    "level": "info",
    "file_path": "./data/logs/node.log"
  },
  "clock": {
    "type": "system"
  },
  "api": {
    "http_enabled": true,
    "http_host": "127.0.0.1",
    "http_port": 28680,
    "stream_max_clients": 64
  }
}
`

// isTerminal 输出到终端时缩进，重定向到文件或管道时输出单行 JSON
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func init() {
	configShowCmd.Flags().StringVarP(&showConfigPath, "config", "c", "", "配置文件路径（环境变量 "+app.EnvConfigPath+" 优先）")
	configInitCmd.Flags().StringVar(&initOut, "out", "", "输出文件路径")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "覆盖已存在的文件")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
