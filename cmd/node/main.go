// Command node 运行许可链全节点
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "permnode",
	Short: "许可链全节点",
	Long: `permnode - 许可链全节点

共识管理器维护区块头树与活跃链，校验区块后按累计工作量切换链尖；
分叉超过最大重组长度的分支会被拒绝，重组失败时回滚到原分支。

子命令:
  run      启动节点
  config   查看或生成配置文件
  keygen   生成验证者/成员密钥对
  version  显示版本信息`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}
