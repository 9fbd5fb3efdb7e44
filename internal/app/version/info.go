// Package version 提供构建版本信息，变量通过 -ldflags 注入
package version

import (
	"fmt"
	"runtime"
	"time"
)

// 构建时注入的变量
var (
	Version   = "v0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown" // RFC3339
	BuildEnv  = "development"
)

// BuildInfo 完整构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	BuildEnv  string `json:"build_env"`
	GoVersion string `json:"go_version"`
	GoArch    string `json:"go_arch"`
	GoOS      string `json:"go_os"`
}

// GetVersion 获取版本号
func GetVersion() string {
	return Version
}

// GetBuildInfo 获取完整构建信息
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		BuildEnv:  BuildEnv,
		GoVersion: runtime.Version(),
		GoArch:    runtime.GOARCH,
		GoOS:      runtime.GOOS,
	}
}

// GetFullVersion 获取多行的完整版本信息
func GetFullVersion() string {
	info := GetBuildInfo()
	out := fmt.Sprintf("permnode %s (%s)", info.Version, info.GitCommit)

	if info.BuildTime != "unknown" {
		if parsed, err := time.Parse(time.RFC3339, info.BuildTime); err == nil {
			out += fmt.Sprintf("\n构建时间: %s", parsed.Format("2006-01-02 15:04:05 MST"))
		} else {
			out += fmt.Sprintf("\n构建时间: %s", info.BuildTime)
		}
	}
	out += fmt.Sprintf("\n构建环境: %s", info.BuildEnv)
	out += fmt.Sprintf("\nGo版本: %s", info.GoVersion)
	out += fmt.Sprintf("\n平台: %s/%s", info.GoOS, info.GoArch)
	return out
}
