package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weisyn/permnode/pkg/types"
)

func u32(v uint32) *uint32 { return &v }
func str(v string) *string { return &v }

// TestProvider_Defaults 测试空配置时各域均返回默认值
func TestProvider_Defaults(t *testing.T) {
	provider := NewProvider(nil)

	assert.Equal(t, uint32(20), provider.GetConsensus().MaxReorgLength)
	assert.Equal(t, uint32(1), provider.GetBlockchain().ChainID)
	assert.Equal(t, "system", provider.GetClock().Type)
	assert.True(t, provider.GetEvent().Enabled)
	assert.Equal(t, "./data", provider.GetDataDir())
	assert.Equal(t, 16, provider.GetMemory().MaxMemoryMB)
}

// TestProvider_UserOverrides 测试用户配置覆盖
func TestProvider_UserOverrides(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &types.AppConfig{
		DataDir:    str(dataDir),
		Blockchain: &types.UserBlockchainConfig{ChainID: u32(42)},
		Consensus:  &types.UserConsensusConfig{MaxReorgLength: u32(7)},
		Clock:      &types.UserClockConfig{Type: str("ntp")},
	}
	t.Setenv("CLOCK_TYPE", "")

	provider := NewProvider(cfg)

	assert.Equal(t, uint32(42), provider.GetBlockchain().ChainID)
	assert.Equal(t, uint32(7), provider.GetConsensus().MaxReorgLength)
	assert.Equal(t, "ntp", provider.GetClock().Type)
	assert.Equal(t, filepath.Join(dataDir, "badger"), provider.GetBadger().Path)
}

// TestProvider_StorageRootWinsOverDataDir 测试 storage.data_root 优先于 data_dir
func TestProvider_StorageRootWinsOverDataDir(t *testing.T) {
	root := t.TempDir()
	inMemory := true
	provider := NewProvider(&types.AppConfig{
		DataDir: str("/unused"),
		Storage: &types.UserStorageConfig{DataRoot: str(root), InMemory: &inMemory},
	})

	opts := provider.GetBadger()
	assert.Equal(t, filepath.Join(root, "badger"), opts.Path)
	assert.True(t, opts.InMemory)
}

type staticOptions struct{ cfg *types.AppConfig }

func (s staticOptions) GetAppConfig() *types.AppConfig { return s.cfg }

// TestProvideConfig_RejectsInvalidOptions 测试启动阶段拒绝无效配置
func TestProvideConfig_RejectsInvalidOptions(t *testing.T) {
	out, err := ProvideConfig(ModuleInput{})
	assert.NoError(t, err)
	assert.NotNil(t, out.Provider)

	_, err = ProvideConfig(ModuleInput{AppOptions: staticOptions{cfg: &types.AppConfig{
		Log: &types.UserLogConfig{Level: str("chatty")},
	}}})
	assert.ErrorContains(t, err, "invalid log config")
}
