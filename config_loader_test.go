package tierlimit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProvider_LoadYAML(t *testing.T) {
	path := writeTempConfig(t, "limits.yaml", `
tier_rules:
  default:
    per_minute: 3
    per_hour: 30
    per_day: 300
    burst: 2
endpoint_overrides:
  /api/v1/export:
    per_minute: 1
enable_headers: false
`)

	provider, err := NewFileProvider(path)
	require.NoError(t, err)

	cfg, err := provider.Load()
	require.NoError(t, err)

	// 文件中写出的字段生效
	assert.Equal(t, 3, cfg.TierRules[string(TierDefault)].PerMinute)
	assert.Equal(t, 2, cfg.TierRules[string(TierDefault)].Burst)
	assert.False(t, cfg.EnableHeaders)

	// 未写出的层级与字段保持内置默认值
	assert.Equal(t, 200, cfg.TierRules[string(TierPremium)].PerMinute)
	assert.Equal(t, 2, cfg.RetentionMultiplier)

	override, ok := cfg.EndpointOverrides["/api/v1/export"]
	require.True(t, ok)
	require.NotNil(t, override.PerMinute)
	assert.Equal(t, 1, *override.PerMinute)
}

func TestFileProvider_LoadJSON(t *testing.T) {
	path := writeTempConfig(t, "limits.json", `{
  "tier_rules": {
    "admin": {"per_minute": 9999}
  }
}`)

	provider, err := NewFileProvider(path)
	require.NoError(t, err)

	cfg, err := provider.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.TierRules[string(TierAdmin)].PerMinute)
}

func TestFileProvider_Errors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := NewFileProvider("")
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := NewFileProvider("limits.toml")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing file", func(t *testing.T) {
		provider, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		_, err = provider.Load()
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("malformed content", func(t *testing.T) {
		path := writeTempConfig(t, "bad.yaml", "tier_rules: [not a map")
		provider, err := NewFileProvider(path)
		require.NoError(t, err)
		_, err = provider.Load()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid quota", func(t *testing.T) {
		path := writeTempConfig(t, "neg.yaml", `
tier_rules:
  default:
    per_minute: -1
`)
		provider, err := NewFileProvider(path)
		require.NoError(t, err)
		_, err = provider.Load()
		assert.ErrorIs(t, err, ErrInvalidRule)
	})
}

func TestFileProvider_Watch(t *testing.T) {
	path := writeTempConfig(t, "limits.yaml", `
tier_rules:
  default:
    per_minute: 3
`)

	provider, err := NewFileProvider(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := provider.Watch(ctx)
	require.NoError(t, err)

	// 修改配置文件，应收到携带新配置的变更事件
	require.NoError(t, os.WriteFile(path, []byte(`
tier_rules:
  default:
    per_minute: 7
`), 0o600))

	select {
	case change := <-changes:
		require.NoError(t, change.Err)
		assert.Equal(t, 7, change.NewConfig.TierRules[string(TierDefault)].PerMinute)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change")
	}

	// 写入非法内容，应收到错误事件而非静默丢弃
	require.NoError(t, os.WriteFile(path, []byte("tier_rules: [broken"), 0o600))
	select {
	case change := <-changes:
		assert.Error(t, change.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error event")
	}

	// 取消后通道关闭，监视 goroutine 退出
	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			// 关闭前可能残留一个事件，继续读直到关闭
			for range changes {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
