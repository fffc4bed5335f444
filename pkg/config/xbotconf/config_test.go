package xbotconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalYAML = `
redis:
  addr: "localhost:6379"
`

// =============================================================================
// 加载测试
// =============================================================================

func TestLoad_EmptyPath_ReturnsError(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestLoad_UnknownExtension_ReturnsError(t *testing.T) {
	path := writeConfigFile(t, "config.toml", "x = 1")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "redis: [unclosed")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestSnapshot_FillsDefaults(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", minimalYAML)
	l, err := Load(path)
	require.NoError(t, err)

	cfg, err := l.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Batch.TTL)
	assert.Equal(t, 8*time.Second, cfg.Lock.Expiry)
	assert.Equal(t, 4, cfg.Lock.Tries)
	assert.Equal(t, 30, cfg.RateLimit.Default.Rate)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, "*/5 * * * *", cfg.Queue.CleanupSchedule)
}

func TestSnapshot_FileValuesOverrideDefaults(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
redis:
  addr: "redis.internal:6379"
  db: 2
session:
  ttl: 1h
lock:
  expiry: 15s
  tries: 8
rate_limit:
  fail_closed: true
  rules:
    generate-report:
      rate: 5
      period: 1m
queue:
  concurrency: 6
  retain_failed: 72h
`)
	l, err := Load(path)
	require.NoError(t, err)

	cfg, err := l.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 15*time.Second, cfg.Lock.Expiry)
	assert.Equal(t, 8, cfg.Lock.Tries)
	assert.True(t, cfg.RateLimit.FailClosed)
	assert.Equal(t, 5, cfg.RateLimit.Rules["generate-report"].Rate)
	assert.Equal(t, time.Minute, cfg.RateLimit.Rules["generate-report"].Period)
	assert.Equal(t, 6, cfg.Queue.Concurrency)
	assert.Equal(t, 72*time.Hour, cfg.Queue.RetainFailed)
	// 未设置的字段仍是默认值
	assert.Equal(t, 15*time.Minute, cfg.Batch.TTL)
}

func TestSnapshot_EnvOverridesFile(t *testing.T) {
	t.Setenv("BOTKIT_REDIS__ADDR", "override:6379")
	t.Setenv("BOTKIT_LOCK__RETRY_DELAY", "300ms")
	t.Setenv("BOTKIT_QUEUE__CONCURRENCY", "9")

	path := writeConfigFile(t, "config.yaml", minimalYAML)
	l, err := Load(path)
	require.NoError(t, err)

	cfg, err := l.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, 300*time.Millisecond, cfg.Lock.RetryDelay)
	assert.Equal(t, 9, cfg.Queue.Concurrency)
}

func TestLoadBytes_WorksWithoutFile(t *testing.T) {
	l, err := LoadBytes([]byte(`{"redis": {"addr": "localhost:6379"}}`), FormatJSON)
	require.NoError(t, err)

	cfg, err := l.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// 无文件支撑，不支持重载与监视
	assert.ErrorIs(t, l.Reload(), ErrWatchUnsupported)
	_, err = l.Watch(nil)
	assert.ErrorIs(t, err, ErrWatchUnsupported)
}

func TestLoadBytes_InvalidFormat_ReturnsError(t *testing.T) {
	_, err := LoadBytes([]byte("{}"), Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// =============================================================================
// 校验测试
// =============================================================================

func TestSnapshot_MissingRedisAddr_FailsValidation(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "session:\n  ttl: 1h\n")
	l, err := Load(path)
	require.NoError(t, err)

	_, err = l.Snapshot()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative session ttl", func(c *Config) { c.Session.TTL = -time.Second }},
		{"zero lock tries", func(c *Config) { c.Lock.Tries = -1 }},
		{"bad named rule", func(c *Config) {
			c.RateLimit.Rules = map[string]RateRuleConfig{"op": {Rate: 0, Period: time.Minute}}
		}},
		{"zero queue concurrency", func(c *Config) { c.Queue.Concurrency = -3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Redis.Addr = "localhost:6379"
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrValidation)
		})
	}
}

// =============================================================================
// 重载与监视测试
// =============================================================================

func TestReload_PicksUpChanges(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", minimalYAML)
	l, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addr: "localhost:6379"
session:
  ttl: 2h
`), 0o600))
	require.NoError(t, l.Reload())

	cfg, err := l.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", minimalYAML)
	l, err := Load(path)
	require.NoError(t, err)

	type reloadResult struct {
		cfg Config
		err error
	}
	results := make(chan reloadResult, 4)
	w, err := l.Watch(func(cfg Config, err error) {
		results <- reloadResult{cfg, err}
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	w.Start()
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addr: "changed:6379"
`), 0o600))

	select {
	case got := <-results:
		require.NoError(t, got.err)
		assert.Equal(t, "changed:6379", got.cfg.Redis.Addr)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}

func TestWatch_StopIsIdempotent(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", minimalYAML)
	l, err := Load(path)
	require.NoError(t, err)

	w, err := l.Watch(nil)
	require.NoError(t, err)
	w.Start()

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
