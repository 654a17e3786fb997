package checkd_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

const minimalYAML = `
data_sources:
  - id: warehouse
    driver: postgres
    dsn: postgres://checks@wh:5432/dw
    statement_timeout: 30s
    cache_ttl: 5m
    reconnectable: true
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Len(t, cfg.DataSources, 1)
	src := cfg.DataSources[0]
	assert.Equal(t, "warehouse", src.ID)
	assert.Equal(t, 30*time.Second, src.StatementTimeout)
	assert.Equal(t, 5*time.Minute, src.CacheTTL)
	assert.True(t, src.Reconnectable)

	assert.Equal(t, 3, cfg.Engine.Attempts)
	assert.Equal(t, 10*time.Second, cfg.Engine.Backoff)
	assert.Equal(t, 5*time.Minute, cfg.Engine.NotifyEvery)

	require.Len(t, cfg.Tiers, 3)
	assert.Equal(t, "5 minutes", cfg.Tiers[0].Name)
	assert.Equal(t, 5*time.Minute, cfg.Tiers[0].Every)
	assert.Equal(t, "1 day", cfg.Tiers[2].Name)
	assert.Equal(t, 24*time.Hour, cfg.Tiers[2].Every)

	assert.False(t, cfg.Kafka.Enable)
	assert.Equal(t, "sqlwatch.runs", cfg.Kafka.Topic)
	assert.Equal(t, ":8083", cfg.Server.MetricsAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Notify.Workers)
	assert.Equal(t, "[sqlwatch]", cfg.SMTP.SubjPrefix)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
engine:
  attempts: 5
  backoff: 2s
tiers:
  - name: 1 minute
    every: 1m
kafka:
  enable: true
  brokers: [broker-1:9092, broker-2:9092]
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Engine.Backoff)
	require.Len(t, cfg.Tiers, 1)
	assert.Equal(t, "1 minute", cfg.Tiers[0].Name)
	assert.True(t, cfg.Kafka.Enable)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRequiresDataSources(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load(writeConfig(t, `
data_sources:
  - id: warehouse
    driver: oracle
    dsn: oracle://x
    statement_timeout: 30s
`))
	assert.Error(t, err)
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
engine:
  attempts: -1
`))
	assert.Error(t, err)
}
