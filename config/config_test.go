package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTOML = `
app_name = "graphmirror"
log_level = "debug"

[source]
host = "db.internal"
port = 5432
username = "mirror"
password = "secret"
database = "erp"

[graph]
uri = "bolt://graph.internal:7687"
username = "neo4j"
password = "secret"

[sync]
tables = ["customers", "sales_order"]
queue_table = "graph_sync_queue"
batch_size = 200
poll_interval = "500ms"
max_retries = 3
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFileTOML(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "graphmirror.toml", testTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Source.Host)
	assert.Equal(t, []string{"customers", "sales_order"}, cfg.Sync.Tables)
	assert.Equal(t, 200, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)

	interval, err := cfg.Sync.PollIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, interval)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "minimal.toml", `
[source]
host = "localhost"
database = "erp"

[graph]
uri = "bolt://localhost:7687"
`))
	require.NoError(t, err)

	assert.Equal(t, "graphmirror", cfg.AppName)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
}

func TestLoadFromFileUnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "config.yaml", "a: b"))
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadFromFileValidates(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "bad.toml", `
[source]
host = "localhost"
database = "erp"
`))
	assert.ErrorContains(t, err, "graph.uri is required")
}

func TestSourceDSN(t *testing.T) {
	dsn := SourceConfig{
		Host:     "db.internal",
		Port:     5433,
		Username: "mirror",
		Database: "erp",
	}.DSN()

	assert.Equal(t, "host=db.internal port=5433 user=mirror dbname=erp", dsn)
}

func TestPollIntervalDefault(t *testing.T) {
	d, err := SyncConfig{}.PollIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = SyncConfig{PollInterval: "soon"}.PollIntervalDuration()
	assert.Error(t, err)
}
