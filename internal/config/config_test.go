package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Engine.Period)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, time.Second, cfg.Ingest.DataMinInterval)
	assert.False(t, cfg.Cluster.Distributed)
	assert.Equal(t, "vigil-data", cfg.Kafka.DataTopic)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  addr: ":9090"
engine:
  period: 5s
cluster:
  distributed: true
  node_id: node-1
redis:
  addr: redis:6379
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Engine.Period)
	assert.True(t, cfg.Cluster.Distributed)
	assert.Equal(t, "node-1", cfg.Cluster.NodeID)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, "vigil-alerts", cfg.Kafka.AlertsTopic)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600))

	t.Setenv("VIGIL_SERVER_ADDR", ":7070")
	t.Setenv("VIGIL_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Engine.Period = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ingest.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cluster.Distributed = true
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())
}
