package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
deployer:
  base_url: http://deployer:18000
postgres:
  dsn: postgres://armada@localhost/armada
polling:
  interval: 5s
operations:
  PERFORM_DELETE_DEPLOYMENT: 0
  DEPROVISION_HOSTS: 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	cfg, err := NewFileLoader(writeConfig(t, testConfig)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "http://deployer:18000", cfg.Deployer.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Polling.Timeout)
	assert.Equal(t, 100, cfg.Polling.MaxNotFound)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, ":6060", cfg.Debug.Addr)

	table, err := cfg.SubstageTable()
	require.NoError(t, err)
	assert.Len(t, table, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARMADA_POLLING_MAX_NOT_FOUND", "7")
	t.Setenv("ARMADA_KAFKA_GROUP_ID", "override-group")
	t.Setenv("ARMADA_DEPLOYER_REQUEST_TIMEOUT", "3s")

	cfg, err := NewFileLoader(writeConfig(t, testConfig)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Polling.MaxNotFound)
	assert.Equal(t, "override-group", cfg.Kafka.GroupID)
	assert.Equal(t, 3*time.Second, cfg.Deployer.RequestTimeout)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("ARMADA_DEPLOYER_BASE_URL", "http://deployer")
	t.Setenv("ARMADA_POSTGRES_DSN", "postgres://localhost/armada")

	cfg, err := NewFileLoader("").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://deployer", cfg.Deployer.BaseURL)
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := NewFileLoader(writeConfig(t, "polling:\n  interval: 5s\n")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Deployer.BaseURL")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	assert.Error(t, err)
}
