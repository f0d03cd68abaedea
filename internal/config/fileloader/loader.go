package fileloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/deploy-armada/internal/config"
)

// EnvPrefix prefixes every environment override, e.g. ARMADA_POSTGRES_DSN.
const EnvPrefix = "ARMADA"

// FileLoader loads configuration from an optional YAML file on disk with
// environment variable overrides. It implements the config.Loader interface.
type FileLoader struct {
	// path is the filesystem path to the configuration file. Empty loads
	// defaults and environment only.
	path string
}

var _ config.Loader = (*FileLoader)(nil)

// NewFileLoader creates a new FileLoader for the file at path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override values that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "deploy-armada-controller")
	v.SetDefault("log_level", "info")

	v.SetDefault("polling.interval", "10s")
	v.SetDefault("polling.timeout", "2h")
	v.SetDefault("polling.max_not_found", 100)

	v.SetDefault("operations", map[string]int{
		"PERFORM_DELETE_DEPLOYMENT": 0,
		"DEPROVISION_HOSTS":         1,
	})

	v.SetDefault("deployer.base_url", "")
	v.SetDefault("deployer.request_timeout", "30s")
	v.SetDefault("deployer.rate_limit", 10.0)
	v.SetDefault("deployer.rate_burst", 5)
	v.SetDefault("deployer.max_retries", 5)
	v.SetDefault("deployer.breaker_failures", 5)
	v.SetDefault("deployer.breaker_timeout", "30s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 1)
	v.SetDefault("postgres.migrations_dir", "db/migrations")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.monitor_requests_topic", "remote-task-monitor-requests")
	v.SetDefault("kafka.monitor_outcomes_topic", "remote-task-monitor-outcomes")
	v.SetDefault("kafka.group_id", "deploy-armada-controller")
	v.SetDefault("kafka.client_id", "deploy-armada-controller")

	v.SetDefault("leader_election.enabled", false)
	v.SetDefault("leader_election.namespace", "")
	v.SetDefault("leader_election.lock_id", "deploy-armada-controller-leader")
	v.SetDefault("leader_election.identity", "")
	v.SetDefault("leader_election.kubeconfig", "")
	v.SetDefault("leader_election.lease_duration", "15s")
	v.SetDefault("leader_election.renew_deadline", "10s")
	v.SetDefault("leader_election.retry_period", "2s")

	v.SetDefault("debug.addr", ":6060")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sampling_ratio", 0.1)
}
