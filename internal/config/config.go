// Package config defines the controller configuration and how it is validated.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

// Config represents the top-level configuration.
type Config struct {
	ServiceName    string               `mapstructure:"service_name" validate:"required"`
	LogLevel       string               `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Polling        PollingConfig        `mapstructure:"polling"`
	Operations     map[string]int       `mapstructure:"operations" validate:"dive,gte=0"`
	Deployer       DeployerConfig       `mapstructure:"deployer"`
	Postgres       PostgresConfig       `mapstructure:"postgres"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	LeaderElection LeaderElectionConfig `mapstructure:"leader_election"`
	Debug          DebugConfig          `mapstructure:"debug"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// PollingConfig sets the cadence and budgets of every monitoring session.
type PollingConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gtfield=Interval"`
	MaxNotFound int           `mapstructure:"max_not_found" validate:"gte=1"`
}

// DeployerConfig points at the service running remote deployment workflows.
type DeployerConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"gte=1"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
}

// PostgresConfig configures the connection pool and schema migrations.
type PostgresConfig struct {
	DSN           string `mapstructure:"dsn" validate:"required"`
	MaxConns      int32  `mapstructure:"max_conns" validate:"gte=1"`
	MinConns      int32  `mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// KafkaConfig configures the event bus.
type KafkaConfig struct {
	Brokers              []string `mapstructure:"brokers" validate:"required,min=1,dive,hostname_port"`
	MonitorRequestsTopic string   `mapstructure:"monitor_requests_topic" validate:"required"`
	MonitorOutcomesTopic string   `mapstructure:"monitor_outcomes_topic" validate:"required"`
	GroupID              string   `mapstructure:"group_id" validate:"required"`
	ClientID             string   `mapstructure:"client_id" validate:"required"`
}

// LeaderElectionConfig selects between kubernetes lease based election and a
// single standalone replica.
type LeaderElectionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Namespace     string        `mapstructure:"namespace" validate:"required_if=Enabled true"`
	LockID        string        `mapstructure:"lock_id" validate:"required_if=Enabled true"`
	Identity      string        `mapstructure:"identity"`
	KubeConfig    string        `mapstructure:"kubeconfig"`
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	RenewDeadline time.Duration `mapstructure:"renew_deadline"`
	RetryPeriod   time.Duration `mapstructure:"retry_period"`
}

// DebugConfig configures the health and profiling server.
type DebugConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section and reports all violations together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

// SubstageTable returns the configured operation table. Keys are matched case
// insensitively because file and env sources lowercase them.
func (c *Config) SubstageTable() (remotetask.SubstageTable, error) {
	raw := make(map[string]int, len(c.Operations))
	for k, v := range c.Operations {
		raw[strings.ToUpper(k)] = v
	}
	return remotetask.ParseSubstageTable(raw)
}
