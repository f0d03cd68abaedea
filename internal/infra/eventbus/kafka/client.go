package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

// ClientConfig contains all configuration needed for Kafka client setup
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// NewClient creates and configures a Kafka client with the provided settings.
// It sets up consistent configuration for both producers and consumers.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	return sarama.NewClient(cfg.Brokers, newSaramaConfig(cfg.ClientID))
}

func newSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Group.Member.UserData = []byte(clientID)
	config.Consumer.Offsets.AutoCommit.Enable = false

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectEventBus creates an EventBus using a client built from cfg.
// It retries with exponential backoff while the brokers are unreachable.
func ConnectEventBus(
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var eventBus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		client, err := NewClient(&ClientConfig{Brokers: cfg.Brokers, GroupID: cfg.GroupID, ClientID: cfg.ClientID})
		if err != nil {
			logger.Warn(context.Background(), "kafka not reachable, retrying", "error", err)
			return fmt.Errorf("creating client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			producer.Close() // Clean up on failure
			client.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}

		eventBus, err = NewEventBus(producer, consumerGroup, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close()
			consumerGroup.Close()
			client.Close()
			return backoff.Permanent(fmt.Errorf("creating event bus: %w", err))
		}
		eventBus.client = client
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect event bus after retries: %w", err)
	}

	return eventBus, nil
}
