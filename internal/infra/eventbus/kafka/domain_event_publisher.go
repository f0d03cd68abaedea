package kafka

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/infra/eventbus/reliability"
	"github.com/ahrav/deploy-armada/pkg/common/logger"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// KeyFunc derives the partition key for a domain event when the caller did
// not supply one.
type KeyFunc func(events.DomainEvent) string

// DomainEventPublisher implements the events.DomainEventPublisher interface using
// Kafka as the underlying message transport. It adapts domain-level events to the
// event bus abstraction for reliable, asynchronous event distribution.
type DomainEventPublisher struct {
	eventBus events.EventBus
	keyFn    KeyFunc

	// Critical events are retried this many times before the error is returned.
	criticalRetries uint64
	retryInterval   time.Duration

	logger *logger.Logger
}

// NewDomainEventPublisher creates a new publisher that will distribute domain
// events through the provided event bus. keyFn may be nil.
func NewDomainEventPublisher(bus events.EventBus, keyFn KeyFunc, logger *logger.Logger) *DomainEventPublisher {
	return &DomainEventPublisher{
		eventBus:        bus,
		keyFn:           keyFn,
		criticalRetries: 3,
		retryInterval:   200 * time.Millisecond,
		logger:          logger.With("component", "kafka_domain_event_publisher"),
	}
}

// PublishDomainEvent sends a domain event through the Kafka event bus. Events
// without an explicit key are keyed by keyFn so that every event about one
// entity lands on the same partition. Critical events are retried with
// exponential backoff.
func (pub *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	key := events.ApplyOptions(opts...).Key
	if key == "" && pub.keyFn != nil {
		key = pub.keyFn(event)
	}
	envelope := events.NewEnvelope(event, key)

	attempts := 0
	publish := func() error {
		attempts++
		return pub.eventBus.Publish(ctx, envelope, opts...)
	}

	var err error
	if reliability.IsCriticalEvent(event.EventType()) {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = pub.retryInterval
		exp.MaxElapsedTime = 0
		exp.Reset()
		err = backoff.Retry(publish, backoff.WithContext(backoff.WithMaxRetries(exp, pub.criticalRetries), ctx))
	} else {
		err = publish()
	}

	if err != nil {
		pub.logger.Warn(ctx, "failed to publish domain event",
			"event_type", event.EventType(), "attempts", attempts, "error", err)
		return err
	}
	return nil
}
