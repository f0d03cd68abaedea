package remotetask

import (
	"time"

	"github.com/ahrav/deploy-armada/internal/domain/events"
)

const (
	EventTypeRemoteTaskMonitorRequested    events.EventType = "RemoteTaskMonitorRequested"
	EventTypeRemoteTaskMonitorCancelled    events.EventType = "RemoteTaskMonitorCancelled"
	EventTypeRemoteTaskMonitoringStarted   events.EventType = "RemoteTaskMonitoringStarted"
	EventTypeRemoteTaskSubstageReached     events.EventType = "RemoteTaskSubstageReached"
	EventTypeRemoteTaskMonitoringSucceeded events.EventType = "RemoteTaskMonitoringSucceeded"
	EventTypeRemoteTaskMonitoringFailed    events.EventType = "RemoteTaskMonitoringFailed"
)

// RemoteTaskMonitorRequestedEvent asks the controller to monitor the remote
// task attached to a task step.
type RemoteTaskMonitorRequestedEvent struct {
	Timestamp time.Time
	TaskID    string
	StepID    string
	EntityID  string
}

// NewRemoteTaskMonitorRequestedEvent creates a new RemoteTaskMonitorRequestedEvent.
func NewRemoteTaskMonitorRequestedEvent(taskID, stepID, entityID string) RemoteTaskMonitorRequestedEvent {
	return RemoteTaskMonitorRequestedEvent{Timestamp: time.Now(), TaskID: taskID, StepID: stepID, EntityID: entityID}
}

func (e RemoteTaskMonitorRequestedEvent) EventType() events.EventType {
	return EventTypeRemoteTaskMonitorRequested
}
func (e RemoteTaskMonitorRequestedEvent) OccurredAt() time.Time { return e.Timestamp }

// RemoteTaskMonitorCancelledEvent aborts the active session for an entity.
type RemoteTaskMonitorCancelledEvent struct {
	Timestamp time.Time
	EntityID  string
	Reason    string
}

// NewRemoteTaskMonitorCancelledEvent creates a new RemoteTaskMonitorCancelledEvent.
func NewRemoteTaskMonitorCancelledEvent(entityID, reason string) RemoteTaskMonitorCancelledEvent {
	return RemoteTaskMonitorCancelledEvent{Timestamp: time.Now(), EntityID: entityID, Reason: reason}
}

func (e RemoteTaskMonitorCancelledEvent) EventType() events.EventType {
	return EventTypeRemoteTaskMonitorCancelled
}
func (e RemoteTaskMonitorCancelledEvent) OccurredAt() time.Time { return e.Timestamp }

// RemoteTaskMonitoringStartedEvent is emitted when a session begins polling.
type RemoteTaskMonitoringStartedEvent struct {
	Timestamp      time.Time
	Link           Link
	EntityID       string
	Kind           OperationKind
	TargetSubstage int
}

// NewRemoteTaskMonitoringStartedEvent creates a new RemoteTaskMonitoringStartedEvent.
func NewRemoteTaskMonitoringStartedEvent(link Link, entityID string, kind OperationKind, target int) RemoteTaskMonitoringStartedEvent {
	return RemoteTaskMonitoringStartedEvent{
		Timestamp:      time.Now(),
		Link:           link,
		EntityID:       entityID,
		Kind:           kind,
		TargetSubstage: target,
	}
}

func (e RemoteTaskMonitoringStartedEvent) EventType() events.EventType {
	return EventTypeRemoteTaskMonitoringStarted
}
func (e RemoteTaskMonitoringStartedEvent) OccurredAt() time.Time { return e.Timestamp }

// RemoteTaskSubstageReachedEvent reports progress of a monitored remote task.
type RemoteTaskSubstageReachedEvent struct {
	Timestamp      time.Time
	Link           Link
	EntityID       string
	Substage       int
	TargetSubstage int
}

// NewRemoteTaskSubstageReachedEvent creates a new RemoteTaskSubstageReachedEvent.
func NewRemoteTaskSubstageReachedEvent(link Link, entityID string, substage, target int) RemoteTaskSubstageReachedEvent {
	return RemoteTaskSubstageReachedEvent{
		Timestamp:      time.Now(),
		Link:           link,
		EntityID:       entityID,
		Substage:       substage,
		TargetSubstage: target,
	}
}

func (e RemoteTaskSubstageReachedEvent) EventType() events.EventType {
	return EventTypeRemoteTaskSubstageReached
}
func (e RemoteTaskSubstageReachedEvent) OccurredAt() time.Time { return e.Timestamp }

// RemoteTaskMonitoringSucceededEvent is emitted once the entity reached its
// success state.
type RemoteTaskMonitoringSucceededEvent struct {
	Timestamp      time.Time
	Link           Link
	EntityID       string
	State          LifecycleState
	ResultEntityID string
}

// NewRemoteTaskMonitoringSucceededEvent creates a new RemoteTaskMonitoringSucceededEvent.
func NewRemoteTaskMonitoringSucceededEvent(link Link, entityID string, state LifecycleState, resultID string) RemoteTaskMonitoringSucceededEvent {
	return RemoteTaskMonitoringSucceededEvent{
		Timestamp:      time.Now(),
		Link:           link,
		EntityID:       entityID,
		State:          state,
		ResultEntityID: resultID,
	}
}

func (e RemoteTaskMonitoringSucceededEvent) EventType() events.EventType {
	return EventTypeRemoteTaskMonitoringSucceeded
}
func (e RemoteTaskMonitoringSucceededEvent) OccurredAt() time.Time { return e.Timestamp }

// RemoteTaskMonitoringFailedEvent is emitted when a session ends without success.
// StatusUnknown is set when the remote outcome could not be determined.
type RemoteTaskMonitoringFailedEvent struct {
	Timestamp     time.Time
	Link          Link
	EntityID      string
	Reason        string
	StatusUnknown bool
}

// NewRemoteTaskMonitoringFailedEvent creates a new RemoteTaskMonitoringFailedEvent.
func NewRemoteTaskMonitoringFailedEvent(link Link, entityID, reason string, unknown bool) RemoteTaskMonitoringFailedEvent {
	return RemoteTaskMonitoringFailedEvent{
		Timestamp:     time.Now(),
		Link:          link,
		EntityID:      entityID,
		Reason:        reason,
		StatusUnknown: unknown,
	}
}

func (e RemoteTaskMonitoringFailedEvent) EventType() events.EventType {
	return EventTypeRemoteTaskMonitoringFailed
}
func (e RemoteTaskMonitoringFailedEvent) OccurredAt() time.Time { return e.Timestamp }

// PartitionKey returns the entity id an event is about, or "" for events
// from other domains.
func PartitionKey(evt events.DomainEvent) string {
	switch e := evt.(type) {
	case RemoteTaskMonitorRequestedEvent:
		return e.EntityID
	case RemoteTaskMonitorCancelledEvent:
		return e.EntityID
	case RemoteTaskMonitoringStartedEvent:
		return e.EntityID
	case RemoteTaskSubstageReachedEvent:
		return e.EntityID
	case RemoteTaskMonitoringSucceededEvent:
		return e.EntityID
	case RemoteTaskMonitoringFailedEvent:
		return e.EntityID
	default:
		return ""
	}
}
