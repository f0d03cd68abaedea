// Package reliability classifies events by how much their loss would hurt.
// Critical events get stronger delivery effort from publishers.
package reliability

import (
	"github.com/ahrav/deploy-armada/internal/domain/events"
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

// IsCriticalEvent determines if an event type represents a message that must
// not be dropped on a transient publish failure.
//
// Critical events are requests and terminal outcomes. They are never
// retransmitted by later messages, so losing one leaves a monitoring session
// unstarted, uncancelled, or with no recorded result. Progress events are
// superseded by the next one.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case remotetask.EventTypeRemoteTaskMonitorRequested,
		remotetask.EventTypeRemoteTaskMonitorCancelled:
		return true

	case remotetask.EventTypeRemoteTaskMonitoringSucceeded,
		remotetask.EventTypeRemoteTaskMonitoringFailed:
		return true

	case remotetask.EventTypeRemoteTaskMonitoringStarted,
		remotetask.EventTypeRemoteTaskSubstageReached:
		return false

	default:
		return false
	}
}
