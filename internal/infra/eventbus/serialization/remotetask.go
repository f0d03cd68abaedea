package serialization

import (
	"github.com/ahrav/deploy-armada/internal/domain/remotetask"
)

func registerRemoteTaskSerializers() {
	structCodec(remotetask.EventTypeRemoteTaskMonitorRequested,
		func(e remotetask.RemoteTaskMonitorRequestedEvent) map[string]any {
			return map[string]any{
				"occurred_at": formatTimestamp(e.Timestamp),
				"task_id":     e.TaskID,
				"step_id":     e.StepID,
				"entity_id":   e.EntityID,
			}
		},
		func(f fields) (remotetask.RemoteTaskMonitorRequestedEvent, error) {
			var e remotetask.RemoteTaskMonitorRequestedEvent
			var err error
			if e.Timestamp, err = f.timestamp("occurred_at"); err != nil {
				return e, err
			}
			if e.TaskID, err = f.requiredStr("task_id"); err != nil {
				return e, err
			}
			if e.StepID, err = f.requiredStr("step_id"); err != nil {
				return e, err
			}
			e.EntityID = f.str("entity_id")
			return e, nil
		})

	structCodec(remotetask.EventTypeRemoteTaskMonitorCancelled,
		func(e remotetask.RemoteTaskMonitorCancelledEvent) map[string]any {
			return map[string]any{
				"occurred_at": formatTimestamp(e.Timestamp),
				"entity_id":   e.EntityID,
				"reason":      e.Reason,
			}
		},
		func(f fields) (remotetask.RemoteTaskMonitorCancelledEvent, error) {
			var e remotetask.RemoteTaskMonitorCancelledEvent
			var err error
			if e.Timestamp, err = f.timestamp("occurred_at"); err != nil {
				return e, err
			}
			if e.EntityID, err = f.requiredStr("entity_id"); err != nil {
				return e, err
			}
			e.Reason = f.str("reason")
			return e, nil
		})

	structCodec(remotetask.EventTypeRemoteTaskMonitoringStarted,
		func(e remotetask.RemoteTaskMonitoringStartedEvent) map[string]any {
			return map[string]any{
				"occurred_at":     formatTimestamp(e.Timestamp),
				"link":            string(e.Link),
				"entity_id":       e.EntityID,
				"kind":            string(e.Kind),
				"target_substage": e.TargetSubstage,
			}
		},
		func(f fields) (remotetask.RemoteTaskMonitoringStartedEvent, error) {
			var e remotetask.RemoteTaskMonitoringStartedEvent
			var err error
			if e.Timestamp, err = f.timestamp("occurred_at"); err != nil {
				return e, err
			}
			link, err := f.requiredStr("link")
			if err != nil {
				return e, err
			}
			e.Link = remotetask.Link(link)
			e.EntityID = f.str("entity_id")
			e.Kind = remotetask.OperationKind(f.str("kind"))
			e.TargetSubstage = f.integer("target_substage")
			return e, nil
		})

	structCodec(remotetask.EventTypeRemoteTaskSubstageReached,
		func(e remotetask.RemoteTaskSubstageReachedEvent) map[string]any {
			return map[string]any{
				"occurred_at":     formatTimestamp(e.Timestamp),
				"link":            string(e.Link),
				"entity_id":       e.EntityID,
				"substage":        e.Substage,
				"target_substage": e.TargetSubstage,
			}
		},
		func(f fields) (remotetask.RemoteTaskSubstageReachedEvent, error) {
			var e remotetask.RemoteTaskSubstageReachedEvent
			var err error
			if e.Timestamp, err = f.timestamp("occurred_at"); err != nil {
				return e, err
			}
			link, err := f.requiredStr("link")
			if err != nil {
				return e, err
			}
			e.Link = remotetask.Link(link)
			e.EntityID = f.str("entity_id")
			e.Substage = f.integer("substage")
			e.TargetSubstage = f.integer("target_substage")
			return e, nil
		})

	structCodec(remotetask.EventTypeRemoteTaskMonitoringSucceeded,
		func(e remotetask.RemoteTaskMonitoringSucceededEvent) map[string]any {
			return map[string]any{
				"occurred_at":      formatTimestamp(e.Timestamp),
				"link":             string(e.Link),
				"entity_id":        e.EntityID,
				"state":            string(e.State),
				"result_entity_id": e.ResultEntityID,
			}
		},
		func(f fields) (remotetask.RemoteTaskMonitoringSucceededEvent, error) {
			var e remotetask.RemoteTaskMonitoringSucceededEvent
			var err error
			if e.Timestamp, err = f.timestamp("occurred_at"); err != nil {
				return e, err
			}
			link, err := f.requiredStr("link")
			if err != nil {
				return e, err
			}
			e.Link = remotetask.Link(link)
			e.EntityID = f.str("entity_id")
			e.State = remotetask.LifecycleState(f.str("state"))
			e.ResultEntityID = f.str("result_entity_id")
			return e, nil
		})

	structCodec(remotetask.EventTypeRemoteTaskMonitoringFailed,
		func(e remotetask.RemoteTaskMonitoringFailedEvent) map[string]any {
			return map[string]any{
				"occurred_at":    formatTimestamp(e.Timestamp),
				"link":           string(e.Link),
				"entity_id":      e.EntityID,
				"reason":         e.Reason,
				"status_unknown": e.StatusUnknown,
			}
		},
		func(f fields) (remotetask.RemoteTaskMonitoringFailedEvent, error) {
			var e remotetask.RemoteTaskMonitoringFailedEvent
			var err error
			if e.Timestamp, err = f.timestamp("occurred_at"); err != nil {
				return e, err
			}
			link, err := f.requiredStr("link")
			if err != nil {
				return e, err
			}
			e.Link = remotetask.Link(link)
			e.EntityID = f.str("entity_id")
			e.Reason = f.str("reason")
			e.StatusUnknown = f.boolean("status_unknown")
			return e, nil
		})
}
