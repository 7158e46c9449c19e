package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		entry := logger.Debug().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.JobStatusChangeEvent:
			entry = entry.
				Str("job_id", payload.JobID).
				Int("depth", payload.Depth).
				Str("from", payload.From).
				Str("to", payload.To)
			if payload.Reason != "" {
				entry = entry.Str("reason", payload.Reason)
			}
		case models.WorkerStatusChangeEvent:
			entry = entry.
				Str("worker_id", payload.WorkerID).
				Str("workspace_id", payload.WorkspaceID).
				Str("status", payload.Status)
		case models.UsageSnapshotEvent:
			entry = entry.Int("active_jobs", payload.ActiveJobs)
		}

		entry.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventJobStatusChange,
		interfaces.EventWorkerStatusChange,
		interfaces.EventUsageSnapshot,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}
	return nil
}
