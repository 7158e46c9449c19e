package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

func TestLoggerSubscriber_HandlesTypedPayloads(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	events := []interfaces.Event{
		{
			Type: interfaces.EventJobStatusChange,
			Payload: models.JobStatusChangeEvent{
				JobID:  "job_1",
				Depth:  1,
				From:   "pending",
				To:     "running",
				At:     time.Now().UTC(),
				Reason: "started",
			},
		},
		{
			Type: interfaces.EventWorkerStatusChange,
			Payload: models.WorkerStatusChangeEvent{
				WorkerID:    "worker_1",
				WorkspaceID: "default",
				Status:      "idle",
				At:          time.Now().UTC(),
			},
		},
		{
			Type: interfaces.EventUsageSnapshot,
			Payload: models.UsageSnapshotEvent{
				Usage:      map[int]models.DepthUsage{0: {Used: 1, Quota: 10}},
				ActiveJobs: 1,
				At:         time.Now().UTC(),
			},
		},
		// Unknown payload shapes should be logged without blowing up
		{Type: interfaces.EventJobStatusChange, Payload: nil},
		{Type: interfaces.EventJobStatusChange, Payload: "not a struct"},
	}

	for _, event := range events {
		assert.NoError(t, subscriber(ctx, event))
	}
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(svc, arbor.NewLogger()))

	// Every known event type should deliver without error
	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobStatusChange,
		interfaces.EventWorkerStatusChange,
		interfaces.EventUsageSnapshot,
	} {
		err := svc.PublishSync(context.Background(), interfaces.Event{Type: eventType})
		assert.NoError(t, err, "publish %s", eventType)
	}
}

func TestLoggerSubscriber_DoesNotInterfere(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(svc, arbor.NewLogger()))

	called := 0
	handler := func(ctx context.Context, event interfaces.Event) error {
		called++
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventJobStatusChange, handler))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStatusChange,
		Payload: models.JobStatusChangeEvent{JobID: "job_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}
