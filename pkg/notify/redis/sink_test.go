package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/pipecrm/wfm/pkg/events"
	"github.com/pipecrm/wfm/pkg/models"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redis.Client, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := Connect(ctx, "redis://"+endpoint+"/0")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(context.Background())

		cancel()
	})

	return client, ctx
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), "")
	assert.Error(t, err)

	_, err = Connect(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestSink_PublishPushesEnvelope(t *testing.T) {
	client, ctx := setupRedis(t)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sink := NewSink(client, logger, WithQueue("test:events"), WithMaxLen(2))

	for _, step := range []string{"a", "b", "c"} {
		err := sink.Publish(ctx, "project-1", events.StepChanged{
			BaseEvent:  events.NewBaseEvent(events.StepChangedEvent, "user-1"),
			EntityID:   "lead-1",
			EntityKind: models.EntityKindLead,
			NewStepID:  step,
		})
		require.NoError(t, err)
	}

	items, err := client.LRange(ctx, "test:events", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 2)

	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(items[1]), &envelope))

	assert.Equal(t, "project-1", envelope.Key)
	assert.Equal(t, events.StepChangedEvent, envelope.Type)

	var payload events.StepChanged
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, "c", payload.NewStepID)
	assert.Equal(t, payload.ID, envelope.ID)
	assert.Equal(t, "lead-1", payload.EntityID)
}
